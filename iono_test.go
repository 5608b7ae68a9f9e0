package rtkcore

import "testing"

func TestKlobucharDelayZeroAtZeroAzEl(t *testing.T) {
	ion := DefaultIonoParam()
	delay, variance := KlobucharDelay(GTime{}, PosLLH{Lat: 0.6, Lon: 2.4, Hei: 100}, 0, 0, ion)
	if delay != 0 || variance != 0 {
		t.Fatalf("expected zero delay/variance at az=el=0, got %f %f", delay, variance)
	}
}

func TestKlobucharDelayNonNegative(t *testing.T) {
	ion := DefaultIonoParam()
	delay, _ := KlobucharDelay(GTime{Week: 2200, Sec: 43200}, PosLLH{Lat: 0.6, Lon: 2.4, Hei: 100}, 1.0, 0.6, ion)
	if delay < 0 {
		t.Fatalf("expected non-negative delay, got %f", delay)
	}
}

func TestIonoMapfIncreasesAsElevationDecreases(t *testing.T) {
	high := IonoMapf(ToRad(80))
	low := IonoMapf(ToRad(15))
	if low <= high {
		t.Fatalf("expected mapping function to grow at low elevation: low=%f high=%f", low, high)
	}
}
