package rtkcore

import "testing"

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if cfg.ThresAR != 3.0 {
		t.Fatalf("expected default AR ratio threshold 3.0, got %f", cfg.ThresAR)
	}
	if cfg.FilterVariant != FilterEKF {
		t.Fatalf("expected default filter variant EKF")
	}
	if cfg.NumFreq != 1 {
		t.Fatalf("expected single-frequency default")
	}
	if cfg.BaselineNominal != 0 {
		t.Fatalf("expected moving-base constraint disabled by default")
	}
}
