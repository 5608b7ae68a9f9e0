package rtkcore

import "testing"

func TestGeoDistInvalidAtOrigin(t *testing.T) {
	r, _ := GeoDist(PosXYZ{}, PosXYZ{X: 1, Y: 2, Z: 3})
	if r > 0 {
		t.Fatalf("expected non-positive range for satellite at origin, got %f", r)
	}
}

func TestGeoDistUnitLineOfSight(t *testing.T) {
	sat := PosXYZ{X: 26000000, Y: 0, Z: 0}
	rcv := PosXYZ{X: 6378137, Y: 0, Z: 0}
	r, e := GeoDist(sat, rcv)
	if r <= 0 {
		t.Fatalf("expected positive range, got %f", r)
	}
	norm := e.X*e.X + e.Y*e.Y + e.Z*e.Z
	if norm < 0.99 || norm > 1.01 {
		t.Fatalf("expected unit line-of-sight vector, got norm=%f", norm)
	}
}
