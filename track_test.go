package rtkcore

import "testing"

func TestDetectSlipForwardBit(t *testing.T) {
	tr := NewSatelliteTrack("G01")
	slipped, reason := tr.DetectSlip(1, 0, true)
	if !slipped || reason != SlipLLIForward {
		t.Fatalf("expected forward slip, got slipped=%v reason=%v", slipped, reason)
	}
}

func TestDetectSlipHalfCycleTransition(t *testing.T) {
	tr := NewSatelliteTrack("G01")
	slipped, reason := tr.DetectSlip(2, 0, true)
	if !slipped || reason != SlipHalfCycleTransition {
		t.Fatalf("expected half-cycle transition slip, got slipped=%v reason=%v", slipped, reason)
	}
}

func TestDetectSlipBackwardBit(t *testing.T) {
	tr := NewSatelliteTrack("G01")
	slipped, reason := tr.DetectSlip(0, 1, true)
	if !slipped || reason != SlipLLIBackward {
		t.Fatalf("expected backward slip, got slipped=%v reason=%v", slipped, reason)
	}
}

func TestDetectSlipBackwardBitIgnoredWithoutPrevious(t *testing.T) {
	tr := NewSatelliteTrack("G01")
	slipped, reason := tr.DetectSlip(0, 1, false)
	if slipped || reason != SlipNone {
		t.Fatalf("expected no slip when there is no cached previous LLI, got slipped=%v reason=%v", slipped, reason)
	}
}

func TestDetectSlipNoneWhenClean(t *testing.T) {
	tr := NewSatelliteTrack("G01")
	slipped, reason := tr.DetectSlip(0, 0, true)
	if slipped || reason != SlipNone {
		t.Fatalf("expected no slip, got slipped=%v reason=%v", slipped, reason)
	}
}

func TestShouldResetOnOutage(t *testing.T) {
	tr := NewSatelliteTrack("G01")
	tr.OutagePhase = 10
	if !tr.ShouldReset(false, 5) {
		t.Fatal("expected reset when outage exceeds maxOut")
	}
}

func TestEligibleForARRequiresLockAndElevation(t *testing.T) {
	tr := NewSatelliteTrack("G01")
	tr.LockCount = 1
	tr.El = ToRad(20)
	if !tr.EligibleForAR(0, ToRad(15)) {
		t.Fatal("expected eligible")
	}
	tr.El = ToRad(5)
	if tr.EligibleForAR(0, ToRad(15)) {
		t.Fatal("expected ineligible below elevation mask")
	}
}
