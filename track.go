// Last modified: 2025.9.22
//
// Per-satellite tracking bookkeeping (§3 SatelliteTrack, §4.3 cycle-slip and
// ambiguity bookkeeping): a reusable, session-owned structure carrying the
// outage-counter/phase-windup persistence needed across epochs, rather than
// recomputing everything from the raw observation history each time.

package rtkcore

// SlipReason records why a cycle slip was declared, for diagnostics.
type SlipReason int

const (
	SlipNone SlipReason = iota
	SlipLLIForward
	SlipLLIBackward
	SlipHalfCycleTransition
)

// SatelliteTrack holds the per-satellite, per-session state that must
// survive across epochs: last azimuth/elevation, visibility, lock and outage
// counters, half-cycle validity, the last slip reason, phase-windup
// accumulators per station, and the last observed carrier phase/time per
// station (recorded by Session.Step; slip detection and ambiguity seeding
// do not read them).
type SatelliteTrack struct {
	Sat SatType

	Az, El  float64
	Visible bool

	LockCount   int
	OutageCode  int
	OutagePhase int
	HalfCycleOK bool
	LastSlip    SlipReason

	// Windup[0]=rover, Windup[1]=base, accumulated phase-windup cycles.
	Windup [2]float64

	// LastCp/LastTime[0]=rover, [1]=base: most recent carrier phase [cycles]
	// and its epoch. DetectSlip does not read them; it works on the LLI
	// bytes only.
	LastCp   [2]float64
	LastTime [2]GTime
	HasLast  [2]bool

	// LastLLI[0]=rover, [1]=base: the cached previous-epoch LLI byte, so
	// DetectSlip can check for a backward-run slip flag (§4.3) instead of
	// only the current epoch's bits.
	LastLLI [2]byte

	// AmbIndex is this satellite's slot in the FilterState ambiguity block,
	// or -1 when inactive.
	AmbIndex int
}

// NewSatelliteTrack returns a track with no active ambiguity slot.
func NewSatelliteTrack(sat SatType) *SatelliteTrack {
	return &SatelliteTrack{Sat: sat, AmbIndex: -1, HalfCycleOK: true}
}

// stationIdx maps the boolean "is base" flag used throughout this module to
// the Windup/LastCp/LastTime array index.
func stationIdx(isBase bool) int {
	if isBase {
		return 1
	}
	return 0
}

// DetectSlip inspects the current LLI byte against the cached previous LLI
// byte for one station/frequency and reports whether a cycle slip occurred.
// Bit 0 set on the current value is a forward-run slip flag (the receiver
// declares the slip on the epoch it is observed); bit 0 set on the cached
// previous value is a backward-run slip flag (§4.3) — some receivers only
// mark the epoch preceding the slip, so the flag surfaces one epoch late and
// must be caught against the cached value instead of the current one.
func (t *SatelliteTrack) DetectSlip(currLLI, prevLLI byte, havePrev bool) (bool, SlipReason) {
	if currLLI&1 == 1 {
		return true, SlipLLIForward
	}
	if havePrev && prevLLI&1 == 1 {
		return true, SlipLLIBackward
	}
	if havePrev {
		prevHalf := prevLLI&2 == 2
		currHalf := currLLI&2 == 2
		if prevHalf != currHalf {
			return true, SlipHalfCycleTransition
		}
	}
	return false, SlipNone
}

// ResetAmbiguity clears the lock/outage bookkeeping following a reset of
// this satellite's ambiguity state (§4.3), regardless of whether the reset
// was triggered by a slip, an outage, or instantaneous mode.
func (t *SatelliteTrack) ResetAmbiguity(minLock int) {
	t.LockCount = -minLock
	t.OutagePhase = 0
}

// ShouldReset reports whether this satellite's ambiguity must be reset at
// the start of the next temporal update, per §4.3: instantaneous mode,
// outage-counter overrun, or a pending slip flag.
func (t *SatelliteTrack) ShouldReset(instantaneous bool, maxOut int) bool {
	if instantaneous {
		return true
	}
	if t.OutagePhase > maxOut {
		return true
	}
	return t.LastSlip != SlipNone
}

// EligibleForAR reports whether the satellite may participate as an AR
// reference or non-reference pair (§4.6): sufficient lock, no pending
// full-cycle slip, and elevation at or above elMaskAR.
func (t *SatelliteTrack) EligibleForAR(minLock int, elMaskAR float64) bool {
	if t.LockCount <= minLock {
		return false
	}
	if t.LastSlip == SlipLLIForward || t.LastSlip == SlipLLIBackward {
		return false
	}
	return t.El >= elMaskAR
}
