// Last modified: 2025.9.22
//
// Workspace bundle (§9 design note). original_source/arc_srtk/src/arc_srtk.cc
// threads its per-epoch scratch state — Jacobian, residual vector, azimuth/
// elevation table, line-of-sight vectors, health flags, parameter blocks —
// through a set of process-wide static globals (_H_, _NX_, _NV_, _Y_,
// _AZEL_, _E_, _SVH_, _ParaBlock_, ...) read and written by whichever
// function happens to run next. That is exactly the shared-global-aliasing
// hazard this design note calls out: replace it with an explicit, per-session
// bundle that is passed by reference to each callee and owned by exactly one
// Session at a time.

package rtkcore

// Workspace holds the mutable per-epoch scratch state shared across the
// observation builder, temporal update, measurement update and ambiguity
// resolution stages of a single Session. It is allocated once per session and
// kept for the session's lifetime. Session.Step uses its Tracks table and
// interpolation cache; it does not fill Sats, IU/IR, AzEl, LosRover/LosBase
// or YRover/YBase, and does not call resetEpoch.
type Workspace struct {
	// Sats is the common-satellite list for the current epoch, strictly
	// increasing by satellite id (§4.2 select_common, §8 invariant).
	Sats []SatType

	// IU/IR are parallel indices into the rover/base observation lists for
	// each entry of Sats.
	IU, IR []int

	// AzEl is a base-station azimuth/elevation table keyed by satellite id.
	// Session.Step does not fill it.
	AzEl map[SatType][2]float64

	// LosRover/LosBase are the rover-side/base-side line-of-sight unit
	// vectors for the satellites in Sats, parallel to Sats.
	LosRover, LosBase []PosXYZ

	// YRover/YBase are the undifferenced (phase, code) residual pairs
	// produced by undifferenced_residuals for the rover/base station,
	// keyed by satellite id and frequency index.
	YRover, YBase map[SatType][2]float64

	// interpCache holds the most recent base epoch retained for
	// interpolate_residuals (§4.2). Per the §9 Open Question, this lives on
	// the session-owned Workspace rather than a function-local static, so
	// concurrent sessions never share it.
	interpCache    *ObsE
	interpCacheRes map[SatType]UndifferencedResidual

	// Tracks is the per-satellite bookkeeping table (§3/§4.3), keyed by
	// satellite id and persisted for the session lifetime.
	Tracks map[SatType]*SatelliteTrack
}

// NewWorkspace returns an empty, ready-to-use Workspace for one session.
func NewWorkspace() *Workspace {
	return &Workspace{
		AzEl:   make(map[SatType][2]float64),
		YRover: make(map[SatType][2]float64),
		YBase:  make(map[SatType][2]float64),
		Tracks: make(map[SatType]*SatelliteTrack),
	}
}

// TrackFor returns the SatelliteTrack for sat, creating one on first use.
func (w *Workspace) TrackFor(sat SatType) *SatelliteTrack {
	t, ok := w.Tracks[sat]
	if !ok {
		t = NewSatelliteTrack(sat)
		w.Tracks[sat] = t
	}
	return t
}

// resetEpoch clears the per-epoch scratch slices/maps at the start of a new
// epoch, keeping the session-lifetime state (Tracks, interpCache) intact.
func (w *Workspace) resetEpoch() {
	w.Sats = w.Sats[:0]
	w.IU = w.IU[:0]
	w.IR = w.IR[:0]
	w.LosRover = w.LosRover[:0]
	w.LosBase = w.LosBase[:0]
	for k := range w.YRover {
		delete(w.YRover, k)
	}
	for k := range w.YBase {
		delete(w.YBase, k)
	}
}
