// Last modified: 2025.9.22
//
// Temporal update (§4.4): an explicit propagation stage covering static,
// kinematic and constant-acceleration dynamics, the variance blow-up guard,
// and the iono/ambiguity reset policy of §4.3/track.go. The iono, tropo and
// ambiguity process noise magnitudes themselves live in BuildProcessNoise
// and are injected exactly once, by Updater.Predict.

package rtkcore

import (
	"gonum.org/v1/gonum/mat"
)

// StateLayout records where each state group starts within FilterState.X,
// so the temporal and measurement update stages agree on indexing without
// duplicating the arithmetic that produced the §9 Open-Question index bugs
// in the original source.
type StateLayout struct {
	PosDim   int // 3 (static/kinematic) or 9 (with velocity+accel)
	IonoBase int // -1 if iono states are inactive
	NumIono  int
	TropoBase int // -1 if tropo states are inactive
	NumTropo  int // 0, 2, or 6
	AmbBase   int
	NumAmb    int
}

func (l *StateLayout) Dim() int {
	n := l.PosDim
	if l.IonoBase >= 0 {
		n += l.NumIono
	}
	if l.TropoBase >= 0 {
		n += l.NumTropo
	}
	n += l.NumAmb
	return n
}

// NewStateLayout computes the layout implied by a Config for a fixed number
// of tracked satellite slots (MAXSAT).
func NewStateLayout(cfg *Config, maxSat int) *StateLayout {
	l := &StateLayout{}
	if cfg.Dynamics {
		l.PosDim = 9
	} else {
		l.PosDim = 3
	}
	n := l.PosDim
	if cfg.IonoOpt == IonoEstimate {
		l.IonoBase = n
		l.NumIono = maxSat
		n += maxSat
	} else {
		l.IonoBase = -1
	}
	switch cfg.TropoOpt {
	case TropoEstimate:
		l.TropoBase = n
		l.NumTropo = 2
		n += 2
	case TropoEstimateGradient:
		l.TropoBase = n
		l.NumTropo = 6
		n += 6
	default:
		l.TropoBase = -1
	}
	l.AmbBase = n
	l.NumAmb = maxSat
	return l
}

// TemporalUpdate advances fs by dt seconds per §4.4, using layout to locate
// each state group and tracks for the per-satellite reset policy. It only
// applies the state-mean transition and the reset/activation bookkeeping;
// the process-noise variance itself is injected once, by Updater.Predict
// consuming BuildProcessNoise's Q, so the two stages never double-count the
// same sigma^2*dt term.
func TemporalUpdate(cfg *Config, layout *StateLayout, fs *FilterState, tracks map[SatType]*SatelliteTrack, satOrder []SatType, seedPos PosXYZ, baselineLen float64, dt float64) error {
	if dt < 0 {
		dt = 0
	}

	applyPositionUpdate(cfg, layout, fs, seedPos, dt)
	applyIonoUpdate(cfg, layout, fs, tracks, satOrder)
	applyAmbiguityUpdate(cfg, layout, fs, tracks, satOrder)

	return nil
}

func applyPositionUpdate(cfg *Config, layout *StateLayout, fs *FilterState, seedPos PosXYZ, dt float64) {
	switch cfg.Mode {
	case ModeStatic:
		// Position unchanged; no process noise beyond a static floor is
		// added by convention (handled by whatever Prn[0] the caller sets
		// arbitrarily small for static mode).
		return
	}

	if !cfg.Dynamics {
		// Kinematic without dynamics: reinitialise each epoch at the SPP
		// seed with a large variance, per §4.4.
		fs.Activate(0, seedPos.X, cfg.Std[0]*cfg.Std[0])
		fs.Activate(1, seedPos.Y, cfg.Std[0]*cfg.Std[0])
		fs.Activate(2, seedPos.Z, cfg.Std[0]*cfg.Std[0])
		return
	}

	// Constant-acceleration transition: pos += vel*dt + 0.5*acc*dt^2,
	// vel += acc*dt, acc unchanged. Process noise goes on acceleration only:
	// BuildProcessNoise adds the same Prn[0]^2*dt on each ECEF axis, with no
	// explicit local-to-ECEF rotation (for equal noise on every axis the
	// rotated matrix is the same).
	pIdx, vIdx, aIdx := 0, 3, 6
	for k := 0; k < 3; k++ {
		p := fs.X.AtVec(pIdx + k)
		v := fs.X.AtVec(vIdx + k)
		a := fs.X.AtVec(aIdx + k)
		fs.X.SetVec(pIdx+k, p+v*dt+0.5*a*dt*dt)
		fs.X.SetVec(vIdx+k, v+a*dt)
	}

	// Mean position variance blow-up guard (§4.4).
	meanVar := (fs.P.At(0, 0) + fs.P.At(1, 1) + fs.P.At(2, 2)) / 3.0
	if meanVar > cfg.Std[0]*cfg.Std[0] {
		for k := 0; k < 9; k++ {
			fs.Activate(k, fs.X.AtVec(k), cfg.Std[0]*cfg.Std[0])
		}
		return
	}

	for k := 0; k < 9; k++ {
		fs.Active[k] = true
	}
}

// applyIonoUpdate resets ionospheric-delay states whose satellite has been
// out of phase lock too long (§4.3's GAP_RESION policy); the sigma^2*dt
// process noise for the surviving states is injected once, by
// Updater.Predict via BuildProcessNoise, not here.
func applyIonoUpdate(cfg *Config, layout *StateLayout, fs *FilterState, tracks map[SatType]*SatelliteTrack, satOrder []SatType) {
	if layout.IonoBase < 0 {
		return
	}
	for i, sat := range satOrder {
		if i >= layout.NumIono {
			break
		}
		idx := layout.IonoBase + i
		t := tracks[sat]
		if t == nil {
			continue
		}
		if t.OutagePhase > 5 { // GAP_RESION, matches gnssgo/RTKLIB convention
			fs.Reset(idx)
		}
	}
}

// applyAmbiguityUpdate resets ambiguity states per the §4.3 reset policy
// (instantaneous mode, an outage-counter overrun, or a pending slip); the
// process noise for surviving states is injected once, by Updater.Predict
// via BuildProcessNoise, not here.
func applyAmbiguityUpdate(cfg *Config, layout *StateLayout, fs *FilterState, tracks map[SatType]*SatelliteTrack, satOrder []SatType) {
	instantaneous := cfg.AmbMode == AmbiguityInstantaneous
	for i, sat := range satOrder {
		if i >= layout.NumAmb {
			break
		}
		idx := layout.AmbBase + i
		t := tracks[sat]
		if t == nil {
			continue
		}
		if t.ShouldReset(instantaneous, cfg.MaxOut) {
			fs.Reset(idx)
			t.ResetAmbiguity(cfg.MinLock)
		}
	}
}

// BuildProcessNoise assembles the diagonal Q matrix of §4.4's sigma^2*dt
// terms for the acceleration, iono, tropo and ambiguity state blocks. This is
// the single point where that noise is injected: Updater.Predict adds Q to
// fs.P directly, and TemporalUpdate itself only ever touches the state mean
// and the reset/activation bookkeeping.
func BuildProcessNoise(cfg *Config, layout *StateLayout, dt float64) *mat.SymDense {
	n := layout.Dim()
	q := mat.NewSymDense(n, nil)
	if cfg.Dynamics {
		for k := 6; k < 9; k++ {
			q.SetSym(k, k, cfg.Prn[0]*cfg.Prn[0]*dt)
		}
	}
	if layout.IonoBase >= 0 {
		for k := 0; k < layout.NumIono; k++ {
			q.SetSym(layout.IonoBase+k, layout.IonoBase+k, cfg.Prn[2]*cfg.Prn[2]*dt)
		}
	}
	if layout.TropoBase >= 0 {
		for k := 0; k < layout.NumTropo; k++ {
			q.SetSym(layout.TropoBase+k, layout.TropoBase+k, cfg.Prn[3]*cfg.Prn[3]*dt)
		}
	}
	for k := 0; k < layout.NumAmb; k++ {
		q.SetSym(layout.AmbBase+k, layout.AmbBase+k, cfg.Prn[5]*cfg.Prn[5]*dt)
	}
	return q
}
