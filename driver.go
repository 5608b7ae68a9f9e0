// Last modified: 2025.9.22
//
// Epoch driver (§4.8): a library-level Session that runs temporal update ->
// measurement update -> ambiguity resolution per epoch, usable directly by
// a caller supplying observations and an ephemeris provider, or driven from
// a CLI such as cmd/rtkcore/main.go.

package rtkcore

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SolutionStatus mirrors §6's reported status enum.
type SolutionStatus int

const (
	StatusNone SolutionStatus = iota
	StatusDgps
	StatusFloat
	StatusFix
)

// Result is the per-epoch output of §6.
type Result struct {
	Time       GTime
	Pos        PosXYZ
	CovUpper   [6]float64 // upper triangle of the 3x3 position covariance, row-major
	Status     SolutionStatus
	Ratio      float64
	NumSats    int
	AgeOfDiffs float64
}

// Session owns the persisted state of §6 across epochs: the filter state,
// per-satellite tracks, ambiguity fix count, and the Workspace scratch
// bundle. One Session serves exactly one rover (§5).
type Session struct {
	Cfg     *Config
	Layout  *StateLayout
	FS      *FilterState
	Ws      *Workspace
	Eph     SatEphemerisProvider
	Updater Updater

	nfix         int
	prevTime     GTime
	havePrevTime bool
}

// NewSession builds a Session for maxSat tracked satellite slots.
func NewSession(cfg *Config, eph SatEphemerisProvider, maxSat int) *Session {
	layout := NewStateLayout(cfg, maxSat)
	fs := NewFilterState(layout.Dim())

	var upd Updater
	switch cfg.FilterVariant {
	case FilterAKF:
		upd = NewAKFUpdater(cfg.NIter, 5)
	case FilterUKF:
		upd = NewUKFUpdater()
	case FilterNLS:
		upd = NewNLSUpdater(cfg.NIter, 3.0)
	default:
		upd = NewEKFUpdater(cfg.NIter)
	}

	return &Session{
		Cfg:     cfg,
		Layout:  layout,
		FS:      fs,
		Ws:      NewWorkspace(),
		Eph:     eph,
		Updater: upd,
	}
}

// Step advances the session by one rover epoch, per the §4.8 state machine:
// Seeded -> TemporalUpdated -> (MeasurementUpdated | Failed) ->
// (AmbResolved | FloatOnly) -> Reported. On a fatal error (InputInvalid,
// FilterNumericFailure) Step returns a nil Result and the error; it does not
// restore the filter state, the satellite tracks or the base interpolation
// cache, so changes made earlier in the epoch (track counters, ambiguity
// seeding, temporal update, prediction) remain in the session. On a recoverable error
// (GeometryRejected, AmbiguityUnresolved, BaselineConstraintRejected) Step
// still returns a degraded Result with a nil error.
func (s *Session) Step(roverObs, baseObs *ObsE, seedPos PosXYZ, basePos PosXYZ, ion IonoParam) (*Result, error) {
	dt := 0.0
	if s.havePrevTime {
		dt = roverObs.Time.Sub(s.prevTime)
	}
	s.prevTime = roverObs.Time
	s.havePrevTime = true

	// --- Seeded: undifferenced residuals for both stations.
	roverRes, roverKnown, err := UndifferencedResiduals(roverObs, s.Eph, seedPos, s.Cfg, ion)
	if err != nil {
		return nil, wrapErr(InputInvalid, "Session.Step", err)
	}
	if !roverKnown {
		return &Result{Time: roverObs.Time, Status: StatusNone}, nil
	}
	baseRes, _, err := UndifferencedResiduals(baseObs, s.Eph, basePos, s.Cfg, ion)
	if err != nil {
		return nil, wrapErr(InputInvalid, "Session.Step", err)
	}

	baseRes, age, err := InterpolateResiduals(s.Ws, roverObs.Time, baseObs, baseRes, s.Cfg.MaxTDiff)
	if err != nil {
		return &Result{Time: roverObs.Time, Status: StatusNone}, nil
	}

	sats, iu, ir := SelectCommon(roverRes, baseRes, ToRad(s.Cfg.ElMin))
	if len(sats) == 0 {
		return &Result{Time: roverObs.Time, Status: StatusNone}, nil
	}
	_ = iu
	_ = ir

	for _, sat := range sats {
		t := s.Ws.TrackFor(sat)
		t.Az, t.El = roverRes[sat].Az, roverRes[sat].El
		t.Visible = true
		obs, hasObs := roverObs.DatS[sat]
		var lli byte
		if hasObs {
			lli = obs.LLI[0]
		}
		slipped, reason := t.DetectSlip(lli, t.LastLLI[0], t.HasLast[0])
		if slipped {
			t.LastSlip = reason
		} else {
			t.LastSlip = SlipNone
			t.OutagePhase = 0
		}
		t.LockCount++
		t.HasLast[0] = true
		if hasObs {
			t.LastCp[0] = obs.Cp[0]
		}
		t.LastTime[0] = roverObs.Time
		t.LastLLI[0] = lli
	}

	seedAmbiguities(s.FS, s.Layout, sats, roverRes, baseRes, s.Ws.Tracks, s.Cfg)

	// --- TemporalUpdated.
	baselineLen := EucDist(&seedPos, &basePos)
	if err := TemporalUpdate(s.Cfg, s.Layout, s.FS, s.Ws.Tracks, sats, seedPos, baselineLen, dt); err != nil {
		return nil, wrapErr(FilterNumericFailure, "Session.Step", err)
	}
	Q := BuildProcessNoise(s.Cfg, s.Layout, dt)
	if err := s.Updater.Predict(s.FS, Q); err != nil {
		return nil, wrapErr(FilterNumericFailure, "Session.Step", err)
	}

	// --- MeasurementUpdated.
	refs := SelectReferences(sats, baseRes)
	H, v, R, _, err := BuildDDSystem(s.Cfg, s.Layout, sats, sats, roverRes, baseRes, refs, s.Ws.Tracks, s.FS.X, baselineLen, age)
	if err != nil {
		return nil, wrapErr(FilterNumericFailure, "Session.Step", err)
	}
	if H == nil || v.Len() == 0 {
		return &Result{Time: roverObs.Time, Status: StatusNone, NumSats: len(sats)}, nil
	}

	if s.Cfg.Mode == ModeMovingBase {
		roverVar := (s.FS.P.At(0, 0) + s.FS.P.At(1, 1) + s.FS.P.At(2, 2)) / 3.0
		roverXYZ := PosXYZ{X: s.FS.X.AtVec(0), Y: s.FS.X.AtVec(1), Z: s.FS.X.AtVec(2)}
		if bh, bv, br, ok := BaselineConstraint(s.Cfg, roverXYZ, basePos, roverVar); ok {
			H, v, R = appendConstraintRow(H, v, R, bh, bv, br)
		}
		// else BaselineConstraintRejected: non-fatal, drop the constraint.
	}

	postFit, err := s.Updater.Update(s.FS, H, v, R)
	if err != nil {
		return nil, err
	}

	dof := v.Len() - len(s.FS.ActiveIndices())
	if dof < 1 {
		dof = 1
	}
	numPhase := countPhaseRows(sats, roverRes)
	vr := ValidateSolution(postFit, R, dof, numPhase)

	pos := PosXYZ{X: s.FS.X.AtVec(0), Y: s.FS.X.AtVec(1), Z: s.FS.X.AtVec(2)}
	result := &Result{
		Time:       roverObs.Time,
		Pos:        pos,
		Status:     StatusFloat,
		NumSats:    len(sats),
		AgeOfDiffs: age,
	}
	result.CovUpper = [6]float64{s.FS.P.At(0, 0), s.FS.P.At(0, 1), s.FS.P.At(0, 2), s.FS.P.At(1, 1), s.FS.P.At(1, 2), s.FS.P.At(2, 2)}
	if !vr.Passed {
		return result, nil
	}

	// --- AmbResolved | FloatOnly.
	if s.Cfg.AmbMode == AmbiguityOff {
		return result, nil
	}
	D, ddPairs := BuildDTransform(s.Layout, sats, refs, s.Ws.Tracks, s.Cfg)
	if D == nil {
		return result, nil
	}
	fixed, bFixed, ratio, err := s.resolveAmbiguity(D, ddPairs)
	if err != nil {
		s.nfix = 0
		return result, nil // AmbiguityUnresolved is non-fatal
	}
	result.Ratio = ratio
	if ratio < s.Cfg.ThresAR {
		s.nfix = 0
		return result, nil
	}
	s.nfix++
	result.Status = StatusFix
	result.Pos = fixed

	if s.Cfg.AmbMode == AmbiguityFixAndHold {
		if err := HoldToInteger(s.FS, s.Layout, sats, ddPairs, bFixed, s.nfix, s.Cfg.MinFix); err != nil {
			return result, nil
		}
	}

	return result, nil
}

// appendConstraintRow augments the DD system with one extra pseudo-
// measurement row (h, vExtra, rExtra), per the moving-base baseline
// constraint of §4.5. Returns new matrices rather than mutating H/v/R in
// place, since gonum's Dense/VecDense are fixed-size once allocated.
func appendConstraintRow(H *mat.Dense, v *mat.VecDense, R *mat.Dense, h []float64, vExtra, rExtra float64) (*mat.Dense, *mat.VecDense, *mat.Dense) {
	m, n := H.Dims()

	H2 := mat.NewDense(m+1, n, nil)
	H2.Copy(H)
	for j, val := range h {
		H2.Set(m, j, val)
	}

	v2 := mat.NewVecDense(m+1, nil)
	for i := 0; i < m; i++ {
		v2.SetVec(i, v.AtVec(i))
	}
	v2.SetVec(m, vExtra)

	R2 := mat.NewDense(m+1, m+1, nil)
	R2.Copy(R)
	R2.Set(m, m, rExtra)

	return H2, v2, R2
}

func countPhaseRows(sats []SatType, res map[SatType]UndifferencedResidual) int {
	n := 0
	for _, s := range sats {
		if r, ok := res[s]; ok && r.Valid && r.Phase != 0 {
			n++
		}
	}
	return n
}

// seedAmbiguities computes the phase-minus-code seed for every common
// satellite and activates any inactive ambiguity slot, per §4.3. The seed is
// converted from metres to cycles by the satellite's own wavelength, since
// the ambiguity state is carried in cycles (§4.5/§4.6) so LAMBDA's integer
// search operates on a genuine unit-cycle lattice rather than a metre-valued
// one.
func seedAmbiguities(fs *FilterState, layout *StateLayout, sats []SatType, roverRes, baseRes map[SatType]UndifferencedResidual, tracks map[SatType]*SatelliteTrack, cfg *Config) {
	for i, sat := range sats {
		if i >= layout.NumAmb {
			break
		}
		idx := layout.AmbBase + i
		if fs.Active[idx] {
			continue
		}
		ru, uok := roverRes[sat]
		rb, bok := baseRes[sat]
		if !uok || !bok || !ru.Valid || !rb.Valid || ru.Wavelength <= 0 {
			continue
		}
		sd := ((ru.Phase - rb.Phase) - (ru.Code - rb.Code)) / ru.Wavelength
		fs.Activate(idx, sd, cfg.Std[0]*cfg.Std[0]*100)
		t := tracks[sat]
		if t != nil {
			t.AmbIndex = idx
		}
	}
}

// resolveAmbiguity runs the D-transform/LAMBDA/back-transform sequence of
// §4.6 directly against the current FilterState. It returns the fixed
// position, the resolved integer vector (in pairs order, for
// HoldToInteger), and the LAMBDA ratio.
func (s *Session) resolveAmbiguity(D *mat.Dense, pairs []DDPair) (PosXYZ, []float64, float64, error) {
	rows, cols := D.Dims()
	_ = cols
	na := s.Layout.AmbBase
	nb := rows - na
	if nb < 2 {
		return PosXYZ{}, nil, 0, fmt.Errorf("too few ambiguity pairs for LAMBDA (%d)", nb)
	}

	var Dt mat.Dense
	Dt.Mul(D, s.FS.X)
	var DP mat.Dense
	DP.Mul(D, s.FS.P)
	var DPDt mat.Dense
	DPDt.Mul(&DP, D.T())

	a := make([]float64, nb)
	Qb := make([]float64, nb*nb)
	for i := 0; i < nb; i++ {
		a[i] = Dt.At(na+i, 0)
		for j := 0; j < nb; j++ {
			Qb[i+j*nb] = DPDt.At(na+i, na+j)
		}
	}
	F := make([]float64, nb*2)
	sVals := make([]float64, 2)
	if err := LAMBDA(nb, 2, a, Qb, F, sVals); err != nil {
		return PosXYZ{}, nil, 0, err
	}
	if sVals[0] <= 0 {
		return PosXYZ{}, nil, 0, fmt.Errorf("LAMBDA returned non-positive norm")
	}
	ratio := sVals[1] / sVals[0]
	bFixed := F[0:nb]

	// Back-transform x_a = x - Qab*Qbb^-1*(bhat-bfix), per §4.6. Qab is the
	// na x nb block of D*P*D^T coupling the non-ambiguity states to the
	// resolved combinations; Qbb is DPDt's nb x nb ambiguity block, already
	// captured above as Qb.
	Qab := mat.NewDense(na, nb, nil)
	for i := 0; i < na; i++ {
		for j := 0; j < nb; j++ {
			Qab.Set(i, j, DPDt.At(i, na+j))
		}
	}
	var QbbInv mat.Dense
	if err := QbbInv.Inverse(mat.NewDense(nb, nb, Qb)); err != nil {
		return PosXYZ{}, nil, 0, fmt.Errorf("singular ambiguity covariance: %w", err)
	}
	deltaB := mat.NewVecDense(nb, nil)
	for i := 0; i < nb; i++ {
		deltaB.SetVec(i, a[i]-bFixed[i])
	}
	var qinvDelta mat.VecDense
	qinvDelta.MulVec(&QbbInv, deltaB)
	var correction mat.VecDense
	correction.MulVec(Qab, &qinvDelta)

	pos := PosXYZ{
		X: s.FS.X.AtVec(0) - correction.AtVec(0),
		Y: s.FS.X.AtVec(1) - correction.AtVec(1),
		Z: s.FS.X.AtVec(2) - correction.AtVec(2),
	}
	return pos, bFixed, ratio, nil
}
