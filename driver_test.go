package rtkcore

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeEphProvider stands in for a broadcast-ephemeris collaborator (§1):
// fixed satellite positions, always healthy, single-frequency L1.
type fakeEphProvider struct {
	pos map[SatType]PosXYZ
}

func (f *fakeEphProvider) State(sat SatType, rcvt GTime, psr float64) (SatelliteState, error) {
	p, ok := f.pos[sat]
	if !ok {
		return SatelliteState{}, fmt.Errorf("%s: unknown satellite", sat)
	}
	return SatelliteState{Pos: p, Healthy: true, Wavelength: C / L1}, nil
}

// testGeometry places six GPS satellites above a fixed rover/base pair for
// the driver tests: high enough elevation to clear the default 15 degree
// mask, spread across azimuth so a family reference and five DD pairs form.
type testGeometry struct {
	roverPos, basePos PosXYZ
	sats              map[SatType]PosXYZ
	deltaN            map[SatType]float64 // rover-minus-base integer ambiguity, in cycles
}

func newTestGeometry() testGeometry {
	llh := PosLLH{Lat: 35.0 * math.Pi / 180, Lon: 139.0 * math.Pi / 180, Hei: 100}
	roverPos := llh.ToXYZ()
	baseOffset := PosENU{E: 5, N: 0, U: 0}
	basePos := baseOffset.ToXYZ(roverPos)

	const satRange = 2.2e7
	geoms := []struct {
		sat    SatType
		az, el float64
	}{
		{"G01", 0, 60 * math.Pi / 180},
		{"G02", 90 * math.Pi / 180, 45 * math.Pi / 180},
		{"G03", 180 * math.Pi / 180, 50 * math.Pi / 180},
		{"G04", 270 * math.Pi / 180, 40 * math.Pi / 180},
		{"G05", 45 * math.Pi / 180, 70 * math.Pi / 180},
		{"G06", 135 * math.Pi / 180, 35 * math.Pi / 180},
	}
	sats := make(map[SatType]PosXYZ, len(geoms))
	for _, g := range geoms {
		enu := PosENU{
			E: satRange * math.Cos(g.el) * math.Sin(g.az),
			N: satRange * math.Cos(g.el) * math.Cos(g.az),
			U: satRange * math.Sin(g.el),
		}
		sats[g.sat] = enu.ToXYZ(roverPos)
	}

	deltaN := map[SatType]float64{"G01": 5, "G02": -3, "G03": 8, "G04": 2, "G05": -6, "G06": 4}

	return testGeometry{roverPos: roverPos, basePos: basePos, sats: sats, deltaN: deltaN}
}

// buildObsE synthesises a noiseless observation epoch for stationPos: code
// equals the true geometric range, phase equals range/wavelength plus the
// per-satellite integer ambiguity n[sat], so undifferenced_residuals (§4.2)
// recovers exactly that ambiguity with tropo/iono switched off.
func buildObsE(t GTime, geo testGeometry, stationPos PosXYZ, n map[SatType]float64) *ObsE {
	wavelength := C / L1
	obse := &ObsE{Time: t, DatS: make(map[SatType]*ObsS)}
	for sat, satPos := range geo.sats {
		r, _ := GeoDist(satPos, stationPos)
		obs := NewObsS()
		obs.Pr[0] = r
		obs.Cp[0] = r/wavelength + n[sat]
		obs.Sn[0] = 45
		obse.DatS[sat] = obs
	}
	return obse
}

func (geo testGeometry) roverObsAt(t GTime) *ObsE {
	roverN := map[SatType]float64{}
	for sat := range geo.sats {
		roverN[sat] = 100
	}
	return buildObsE(t, geo, geo.roverPos, roverN)
}

func (geo testGeometry) baseObsAt(t GTime) *ObsE {
	baseN := map[SatType]float64{}
	for sat := range geo.sats {
		baseN[sat] = 100 - geo.deltaN[sat]
	}
	return buildObsE(t, geo, geo.basePos, baseN)
}

func epochAt(week, sec int) GTime {
	return GTime{Week: week, Sec: float64(sec)}
}

func TestSessionStepAcrossEpochsProducesFloatSolution(t *testing.T) {
	geo := newTestGeometry()
	cfg := NewConfig()
	cfg.TropoOpt = TropoOff
	cfg.AmbMode = AmbiguityOff

	sess := NewSession(cfg, &fakeEphProvider{pos: geo.sats}, 12)
	ion := DefaultIonoParam()

	for i := 0; i < 5; i++ {
		epoch := epochAt(2200, i*30)
		roverObs := geo.roverObsAt(epoch)
		baseObs := geo.baseObsAt(epoch)

		result, err := sess.Step(roverObs, baseObs, geo.roverPos, geo.basePos, ion)
		assert.NoError(t, err)
		assert.Equal(t, StatusFloat, result.Status)
		assert.Equal(t, 6, result.NumSats)

		d, _ := GeoDist(result.Pos, geo.roverPos)
		assert.InDelta(t, 0, d, 1.0, "epoch %d position should stay near the true rover position", i)
	}
}

// TestSessionStepRunsAmbiguityResolutionWithoutError exercises the full
// §4.6 pipeline (D-transform -> LAMBDA -> back-transform) against noiseless
// data with known integer cycle ambiguities: since the ambiguity state is
// carried in cycles (matching the wavelength-scaled H column of
// BuildDDSystem), LAMBDA should search the correct unit-cycle lattice and
// reach a validated fix well within the epoch budget.
func TestSessionStepRunsAmbiguityResolutionWithoutError(t *testing.T) {
	geo := newTestGeometry()
	cfg := NewConfig()
	cfg.TropoOpt = TropoOff
	cfg.AmbMode = AmbiguityContinuous

	sess := NewSession(cfg, &fakeEphProvider{pos: geo.sats}, 12)
	ion := DefaultIonoParam()

	var lastStatus SolutionStatus
	var lastResult *Result
	for i := 0; i < 8; i++ {
		epoch := epochAt(2200, i*30)
		roverObs := geo.roverObsAt(epoch)
		baseObs := geo.baseObsAt(epoch)

		result, err := sess.Step(roverObs, baseObs, geo.roverPos, geo.basePos, ion)
		assert.NoError(t, err)
		assert.NotNil(t, result)
		assert.Contains(t, []SolutionStatus{StatusFloat, StatusFix}, result.Status)
		if result.Status == StatusFix {
			assert.GreaterOrEqual(t, result.Ratio, cfg.ThresAR)
			assert.False(t, math.IsNaN(result.Pos.X))
		}
		lastStatus = result.Status
		lastResult = result
	}
	assert.Equal(t, StatusFix, lastStatus, "noiseless integer ambiguities should resolve to a fix within 8 epochs")
	d, _ := GeoDist(lastResult.Pos, geo.roverPos)
	assert.InDelta(t, 0, d, 0.1, "a validated fix should sit within centimetres of the true rover position")
}

func TestSessionStepReturnsNoneWhenRoverPositionUnknown(t *testing.T) {
	geo := newTestGeometry()
	cfg := NewConfig()
	sess := NewSession(cfg, &fakeEphProvider{pos: geo.sats}, 12)
	ion := DefaultIonoParam()

	epoch := epochAt(2200, 0)
	roverObs := geo.roverObsAt(epoch)
	baseObs := geo.baseObsAt(epoch)

	result, err := sess.Step(roverObs, baseObs, PosXYZ{}, geo.basePos, ion)
	assert.NoError(t, err)
	assert.Equal(t, StatusNone, result.Status)
}

// TestSessionStepMovingBaseAppliesBaselineConstraint exercises the §4.5
// moving-base pseudo-measurement path: with a nominal baseline configured,
// the constraint row must actually reach the filter (not be computed and
// discarded), which this checks indirectly by asserting the session still
// converges to a sane float solution near the true baseline geometry.
func TestSessionStepMovingBaseAppliesBaselineConstraint(t *testing.T) {
	geo := newTestGeometry()
	cfg := NewConfig()
	cfg.Mode = ModeMovingBase
	cfg.TropoOpt = TropoOff
	cfg.AmbMode = AmbiguityOff
	cfg.BaselineNominal, _ = GeoDist(geo.roverPos, geo.basePos)
	cfg.BaselineSigma = 0.01

	sess := NewSession(cfg, &fakeEphProvider{pos: geo.sats}, 12)
	ion := DefaultIonoParam()

	for i := 0; i < 5; i++ {
		epoch := epochAt(2200, i*30)
		roverObs := geo.roverObsAt(epoch)
		baseObs := geo.baseObsAt(epoch)

		result, err := sess.Step(roverObs, baseObs, geo.roverPos, geo.basePos, ion)
		assert.NoError(t, err)
		assert.NotEqual(t, StatusNone, result.Status)
		assert.False(t, math.IsNaN(result.Pos.X))

		bl, _ := GeoDist(result.Pos, geo.basePos)
		assert.InDelta(t, cfg.BaselineNominal, bl, 5.0, "epoch %d baseline length should stay near the constrained nominal", i)
	}
}

func TestSessionStepPreservesPreviousEpochTimeAcrossCalls(t *testing.T) {
	geo := newTestGeometry()
	cfg := NewConfig()
	cfg.TropoOpt = TropoOff
	cfg.AmbMode = AmbiguityOff
	sess := NewSession(cfg, &fakeEphProvider{pos: geo.sats}, 12)
	ion := DefaultIonoParam()

	first := epochAt(2200, 0)
	second := epochAt(2200, 30)

	_, err := sess.Step(geo.roverObsAt(first), geo.baseObsAt(first), geo.roverPos, geo.basePos, ion)
	assert.NoError(t, err)
	assert.True(t, sess.havePrevTime)
	assert.Equal(t, 0.0, sess.prevTime.Sub(first))

	_, err = sess.Step(geo.roverObsAt(second), geo.baseObsAt(second), geo.roverPos, geo.basePos, ion)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, sess.prevTime.Sub(second))
}
