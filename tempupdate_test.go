package rtkcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStateLayoutStaticNoIonoNoTropoGradient(t *testing.T) {
	cfg := NewConfig()
	cfg.Dynamics = false
	cfg.IonoOpt = IonoOff
	cfg.TropoOpt = TropoSaastamoinen
	layout := NewStateLayout(cfg, 10)
	assert.Equal(t, 3, layout.PosDim)
	assert.Equal(t, -1, layout.IonoBase)
	assert.Equal(t, -1, layout.TropoBase)
	assert.Equal(t, 3, layout.AmbBase)
	assert.Equal(t, 13, layout.Dim())
}

func TestNewStateLayoutWithIonoAndTropoGradient(t *testing.T) {
	cfg := NewConfig()
	cfg.Dynamics = true
	cfg.IonoOpt = IonoEstimate
	cfg.TropoOpt = TropoEstimateGradient
	layout := NewStateLayout(cfg, 5)
	assert.Equal(t, 9, layout.PosDim)
	assert.Equal(t, 9, layout.IonoBase)
	assert.Equal(t, 5, layout.NumIono)
	assert.Equal(t, 14, layout.TropoBase)
	assert.Equal(t, 6, layout.NumTropo)
	assert.Equal(t, 20, layout.AmbBase)
}

// TestTemporalUpdateAndPredictInjectProcessNoiseExactlyOnce guards against
// double-counting sigma^2*dt: TemporalUpdate itself must not touch the
// ambiguity block's variance, leaving BuildProcessNoise+Predict as the sole
// source of growth for one epoch.
func TestTemporalUpdateAndPredictInjectProcessNoiseExactlyOnce(t *testing.T) {
	cfg := NewConfig()
	cfg.Mode = ModeKinematic
	cfg.Dynamics = false
	cfg.IonoOpt = IonoOff
	cfg.TropoOpt = TropoOff
	cfg.Prn[5] = 0.001

	layout := NewStateLayout(cfg, 1)
	fs := NewFilterState(layout.Dim())
	fs.Activate(layout.AmbBase, 5.0, 1.0)
	tracks := map[SatType]*SatelliteTrack{"G01": NewSatelliteTrack("G01")}
	tracks["G01"].LockCount = 10
	sats := []SatType{"G01"}

	const dt = 30.0
	err := TemporalUpdate(cfg, layout, fs, tracks, sats, PosXYZ{X: 1, Y: 2, Z: 3}, 10, dt)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, fs.P.At(layout.AmbBase, layout.AmbBase), "TemporalUpdate must not inject ambiguity process noise directly")

	Q := BuildProcessNoise(cfg, layout, dt)
	upd := NewEKFUpdater(1)
	assert.NoError(t, upd.Predict(fs, Q))

	want := 1.0 + cfg.Prn[5]*cfg.Prn[5]*dt
	assert.InDelta(t, want, fs.P.At(layout.AmbBase, layout.AmbBase), 1e-12)
}

func TestTemporalUpdateZeroDtIsIdentityForStatic(t *testing.T) {
	cfg := NewConfig()
	cfg.Mode = ModeStatic
	layout := NewStateLayout(cfg, 2)
	fs := NewFilterState(layout.Dim())
	fs.Activate(0, 100, 1)
	fs.Activate(1, 200, 1)
	fs.Activate(2, 300, 1)

	tracks := map[SatType]*SatelliteTrack{}
	err := TemporalUpdate(cfg, layout, fs, tracks, nil, PosXYZ{X: 100, Y: 200, Z: 300}, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, fs.X.AtVec(0))
	assert.Equal(t, 200.0, fs.X.AtVec(1))
	assert.Equal(t, 300.0, fs.X.AtVec(2))
}
