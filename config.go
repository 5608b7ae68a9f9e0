// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.22
//

package rtkcore

// PositioningMode selects which modules a Session activates.
type PositioningMode int

const (
	ModeSingle PositioningMode = iota
	ModeDgps
	ModeKinematic
	ModeStatic
	ModeMovingBase
	ModeFixed
)

// IonoOption selects how ionospheric delay is treated by the temporal and
// measurement update.
type IonoOption int

const (
	IonoOff IonoOption = iota
	IonoBroadcast
	IonoEstimate
	IonoIflc
)

// TropoOption selects how tropospheric delay is treated.
type TropoOption int

const (
	TropoOff TropoOption = iota
	TropoSaastamoinen
	TropoEstimate
	TropoEstimateGradient
)

// AmbiguityMode controls ambiguity reset and hold behaviour.
type AmbiguityMode int

const (
	AmbiguityOff AmbiguityMode = iota
	AmbiguityContinuous
	AmbiguityInstantaneous
	AmbiguityFixAndHold
)

// FilterVariant selects the Updater implementation used for the measurement
// update (§4.5/§9).
type FilterVariant int

const (
	FilterEKF FilterVariant = iota
	FilterAKF
	FilterUKF
	FilterNLS
)

// Config gathers every recognised option of §6 into a single struct owned by
// the Session, following the same NewXxxOpt() default-constructor convention
// already used by SppOpt.
type Config struct {
	Mode          PositioningMode
	Dynamics      bool
	IonoOpt       IonoOption
	TropoOpt      TropoOption
	AmbMode       AmbiguityMode
	FilterVariant FilterVariant

	ElMin      float64 // visibility elevation mask [deg]
	ElMaskAR   float64 // ambiguity-resolution elevation mask [deg]
	ElMaskHold float64 // hold-to-integer elevation mask [deg]

	NIter    int     // measurement-update iteration count
	MaxInno  float64 // innovation gate [m or cycle]
	MaxOut   int     // outage-count reset threshold
	MinFix   int     // consecutive fixes required before hold-to-integer
	MinLock  int     // lock-count required before eligible as AR reference/pair
	MaxTDiff float64 // max age-of-differential before rejecting an epoch [s]

	// Prn[i] is the process-noise std-dev for state group i, as read by
	// BuildProcessNoise: 0=acceleration (kinematic with dynamics), 2=iono,
	// 3=tropo (zenith and gradient states alike), 5=ambiguity. Prn[1] and
	// Prn[4] are not read.
	Prn [6]float64
	// Std[i] is the initial std-dev for state group i:
	// 0=position, 1=iono, 2=tropo.
	Std [3]float64

	ThresAR float64 // minimum acceptable LAMBDA ratio (§4.6)

	BaselineNominal float64 // moving-base nominal length [m], 0 disables the constraint
	BaselineSigma   float64 // moving-base constraint std-dev [m]

	NumFreq int // number of frequencies to use (this module only ever uses 1)
}

// NewConfig returns a Config with defaults tuned for a typical single-frequency
// kinematic RTK session, mirroring the magnitudes already used as defaults in
// NewSppOpt.
func NewConfig() *Config {
	return &Config{
		Mode:          ModeKinematic,
		Dynamics:      false,
		IonoOpt:       IonoOff,
		TropoOpt:      TropoSaastamoinen,
		AmbMode:       AmbiguityContinuous,
		FilterVariant: FilterEKF,

		ElMin:      15,
		ElMaskAR:   15,
		ElMaskHold: 15,

		NIter:    1,
		MaxInno:  30,
		MaxOut:   5,
		MinFix:   10,
		MinLock:  0,
		MaxTDiff: 30,

		Prn: [6]float64{1e-4, 1e-4, 1e-3, 1e-4, 1e-6, 1e-4},
		Std: [3]float64{30, 0.3, 0.3},

		ThresAR: 3.0,

		BaselineNominal: 0,
		BaselineSigma:   0.01,

		NumFreq: 1,
	}
}
