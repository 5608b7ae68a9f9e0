// Last modified: 2025.9.22
//
// Broadcast (Klobuchar) ionospheric delay model. mkhts-gortk has no
// ionospheric correction of its own; this is grounded on
// FengXuebin-gnssgo/src/common.go's IonModel/IonMapf (itself a Go port of
// RTKLIB's ionmodel/ionmapf), rewritten against this module's PosLLH/GTime
// types.

package rtkcore

import "math"

// IonoParam holds the eight broadcast Klobuchar coefficients transmitted in
// the GPS navigation message (ION ALPHA / ION BETA in RINEX nav headers).
type IonoParam struct {
	Alpha [4]float64
	Beta  [4]float64
}

// DefaultIonoParam returns the widely used non-informative default
// coefficients (RTKLIB's ICD default set), acceptable when a broadcast set is
// unavailable but broadcast correction is still requested.
func DefaultIonoParam() IonoParam {
	return IonoParam{
		Alpha: [4]float64{0.1118e-07, -0.7451e-08, -0.5960e-07, 0.1192e-06},
		Beta:  [4]float64{0.1167e+06, -0.2294e+06, -0.1311e+06, 0.1049e+07},
	}
}

// KlobucharDelay returns the L1 slant ionospheric delay [m] and its variance
// [m^2] for a receiver at pos observing a satellite at azimuth az and
// elevation el (radians) at time t.
func KlobucharDelay(t GTime, pos PosLLH, az, el float64, ion IonoParam) (delay, variance float64) {
	if pos.Hei < -1e3 {
		return 0, 0
	}
	if az == 0 && el == 0 {
		return 0, 0
	}

	lat := pos.Lat / math.Pi
	lon := pos.Lon / math.Pi

	// Earth-centered angle (semi-circle).
	psi := 0.0137/(el/math.Pi+0.11) - 0.022

	// Sub-ionospheric latitude/longitude (semi-circle).
	phi := lat + psi*math.Cos(az)
	if phi > 0.416 {
		phi = 0.416
	} else if phi < -0.416 {
		phi = -0.416
	}
	lam := lon + psi*math.Sin(az)/math.Cos(phi*math.Pi)

	// Geomagnetic latitude (semi-circle).
	phiM := phi + 0.064*math.Cos((lam-1.617)*math.Pi)

	// Local time (sec).
	tt := t.ToTime()
	secOfDay := float64(tt.Hour()*3600 + tt.Minute()*60 + tt.Second())
	tLocal := 43200.0*lam + secOfDay
	tLocal -= math.Floor(tLocal/86400.0) * 86400.0

	// Slant factor.
	f := 1.0 + 16.0*math.Pow(0.53-el/math.Pi, 3)

	amp := ion.Alpha[0] + phiM*(ion.Alpha[1]+phiM*(ion.Alpha[2]+phiM*ion.Alpha[3]))
	per := ion.Beta[0] + phiM*(ion.Beta[1]+phiM*(ion.Beta[2]+phiM*ion.Beta[3]))
	if amp < 0 {
		amp = 0
	}
	if per < 72000.0 {
		per = 72000.0
	}

	x := 2.0 * math.Pi * (tLocal - 50400.0) / per
	var tIon float64
	if math.Abs(x) < 1.57 {
		tIon = 5e-9 + amp*(1.0-x*x/2.0+x*x*x*x/24.0)
	} else {
		tIon = 5e-9
	}

	delay = C * f * tIon
	// RTKLIB-style variance model: (0.5*delay)^2, no floor, reflecting that
	// the broadcast model captures roughly 50% of the true delay.
	sig := delay * 0.5
	variance = sig * sig
	return
}

// IonoMapf returns the single-frequency-slant to vertical mapping function
// implied by the same thin-shell geometry used above, useful when the caller
// wants to scale a per-elevation ionospheric process-noise term (§4.4).
func IonoMapf(el float64) float64 {
	if el <= 0 {
		return 0
	}
	return 1.0 / math.Sqrt(1.0-math.Pow(Re/(Re+350e3)*math.Cos(el), 2))
}
