// Last modified: 2025.9.22
//
// Observation builder (§4.2): undifferenced_residuals, select_common,
// interpolate_residuals. Standalone, reusable functions that operate
// directly on raw observations and an ephemeris provider, per the
// collaborator boundary of §1.

package rtkcore

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/slices"
)

// UndifferencedResidual is the (phase, code) residual pair for one satellite
// and frequency, plus the geometry used to produce it.
type UndifferencedResidual struct {
	Sat        SatType
	Phase, Code float64
	Az, El     float64
	Los        PosXYZ
	Wavelength float64 // carrier wavelength [m], for converting an ambiguity state in cycles to metres (§4.5)
	Valid      bool
}

// UndifferencedResiduals computes, for every observed satellite, the
// residual pair (observation minus geometric range, tropo, iono, and
// satellite clock), the line-of-sight vector, and azimuth/elevation (§4.2).
// rcvPosKnown reports whether rcvPos was nonzero (an unknown receiver
// position cannot produce residuals, per §4.1's edge case).
func UndifferencedResiduals(obse *ObsE, eph SatEphemerisProvider, rcvPos PosXYZ, cfg *Config, ion IonoParam) (map[SatType]UndifferencedResidual, bool, error) {
	rcvPosKnown := !(rcvPos.X == 0 && rcvPos.Y == 0 && rcvPos.Z == 0)
	out := make(map[SatType]UndifferencedResidual, len(obse.DatS))
	if !rcvPosKnown {
		return out, false, nil
	}

	for sat, obs := range obse.DatS {
		res := UndifferencedResidual{Sat: sat}

		if obs.Pr[0] == 0 && obs.Cp[0] == 0 {
			out[sat] = res
			continue
		}

		state, err := eph.State(sat, obse.Time, obs.Pr[0])
		if err != nil {
			out[sat] = res
			continue
		}
		if !state.Healthy {
			out[sat] = res
			continue
		}
		if state.Wavelength <= 0 {
			return nil, rcvPosKnown, wrapErr(InputInvalid, "UndifferencedResiduals", fmt.Errorf("%s: non-positive wavelength", sat))
		}

		r, los := GeoDist(state.Pos, rcvPos)
		if r <= 0 {
			out[sat] = res
			continue
		}
		el := rcvPos.Elevation(state.Pos)
		az := rcvPos.Azimuth(state.Pos)
		if el < ToRad(cfg.ElMin) {
			out[sat] = res
			continue
		}
		if obs.Sn[0] > 0 && obs.Sn[0] < 20 {
			out[sat] = res
			continue
		}

		llh := rcvPos.ToLLH()
		tropo := TropoDelay(cfg, &obse.Time, &rcvPos, el)
		var iono float64
		if cfg.IonoOpt == IonoBroadcast {
			iono, _ = KlobucharDelay(obse.Time, llh, az, el, ion)
		}
		clk := C * state.ClkBias

		res.Phase = obs.Cp[0]*state.Wavelength - (r - clk + tropo - iono)
		res.Code = obs.Pr[0] - (r - clk + tropo + iono)
		res.Az, res.El = az, el
		res.Los = los
		res.Wavelength = state.Wavelength
		res.Valid = true
		out[sat] = res
	}
	return out, rcvPosKnown, nil
}

// SelectCommon returns the strictly increasing satellite-id list observed by
// both stations with base-side elevation at or above elMin, per §4.2. iu/ir
// map each satellite in the returned list back to a lookup key in the
// respective residual maps (identity here since both are keyed by SatType,
// kept as separate return values to match the spec's (sat_ids, iu, ir)
// signature for callers that index into parallel observation slices instead).
func SelectCommon(rover, base map[SatType]UndifferencedResidual, elMin float64) (sats []SatType, iu, ir []int) {
	var candidates []SatType
	for sat, rb := range base {
		if !rb.Valid || rb.El < elMin {
			continue
		}
		ru, ok := rover[sat]
		if !ok || !ru.Valid {
			continue
		}
		candidates = append(candidates, sat)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	sats = candidates
	iu = make([]int, len(sats))
	ir = make([]int, len(sats))
	for i := range sats {
		iu[i] = i
		ir[i] = i
	}
	return
}

// InterpolateResiduals linearly interpolates the cached base residuals in
// ws.interpCache against the freshly computed ones in currentRes to the
// rover epoch t, per §4.2's interpolate_residuals. Follows the two-epoch
// blend of FengXuebin-gnssgo's rtkpos.go InterpolationRes:
// y' = (ttb*y_current - tt*y_cached) / (ttb - tt), where tt/ttb are the
// current/cached base epoch's offset from t. A single cached epoch equal to
// the current one, or no cache yet, returns currentRes unchanged. The cache
// lives on the caller-owned Workspace, not a package-level or function-local
// static, resolving the §9 Open Question about cache scope.
func InterpolateResiduals(ws *Workspace, t GTime, current *ObsE, currentRes map[SatType]UndifferencedResidual, maxTDiff float64) (interp map[SatType]UndifferencedResidual, age float64, err error) {
	tt := t.Sub(current.Time)
	if math.Abs(tt) > maxTDiff {
		return nil, 0, wrapErr(GeometryRejected, "InterpolateResiduals", fmt.Errorf("base data age %.1fs exceeds max %.1fs", math.Abs(tt), maxTDiff))
	}

	if ws.interpCache == nil || current.Time.ToTime().Equal(ws.interpCache.Time.ToTime()) {
		ws.interpCache = current
		ws.interpCacheRes = currentRes
		return currentRes, math.Abs(tt), nil
	}

	ttb := t.Sub(ws.interpCache.Time)
	if ttb == tt {
		ws.interpCache = current
		ws.interpCacheRes = currentRes
		return currentRes, math.Abs(tt), nil
	}

	out := make(map[SatType]UndifferencedResidual, len(currentRes))
	for sat, cur := range currentRes {
		cached, ok := ws.interpCacheRes[sat]
		if !ok || !cached.Valid || !cur.Valid {
			out[sat] = cur
			continue
		}
		blended := cur
		blended.Phase = (ttb*cur.Phase - tt*cached.Phase) / (ttb - tt)
		blended.Code = (ttb*cur.Code - tt*cached.Code) / (ttb - tt)
		out[sat] = blended
	}

	ws.interpCache = current
	ws.interpCacheRes = currentRes

	age = math.Abs(tt)
	if math.Abs(ttb) > age {
		age = math.Abs(ttb)
	}
	return out, age, nil
}

// filterHealthySats returns sats with every entry of excluded removed, in the
// original order. It checks only the exclusion list, not satellite health,
// and no function in this package calls it.
func filterHealthySats(sats []SatType, excluded []SatType) []SatType {
	out := make([]SatType, 0, len(sats))
	for _, s := range sats {
		if !slices.Contains(excluded, s) {
			out = append(out, s)
		}
	}
	return out
}
