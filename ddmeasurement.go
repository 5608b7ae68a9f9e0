// Last modified: 2025.9.22
//
// Double-difference formation, design matrix, measurement covariance,
// innovation gating and the moving-base baseline constraint (§4.5).
// Functions are parameterised over StateLayout so the same formation logic
// serves any Updater variant and the ambiguity resolver's re-linearisation
// step.

package rtkcore

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DDPair names one double-difference row: the family reference satellite S1
// and the non-reference satellite S2, on channel Phase or not (Phase=false
// means code).
type DDPair struct {
	S1, S2 SatType
	Phase  bool
}

// SelectReferences picks, for every constellation family present in sats,
// the satellite with the highest elevation among those with valid residuals
// at both stations (§4.5). Families follow the spec's grouping: GPS/QZS/SBS
// share one reference, GLO/GAL/BDS each have their own.
func SelectReferences(sats []SatType, res map[SatType]UndifferencedResidual) map[byte]SatType {
	best := map[byte]SatType{}
	bestEl := map[byte]float64{}
	for _, sat := range sats {
		r, ok := res[sat]
		if !ok || !r.Valid {
			continue
		}
		fam := familyOf(sat)
		if r.El > bestEl[fam] {
			bestEl[fam] = r.El
			best[fam] = sat
		}
	}
	return best
}

func familyOf(sat SatType) byte {
	switch sat.Sys() {
	case 'G', 'J', 'S':
		return 'G'
	case 'R':
		return 'R'
	case 'E':
		return 'E'
	case 'C':
		return 'C'
	default:
		return 'G'
	}
}

// BuildDDSystem forms the DD design matrix H, innovation vector v and
// measurement covariance R for every eligible non-reference satellite in
// sats on both the phase and code channels, per §4.5. layout locates the
// position/iono/tropo/ambiguity blocks of the state; refs is the per-family
// reference map from SelectReferences.
func BuildDDSystem(cfg *Config, layout *StateLayout, sats []SatType, satOrder []SatType, roverRes, baseRes map[SatType]UndifferencedResidual, refs map[byte]SatType, tracks map[SatType]*SatelliteTrack, x *mat.VecDense, baselineLen, age float64) (H *mat.Dense, v *mat.VecDense, R *mat.Dense, pairs []DDPair, err error) {
	ambIndex := make(map[SatType]int, len(satOrder))
	for i, s := range satOrder {
		if i >= layout.NumAmb {
			break
		}
		ambIndex[s] = layout.AmbBase + i
	}

	type row struct {
		pair  DDPair
		h     []float64
		v     float64
		s1, s2 SatType
	}
	var rows []row
	n := layout.Dim()

	for _, sat := range sats {
		fam := familyOf(sat)
		ref, ok := refs[fam]
		if !ok || ref == sat {
			continue
		}
		ru, uok := roverRes[sat]
		rb, bok := baseRes[sat]
		refU, rufok := roverRes[ref]
		refB, rbfok := baseRes[ref]
		if !uok || !bok || !rufok || !rbfok || !ru.Valid || !rb.Valid || !refU.Valid || !refB.Valid {
			continue
		}

		for _, phase := range []bool{true, false} {
			var sdI, sdJ float64
			if phase {
				sdI = ru.Phase - rb.Phase
				sdJ = refU.Phase - refB.Phase
			} else {
				sdI = ru.Code - rb.Code
				sdJ = refU.Code - refB.Code
			}
			ddv := sdI - sdJ

			h := make([]float64, n)
			h[0] = -ru.Los.X + refU.Los.X
			h[1] = -ru.Los.Y + refU.Los.Y
			h[2] = -ru.Los.Z + refU.Los.Z

			if layout.IonoBase >= 0 {
				sign := -1.0
				if !phase {
					sign = 1.0
				}
				h[ionoIndex(layout, sat, satOrder)] += sign
				h[ionoIndex(layout, ref, satOrder)] -= sign
			}

			// Ambiguity states are carried in cycles, not metres (§4.5,
			// matching mkhts-gortk's makeH lmku/lmju convention), so the DD
			// phase model needs a wavelength-scaled H column to convert the
			// cycle-valued state into the metre-valued residual.
			if phase {
				if ai, ok := ambIndex[sat]; ok {
					wl := ru.Wavelength
					h[ai] = wl
					ddv -= x.AtVec(ai) * wl
				}
				if aj, ok := ambIndex[ref]; ok {
					wl := refU.Wavelength
					h[aj] = -wl
					ddv += x.AtVec(aj) * wl
				}
			}

			if math.Abs(ddv) > cfg.MaxInno {
				continue
			}

			rows = append(rows, row{pair: DDPair{S1: ref, S2: sat, Phase: phase}, h: h, v: ddv, s1: ref, s2: sat})
		}
	}

	m := len(rows)
	H = mat.NewDense(m, n, nil)
	v = mat.NewVecDense(m, nil)
	pairs = make([]DDPair, m)
	for i, rr := range rows {
		for j, val := range rr.h {
			H.Set(i, j, val)
		}
		v.SetVec(i, rr.v)
		pairs[i] = rr.pair
	}

	R = BuildDDCovariance(cfg, pairs, baselineLen, age, roverRes, baseRes)
	return
}

// satElevation returns the worse (lower) of the rover- and base-side
// elevation for sat, falling back to zenith when neither residual is valid.
// Weighting on the more adverse geometry keeps BuildDDCovariance from
// under-stating variance when only one station has a low-elevation view.
func satElevation(sat SatType, roverRes, baseRes map[SatType]UndifferencedResidual) float64 {
	el := math.Pi / 2
	if r, ok := roverRes[sat]; ok && r.Valid && r.El < el {
		el = r.El
	}
	if r, ok := baseRes[sat]; ok && r.Valid && r.El < el {
		el = r.El
	}
	return el
}

func ionoIndex(layout *StateLayout, sat SatType, satOrder []SatType) int {
	for i, s := range satOrder {
		if s == sat {
			return layout.IonoBase + i
		}
	}
	return layout.IonoBase
}

// SingleDiffVariance computes the single-differenced measurement variance
// for one satellite/channel per the §4.5 error model:
// sigma^2 = 2*ionoFactor*(a^2 + b^2/sin^2(el) + (c*bl/1e4)^2) + (C*sigmaClk*dt)^2.
func SingleDiffVariance(el, bl, dt float64, phase bool, sys byte) float64 {
	a, b, c := 0.003, 0.003, 0.0
	if !phase {
		a, b = 0.3, 0.3
	}
	ionoFactor := 1.0
	switch sys {
	case 'R':
		ionoFactor = 1.5
	case 'C':
		ionoFactor = 1.2
	}
	sinel := math.Sin(el)
	if sinel < MinSinElevation {
		sinel = MinSinElevation
	}
	base := 2 * ionoFactor * (a*a + b*b/(sinel*sinel) + (c * bl / 1e4 * c * bl / 1e4))
	const sigmaClk = 1e-9
	clkTerm := C * sigmaClk * dt
	return base + clkTerm*clkTerm
}

// BuildDDCovariance forms the block-diagonal DD covariance per family
// reference group, per §4.5: diagonal entries are R_i + R_j, off-diagonal
// entries within the same reference group are R_i (shared reference noise).
// Each satellite's variance is weighted by its own elevation (roverRes/
// baseRes, already computed by UndifferencedResiduals) and by age, the age
// of the differential correction used to form the DD, per the §4.5 error
// model's (C*sigmaClk*dt)^2 term.
func BuildDDCovariance(cfg *Config, pairs []DDPair, baselineLen, age float64, roverRes, baseRes map[SatType]UndifferencedResidual) *mat.Dense {
	m := len(pairs)
	R := mat.NewDense(m, m, nil)
	refVar := make(map[SatType]float64)
	for i, p := range pairs {
		eli := satElevation(p.S1, roverRes, baseRes)
		elj := satElevation(p.S2, roverRes, baseRes)
		vi := SingleDiffVariance(eli, baselineLen, age, p.Phase, byte(p.S1.Sys()))
		vj := SingleDiffVariance(elj, baselineLen, age, p.Phase, byte(p.S2.Sys()))
		refVar[p.S1] = vi
		R.Set(i, i, vi+vj)
	}
	for i := 0; i < m; i++ {
		for j := i + 1; j < m; j++ {
			if pairs[i].S1 == pairs[j].S1 && pairs[i].Phase == pairs[j].Phase {
				R.Set(i, j, refVar[pairs[i].S1])
				R.Set(j, i, refVar[pairs[i].S1])
			}
		}
	}
	return R
}

// BaselineConstraint appends the moving-base pseudo-measurement of §4.5 when
// the configured nominal baseline length is positive and the linearisation
// error is small enough (var/bb^2 < 0.01). Returns ok=false when the
// constraint is rejected (BaselineConstraintRejected, non-fatal per §7).
func BaselineConstraint(cfg *Config, roverPos, basePos PosXYZ, roverVar float64) (h []float64, v, r float64, ok bool) {
	if cfg.BaselineNominal <= 0 {
		return nil, 0, 0, false
	}
	dx, dy, dz := roverPos.X-basePos.X, roverPos.Y-basePos.Y, roverPos.Z-basePos.Z
	bb := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if bb == 0 {
		return nil, 0, 0, false
	}
	if roverVar/(bb*bb) >= 0.01 {
		return nil, 0, 0, false
	}
	h = []float64{dx / bb, dy / bb, dz / bb}
	v = cfg.BaselineNominal - bb
	r = cfg.BaselineSigma * cfg.BaselineSigma
	return h, v, r, true
}
