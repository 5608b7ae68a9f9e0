// Last modified: 2025.9.22
//
// D-transform construction and hold-to-integer (§4.6). The D-transform's
// eligibility rule operates over the StateLayout/SatelliteTrack
// abstractions; driver.go's resolveAmbiguity runs the LAMBDA search and
// back-transform against the resulting system. Hold-to-integer is grounded
// on gnssgo's HoldAmb/VAR_HOLDAMB convention for the constant and the
// pseudo-measurement form.

package rtkcore

import (
	"gonum.org/v1/gonum/mat"
)

// VarHoldAmb is the pseudo-measurement variance [cycle^2] used to commit a
// validated integer fix back into the float state (§4.6). Matches gnssgo's
// VAR_HOLDAMB = 1e-3.
const VarHoldAmb = 1e-3

// BuildDTransform constructs the D matrix of §4.6: identity on the first na
// non-ambiguity states, and one row per eligible non-reference ambiguity
// with +1 at its own reference and -1 at itself, restricted to satellites
// whose track reports EligibleForAR.
func BuildDTransform(layout *StateLayout, satOrder []SatType, refs map[byte]SatType, tracks map[SatType]*SatelliteTrack, cfg *Config) (*mat.Dense, []DDPair) {
	na := layout.AmbBase
	var pairs []DDPair
	var ambCols [][2]int // {selfIdx, refIdx}

	for i, sat := range satOrder {
		if i >= layout.NumAmb {
			break
		}
		fam := familyOf(sat)
		ref, ok := refs[fam]
		if !ok || ref == sat {
			continue
		}
		t := tracks[sat]
		tr := tracks[ref]
		if t == nil || tr == nil {
			continue
		}
		if !t.EligibleForAR(cfg.MinLock, ToRad(cfg.ElMaskAR)) || !tr.EligibleForAR(cfg.MinLock, ToRad(cfg.ElMaskAR)) {
			continue
		}
		refIdx := ambIndexOf(layout, satOrder, ref)
		selfIdx := layout.AmbBase + i
		if refIdx < 0 {
			continue
		}
		ambCols = append(ambCols, [2]int{selfIdx, refIdx})
		pairs = append(pairs, DDPair{S1: ref, S2: sat, Phase: true})
	}

	rows := na + len(ambCols)
	n := layout.Dim()
	D := mat.NewDense(rows, n, nil)
	for i := 0; i < na; i++ {
		D.Set(i, i, 1)
	}
	for k, c := range ambCols {
		D.Set(na+k, c[1], 1)
		D.Set(na+k, c[0], -1)
	}
	return D, pairs
}

func ambIndexOf(layout *StateLayout, satOrder []SatType, sat SatType) int {
	for i, s := range satOrder {
		if s == sat {
			if i >= layout.NumAmb {
				return -1
			}
			return layout.AmbBase + i
		}
	}
	return -1
}

// HoldToInteger synthesises the pseudo-measurements of §4.6 for a validated
// fix and applies one Kalman update to commit the integers into the float
// state, once at least minFix consecutive fixes have been observed. bFixed
// holds the fixed integer values in the same order as pairs (S1=reference).
func HoldToInteger(fs *FilterState, layout *StateLayout, satOrder []SatType, pairs []DDPair, bFixed []float64, consecutiveFixes, minFix int) error {
	if consecutiveFixes < minFix {
		return nil
	}
	m := len(pairs)
	if m == 0 {
		return nil
	}
	n := layout.Dim()
	H := mat.NewDense(m, n, nil)
	v := mat.NewVecDense(m, nil)
	R := mat.NewDense(m, m, nil)
	for i, p := range pairs {
		refIdx := ambIndexOf(layout, satOrder, p.S1)
		selfIdx := ambIndexOf(layout, satOrder, p.S2)
		if refIdx < 0 || selfIdx < 0 {
			continue
		}
		H.Set(i, refIdx, 1)
		H.Set(i, selfIdx, -1)
		floatDiff := fs.X.AtVec(refIdx) - fs.X.AtVec(selfIdx)
		v.SetVec(i, bFixed[i]-floatDiff)
		R.Set(i, i, VarHoldAmb)
	}
	ekf := NewEKFUpdater(1)
	_, err := ekf.Update(fs, H, v, R)
	return err
}
