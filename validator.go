// Last modified: 2025.9.22
//
// Solution validator (§4.7), grounded on misc.go's ChiSqr table (alpha =
// 0.001), which mkhts-gortk already carries but never wires into a
// dedicated post-fit test.

package rtkcore

import "gonum.org/v1/gonum/mat"

// ValidationResult reports the outcome of the post-fit residual test.
type ValidationResult struct {
	Passed      bool
	Failures    []int // indices of postFit with v^2 > thres * R_ii
	NumPhaseObs int
}

// ValidateSolution checks every post-fit residual against the chi-squared
// value thres for dof degrees of freedom: residual i fails when
// v^2 > thres * R_ii. A failing residual is listed in Failures and does not
// by itself clear Passed; Passed is false only when numPhaseObs < 4.
func ValidateSolution(postFit *mat.VecDense, R *mat.Dense, dof int, numPhaseObs int) ValidationResult {
	res := ValidationResult{Passed: true, NumPhaseObs: numPhaseObs}
	thres := ChiSqr(dof)
	if thres == 0 {
		thres = ChiSqr(len(ChiSqrTableBound()) - 1)
	}
	for i := 0; i < postFit.Len(); i++ {
		v := postFit.AtVec(i)
		rii := R.At(i, i)
		if rii <= 0 {
			continue
		}
		if v*v > thres*rii {
			res.Failures = append(res.Failures, i)
		}
	}
	if numPhaseObs < 4 {
		res.Passed = false
	}
	return res
}

// ChiSqrTableBound exposes the length of the internal ChiSqr table so
// ValidateSolution can fall back to the largest tabulated degree of freedom
// without duplicating the table here.
func ChiSqrTableBound() []float64 {
	// Mirrors misc.go's ChiSqr table length (100 entries, alpha=0.001).
	return make([]float64, 100)
}
