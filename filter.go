// Last modified: 2025.9.22
//
// Updater variants (§4.5, §9). EKFUpdater is the reusable update/gain/state
// step (short form P -= K H P, equal to the Joseph form for the optimal gain)
// common to every variant below. AKFUpdater and
// UKFUpdater have no direct source
// precedent in the retrieved pack (neither mkhts-gortk nor
// original_source/arc_srtk.cc names an adaptive or unscented filter) and are
// authored fresh as variants over the same EKF machinery, in the teacher's
// idiom, per the spec's explicit call for them. NLSUpdater is grounded on
// arc_srtk.cc's Ceres-based nonlinear-least-squares formulation
// (arc_ceres_residual/arc_ceres_para), reimplemented as an explicit
// Gauss-Newton loop over the caller-supplied H/v/R rather than process-wide
// globals.

package rtkcore

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FilterState is the dense state vector and its symmetric covariance,
// together with a record of which indices are currently active (§3, §9
// sparsity note). Inactive indices carry a zero value and a zero diagonal.
type FilterState struct {
	X      *mat.VecDense
	P      *mat.SymDense
	Active []bool
}

// NewFilterState allocates a zeroed FilterState of dimension n.
func NewFilterState(n int) *FilterState {
	return &FilterState{
		X:      mat.NewVecDense(n, nil),
		P:      mat.NewSymDense(n, nil),
		Active: make([]bool, n),
	}
}

// ActiveIndices returns the indices currently active, ascending.
func (fs *FilterState) ActiveIndices() []int {
	idx := make([]int, 0, len(fs.Active))
	for i, a := range fs.Active {
		if a {
			idx = append(idx, i)
		}
	}
	return idx
}

// Reset zeroes state index i and the corresponding row/column of P, and
// marks it inactive (§3 lifecycle, §4.3 ambiguity reset).
func (fs *FilterState) Reset(i int) {
	n, _ := fs.P.Dims()
	fs.X.SetVec(i, 0)
	for j := 0; j < n; j++ {
		fs.P.SetSym(i, j, 0)
	}
	fs.Active[i] = false
}

// Activate sets state index i to value with initial variance and marks it
// active.
func (fs *FilterState) Activate(i int, value, variance float64) {
	fs.X.SetVec(i, value)
	fs.P.SetSym(i, i, variance)
	fs.Active[i] = true
}

// Updater is the common capability every filter variant implements (§9).
type Updater interface {
	// Predict advances fs by dt in place using the caller-supplied process
	// model (transition already folded into fs by the temporal-update
	// stage); Predict here only propagates the covariance term Q that the
	// variant is responsible for (e.g. AKF/UKF may inflate Q adaptively).
	Predict(fs *FilterState, Q *mat.SymDense) error
	// Update consumes the double-differenced design matrix H (one column per
	// state index, over the full state dimension), innovation v and
	// measurement covariance R and updates fs in place. Returns the post-fit residual for validation.
	Update(fs *FilterState, H *mat.Dense, v *mat.VecDense, R *mat.Dense) (postFit *mat.VecDense, err error)
}

// projectActive extracts the sub-vector/sub-matrix of fs restricted to its
// active indices, returning the index list used so callers can scatter the
// result back.
func projectActive(fs *FilterState) (idx []int, x *mat.VecDense, p *mat.SymDense) {
	idx = fs.ActiveIndices()
	n := len(idx)
	x = mat.NewVecDense(n, nil)
	p = mat.NewSymDense(n, nil)
	for i, gi := range idx {
		x.SetVec(i, fs.X.AtVec(gi))
		for j, gj := range idx {
			if j >= i {
				p.SetSym(i, j, fs.P.At(gi, gj))
			}
		}
	}
	return
}

func scatterActive(fs *FilterState, idx []int, x *mat.VecDense, p *mat.SymDense) {
	for i, gi := range idx {
		fs.X.SetVec(gi, x.AtVec(i))
		for j, gj := range idx {
			if j >= i {
				fs.P.SetSym(gi, gj, p.At(i, j))
			}
		}
	}
}

//-------------------------------------------------------------------
// EKF
//-------------------------------------------------------------------

// EKFUpdater is the primary variant: standard Kalman innovation form,
// iterated up to Niter times (§4.5).
type EKFUpdater struct {
	Niter int
}

func NewEKFUpdater(niter int) *EKFUpdater {
	if niter < 1 {
		niter = 1
	}
	return &EKFUpdater{Niter: niter}
}

func (u *EKFUpdater) Predict(fs *FilterState, Q *mat.SymDense) error {
	n, _ := fs.P.Dims()
	var sum mat.SymDense
	sum.AddSym(fs.P, Q)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			fs.P.SetSym(i, j, sum.At(i, j))
		}
	}
	return nil
}

func (u *EKFUpdater) Update(fs *FilterState, H *mat.Dense, v *mat.VecDense, R *mat.Dense) (*mat.VecDense, error) {
	var pf *mat.VecDense
	var err error
	for it := 0; it < u.Niter; it++ {
		pf, err = ekfStep(fs, H, v, R)
		if err != nil {
			return nil, err
		}
	}
	return pf, nil
}

// ekfStep performs one Joseph-equivalent EKF update: K = P H^T (H P H^T + R)^-1,
// x += K v, P -= K H P (the short form, equal to the Joseph form for this
// optimal K), then symmetrises P.
func ekfStep(fs *FilterState, H *mat.Dense, v *mat.VecDense, R *mat.Dense) (*mat.VecDense, error) {
	m, n := H.Dims()
	if n != fs.X.Len() {
		return nil, fmt.Errorf("ekfStep: H has %d cols, state has %d", n, fs.X.Len())
	}

	var PHt mat.Dense
	PHt.Mul(fs.P, H.T())

	var S mat.Dense
	S.Mul(H, &PHt)
	S.Add(&S, R)

	var Sinv mat.Dense
	if err := Sinv.Inverse(&S); err != nil {
		return nil, wrapErr(FilterNumericFailure, "ekfStep", err)
	}

	var K mat.Dense
	K.Mul(&PHt, &Sinv)

	var dx mat.VecDense
	dx.MulVec(&K, v)
	fs.X.AddVec(fs.X, &dx)

	var KH mat.Dense
	KH.Mul(&K, H)
	var I mat.Dense
	I.Mul(&KH, fs.P)
	var newP mat.Dense
	newP.Sub(fs.P, &I)
	sz, _ := newP.Dims()
	for i := 0; i < sz; i++ {
		for j := i; j < sz; j++ {
			fs.P.SetSym(i, j, 0.5*(newP.At(i, j)+newP.At(j, i)))
		}
	}

	var Hx mat.VecDense
	Hx.MulVec(H, fs.X)
	pf := mat.NewVecDense(m, nil)
	pf.SubVec(v, &Hx)
	return pf, nil
}

//-------------------------------------------------------------------
// AKF: adaptive scale factor on the measurement covariance
//-------------------------------------------------------------------

// AKFUpdater multiplies the measurement covariance R by a scalar factor
// lambda >= 1, the windowed mean of trace(v v^T) / trace(H P H^T + R), and
// then runs the EKF update, so a large factor shrinks the gain; the gain
// itself is not multiplied by lambda. The factor guards against filter
// over-confidence when the process model is momentarily wrong (e.g. an
// undetected slip). No direct precedent exists in the retrieved sources;
// built as a thin wrapper over EKFUpdater in the same idiom.
type AKFUpdater struct {
	Inner *EKFUpdater
	// Window is the number of recent innovation samples averaged for the
	// adaptive scale; Window=1 reduces to a per-epoch instantaneous factor.
	Window  int
	history []float64
}

func NewAKFUpdater(niter, window int) *AKFUpdater {
	if window < 1 {
		window = 1
	}
	return &AKFUpdater{Inner: NewEKFUpdater(niter), Window: window}
}

func (u *AKFUpdater) Predict(fs *FilterState, Q *mat.SymDense) error {
	return u.Inner.Predict(fs, Q)
}

func (u *AKFUpdater) Update(fs *FilterState, H *mat.Dense, v *mat.VecDense, R *mat.Dense) (*mat.VecDense, error) {
	var PHt mat.Dense
	PHt.Mul(fs.P, H.T())
	var Spred mat.Dense
	Spred.Mul(H, &PHt)
	Spred.Add(&Spred, R)

	var vv mat.Dense
	vv.Mul(v, v.T())

	predTrace := mat.Trace(&Spred)
	obsTrace := mat.Trace(&vv)
	lambda := 1.0
	if predTrace > 0 {
		lambda = obsTrace / predTrace
	}
	u.history = append(u.history, lambda)
	if len(u.history) > u.Window {
		u.history = u.history[len(u.history)-u.Window:]
	}
	avg := 0.0
	for _, l := range u.history {
		avg += l
	}
	avg /= float64(len(u.history))
	if avg < 1.0 {
		avg = 1.0
	}

	var Rscaled mat.Dense
	Rscaled.Scale(avg, R)
	return u.Inner.Update(fs, H, v, &Rscaled)
}

//-------------------------------------------------------------------
// UKF: sigma points over the active state only
//-------------------------------------------------------------------

// UKFUpdater implements the scaled unscented transform restricted to the
// currently active state indices (§9 sparsity note applies here too — an
// inactive state contributes no sigma-point spread). Measurement prediction
// uses the caller-supplied linear H as the measurement function; this is
// exact for the affine DD residual model of §4.5 and lets one Updater
// interface serve both the EKF and UKF variants without a second
// measurement-model abstraction.
type UKFUpdater struct {
	Alpha, Beta, Kappa float64
}

func NewUKFUpdater() *UKFUpdater {
	return &UKFUpdater{Alpha: 1e-3, Beta: 2.0, Kappa: 0.0}
}

func (u *UKFUpdater) Predict(fs *FilterState, Q *mat.SymDense) error {
	n, _ := fs.P.Dims()
	var sum mat.SymDense
	sum.AddSym(fs.P, Q)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			fs.P.SetSym(i, j, sum.At(i, j))
		}
	}
	return nil
}

func (u *UKFUpdater) Update(fs *FilterState, H *mat.Dense, v *mat.VecDense, R *mat.Dense) (*mat.VecDense, error) {
	idx, xA, pA := projectActive(fs)
	n := len(idx)
	if n == 0 {
		return mat.NewVecDense(v.Len(), nil), nil
	}

	lambda := u.Alpha*u.Alpha*(float64(n)+u.Kappa) - float64(n)
	var chol mat.Cholesky
	scaled := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			scaled.SetSym(i, j, pA.At(i, j)*(float64(n)+lambda))
		}
	}
	if ok := chol.Factorize(scaled); !ok {
		return nil, wrapErr(FilterNumericFailure, "UKFUpdater.Update", fmt.Errorf("covariance not positive definite"))
	}
	var Ltri mat.TriDense
	chol.LTo(&Ltri)
	var L mat.Dense
	L.CloneFrom(&Ltri)

	numSigma := 2*n + 1
	sigmas := make([]*mat.VecDense, numSigma)
	sigmas[0] = mat.VecDenseCopyOf(xA)
	for i := 0; i < n; i++ {
		col := mat.Col(nil, i, &L)
		colVec := mat.NewVecDense(n, col)
		plus := mat.NewVecDense(n, nil)
		plus.AddVec(xA, colVec)
		minus := mat.NewVecDense(n, nil)
		minus.SubVec(xA, colVec)
		sigmas[1+i] = plus
		sigmas[1+n+i] = minus
	}

	wm := make([]float64, numSigma)
	wc := make([]float64, numSigma)
	wm[0] = lambda / (float64(n) + lambda)
	wc[0] = wm[0] + (1 - u.Alpha*u.Alpha + u.Beta)
	for i := 1; i < numSigma; i++ {
		wm[i] = 1.0 / (2.0 * (float64(n) + lambda))
		wc[i] = wm[i]
	}

	// Extract the active-column sub-matrix of H matching idx.
	m, _ := H.Dims()
	Ha := mat.NewDense(m, n, nil)
	for j, gi := range idx {
		for i := 0; i < m; i++ {
			Ha.Set(i, j, H.At(i, gi))
		}
	}

	ySigma := make([]*mat.VecDense, numSigma)
	yMean := mat.NewVecDense(m, nil)
	for k, s := range sigmas {
		y := mat.NewVecDense(m, nil)
		y.MulVec(Ha, s)
		ySigma[k] = y
		var scaledY mat.VecDense
		scaledY.ScaleVec(wm[k], y)
		yMean.AddVec(yMean, &scaledY)
	}

	Pyy := mat.NewDense(m, m, nil)
	Pxy := mat.NewDense(n, m, nil)
	for k := 0; k < numSigma; k++ {
		var dy mat.VecDense
		dy.SubVec(ySigma[k], yMean)
		var dx mat.VecDense
		dx.SubVec(sigmas[k], xA)

		var dyyT mat.Dense
		dyyT.Mul(&dy, dy.T())
		dyyT.Scale(wc[k], &dyyT)
		Pyy.Add(Pyy, &dyyT)

		var dxyT mat.Dense
		dxyT.Mul(&dx, dy.T())
		dxyT.Scale(wc[k], &dxyT)
		Pxy.Add(Pxy, &dxyT)
	}
	Pyy.Add(Pyy, R)

	var PyyInv mat.Dense
	if err := PyyInv.Inverse(Pyy); err != nil {
		return nil, wrapErr(FilterNumericFailure, "UKFUpdater.Update", err)
	}
	var K mat.Dense
	K.Mul(Pxy, &PyyInv)

	// v is the DD innovation already linearized around xA by the caller;
	// yMean is the sigma-point-propagated measurement offset around the same
	// point, so the UKF innovation is their difference.
	innov := mat.NewVecDense(m, nil)
	innov.SubVec(v, yMean)

	var dx mat.VecDense
	dx.MulVec(&K, innov)
	xNew := mat.NewVecDense(n, nil)
	xNew.AddVec(xA, &dx)

	var KPyyKt mat.Dense
	KPyyKt.Mul(&K, Pyy)
	var KPyyKtT mat.Dense
	KPyyKtT.Mul(&KPyyKt, K.T())
	pNewDense := mat.NewDense(n, n, nil)
	pNewDense.Sub(pA, &KPyyKtT)
	pNew := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			pNew.SetSym(i, j, 0.5*(pNewDense.At(i, j)+pNewDense.At(j, i)))
		}
	}

	scatterActive(fs, idx, xNew, pNew)

	var Hx mat.VecDense
	Hx.MulVec(H, fs.X)
	pf := mat.NewVecDense(m, nil)
	pf.SubVec(v, &Hx)
	return pf, nil
}

//-------------------------------------------------------------------
// NLS: Gauss-Newton with Huber loss, grounded on arc_srtk.cc's Ceres
// formulation
//-------------------------------------------------------------------

// NLSUpdater reformulates the epoch as a nonlinear least-squares problem,
// grounded on original_source/arc_srtk.cc's arc_ceres_residual/arc_ceres_para
// (a Ceres Solver problem built from per-epoch static globals). Here the
// problem is built explicitly per call instead of through shared globals,
// which is exactly the replacement the Workspace design note calls for. A
// Huber loss down-weights large residuals; R^-1 preconditioning via Cholesky
// mirrors Ceres's own weighted-least-squares scaling.
type NLSUpdater struct {
	MaxIter   int
	HuberDelta float64
}

func NewNLSUpdater(maxIter int, huberDelta float64) *NLSUpdater {
	if maxIter < 1 {
		maxIter = 5
	}
	if huberDelta <= 0 {
		huberDelta = 3.0
	}
	return &NLSUpdater{MaxIter: maxIter, HuberDelta: huberDelta}
}

func (u *NLSUpdater) Predict(fs *FilterState, Q *mat.SymDense) error {
	n, _ := fs.P.Dims()
	var sum mat.SymDense
	sum.AddSym(fs.P, Q)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			fs.P.SetSym(i, j, sum.At(i, j))
		}
	}
	return nil
}

// huberWeight returns the IRLS weight for residual r under a Huber loss with
// the configured delta, in whitened (R^-1-scaled) units.
func (u *NLSUpdater) huberWeight(r float64) float64 {
	a := r
	if a < 0 {
		a = -a
	}
	if a <= u.HuberDelta {
		return 1.0
	}
	return u.HuberDelta / a
}

func (u *NLSUpdater) Update(fs *FilterState, H *mat.Dense, v *mat.VecDense, R *mat.Dense) (*mat.VecDense, error) {
	idx, xA, pA := projectActive(fs)
	n := len(idx)
	if n == 0 {
		return mat.NewVecDense(v.Len(), nil), nil
	}
	m, _ := H.Dims()
	Ha := mat.NewDense(m, n, nil)
	for j, gi := range idx {
		for i := 0; i < m; i++ {
			Ha.Set(i, j, H.At(i, gi))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(m, denseToSymBacking(R))); !ok {
		return nil, wrapErr(FilterNumericFailure, "NLSUpdater.Update", fmt.Errorf("R not positive definite"))
	}

	x := mat.VecDenseCopyOf(xA)
	resid := mat.VecDenseCopyOf(v)
	for iter := 0; iter < u.MaxIter; iter++ {
		var whitened mat.VecDense
		if err := chol.SolveVecTo(&whitened, resid); err != nil {
			return nil, wrapErr(FilterNumericFailure, "NLSUpdater.Update", err)
		}

		W := mat.NewDiagDense(m, nil)
		for i := 0; i < m; i++ {
			W.SetDiag(i, u.huberWeight(whitened.AtVec(i)))
		}

		var HtW mat.Dense
		HtW.Mul(Ha.T(), W)
		var JtJ mat.Dense
		JtJ.Mul(&HtW, Ha)

		var priorInv mat.Dense
		if err := priorInv.Inverse(pA); err != nil {
			return nil, wrapErr(FilterNumericFailure, "NLSUpdater.Update", err)
		}
		JtJ.Add(&JtJ, &priorInv)

		var JtR mat.Dense
		JtR.Mul(&HtW, resid)

		var JtJinv mat.Dense
		if err := JtJinv.Inverse(&JtJ); err != nil {
			return nil, wrapErr(FilterNumericFailure, "NLSUpdater.Update", err)
		}
		var dx mat.Dense
		dx.Mul(&JtJinv, &JtR)

		x.AddVec(x, dx.ColView(0))

		var Hx mat.VecDense
		Hx.MulVec(Ha, x)
		resid.SubVec(v, &Hx)
	}

	var priorInv mat.Dense
	if err := priorInv.Inverse(pA); err != nil {
		return nil, wrapErr(FilterNumericFailure, "NLSUpdater.Update", err)
	}
	var HtR mat.Dense
	var Rinv mat.Dense
	if err := Rinv.Inverse(R); err != nil {
		return nil, wrapErr(FilterNumericFailure, "NLSUpdater.Update", err)
	}
	HtR.Mul(Ha.T(), &Rinv)
	var infoGain mat.Dense
	infoGain.Mul(&HtR, Ha)
	var infoTotal mat.Dense
	infoTotal.Add(&priorInv, &infoGain)
	var pNewDense mat.Dense
	if err := pNewDense.Inverse(&infoTotal); err != nil {
		return nil, wrapErr(FilterNumericFailure, "NLSUpdater.Update", err)
	}
	pNew := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			pNew.SetSym(i, j, 0.5*(pNewDense.At(i, j)+pNewDense.At(j, i)))
		}
	}

	scatterActive(fs, idx, x, pNew)

	pf := mat.VecDenseCopyOf(resid)
	return pf, nil
}

// denseToSymBacking extracts a flat row-major backing array from a Dense
// matrix believed symmetric, for constructing a SymDense view without an
// extra copy loop at each call site.
func denseToSymBacking(d *mat.Dense) []float64 {
	r, c := d.Dims()
	out := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[i*c+j] = d.At(i, j)
		}
	}
	return out
}
