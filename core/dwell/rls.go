package dwell

import "gonum.org/v1/gonum/mat"

// initialCovariance scales the identity matrix P starts from. Large values
// let the first samples dominate the prior of zero weights.
const initialCovariance = 1e6

// rls is a recursive least squares estimator with exponential forgetting.
type rls struct {
	lambda  float64
	w       *mat.VecDense
	p       *mat.Dense
	samples int
}

func newRLS(n int, lambda float64) *rls {
	p := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		p.Set(i, i, initialCovariance)
	}
	return &rls{lambda: lambda, w: mat.NewVecDense(n, nil), p: p}
}

// add feeds one observation y for feature vector x.
func (r *rls) add(x []float64, y float64) {
	xv := mat.NewVecDense(len(x), x)

	var px mat.VecDense
	px.MulVec(r.p, xv)
	den := r.lambda + mat.Dot(xv, &px)

	var k mat.VecDense
	k.ScaleVec(1/den, &px)

	e := y - mat.Dot(r.w, xv)
	r.w.AddScaledVec(r.w, e, &k)

	// P is symmetric so xᵀP is the transpose of Px.
	var kpx mat.Dense
	kpx.Outer(1, &k, &px)
	r.p.Sub(r.p, &kpx)
	r.p.Scale(1/r.lambda, r.p)
	r.samples++
}

func (r *rls) predict(x []float64) float64 {
	return mat.Dot(r.w, mat.NewVecDense(len(x), x))
}
