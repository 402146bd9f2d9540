package georef

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GCP is a ground control point tying a pixel/line image position to a
// ground coordinate. Pixel and line follow the raster convention where
// (0,0) is the upper-left edge of the first pixel.
type GCP struct {
	ID    string  `json:"id,omitempty"`
	Pixel float64 `json:"pixel"`
	Line  float64 `json:"line"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// PixelTransform maps a pixel/line position to source CRS coordinates.
type PixelTransform interface {
	Transform(pixel, line float64) (x, y float64)
}

// AffineTransform is a six-term geotransform:
//
//	x = t[0] + pixel*t[1] + line*t[2]
//	y = t[3] + pixel*t[4] + line*t[5]
type AffineTransform [6]float64

func (t AffineTransform) Transform(pixel, line float64) (float64, float64) {
	return t[0] + pixel*t[1] + line*t[2], t[3] + pixel*t[4] + line*t[5]
}

// AffineFromGCPs fits a geotransform to the GCPs by least squares.
func AffineFromGCPs(gcps []GCP) (AffineTransform, error) {
	p, err := FitPolynomial(gcps, 1)
	if err != nil {
		return AffineTransform{}, err
	}
	// Undo the pixel/line normalisation so the terms are plain pixel units.
	cx, cy := p.cx, p.cy
	sx, sy := p.scale, p.scale
	return AffineTransform{
		cx[0] - cx[1]*p.pixel0/sx - cx[2]*p.line0/sy, cx[1] / sx, cx[2] / sy,
		cy[0] - cy[1]*p.pixel0/sx - cy[2]*p.line0/sy, cy[1] / sx, cy[2] / sy,
	}, nil
}

// rankTolerance is the smallest accepted ratio of the design matrix's
// smallest to largest singular value.
const rankTolerance = 1e-10

// termCount is the number of coefficients of a bivariate polynomial.
func termCount(order int) int {
	return (order + 1) * (order + 2) / 2
}

// ReliableOrder picks the polynomial order used when none was requested:
// quadratic once ten GCPs are available, otherwise linear.
func ReliableOrder(n int) int {
	if n >= 10 {
		return 2
	}
	return 1
}

// PolynomialTransform is a least-squares bivariate polynomial of order 1 to
// 3 in pixel and line. Inputs are centred and scaled before evaluation.
type PolynomialTransform struct {
	order         int
	pixel0, line0 float64
	scale         float64
	cx, cy        []float64
}

// FitPolynomial fits X and Y of the GCPs as polynomials in pixel/line.
// Order 0 selects ReliableOrder(len(gcps)).
func FitPolynomial(gcps []GCP, order int) (*PolynomialTransform, error) {
	if order == 0 {
		order = ReliableOrder(len(gcps))
	}
	if order < 1 || order > 3 {
		return nil, fmt.Errorf("%w: order %d (want 1-3)", ErrPolynomialUnderdetermined, order)
	}
	k := termCount(order)
	n := len(gcps)
	if n < k {
		return nil, fmt.Errorf("%w: order %d needs %d GCPs, have %d", ErrPolynomialUnderdetermined, order, k, n)
	}

	p := &PolynomialTransform{order: order}
	var maxSpan float64
	for _, g := range gcps {
		p.pixel0 += g.Pixel
		p.line0 += g.Line
	}
	p.pixel0 /= float64(n)
	p.line0 /= float64(n)
	for _, g := range gcps {
		maxSpan = math.Max(maxSpan, math.Max(math.Abs(g.Pixel-p.pixel0), math.Abs(g.Line-p.line0)))
	}
	p.scale = maxSpan
	if p.scale == 0 {
		p.scale = 1
	}

	a := mat.NewDense(n, k, nil)
	bx := mat.NewVecDense(n, nil)
	by := mat.NewVecDense(n, nil)
	row := make([]float64, k)
	for i, g := range gcps {
		p.terms(row, g.Pixel, g.Line)
		a.SetRow(i, row)
		bx.SetVec(i, g.X)
		by.SetVec(i, g.Y)
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return nil, fmt.Errorf("%w: factorization failed", ErrSingularFit)
	}
	if sv := svd.Values(nil); sv[len(sv)-1] <= rankTolerance*sv[0] {
		return nil, fmt.Errorf("%w: GCPs do not span order %d", ErrSingularFit, order)
	}

	var solX, solY mat.VecDense
	if err := solX.SolveVec(a, bx); err != nil {
		return nil, fmt.Errorf("%w: X: %v", ErrSingularFit, err)
	}
	if err := solY.SolveVec(a, by); err != nil {
		return nil, fmt.Errorf("%w: Y: %v", ErrSingularFit, err)
	}
	p.cx = mat.Col(nil, 0, &solX)
	p.cy = mat.Col(nil, 0, &solY)
	for _, c := range append(append([]float64(nil), p.cx...), p.cy...) {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient", ErrSingularFit)
		}
	}
	return p, nil
}

func (p *PolynomialTransform) Order() int { return p.order }

func (p *PolynomialTransform) Transform(pixel, line float64) (float64, float64) {
	row := make([]float64, termCount(p.order))
	p.terms(row, pixel, line)
	var x, y float64
	for i, t := range row {
		x += p.cx[i] * t
		y += p.cy[i] * t
	}
	return x, y
}

// terms fills row with 1, u, v, u², uv, v², u³, u²v, uv², v³ up to the
// transform order, where u and v are the normalised pixel and line.
func (p *PolynomialTransform) terms(row []float64, pixel, line float64) {
	u := (pixel - p.pixel0) / p.scale
	v := (line - p.line0) / p.scale
	i := 0
	for d := 0; d <= p.order; d++ {
		for j := 0; j <= d; j++ {
			row[i] = math.Pow(u, float64(d-j)) * math.Pow(v, float64(j))
			i++
		}
	}
}
