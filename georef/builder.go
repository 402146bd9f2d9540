package georef

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/opir-geoloc/core"
	"github.com/signalsfoundry/opir-geoloc/internal/logging"
	"github.com/signalsfoundry/opir-geoloc/internal/observability"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

// DefaultStepSize is the grid spacing in pixels used when none is given.
const DefaultStepSize = 20

// Recorder receives build metrics. *observability.GeolocCollector
// implements it.
type Recorder interface {
	ObserveGridBuild(outcome string, elapsed time.Duration, onEarthNodes int)
	ObserverSubstituted()
	SetGCPCount(n int)
}

// Ground coordinate sources of a built grid.
const (
	MethodDirectGCP  = "direct_gcp"
	MethodPolynomial = "polynomial"
	MethodAffine     = "affine"
)

// BuildOptions are the grid builder inputs besides the source.
type BuildOptions struct {
	XStep, YStep int
	// GCPOrder is the polynomial order of the GCP transform, 0 for the
	// highest reliable order.
	GCPOrder int
	NoGCP    bool
	Regrid   bool

	Observer core.Vec3
	Earth    *core.Ellipsoid

	// Logger defaults to the run logger in the build context.
	Logger  logging.Logger
	Metrics Recorder
}

// BuildResult is a built grid plus how it was obtained.
type BuildResult struct {
	Grid *losgrid.Grid
	// Observer is the position the grid was built for; it differs from the
	// requested one when ObserverSubstituted is set.
	Observer            core.Vec3
	ObserverSubstituted bool
	Method              string
	// InputRows/InputCols is the size of the sampled block before edge
	// extrapolation.
	InputRows, InputCols int
}

// samples are row-major geodetic samples (degrees) of a grid block.
type samples struct {
	rows, cols int
	lat, lon   []float64
	valid      []bool
}

func newSamples(rows, cols int) *samples {
	n := rows * cols
	return &samples{
		rows:  rows,
		cols:  cols,
		lat:   make([]float64, n),
		lon:   make([]float64, n),
		valid: make([]bool, n),
	}
}

func (s *samples) validCount() int {
	n := 0
	for _, v := range s.valid {
		if v {
			n++
		}
	}
	return n
}

// BuildLosGrid samples the image's georeferencing on a strided grid and
// populates a LOS grid seen from the observer.
//
// GCPs that already lie on a complete, evenly spaced grid are used as-is
// unless NoGCP or Regrid is set. Otherwise pixel centres every XStep/YStep
// pixels, one extra row and column past the image, are converted through a
// polynomial GCP fit, falling back to the geotransform.
func BuildLosGrid(ctx context.Context, src *Source, opts BuildOptions) (res *BuildResult, err error) {
	start := time.Now()
	log := opts.Logger
	if log == nil {
		log = logging.FromContext(ctx)
	}

	ctx, span := observability.StartGridSpan(ctx, "BuildLosGrid", observability.GridShape{})
	defer func() {
		outcome := observability.OutcomeFailed
		onEarth := 0
		var attrs []attribute.KeyValue
		if err == nil {
			g := res.Grid
			onEarth = g.OnEarthCount()
			outcome = observability.OutcomeSampled
			if res.Method == MethodDirectGCP {
				outcome = observability.OutcomeDirectGCP
			}
			observability.SetGridShape(span, shapeOf(g))
			attrs = append(attrs,
				observability.AttrMethod.String(res.Method),
				observability.AttrOnEarthNodes.Int(onEarth),
				observability.AttrSubstituted.Bool(res.ObserverSubstituted),
			)
		}
		if opts.Metrics != nil {
			opts.Metrics.ObserveGridBuild(outcome, time.Since(start), onEarth)
		}
		observability.EndSpan(span, err, attrs...)
	}()

	if src == nil || src.Cols <= 0 || src.Rows <= 0 {
		return nil, ErrNoImage
	}
	earth := opts.Earth
	if earth == nil {
		earth = core.WGS84()
	}
	xStep, yStep := opts.XStep, opts.YStep
	if xStep <= 0 {
		xStep = DefaultStepSize
	}
	if yStep <= 0 {
		yStep = DefaultStepSize
	}

	var (
		in     *samples
		method string
	)
	if !opts.NoGCP && !opts.Regrid {
		if s, xs, ys, ok := loadGCPGridDirect(ctx, src, earth, log); ok {
			in, method = s, MethodDirectGCP
			xStep, yStep = xs, ys
		}
	}

	// One row and column past the image so every pixel can be interpolated.
	xGridSz := (src.Cols + 2*xStep - 1) / xStep
	yGridSz := (src.Rows + 2*yStep - 1) / yStep

	if in == nil {
		in = newSamples(yGridSz, xGridSz)
		if !opts.NoGCP && convertWithGCPs(ctx, src, earth, opts.GCPOrder, in, xStep, yStep, log) {
			method = MethodPolynomial
		} else if convertWithAffine(ctx, src, earth, !opts.NoGCP, in, xStep, yStep, log) {
			method = MethodAffine
		} else {
			return nil, ErrNoTransform
		}
	}

	observer := opts.Observer
	substituted := false
	if r := observer.Norm(); r <= earth.EquatorialRadius() {
		centre, minLon, maxLon := centreLongitude(in)
		observer = earth.GeoSyncPosition(centre * core.DegToRad)
		substituted = true
		log.Warn(ctx, "invalid satellite radius; using geosync observer above the grid centre",
			logging.Float64("radius", r),
			logging.Float64("earth_radius", earth.EquatorialRadius()),
			logging.Float64("longitude", centre),
			logging.Float64("min_longitude", minLon),
			logging.Float64("max_longitude", maxLon),
		)
		if opts.Metrics != nil {
			opts.Metrics.ObserverSubstituted()
		}
	}

	rows := max(yGridSz, in.rows)
	cols := max(xGridSz, in.cols)
	g, err := losgrid.New(rows, cols, yStep, xStep, observer, earth)
	if err != nil {
		return nil, err
	}
	if _, err := g.BuildFromSamples(in.rows, in.cols, in.lat, in.lon, in.valid); err != nil {
		return nil, fmt.Errorf("populate grid: %w", err)
	}
	if rows > in.rows {
		if err := g.ExtrapolateLastRow(); err != nil {
			return nil, fmt.Errorf("extrapolate grid: %w", err)
		}
	}
	if cols > in.cols {
		if err := g.ExtrapolateLastColumn(); err != nil {
			return nil, fmt.Errorf("extrapolate grid: %w", err)
		}
	}

	log.Debug(ctx, "built LOS grid",
		logging.String("method", method),
		logging.Int("rows", rows),
		logging.Int("cols", cols),
		logging.Int("on_earth", g.OnEarthCount()),
		logging.String("status", g.Status().String()),
	)

	return &BuildResult{
		Grid:                g,
		Observer:            observer,
		ObserverSubstituted: substituted,
		Method:              method,
		InputRows:           in.rows,
		InputCols:           in.cols,
	}, nil
}

func shapeOf(g *losgrid.Grid) observability.GridShape {
	return observability.GridShape{
		Rows:    g.Rows(),
		Cols:    g.Cols(),
		RowStep: g.RowStepSize(),
		ColStep: g.ColStepSize(),
	}
}

// centreLongitude returns the midpoint of the valid sample longitudes.
func centreLongitude(s *samples) (centre, minLon, maxLon float64) {
	minLon, maxLon = math.Inf(1), math.Inf(-1)
	for i, v := range s.valid {
		if !v {
			continue
		}
		minLon = math.Min(minLon, s.lon[i])
		maxLon = math.Max(maxLon, s.lon[i])
	}
	if minLon > maxLon {
		return 0, 0, 0
	}
	return (minLon + maxLon) / 2, minLon, maxLon
}

// loadGCPGridDirect accepts the source GCPs as grid samples when they sit
// on integer pixel/line multiples of the smallest non-zero spacing, cover
// the image and fill the grid exactly once per node.
func loadGCPGridDirect(ctx context.Context, src *Source, earth *core.Ellipsoid, log logging.Logger) (s *samples, xStep, yStep int, ok bool) {
	reject := func(reason string, fields ...logging.Field) (*samples, int, int, bool) {
		log.Debug(ctx, "GCP grid not usable directly: "+reason, fields...)
		return nil, 0, 0, false
	}

	if len(src.GCPs) == 0 {
		return reject("there are no GCPs")
	}
	crs, err := gcpCRS(src, earth)
	if err != nil {
		return reject("GCP reference system", logging.Err(err))
	}
	defer closeCRS(crs)

	minPixel, minLine := math.MaxInt, math.MaxInt
	maxPixel, maxLine := 0, 0
	for _, g := range src.GCPs {
		pixel, line := int(g.Pixel), int(g.Line)
		if line != 0 && line < minLine {
			minLine = line
		}
		if pixel != 0 && pixel < minPixel {
			minPixel = pixel
		}
		maxLine = max(maxLine, line)
		maxPixel = max(maxPixel, pixel)
	}
	if minPixel == math.MaxInt || minLine == math.MaxInt || minPixel < 0 || minLine < 0 {
		return reject("no non-zero pixel or line spacing")
	}
	if maxPixel%minPixel != 0 || maxLine%minLine != 0 {
		return reject("max/min pixel or line not evenly divisible")
	}

	xGridSz := maxPixel/minPixel + 1
	yGridSz := maxLine/minLine + 1
	xGridSzMin := (src.Cols + minPixel - 1) / minPixel
	yGridSzMin := (src.Rows + minLine - 1) / minLine
	if xGridSz < xGridSzMin || yGridSz < yGridSzMin {
		return reject("GCP grid does not cover the image",
			logging.Int("x", xGridSz), logging.Int("x_min", xGridSzMin),
			logging.Int("y", yGridSz), logging.Int("y_min", yGridSzMin))
	}
	if xGridSz*yGridSz != len(src.GCPs) {
		return reject("grid size does not match GCP count",
			logging.Int("grid", xGridSz*yGridSz), logging.Int("gcps", len(src.GCPs)))
	}

	s = newSamples(yGridSz, xGridSz)
	seen := make([]bool, len(src.GCPs))
	for _, g := range src.GCPs {
		pixel, line := int(g.Pixel), int(g.Line)
		if pixel < 0 || line < 0 || pixel%minPixel != 0 || line%minLine != 0 {
			return reject("line or pixel divisibility test")
		}
		idx := line/minLine*xGridSz + pixel/minPixel
		seen[idx] = true
		lat, lon, err := crs.ToGeodetic(g.X, g.Y)
		if err != nil {
			continue
		}
		s.lat[idx], s.lon[idx], s.valid[idx] = lat, lon, true
	}
	for i, hit := range seen {
		if !hit {
			return reject("missing grid point", logging.Int("index", i))
		}
	}
	if s.validCount() == 0 {
		return reject("no GCP converted to geodetic")
	}

	log.Debug(ctx, "using GCP grid directly",
		logging.Int("x_size", xGridSz), logging.Int("x_step", minPixel),
		logging.Int("y_size", yGridSz), logging.Int("y_step", minLine))
	return s, minPixel, minLine, true
}

func gcpCRS(src *Source, earth *core.Ellipsoid) (CRS, error) {
	if len(src.GCPs) < 4 {
		return nil, fmt.Errorf("%w: %d GCPs, need at least 4", ErrNoGCPs, len(src.GCPs))
	}
	return ParseCRS(src.GCPCRS, earth)
}

// pixelCentres fills the transform inputs for every grid node: node
// (r, c) sits at the centre of pixel (r*yStep, c*xStep).
func pixelCentres(s *samples, xStep, yStep int, fn func(i int, pixel, line float64)) {
	for r := 0; r < s.rows; r++ {
		line := float64(yStep*r) + 0.5
		for c := 0; c < s.cols; c++ {
			fn(r*s.cols+c, float64(xStep*c)+0.5, line)
		}
	}
}

func convertThrough(s *samples, crs CRS, t PixelTransform, xStep, yStep int) {
	if pc, ok := crs.(pointsCRS); ok {
		n := s.rows * s.cols
		xs, ys := make([]float64, n), make([]float64, n)
		pixelCentres(s, xStep, yStep, func(i int, pixel, line float64) {
			xs[i], ys[i] = t.Transform(pixel, line)
		})
		lat, lon, good := pc.ToGeodeticPoints(xs, ys)
		for i := range good {
			s.lat[i], s.lon[i], s.valid[i] = lat[i], lon[i], good[i]
		}
		return
	}
	pixelCentres(s, xStep, yStep, func(i int, pixel, line float64) {
		x, y := t.Transform(pixel, line)
		lat, lon, err := crs.ToGeodetic(x, y)
		if err != nil || math.IsNaN(lat) || math.IsNaN(lon) {
			s.valid[i] = false
			return
		}
		s.lat[i], s.lon[i], s.valid[i] = lat, lon, true
	})
}

// convertWithGCPs reports whether at least one sample converted through a
// polynomial fit of the source GCPs.
func convertWithGCPs(ctx context.Context, src *Source, earth *core.Ellipsoid, order int, s *samples, xStep, yStep int, log logging.Logger) bool {
	crs, err := gcpCRS(src, earth)
	if err != nil {
		log.Debug(ctx, "GCP reference system unavailable", logging.Err(err))
		return false
	}
	defer closeCRS(crs)

	poly, err := FitPolynomial(src.GCPs, order)
	if err != nil {
		log.Warn(ctx, "polynomial GCP transform unavailable, using affine", logging.Err(err))
		return false
	}
	convertThrough(s, crs, poly, xStep, yStep)
	if s.validCount() == 0 {
		log.Warn(ctx, "polynomial GCP transform produced no geodetic points, using affine")
		return false
	}
	log.Debug(ctx, "GCP polynomial transform", logging.Int("order", poly.Order()), logging.Int("gcps", len(src.GCPs)))
	return true
}

// convertWithAffine reports whether at least one sample converted through
// the source geotransform. Without one, and when useGCPs is set, an affine
// fit of the source GCPs in their reference system stands in.
func convertWithAffine(ctx context.Context, src *Source, earth *core.Ellipsoid, useGCPs bool, s *samples, xStep, yStep int, log logging.Logger) bool {
	gt, crsName := src.GeoTransform, src.CRS
	if gt == nil {
		if !useGCPs || len(src.GCPs) == 0 {
			log.Debug(ctx, "affine transform unavailable")
			return false
		}
		affine, err := AffineFromGCPs(src.GCPs)
		if err != nil {
			log.Debug(ctx, "affine transform unavailable", logging.Err(err))
			return false
		}
		log.Debug(ctx, "affine transform derived from GCPs", logging.Any("geotransform", affine))
		gt, crsName = &affine, src.GCPCRS
	}
	crs, err := ParseCRS(crsName, earth)
	if err != nil {
		log.Debug(ctx, "affine reference system unavailable", logging.Err(err))
		return false
	}
	defer closeCRS(crs)
	convertThrough(s, crs, *gt, xStep, yStep)
	return s.validCount() > 0
}
