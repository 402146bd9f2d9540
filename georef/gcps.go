package georef

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/westphae/geomag/pkg/egm96"

	"github.com/signalsfoundry/opir-geoloc/internal/logging"
	"github.com/signalsfoundry/opir-geoloc/internal/observability"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

// DefaultGCPMax is the GCP cap applied when none is configured.
const DefaultGCPMax = 225

// CoordinateTransform maps a GCP ground coordinate (longitude, latitude in
// degrees, height) to the coordinate written into the GCP.
type CoordinateTransform func(x, y, z float64) (float64, float64, float64, error)

// GeoidHeightZ writes the EGM96 orthometric height of the ellipsoid point
// into Z, leaving X and Y unchanged.
func GeoidHeightZ() CoordinateTransform {
	return func(x, y, z float64) (float64, float64, float64, error) {
		h, err := egm96.NewLocationGeodetic(y, x, z).HeightAboveMSL()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("egm96 height at (%v,%v): %w", y, x, err)
		}
		return x, y, h, nil
	}
}

// GCPOptions tune BuildGCPList.
type GCPOptions struct {
	Transform CoordinateTransform
	// MaxExplicit suppresses the decimation warning when the cap was set
	// by the user.
	MaxExplicit bool

	Logger  logging.Logger
	Metrics Recorder
}

// DecimationFactor is the stride applied to both grid dimensions so that
// roughly natural/factor² points fit under maxCount.
func DecimationFactor(natural, maxCount int) int {
	if maxCount <= 0 || natural <= maxCount {
		return 1
	}
	return int(math.Ceil(math.Sqrt(float64(natural) / float64(maxCount))))
}

// BuildGCPList emits one GCP per on-Earth node of the grid, skipping the
// extrapolated overhang row and column. When the on-Earth count exceeds
// maxCount (> 0) the grid is decimated uniformly, and the list is then
// thinned evenly to at most maxCount points: the square-root stride alone
// overshoots on elongated grids.
func BuildGCPList(ctx context.Context, g *losgrid.Grid, maxCount int, opts GCPOptions) ([]GCP, error) {
	log := opts.Logger
	if log == nil {
		log = logging.FromContext(ctx)
	}
	ctx, span := observability.StartGridSpan(ctx, "BuildGCPList", shapeOf(g))

	natural := g.OnEarthCount()
	step := DecimationFactor(natural, maxCount)
	if step > 1 && !opts.MaxExplicit {
		log.Warn(ctx, "reducing GCP count",
			logging.Int("natural", natural),
			logging.Int("max", maxCount),
			logging.Int("decimation", step),
		)
	}

	var out []GCP
	for r := 0; r < g.Rows()-1; r += step {
		for c := 0; c < g.Cols()-1; c += step {
			n, err := g.Node(r, c)
			if err != nil {
				observability.EndSpan(span, err)
				return nil, err
			}
			if !n.OnEarth {
				continue
			}
			x, y, z := n.MapX, n.MapY, 0.0
			if opts.Transform != nil {
				if x, y, z, err = opts.Transform(x, y, z); err != nil {
					err = fmt.Errorf("GCP (%d,%d): %w", r, c, err)
					observability.EndSpan(span, err)
					return nil, err
				}
			}
			out = append(out, GCP{
				Pixel: float64(c*g.ColStepSize()) + 0.5,
				Line:  float64(r*g.RowStepSize()) + 0.5,
				X:     x,
				Y:     y,
				Z:     z,
			})
		}
	}

	out = capGCPs(out, maxCount)
	for i := range out {
		out[i].ID = strconv.Itoa(i + 1)
	}

	observability.EndSpan(span, nil,
		observability.AttrNaturalGCPs.Int(natural),
		observability.AttrDecimation.Int(step),
		observability.AttrGCPs.Int(len(out)),
	)
	if opts.Metrics != nil {
		opts.Metrics.SetGCPCount(len(out))
	}
	return out, nil
}

// capGCPs keeps maxCount evenly spaced entries of gcps, first and last
// included.
func capGCPs(gcps []GCP, maxCount int) []GCP {
	n := len(gcps)
	if maxCount <= 0 || n <= maxCount {
		return gcps
	}
	out := make([]GCP, maxCount)
	if maxCount == 1 {
		out[0] = gcps[0]
		return out
	}
	for i := range out {
		out[i] = gcps[i*(n-1)/(maxCount-1)]
	}
	return out
}
