package georef

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/opir-geoloc/core"
	"github.com/signalsfoundry/opir-geoloc/internal/logging"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

// RelocateToGeoSync moves the grid's observer to a geosynchronous position
// above satLon (degrees, [-180,180]) and returns the new observer. Ground
// locations of on-Earth nodes are kept; nodes beyond the new horizon become
// off-Earth.
func RelocateToGeoSync(ctx context.Context, g *losgrid.Grid, satLon float64, log logging.Logger) (core.Vec3, error) {
	if log == nil {
		log = logging.FromContext(ctx)
	}
	if math.IsNaN(satLon) || satLon < -180 || satLon > 180 {
		return core.Vec3{}, fmt.Errorf("%w: satellite longitude %v", core.ErrLongitudeOutOfRange, satLon)
	}
	before := g.OnEarthCount()
	observer := g.Ellipsoid().GeoSyncPosition(satLon * core.DegToRad)
	if err := g.ChangeObserver(observer, losgrid.InvalidMapValue); err != nil {
		return core.Vec3{}, err
	}
	log.Info(ctx, "recomputed LOS grid for geosync observer",
		logging.Float64("sat_lon", satLon),
		logging.Int("on_earth_before", before),
		logging.Int("on_earth_after", g.OnEarthCount()),
	)
	return observer, nil
}
