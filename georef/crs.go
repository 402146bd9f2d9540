package georef

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/signalsfoundry/opir-geoloc/core"
)

// WGS84WKT is the coordinate reference system attached to generated GCPs:
// X is longitude and Y is latitude, both in degrees.
const WGS84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

const lonLatProj4 = "+proj=longlat +datum=WGS84 +no_defs"

// CRS converts coordinates of a source reference system to geodetic
// latitude and longitude in degrees.
type CRS interface {
	ToGeodetic(x, y float64) (lat, lon float64, err error)
	String() string
}

// pointsCRS is implemented by reference systems that convert many points
// in one call.
type pointsCRS interface {
	ToGeodeticPoints(x, y []float64) (lat, lon []float64, ok []bool)
}

// Geodetic is a longitude/latitude CRS on WGS 84 (X = longitude,
// Y = latitude).
type Geodetic struct{}

func (Geodetic) ToGeodetic(x, y float64) (float64, float64, error) {
	if y < -90 || y > 90 {
		return 0, 0, fmt.Errorf("%w: latitude %v", core.ErrLatitudeOutOfRange, y)
	}
	return y, x, nil
}

func (Geodetic) String() string { return "EPSG:4326" }

// Orthographic is the azimuthal projection of the ellipsoid about a
// reference point, with X/Y in the ellipsoid's units. It is selected with
// "ORTHO:lat,lon" and stays on the builder's own ellipsoid.
type Orthographic struct {
	earth      *core.Ellipsoid
	lat0, lon0 float64
}

// NewOrthographic returns the projection centred on (lat0, lon0) degrees.
// The ellipsoid is cloned so its own projection reference is not touched.
func NewOrthographic(earth *core.Ellipsoid, lat0, lon0 float64) (*Orthographic, error) {
	e := earth.Clone()
	if err := e.SetProjectionReference(lat0*core.DegToRad, lon0*core.DegToRad); err != nil {
		return nil, err
	}
	return &Orthographic{earth: e, lat0: lat0, lon0: lon0}, nil
}

func (o *Orthographic) ToGeodetic(x, y float64) (float64, float64, error) {
	lat, lon, err := o.earth.ProjectedToLatLon(x, y)
	if err != nil {
		return 0, 0, err
	}
	return lat * core.RadToDeg, lon * core.RadToDeg, nil
}

func (o *Orthographic) String() string {
	return fmt.Sprintf("ORTHO:%g,%g", o.lat0, o.lon0)
}

// OGRCRS converts through an OGR coordinate transformation to WGS 84
// longitude/latitude. Close releases the transformation.
type OGRCRS struct {
	mu   sync.Mutex
	trn  *godal.Transform
	name string
	// swap is set when the source axes are latitude, longitude.
	swap bool
}

func (c *OGRCRS) ToGeodetic(x, y float64) (float64, float64, error) {
	lat, lon, ok := c.ToGeodeticPoints([]float64{x}, []float64{y})
	if !ok[0] {
		return 0, 0, fmt.Errorf("%s: cannot transform (%v, %v)", c.name, x, y)
	}
	return lat[0], lon[0], nil
}

// ToGeodeticPoints converts all points in one transformation call. x and y
// are not modified.
func (c *OGRCRS) ToGeodeticPoints(x, y []float64) (lat, lon []float64, ok []bool) {
	lon = append([]float64(nil), x...)
	lat = append([]float64(nil), y...)
	if c.swap {
		lon, lat = lat, lon
	}
	ok = make([]bool, len(x))
	if len(x) == 0 {
		return lat, lon, ok
	}

	c.mu.Lock()
	if c.trn == nil {
		c.mu.Unlock()
		return lat, lon, ok
	}
	// TransformEx fails when any point fails; ok carries the per-point result.
	_ = c.trn.TransformEx(lon, lat, nil, ok)
	c.mu.Unlock()

	for i := range ok {
		if ok[i] && (math.IsNaN(lat[i]) || math.IsInf(lat[i], 0) || lat[i] < -90 || lat[i] > 90) {
			ok[i] = false
		}
	}
	return lat, lon, ok
}

func (c *OGRCRS) String() string { return c.name }

// Close releases the transformation. The CRS is unusable afterwards.
func (c *OGRCRS) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trn != nil {
		c.trn.Close()
		c.trn = nil
	}
}

// closeCRS releases CRS resources, if any.
func closeCRS(crs CRS) {
	if c, ok := crs.(interface{ Close() }); ok {
		c.Close()
	}
}

var wgs84Refs struct {
	once     sync.Once
	lonLat   *godal.SpatialRef
	geodetic []*godal.SpatialRef
	err      error
}

// wgs84 returns the longitude/latitude target of every OGR transformation
// and the reference systems treated as plain WGS 84 geodetic.
func wgs84() (*godal.SpatialRef, []*godal.SpatialRef, error) {
	wgs84Refs.once.Do(func() {
		lonLat, err := godal.NewSpatialRefFromProj4(lonLatProj4)
		if err != nil {
			wgs84Refs.err = fmt.Errorf("WGS 84 reference system: %w", err)
			return
		}
		wgs84Refs.lonLat = lonLat
		for _, code := range []int{4326, 4979} {
			sr, err := godal.NewSpatialRefFromEPSG(code)
			if err != nil {
				wgs84Refs.err = fmt.Errorf("EPSG:%d: %w", code, err)
				return
			}
			wgs84Refs.geodetic = append(wgs84Refs.geodetic, sr)
		}
	})
	return wgs84Refs.lonLat, wgs84Refs.geodetic, wgs84Refs.err
}

// ParseCRS resolves a reference system given as "EPSG:<code>", a PROJ
// string, or WKT (1 or 2). WGS 84 geographic systems map to Geodetic, any
// other system OGR can transform maps to an *OGRCRS. "ORTHO:lat,lon"
// selects the orthographic projection of earth.
func ParseCRS(s string, earth *core.Ellipsoid) (CRS, error) {
	t := strings.TrimSpace(s)
	upper := strings.ToUpper(t)

	switch {
	case t == "":
		return nil, fmt.Errorf("%w: empty reference system", ErrUnsupportedCRS)
	case strings.HasPrefix(upper, "ORTHO:"):
		return parseOrtho(t[len("ORTHO:"):], earth)
	}

	sr, name, err := newSpatialRef(t, upper)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedCRS, s, err)
	}
	defer sr.Close()

	lonLat, geodetic, err := wgs84()
	if err != nil {
		return nil, err
	}
	if sr.Geographic() {
		for _, ref := range geodetic {
			if sr.IsSame(ref) {
				return Geodetic{}, nil
			}
		}
	}

	trn, err := godal.NewTransform(sr, lonLat)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedCRS, s, err)
	}
	c := &OGRCRS{trn: trn, name: name}
	if sr.Geographic() {
		c.swap = latFirst(trn)
	}
	return c, nil
}

// newSpatialRef builds the OGR reference system for s and a short name
// for it.
func newSpatialRef(s, upper string) (*godal.SpatialRef, string, error) {
	switch {
	case upper == "WGS84":
		sr, err := godal.NewSpatialRefFromEPSG(4326)
		return sr, "EPSG:4326", err
	case upper == "OGC:CRS84":
		sr, err := godal.NewSpatialRefFromProj4(lonLatProj4)
		return sr, "OGC:CRS84", err
	case strings.HasPrefix(upper, "EPSG:"):
		code, err := strconv.Atoi(strings.TrimSpace(s[len("EPSG:"):]))
		if err != nil {
			return nil, "", err
		}
		sr, err := godal.NewSpatialRefFromEPSG(code)
		return sr, "EPSG:" + strconv.Itoa(code), err
	case strings.HasPrefix(s, "+"):
		sr, err := godal.NewSpatialRefFromProj4(s)
		return sr, s, err
	}
	sr, err := godal.NewSpatialRefFromWKT(s)
	if err != nil {
		return nil, "", err
	}
	name := "WKT"
	if auth, code := sr.AuthorityName(""), sr.AuthorityCode(""); auth != "" && code != "" {
		name = auth + ":" + code
	}
	return sr, name, nil
}

// latFirst reports whether a geographic source takes latitude on its
// first axis, by sending a point well off the diagonal through trn.
func latFirst(trn *godal.Transform) bool {
	x, y := []float64{10}, []float64{50}
	if err := trn.TransformEx(x, y, nil, nil); err != nil {
		return false
	}
	return math.Abs(x[0]-50) < math.Abs(x[0]-10)
}

func parseOrtho(params string, earth *core.Ellipsoid) (CRS, error) {
	parts := strings.Split(params, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: ORTHO:%s", ErrUnsupportedCRS, params)
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: ORTHO:%s", ErrUnsupportedCRS, params)
	}
	o, err := NewOrthographic(earth, lat, lon)
	if err != nil {
		return nil, err
	}
	return o, nil
}
