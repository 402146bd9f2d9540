package core

import (
	"errors"
	"fmt"
	"math"
)

// WGS-84 and geosynchronous orbit constants (metres).
const (
	WGS84EquatorialRadius = 6378137.0
	WGS84Flattening       = 1.0 / 298.257223563

	GeoSyncRadius   = 42164000.0
	GeoSyncAltitude = GeoSyncRadius - WGS84EquatorialRadius

	DegToRad = math.Pi / 180.0
	RadToDeg = 180.0 / math.Pi
)

var (
	// ErrProjectionReferenceNotSet is returned by azimuthal projection
	// queries made before SetProjectionReference.
	ErrProjectionReferenceNotSet = errors.New("projection reference not set")
	// ErrLatitudeOutOfRange reports a latitude outside [-pi, pi].
	ErrLatitudeOutOfRange = errors.New("latitude out of range")
	// ErrLongitudeOutOfRange reports a longitude outside [-2pi, 2pi].
	ErrLongitudeOutOfRange = errors.New("longitude out of range")
	// ErrOffProjection reports projected coordinates outside the visible disc.
	ErrOffProjection = errors.New("projected point outside the azimuthal disc")
)

// Ellipsoid is a reference Earth model defined by its equatorial radius and
// flattening. Everything except the azimuthal projection reference is fixed
// at construction.
//
// Grids and builders keep a *Ellipsoid; the model must not be mutated (other
// than through SetProjectionReference) while a grid built on it is in use.
type Ellipsoid struct {
	re    float64
	f     float64
	units string

	rp          float64 // polar radius
	e2          float64 // first eccentricity squared
	oneMinusFSq float64 // (1-f)^2 == 1-e2

	proj *projectionReference
}

type projectionReference struct {
	lat, lon       float64
	sinLat, cosLat float64
}

// NewEllipsoid constructs an ellipsoid with equatorial radius re (in units)
// and flattening f.
func NewEllipsoid(re, f float64, units string) (*Ellipsoid, error) {
	if !(re > 0) || math.IsInf(re, 0) {
		return nil, fmt.Errorf("equatorial radius must be positive, got %v", re)
	}
	if f < 0 || f >= 1 || math.IsNaN(f) {
		return nil, fmt.Errorf("flattening must be in [0,1), got %v", f)
	}
	return &Ellipsoid{
		re:          re,
		f:           f,
		units:       units,
		rp:          re * (1 - f),
		e2:          f * (2 - f),
		oneMinusFSq: (1 - f) * (1 - f),
	}, nil
}

// WGS84 returns a new WGS-84 ellipsoid in metres.
func WGS84() *Ellipsoid {
	e, _ := NewEllipsoid(WGS84EquatorialRadius, WGS84Flattening, "meters")
	return e
}

// Clone returns an independent copy of the model, including any projection
// reference.
func (e *Ellipsoid) Clone() *Ellipsoid {
	c := *e
	if e.proj != nil {
		p := *e.proj
		c.proj = &p
	}
	return &c
}

func (e *Ellipsoid) EquatorialRadius() float64 { return e.re }
func (e *Ellipsoid) PolarRadius() float64      { return e.rp }
func (e *Ellipsoid) Flattening() float64       { return e.f }
func (e *Ellipsoid) EccentricitySq() float64   { return e.e2 }
func (e *Ellipsoid) Units() string             { return e.units }

// ToEcef converts geodetic latitude and longitude (radians) and altitude to
// ECF. The altitude is applied with the usual N-scaled construction.
func (e *Ellipsoid) ToEcef(lat, lon, alt float64) Vec3 {
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	// Radius of curvature in the prime vertical.
	n := e.re / math.Sqrt(1-e.e2*sinLat*sinLat)

	return Vec3{
		X: (n + alt) * cosLat * cosLon,
		Y: (n + alt) * cosLat * sinLon,
		Z: (n*e.oneMinusFSq + alt) * sinLat,
	}
}

// ToLatLon0 returns geodetic latitude and longitude (radians) of a point
// that lies on the ellipsoid surface. Points off the surface get a defined
// but wrong latitude.
func (e *Ellipsoid) ToLatLon0(ecf Vec3) (lat, lon float64) {
	p := math.Hypot(ecf.X, ecf.Y)
	lon = math.Atan2(ecf.Y, ecf.X)
	// atan(tan(geocentric) / (1-f)^2), written with atan2 so the poles work.
	lat = math.Atan2(ecf.Z, p*e.oneMinusFSq)
	return lat, lon
}

// ToLatLonAlt converts an arbitrary ECF point to geodetic latitude,
// longitude (radians) and altitude using Olson's closed form.
func (e *Ellipsoid) ToLatLonAlt(ecf Vec3) (lat, lon, alt float64) {
	a := e.re
	a1 := a * e.e2
	a2 := a1 * a1
	a3 := a1 * e.e2 / 2
	a4 := 2.5 * a2
	a5 := a1 + a3
	a6 := 1 - e.e2

	zp := math.Abs(ecf.Z)
	w2 := ecf.X*ecf.X + ecf.Y*ecf.Y
	w := math.Sqrt(w2)
	r2 := w2 + ecf.Z*ecf.Z
	r := math.Sqrt(r2)
	if r == 0 {
		return 0, 0, -e.rp
	}
	lon = math.Atan2(ecf.Y, ecf.X)

	s2 := ecf.Z * ecf.Z / r2
	c2 := w2 / r2
	u := a2 / r
	v := a3 - a4/r

	var s, c, ss float64
	if s2 > 0.3 {
		// high latitude: cosine form keeps precision near the poles
		c = (w / r) * (1 - s2*(a5-u-c2*v)/r)
		lat = math.Acos(c)
		ss = 1 - c*c
		s = math.Sqrt(ss)
	} else {
		s = (zp / r) * (1 + c2*(a1+u+s2*v)/r)
		lat = math.Asin(s)
		ss = s * s
		c = math.Sqrt(1 - ss)
	}

	g := 1 - e.e2*ss
	rg := a / math.Sqrt(g)
	rf := a6 * rg
	u = w - rg*c
	v = zp - rf*s
	f := c*u + s*v
	m := c*v - s*u
	p := m / (rf/g + f)
	lat += p
	alt = f + m*p/2
	if ecf.Z < 0 {
		lat = -lat
	}
	return lat, lon, alt
}

// HorizonDistance returns the distance from origin to the horizon tangent
// point of a sphere with the equatorial radius. Zero for points inside it.
func (e *Ellipsoid) HorizonDistance(origin Vec3) float64 {
	d2 := origin.Dot(origin) - e.re*e.re
	if d2 <= 0 {
		return 0
	}
	return math.Sqrt(d2)
}

// IntersectEllipsoid drills the ray origin + t*dir (dir a unit vector)
// against the ellipsoid. When the ray misses, overTheHorizon is true and
// point lies on the ray at the spherical horizon distance from origin.
// Otherwise point is the intersection nearer to origin.
func (e *Ellipsoid) IntersectEllipsoid(origin, dir Vec3) (point Vec3, overTheHorizon bool) {
	re2 := e.re * e.re
	rp2 := e.rp * e.rp

	qa := (dir.X*dir.X+dir.Y*dir.Y)/re2 + dir.Z*dir.Z/rp2
	qb := 2 * ((origin.X*dir.X+origin.Y*dir.Y)/re2 + origin.Z*dir.Z/rp2)
	qc := (origin.X*origin.X+origin.Y*origin.Y)/re2 + origin.Z*origin.Z/rp2 - 1

	disc := qb*qb - 4*qa*qc
	if disc < 0 || qa == 0 {
		return origin.Add(dir.Scale(e.HorizonDistance(origin))), true
	}

	sq := math.Sqrt(disc)
	p1 := origin.Add(dir.Scale((-qb + sq) / (2 * qa)))
	p2 := origin.Add(dir.Scale((-qb - sq) / (2 * qa)))
	if p1.DistanceSqTo(origin) <= p2.DistanceSqTo(origin) {
		return p1, false
	}
	return p2, false
}

// GeoSyncPosition returns the ECF position of a geosynchronous satellite on
// the equator at the given longitude (radians).
func (e *Ellipsoid) GeoSyncPosition(lon float64) Vec3 {
	return e.ToEcef(0, lon, GeoSyncAltitude).Normalize().Scale(GeoSyncRadius)
}

// SetProjectionReference fixes the tangent point (radians) of the azimuthal
// projection.
func (e *Ellipsoid) SetProjectionReference(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -math.Pi || lat > math.Pi {
		return fmt.Errorf("%w: %v", ErrLatitudeOutOfRange, lat)
	}
	if math.IsNaN(lon) || lon < -2*math.Pi || lon > 2*math.Pi {
		return fmt.Errorf("%w: %v", ErrLongitudeOutOfRange, lon)
	}
	sinLat, cosLat := math.Sincos(lat)
	e.proj = &projectionReference{lat: lat, lon: lon, sinLat: sinLat, cosLat: cosLat}
	return nil
}

// ProjectionReference returns the reference point and whether it is set.
func (e *Ellipsoid) ProjectionReference() (lat, lon float64, ok bool) {
	if e.proj == nil {
		return 0, 0, false
	}
	return e.proj.lat, e.proj.lon, true
}

// ProjectedXY returns orthographic azimuthal map coordinates for a geodetic
// latitude and longitude (radians), scaled by the equatorial radius.
func (e *Ellipsoid) ProjectedXY(lat, lon float64) (x, y float64, err error) {
	if e.proj == nil {
		return 0, 0, ErrProjectionReferenceNotSet
	}
	sinLat, cosLat := math.Sincos(lat)
	sinDLon, cosDLon := math.Sincos(lon - e.proj.lon)

	x = e.re * cosLat * sinDLon
	y = e.re * (e.proj.cosLat*sinLat - e.proj.sinLat*cosLat*cosDLon)
	return x, y, nil
}

// ProjectedToLatLon inverts ProjectedXY. Points outside the projection
// disc return ErrOffProjection.
func (e *Ellipsoid) ProjectedToLatLon(x, y float64) (lat, lon float64, err error) {
	if e.proj == nil {
		return 0, 0, ErrProjectionReferenceNotSet
	}
	rho := math.Hypot(x, y)
	if rho == 0 {
		return e.proj.lat, e.proj.lon, nil
	}
	if rho > e.re {
		return 0, 0, fmt.Errorf("%w: rho=%v", ErrOffProjection, rho)
	}
	sinC, cosC := math.Sincos(math.Asin(rho / e.re))

	lat = math.Asin(cosC*e.proj.sinLat + y*sinC*e.proj.cosLat/rho)
	lon = e.proj.lon + math.Atan2(x*sinC, rho*cosC*e.proj.cosLat-y*sinC*e.proj.sinLat)
	return lat, lon, nil
}
