// Package losgrid holds the strided line-of-sight grid used to geolocate
// OPIR frames: per-node LOS unit vectors, their Earth intersections and map
// coordinates, plus interpolation, extrapolation and on/off-Earth tests.
//
// A Grid is single-threaded. It keeps a pointer to the core.Ellipsoid it
// was built with and a private copy of the observer position.
package losgrid

import "github.com/signalsfoundry/opir-geoloc/core"

// InvalidMapValue is the map coordinate written for nodes that are off the
// Earth or were never sampled.
const InvalidMapValue = -9999.0

// Node is one sampled LOS grid entry.
//
// MapX/MapY are valid (longitude, latitude in degrees) iff OnEarth is true.
// EarthIntersection is the true surface point for on-Earth nodes and the
// tangent-sphere estimate for off-Earth nodes; it is the zero vector for
// nodes that never received a sample.
type Node struct {
	Los               core.Vec3
	EarthIntersection core.Vec3
	MapX              float64
	MapY              float64
	OnEarth           bool

	sampled bool
}

// Sampled reports whether the node was populated from a valid sample, a
// persisted record or an extrapolation.
func (n Node) Sampled() bool { return n.sampled }

func (n *Node) invalidate() {
	n.Los = core.Vec3{}
	n.EarthIntersection = core.Vec3{}
	n.MapX = InvalidMapValue
	n.MapY = InvalidMapValue
	n.OnEarth = false
	n.sampled = false
}

// Status is the coarse on/off-Earth state of a grid or tile.
type Status int

const (
	StatusUninitialized Status = iota
	StatusAllOnEarth
	StatusAllOffEarth
	StatusPartialOnEarth
)

func (s Status) String() string {
	switch s {
	case StatusAllOnEarth:
		return "all-on-earth"
	case StatusAllOffEarth:
		return "all-off-earth"
	case StatusPartialOnEarth:
		return "partially-on-earth"
	default:
		return "uninitialized"
	}
}

func statusFromCount(onEarth, total int) Status {
	switch {
	case total == 0:
		return StatusUninitialized
	case onEarth == total:
		return StatusAllOnEarth
	case onEarth == 0:
		return StatusAllOffEarth
	default:
		return StatusPartialOnEarth
	}
}

func validLatitude(y float64) bool {
	return y >= -90 && y <= 90
}
