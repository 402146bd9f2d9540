package losgrid

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/opir-geoloc/core"
)

// buildGrid samples a rows x cols lattice of geodetic points (degrees) as
// seen from a geosynchronous observer over longitude 0.
func buildGrid(t *testing.T, rows, cols, step int, lat0, dLat, lon0, dLon float64) *Grid {
	t.Helper()
	earth := core.WGS84()
	g, err := New(rows, cols, step, step, earth.GeoSyncPosition(0), earth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fillSamples(t, g, rows, cols, lat0, dLat, lon0, dLon)
	return g
}

func fillSamples(t *testing.T, g *Grid, rows, cols int, lat0, dLat, lon0, dLon float64) {
	t.Helper()
	n := rows * cols
	lat := make([]float64, n)
	lon := make([]float64, n)
	valid := make([]bool, n)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			lat[i] = lat0 + float64(r)*dLat
			lon[i] = lon0 + float64(c)*dLon
			valid[i] = true
		}
	}
	if _, err := g.BuildFromSamples(rows, cols, lat, lon, valid); err != nil {
		t.Fatalf("BuildFromSamples: %v", err)
	}
}

func mustNode(t *testing.T, g *Grid, r, c int) Node {
	t.Helper()
	n, err := g.Node(r, c)
	if err != nil {
		t.Fatalf("Node(%d,%d): %v", r, c, err)
	}
	return n
}

func TestNewRejectsBadDimensions(t *testing.T) {
	earth := core.WGS84()
	obs := earth.GeoSyncPosition(0)
	if _, err := New(0, 3, 1, 1, obs, earth); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("rows=0 err = %v, want ErrInvalidDimensions", err)
	}
	if _, err := New(3, 3, 0, 1, obs, earth); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("step=0 err = %v, want ErrInvalidDimensions", err)
	}
	if _, err := New(3, 3, 1, 1, obs, nil); err == nil {
		t.Fatalf("expected error for nil ellipsoid")
	}
}

func TestNewGridIsUninitialized(t *testing.T) {
	earth := core.WGS84()
	g, err := New(4, 4, 10, 10, earth.GeoSyncPosition(0), earth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Status() != StatusUninitialized {
		t.Fatalf("status = %v, want uninitialized", g.Status())
	}
	if !math.IsInf(g.XMin(), 1) || !math.IsInf(g.XMax(), -1) {
		t.Fatalf("bbox x = [%v,%v], want [+Inf,-Inf]", g.XMin(), g.XMax())
	}
	n := mustNode(t, g, 0, 0)
	if n.MapX != InvalidMapValue || n.MapY != InvalidMapValue || n.OnEarth || n.Sampled() {
		t.Fatalf("fresh node = %+v, want invalid", n)
	}
	if _, _, _, err := g.Interpolate(0, 0); !errors.Is(err, ErrNotPopulated) {
		t.Fatalf("Interpolate on empty grid err = %v, want ErrNotPopulated", err)
	}
}

func TestBuildFromSamplesAllOnEarth(t *testing.T) {
	g := buildGrid(t, 4, 5, 10, 30, -20, -40, 20)

	if g.Status() != StatusAllOnEarth {
		t.Fatalf("status = %v, want all-on-earth", g.Status())
	}
	if g.OnEarthCount() != 20 {
		t.Fatalf("on-earth count = %d, want 20", g.OnEarthCount())
	}
	if g.XMin() != -40 || g.XMax() != 40 || g.YMin() != -30 || g.YMax() != 30 {
		t.Fatalf("bbox = [%v,%v]x[%v,%v], want [-40,40]x[-30,30]", g.XMin(), g.XMax(), g.YMin(), g.YMax())
	}
	if !g.Valid() {
		t.Fatalf("fully sampled grid should be valid")
	}

	n := mustNode(t, g, 1, 2)
	if math.Abs(n.Los.Norm()-1) > 1e-12 {
		t.Fatalf("|los| = %v, want 1", n.Los.Norm())
	}
	want := g.Ellipsoid().ToEcef(10*core.DegToRad, 0, 0)
	if d := n.EarthIntersection.DistanceTo(want); d > 1e-6 {
		t.Fatalf("earth intersection off by %v m", d)
	}
}

func TestBuildFromSamplesTwiceFails(t *testing.T) {
	g := buildGrid(t, 3, 3, 1, 0, 1, 0, 1)
	lat := make([]float64, 9)
	if _, err := g.BuildFromSamples(3, 3, lat, lat, make([]bool, 9)); !errors.Is(err, ErrAlreadyPopulated) {
		t.Fatalf("err = %v, want ErrAlreadyPopulated", err)
	}
}

func TestBuildFromSamplesSizeMismatch(t *testing.T) {
	earth := core.WGS84()
	g, _ := New(3, 3, 1, 1, earth.GeoSyncPosition(0), earth)
	if _, err := g.BuildFromSamples(3, 3, make([]float64, 9), make([]float64, 8), make([]bool, 9)); !errors.Is(err, ErrSampleSize) {
		t.Fatalf("err = %v, want ErrSampleSize", err)
	}
	if _, err := g.BuildFromSamples(4, 3, make([]float64, 12), make([]float64, 12), make([]bool, 12)); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("err = %v, want ErrInvalidDimensions", err)
	}
}

func TestBuildFromSamplesInvalidSampleLeavesNodeUnsampled(t *testing.T) {
	earth := core.WGS84()
	g, _ := New(2, 2, 1, 1, earth.GeoSyncPosition(0), earth)
	lat := []float64{0, 0, 1, 1}
	lon := []float64{0, 1, 0, 1}
	valid := []bool{true, true, false, true}
	if _, err := g.BuildFromSamples(2, 2, lat, lon, valid); err != nil {
		t.Fatalf("BuildFromSamples: %v", err)
	}
	n := mustNode(t, g, 1, 0)
	if n.Sampled() || n.OnEarth || n.MapY != InvalidMapValue {
		t.Fatalf("invalid sample node = %+v, want unsampled sentinel", n)
	}
	if g.Valid() {
		t.Fatalf("grid with unsampled node should not be valid")
	}
	if g.Status() != StatusPartialOnEarth {
		t.Fatalf("status = %v, want partially-on-earth", g.Status())
	}
}

func TestPointBehindEarthIsOverTheHorizon(t *testing.T) {
	earth := core.WGS84()
	obs := earth.GeoSyncPosition(0)
	g, _ := New(1, 2, 1, 1, obs, earth)
	lat := []float64{10, 0}
	lon := []float64{170, 20}
	if _, err := g.BuildFromSamples(1, 2, lat, lon, []bool{true, true}); err != nil {
		t.Fatalf("BuildFromSamples: %v", err)
	}

	behind := mustNode(t, g, 0, 0)
	if behind.OnEarth {
		t.Fatalf("point behind the Earth classified on-earth")
	}
	if behind.MapX != InvalidMapValue || behind.MapY != InvalidMapValue {
		t.Fatalf("map = (%v,%v), want sentinel", behind.MapX, behind.MapY)
	}
	horizon := math.Asin(earth.EquatorialRadius() / obs.Norm())
	if a := NadirAngle(obs, behind.Los); a < horizon-1e-12 {
		t.Fatalf("nadir angle %v below horizon %v", a, horizon)
	}
	if _, oth := earth.IntersectEllipsoid(obs, behind.Los); !oth {
		t.Fatalf("estimated off-earth LOS still hits the Earth")
	}
	if !behind.Sampled() {
		t.Fatalf("off-earth sample should still count as sampled")
	}

	front := mustNode(t, g, 0, 1)
	if !front.OnEarth || front.MapX != 20 || front.MapY != 0 {
		t.Fatalf("visible node = %+v, want on-earth at (20,0)", front)
	}
}

func TestEstimateOffEarthVector(t *testing.T) {
	earth := core.WGS84()
	obs := earth.GeoSyncPosition(0)
	horizon := math.Asin(earth.EquatorialRadius() / obs.Norm())

	// Tilted half way to the horizon towards +Y.
	frame := NadirFrame(obs)
	local := core.Vec3{Y: math.Sin(horizon / 2), Z: math.Cos(horizon / 2)}
	los := frame.Transpose().MulVec(local)

	got := EstimateOffEarthVector(earth, obs, los)
	if a := NadirAngle(obs, got); math.Abs(a-1.5*horizon) > 1e-12 {
		t.Fatalf("nadir angle = %v, want %v", a, 1.5*horizon)
	}
	gl := frame.MulVec(got)
	if math.Abs(math.Atan2(gl.Y, gl.X)-math.Pi/2) > 1e-12 {
		t.Fatalf("azimuth changed: local %+v", gl)
	}

	space := obs.Normalize()
	if got := EstimateOffEarthVector(earth, obs, space); got != space {
		t.Fatalf("LOS into space changed: %+v", got)
	}

	inside := core.Vec3{X: 1000}
	if got := EstimateOffEarthVector(earth, inside, los); got != los {
		t.Fatalf("observer inside the Earth should return the LOS unchanged")
	}
}

func TestNadirFrameAtPole(t *testing.T) {
	obs := core.Vec3{Z: 42164000}
	m := NadirFrame(obs)
	down := m.MulVec(core.Vec3{Z: -1})
	if math.Abs(down.Z-1) > 1e-12 {
		t.Fatalf("nadir in local frame = %+v, want +Z", down)
	}
	east := m.Transpose().MulVec(core.XAxis)
	if math.Abs(east.Norm()-1) > 1e-12 || math.Abs(east.Z) > 1e-12 {
		t.Fatalf("local X axis in ECF = %+v, want a horizontal unit vector", east)
	}
}

func TestSummarizeIsIdempotent(t *testing.T) {
	g := buildGrid(t, 3, 6, 5, 20, -10, 40, 20)
	first := []any{g.OnEarthCount(), g.Status(), g.XMin(), g.XMax(), g.YMin(), g.YMax()}
	g.Summarize()
	g.Summarize()
	second := []any{g.OnEarthCount(), g.Status(), g.XMin(), g.XMax(), g.YMin(), g.YMax()}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("summary field %d changed: %v -> %v", i, first[i], second[i])
		}
	}
	if g.Status() != StatusPartialOnEarth {
		t.Fatalf("status = %v, want partially-on-earth", g.Status())
	}
}

// Summarize trusts MapY over the sign test; a node whose map value was
// overwritten is reclassified by latitude alone.
func TestSummarizeReclassifiesByLatitude(t *testing.T) {
	g := buildGrid(t, 2, 2, 1, 0, 1, 0, 1)
	g.nodes[0].MapY = 95
	g.Summarize()
	if g.nodes[0].OnEarth {
		t.Fatalf("node with latitude 95 still on-earth")
	}
	if g.OnEarthCount() != 3 {
		t.Fatalf("count = %d, want 3", g.OnEarthCount())
	}

	g.nodes[0].MapY = -90
	g.Summarize()
	if !g.nodes[0].OnEarth || g.YMin() != -90 {
		t.Fatalf("latitude -90 should be on-earth, ymin = %v", g.YMin())
	}
}

func TestExtrapolateEdges(t *testing.T) {
	earth := core.WGS84()
	g, _ := New(3, 3, 10, 10, earth.GeoSyncPosition(0), earth)
	fillSamples(t, g, 2, 2, 10, -2, -10, 2)

	if err := g.ExtrapolateLastRow(); err != nil {
		t.Fatalf("ExtrapolateLastRow: %v", err)
	}
	for c := 0; c < 2; c++ {
		v0 := mustNode(t, g, 0, c).Los
		v1 := mustNode(t, g, 1, c).Los
		want := v1.Scale(2).Sub(v0).Normalize()
		got := mustNode(t, g, 2, c)
		if got.Los.DistanceTo(want) > 1e-12 {
			t.Fatalf("row 2 col %d LOS = %+v, want %+v", c, got.Los, want)
		}
		if !got.OnEarth || math.Abs(got.MapY-6) > 0.1 {
			t.Fatalf("row 2 col %d lat = %v, want ~6", c, got.MapY)
		}
	}
	if mustNode(t, g, 2, 2).Sampled() {
		t.Fatalf("corner extrapolated from empty nodes should stay unsampled")
	}

	if err := g.ExtrapolateLastColumn(); err != nil {
		t.Fatalf("ExtrapolateLastColumn: %v", err)
	}
	for r := 0; r < 3; r++ {
		n := mustNode(t, g, r, 2)
		if !n.OnEarth || math.Abs(n.MapX+6) > 0.1 {
			t.Fatalf("row %d col 2 lon = %v, want ~-6", r, n.MapX)
		}
	}
	if !g.Valid() || g.Status() != StatusAllOnEarth {
		t.Fatalf("valid=%v status=%v, want valid all-on-earth", g.Valid(), g.Status())
	}

	if err := g.ExtrapolateLastRow(); !errors.Is(err, ErrAlreadyExtrapolated) {
		t.Fatalf("second row extrapolation err = %v, want ErrAlreadyExtrapolated", err)
	}
	if err := g.ExtrapolateLastColumn(); !errors.Is(err, ErrAlreadyExtrapolated) {
		t.Fatalf("second column extrapolation err = %v, want ErrAlreadyExtrapolated", err)
	}
}

func TestExtrapolateNeedsThreeRowsAndColumns(t *testing.T) {
	g := buildGrid(t, 2, 2, 1, 0, 1, 0, 1)
	if err := g.ExtrapolateLastRow(); !errors.Is(err, ErrTooFewRows) {
		t.Fatalf("err = %v, want ErrTooFewRows", err)
	}
	if err := g.ExtrapolateLastColumn(); !errors.Is(err, ErrTooFewColumns) {
		t.Fatalf("err = %v, want ErrTooFewColumns", err)
	}

	earth := core.WGS84()
	empty, _ := New(3, 3, 1, 1, earth.GeoSyncPosition(0), earth)
	if err := empty.ExtrapolateLastRow(); !errors.Is(err, ErrNotPopulated) {
		t.Fatalf("err = %v, want ErrNotPopulated", err)
	}
}

func TestExtrapolationPastTheLimbGoesOffEarth(t *testing.T) {
	earth := core.WGS84()
	g, _ := New(1, 3, 10, 10, earth.GeoSyncPosition(0), earth)
	lat := []float64{0, 0}
	lon := []float64{50, 75}
	if _, err := g.BuildFromSamples(1, 2, lat, lon, []bool{true, true}); err != nil {
		t.Fatalf("BuildFromSamples: %v", err)
	}
	if err := g.ExtrapolateLastColumn(); err != nil {
		t.Fatalf("ExtrapolateLastColumn: %v", err)
	}
	n := mustNode(t, g, 0, 2)
	if n.OnEarth || n.MapX != InvalidMapValue {
		t.Fatalf("extrapolated node = %+v, want off-earth", n)
	}
}

func TestInterpolateAtNodes(t *testing.T) {
	g := buildGrid(t, 4, 4, 8, 20, -10, -15, 10)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			x, y, on, err := g.Interpolate(float64(r*8), float64(c*8))
			if err != nil {
				t.Fatalf("Interpolate(%d,%d): %v", r, c, err)
			}
			n := mustNode(t, g, r, c)
			if !on || math.Abs(x-n.MapX) > 1e-7 || math.Abs(y-n.MapY) > 1e-7 {
				t.Fatalf("node (%d,%d): got (%v,%v,%v), want (%v,%v)", r, c, x, y, on, n.MapX, n.MapY)
			}
		}
	}
}

func TestInterpolateBetweenNodes(t *testing.T) {
	g := buildGrid(t, 2, 2, 10, 1, -1, 0, 1)
	x, y, on, err := g.Interpolate(5, 5)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if !on || math.Abs(x-0.5) > 0.01 || math.Abs(y-0.5) > 0.01 {
		t.Fatalf("centre = (%v,%v,%v), want ~(0.5,0.5)", x, y, on)
	}
}

func TestInterpolateOutOfBounds(t *testing.T) {
	g := buildGrid(t, 3, 3, 10, 0, 1, 0, 1)
	cases := []struct{ r, c float64 }{
		{-1, 0},
		{0, -0.5},
		{20.5, 0},
		{0, 21},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		x, y, on, err := g.Interpolate(tc.r, tc.c)
		if !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("Interpolate(%v,%v) err = %v, want ErrOutOfBounds", tc.r, tc.c, err)
		}
		if on || x != InvalidMapValue || y != InvalidMapValue {
			t.Fatalf("out of bounds result = (%v,%v,%v)", x, y, on)
		}
	}
	if _, _, _, err := g.Interpolate(20, 20); err != nil {
		t.Fatalf("last node should interpolate: %v", err)
	}
}

func TestInterpolateAllOffEarthCell(t *testing.T) {
	g := buildGrid(t, 2, 2, 10, 0, 5, 150, 10)
	if g.Status() != StatusAllOffEarth {
		t.Fatalf("status = %v, want all-off-earth", g.Status())
	}
	x, y, on, err := g.Interpolate(5, 5)
	if err != nil || on || x != InvalidMapValue || y != InvalidMapValue {
		t.Fatalf("got (%v,%v,%v,%v), want sentinel", x, y, on, err)
	}
}

func TestChangeObserver(t *testing.T) {
	g := buildGrid(t, 1, 3, 1, 0, 0, -60, 60)
	if g.Status() != StatusAllOnEarth {
		t.Fatalf("status = %v, want all-on-earth", g.Status())
	}
	earth := g.Ellipsoid()
	newObs := earth.GeoSyncPosition(120 * core.DegToRad)
	if err := g.ChangeObserver(newObs, InvalidMapValue); err != nil {
		t.Fatalf("ChangeObserver: %v", err)
	}
	if g.Observer() != newObs {
		t.Fatalf("observer not updated")
	}

	west := mustNode(t, g, 0, 0)
	if west.OnEarth || west.MapX != InvalidMapValue {
		t.Fatalf("lon -60 seen from 120E = %+v, want off-earth", west)
	}
	east := mustNode(t, g, 0, 2)
	if !east.OnEarth || east.MapX != 60 || east.MapY != 0 {
		t.Fatalf("lon 60 seen from 120E = %+v, want on-earth at (60,0)", east)
	}
	ground := earth.ToEcef(0, 60*core.DegToRad, 0)
	want := ground.Sub(newObs).Normalize()
	if east.Los.DistanceTo(want) > 1e-12 {
		t.Fatalf("LOS = %+v, want %+v", east.Los, want)
	}
	if g.Status() != StatusPartialOnEarth || g.XMin() != 60 {
		t.Fatalf("status=%v xmin=%v after move", g.Status(), g.XMin())
	}
}
