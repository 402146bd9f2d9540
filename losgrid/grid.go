package losgrid

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/opir-geoloc/core"
)

var (
	ErrInvalidDimensions   = errors.New("invalid grid dimensions")
	ErrOutOfBounds         = errors.New("grid index out of bounds")
	ErrTooFewRows          = errors.New("at least 3 rows required")
	ErrTooFewColumns       = errors.New("at least 3 columns required")
	ErrNotPopulated        = errors.New("grid not populated")
	ErrAlreadyPopulated    = errors.New("grid already populated")
	ErrAlreadyExtrapolated = errors.New("grid edge already extrapolated")
	ErrSampleSize          = errors.New("sample array size mismatch")
)

// noCopy makes go vet's copylocks check flag accidental Grid copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Grid is a row-major array of LOS nodes spaced RowStepSize/ColStepSize
// pixels apart in the full resolution image. Use it through a pointer.
type Grid struct {
	noCopy noCopy

	rows, cols       int
	rowStep, colStep int

	observer core.Vec3
	earth    *core.Ellipsoid

	nodes []Node

	populated       bool
	rowExtrapolated bool
	colExtrapolated bool

	xMin, xMax   float64
	yMin, yMax   float64
	onEarthCount int
	status       Status
}

// New allocates an empty rows x cols grid. The observer position is copied;
// the ellipsoid is referenced and must stay unchanged while the grid is used.
func New(rows, cols, rowStep, colStep int, observer core.Vec3, earth *core.Ellipsoid) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, rows, cols)
	}
	if rowStep <= 0 || colStep <= 0 {
		return nil, fmt.Errorf("%w: step sizes %d,%d", ErrInvalidDimensions, rowStep, colStep)
	}
	if earth == nil {
		return nil, errors.New("nil ellipsoid")
	}
	g := &Grid{
		rows:     rows,
		cols:     cols,
		rowStep:  rowStep,
		colStep:  colStep,
		observer: observer,
		earth:    earth,
		nodes:    make([]Node, rows*cols),
	}
	for i := range g.nodes {
		g.nodes[i].invalidate()
	}
	g.resetSummary()
	return g, nil
}

func (g *Grid) Rows() int                  { return g.rows }
func (g *Grid) Cols() int                  { return g.cols }
func (g *Grid) RowStepSize() int           { return g.rowStep }
func (g *Grid) ColStepSize() int           { return g.colStep }
func (g *Grid) Observer() core.Vec3        { return g.observer }
func (g *Grid) Ellipsoid() *core.Ellipsoid { return g.earth }
func (g *Grid) Populated() bool            { return g.populated }
func (g *Grid) OnEarthCount() int          { return g.onEarthCount }
func (g *Grid) Status() Status             { return g.status }

// XMin returns the minimum longitude over on-Earth nodes (+Inf when none).
func (g *Grid) XMin() float64 { return g.xMin }
func (g *Grid) XMax() float64 { return g.xMax }
func (g *Grid) YMin() float64 { return g.yMin }
func (g *Grid) YMax() float64 { return g.yMax }

// Valid reports whether every node was populated.
func (g *Grid) Valid() bool {
	if !g.populated {
		return false
	}
	for i := range g.nodes {
		if !g.nodes[i].sampled {
			return false
		}
	}
	return true
}

// Node returns a copy of the node at (row, col).
func (g *Grid) Node(row, col int) (Node, error) {
	n, err := g.at(row, col)
	if err != nil {
		return Node{}, err
	}
	return *n, nil
}

func (g *Grid) at(row, col int) (*Node, error) {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return nil, fmt.Errorf("%w: (%d,%d) in %dx%d", ErrOutOfBounds, row, col, g.rows, g.cols)
	}
	return &g.nodes[row*g.cols+col], nil
}

// BuildFromSamples populates the upper-left inRows x inCols block of the
// grid from row-major geodetic samples (degrees). Each valid sample is
// classified with a sign test on the LOS toward it: a LOS that does not
// point against the surface point's radius vector would have to pass
// through the Earth, so the node is over the horizon and gets an off-Earth
// estimate instead. Returns the number of on-Earth nodes.
func (g *Grid) BuildFromSamples(inRows, inCols int, lat, lon []float64, valid []bool) (int, error) {
	if g.populated {
		return 0, ErrAlreadyPopulated
	}
	if inRows <= 0 || inCols <= 0 || inRows > g.rows || inCols > g.cols {
		return 0, fmt.Errorf("%w: samples %dx%d for grid %dx%d", ErrInvalidDimensions, inRows, inCols, g.rows, g.cols)
	}
	n := inRows * inCols
	if len(lat) != n || len(lon) != n || len(valid) != n {
		return 0, fmt.Errorf("%w: want %d, got lat=%d lon=%d valid=%d", ErrSampleSize, n, len(lat), len(lon), len(valid))
	}

	for r := 0; r < inRows; r++ {
		for c := 0; c < inCols; c++ {
			i := r*inCols + c
			node := &g.nodes[r*g.cols+c]
			if !valid[i] {
				node.invalidate()
				continue
			}
			ground := g.earth.ToEcef(lat[i]*core.DegToRad, lon[i]*core.DegToRad, 0)
			g.aimAt(node, ground, InvalidMapValue)
			if node.OnEarth {
				node.MapX = lon[i]
				node.MapY = lat[i]
			}
		}
	}

	g.populated = true
	g.Summarize()
	return g.onEarthCount, nil
}

// aimAt points node at a ground point seen from the current observer and
// classifies it with the sign test. Off-Earth nodes get the off-Earth
// estimate and the given map sentinel; on-Earth map values are left to the
// caller.
func (g *Grid) aimAt(node *Node, ground core.Vec3, sentinel float64) {
	los := ground.Sub(g.observer).Normalize()
	node.sampled = true
	if los.Dot(ground) < 0 {
		node.Los = los
		node.EarthIntersection = ground
		node.OnEarth = true
		return
	}
	node.Los = g.EstimateOffEarthVector(los)
	node.EarthIntersection, _ = g.earth.IntersectEllipsoid(g.observer, node.Los)
	node.MapX = sentinel
	node.MapY = sentinel
	node.OnEarth = false
}

// LoadRecords populates the upper-left inRows x inCols block directly from
// persisted node records. Earth intersections are rebuilt from the map
// coordinates for on-Earth records and by drilling the LOS otherwise.
func (g *Grid) LoadRecords(records []Record, inRows, inCols int) error {
	if g.populated {
		return ErrAlreadyPopulated
	}
	if inRows <= 0 || inCols <= 0 || inRows > g.rows || inCols > g.cols {
		return fmt.Errorf("%w: records %dx%d for grid %dx%d", ErrInvalidDimensions, inRows, inCols, g.rows, g.cols)
	}
	if len(records) != inRows*inCols {
		return fmt.Errorf("%w: want %d records, got %d", ErrSampleSize, inRows*inCols, len(records))
	}

	for r := 0; r < inRows; r++ {
		for c := 0; c < inCols; c++ {
			rec := records[r*inCols+c]
			node := &g.nodes[r*g.cols+c]
			node.Los = core.Vec3{X: float64(rec.LosX), Y: float64(rec.LosY), Z: float64(rec.LosZ)}
			node.MapX = float64(rec.MapX)
			node.MapY = float64(rec.MapY)
			node.OnEarth = validLatitude(node.MapY)
			node.sampled = node.OnEarth || !node.Los.IsZero()

			switch {
			case node.OnEarth:
				node.EarthIntersection = g.earth.ToEcef(node.MapY*core.DegToRad, node.MapX*core.DegToRad, 0)
			case node.sampled:
				node.EarthIntersection, _ = g.earth.IntersectEllipsoid(g.observer, node.Los)
			default:
				node.EarthIntersection = core.Vec3{}
			}
		}
	}

	g.populated = true
	g.Summarize()
	return nil
}

// ExtrapolateLastRow fills the last row linearly from the two rows above it
// (v2 = 2*v1 - v0). Unlike BuildFromSamples there is no sample point here,
// so the node is classified by drilling the extrapolated LOS.
func (g *Grid) ExtrapolateLastRow() error {
	if !g.populated {
		return ErrNotPopulated
	}
	if g.rows < 3 {
		return fmt.Errorf("%w: grid has %d", ErrTooFewRows, g.rows)
	}
	if g.rowExtrapolated {
		return fmt.Errorf("%w: last row", ErrAlreadyExtrapolated)
	}
	last := g.rows - 1
	for c := 0; c < g.cols; c++ {
		v0 := g.nodes[(last-2)*g.cols+c].Los
		v1 := g.nodes[(last-1)*g.cols+c].Los
		g.setFromLos(&g.nodes[last*g.cols+c], v1.Scale(2).Sub(v0))
	}
	g.rowExtrapolated = true
	g.Summarize()
	return nil
}

// ExtrapolateLastColumn is ExtrapolateLastRow for the last column.
func (g *Grid) ExtrapolateLastColumn() error {
	if !g.populated {
		return ErrNotPopulated
	}
	if g.cols < 3 {
		return fmt.Errorf("%w: grid has %d", ErrTooFewColumns, g.cols)
	}
	if g.colExtrapolated {
		return fmt.Errorf("%w: last column", ErrAlreadyExtrapolated)
	}
	last := g.cols - 1
	for r := 0; r < g.rows; r++ {
		row := r * g.cols
		v0 := g.nodes[row+last-2].Los
		v1 := g.nodes[row+last-1].Los
		g.setFromLos(&g.nodes[row+last], v1.Scale(2).Sub(v0))
	}
	g.colExtrapolated = true
	g.Summarize()
	return nil
}

// setFromLos recomputes every derived field of node from a new LOS.
func (g *Grid) setFromLos(node *Node, v core.Vec3) {
	los := v.Normalize()
	if los.IsZero() {
		node.invalidate()
		return
	}
	node.Los = los
	node.sampled = true

	p, oth := g.earth.IntersectEllipsoid(g.observer, los)
	node.EarthIntersection = p
	node.OnEarth = !oth
	if oth {
		node.MapX = InvalidMapValue
		node.MapY = InvalidMapValue
		return
	}
	lat, lon := g.earth.ToLatLon0(p)
	node.MapX = lon * core.RadToDeg
	node.MapY = lat * core.RadToDeg
}

// EstimateOffEarthVector turns a LOS that points at or behind the Earth
// into one that points as far above the spherical horizon as the input
// pointed below it. Angles are measured from the observer's nadir. A LOS
// already above the horizon is returned unchanged.
func (g *Grid) EstimateOffEarthVector(los core.Vec3) core.Vec3 {
	return EstimateOffEarthVector(g.earth, g.observer, los)
}

// EstimateOffEarthVector is the grid-independent form of
// Grid.EstimateOffEarthVector.
func EstimateOffEarthVector(earth *core.Ellipsoid, observer, los core.Vec3) core.Vec3 {
	r := observer.Norm()
	if r <= earth.EquatorialRadius() {
		return los
	}
	frame := NadirFrame(observer)
	local := frame.MulVec(los)

	el := math.Atan2(math.Hypot(local.X, local.Y), local.Z)
	az := math.Atan2(local.Y, local.X)
	horizon := math.Asin(earth.EquatorialRadius() / r)
	if el >= horizon {
		return los
	}

	el = horizon + (horizon - el)
	sinEl, cosEl := math.Sincos(el)
	sinAz, cosAz := math.Sincos(az)
	local = core.Vec3{X: sinEl * cosAz, Y: sinEl * sinAz, Z: cosEl}
	return frame.Transpose().MulVec(local)
}

// NadirFrame returns the rotation from ECF into a frame whose third axis
// points from the observer to the Earth's centre. The two horizontal axes
// come from cross products with the world Z axis (X near the poles).
func NadirFrame(observer core.Vec3) core.Mat3 {
	up := observer.Negate().Normalize()
	h1 := core.ZAxis.Cross(up)
	if h1.Norm() < 1e-12 {
		h1 = core.XAxis.Cross(up)
	}
	h1 = h1.Normalize()
	h2 := up.Cross(h1)
	return core.MatFromRows(h1, h2, up)
}

// NadirAngle returns the angle (radians) between los and the observer's
// nadir direction.
func NadirAngle(observer, los core.Vec3) float64 {
	local := NadirFrame(observer).MulVec(los)
	return math.Atan2(math.Hypot(local.X, local.Y), local.Z)
}

// ChangeObserver moves the observer and re-aims every on-Earth node at its
// existing ground location. Nodes that fall over the new horizon get the
// off-Earth estimate and sentinel map coordinates; off-Earth nodes are left
// alone.
func (g *Grid) ChangeObserver(observer core.Vec3, sentinel float64) error {
	if !g.populated {
		return ErrNotPopulated
	}
	g.observer = observer
	for i := range g.nodes {
		node := &g.nodes[i]
		if !node.OnEarth {
			continue
		}
		ground := g.earth.ToEcef(node.MapY*core.DegToRad, node.MapX*core.DegToRad, 0)
		g.aimAt(node, ground, sentinel)
	}
	g.Summarize()
	return nil
}

// Summarize recomputes the bounding box, on-Earth count and status. Nodes
// are reclassified purely by whether MapY is a latitude in [-90,90].
func (g *Grid) Summarize() {
	g.resetSummary()
	if !g.populated {
		return
	}
	count := 0
	for i := range g.nodes {
		node := &g.nodes[i]
		node.OnEarth = validLatitude(node.MapY)
		if !node.OnEarth {
			continue
		}
		count++
		g.xMin = math.Min(g.xMin, node.MapX)
		g.xMax = math.Max(g.xMax, node.MapX)
		g.yMin = math.Min(g.yMin, node.MapY)
		g.yMax = math.Max(g.yMax, node.MapY)
	}
	g.onEarthCount = count
	g.status = statusFromCount(count, len(g.nodes))
}

func (g *Grid) resetSummary() {
	g.xMin, g.xMax = math.Inf(1), math.Inf(-1)
	g.yMin, g.yMax = math.Inf(1), math.Inf(-1)
	g.onEarthCount = 0
	g.status = StatusUninitialized
}

// Interpolate returns the map coordinate (longitude, latitude in degrees)
// of a full resolution pixel by bilinearly interpolating the four
// surrounding LOS vectors and drilling the result. Pixels whose four
// corners are all off the Earth short-circuit to the sentinel.
func (g *Grid) Interpolate(pixelRow, pixelCol float64) (mapX, mapY float64, onEarth bool, err error) {
	if !g.populated {
		return InvalidMapValue, InvalidMapValue, false, ErrNotPopulated
	}
	if g.rows < 2 || g.cols < 2 {
		return InvalidMapValue, InvalidMapValue, false, fmt.Errorf("%w: %dx%d grid cannot be interpolated", ErrInvalidDimensions, g.rows, g.cols)
	}

	fr := pixelRow / float64(g.rowStep)
	fc := pixelCol / float64(g.colStep)
	if fr < 0 || fc < 0 || fr > float64(g.rows-1) || fc > float64(g.cols-1) || math.IsNaN(fr) || math.IsNaN(fc) {
		return InvalidMapValue, InvalidMapValue, false, fmt.Errorf("%w: pixel (%v,%v)", ErrOutOfBounds, pixelRow, pixelCol)
	}

	// The last grid row/column has no successor; use the cell before it.
	r0 := min(int(fr), g.rows-2)
	c0 := min(int(fc), g.cols-2)

	n00 := &g.nodes[r0*g.cols+c0]
	n01 := &g.nodes[r0*g.cols+c0+1]
	n10 := &g.nodes[(r0+1)*g.cols+c0]
	n11 := &g.nodes[(r0+1)*g.cols+c0+1]
	if !n00.OnEarth && !n01.OnEarth && !n10.OnEarth && !n11.OnEarth {
		return InvalidMapValue, InvalidMapValue, false, nil
	}

	los := bilinear(n00.Los, n01.Los, n10.Los, n11.Los, fr-float64(r0), fc-float64(c0))
	if los.IsZero() {
		return InvalidMapValue, InvalidMapValue, false, nil
	}
	p, oth := g.earth.IntersectEllipsoid(g.observer, los)
	if oth {
		return InvalidMapValue, InvalidMapValue, false, nil
	}
	lat, lon := g.earth.ToLatLon0(p)
	return lon * core.RadToDeg, lat * core.RadToDeg, true, nil
}

// bilinear interpolates four corner vectors (upper-left, upper-right,
// lower-left, lower-right): two lerps along columns, one along rows.
func bilinear(ul, ur, ll, lr core.Vec3, tRow, tCol float64) core.Vec3 {
	top := ul.Lerp(ur, tCol)
	bottom := ll.Lerp(lr, tCol)
	return top.Lerp(bottom, tRow).Normalize()
}

// Records returns the persisted form of the grid: (rows-1) x (cols-1)
// row-major records, dropping the overhang row and column that are
// rebuilt by extrapolation on load.
func (g *Grid) Records() []Record {
	rows, cols := g.rows-1, g.cols-1
	if rows <= 0 || cols <= 0 {
		return nil
	}
	out := make([]Record, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, recordFromNode(&g.nodes[r*g.cols+c]))
		}
	}
	return out
}

// FromRecords rebuilds a grid from inRows x inCols persisted records: the
// grid is allocated one row and column larger, loaded, and both edges are
// extrapolated.
func FromRecords(records []Record, inRows, inCols, rowStep, colStep int, observer core.Vec3, earth *core.Ellipsoid) (*Grid, error) {
	g, err := New(inRows+1, inCols+1, rowStep, colStep, observer, earth)
	if err != nil {
		return nil, err
	}
	if err := g.LoadRecords(records, inRows, inCols); err != nil {
		return nil, err
	}
	if err := g.ExtrapolateLastRow(); err != nil {
		return nil, err
	}
	if err := g.ExtrapolateLastColumn(); err != nil {
		return nil, err
	}
	return g, nil
}
