package losgrid

import "fmt"

// Tile is a view of the four corner nodes of one grid cell. It lets the
// blanking pass decide whole cells from corner classification and only
// drill individual pixels in partially on-Earth cells.
type Tile struct {
	grid     *Grid
	row, col int

	ul, ur, ll, lr *Node

	onEarthCount int
	status       Status
}

// NewTile returns the tile whose upper-left corner is node (row, col).
func NewTile(g *Grid, row, col int) (Tile, error) {
	if row < 0 || col < 0 || row+1 >= g.rows || col+1 >= g.cols {
		return Tile{}, fmt.Errorf("%w: tile (%d,%d) in %dx%d grid", ErrOutOfBounds, row, col, g.rows, g.cols)
	}
	t := Tile{
		grid: g,
		row:  row,
		col:  col,
		ul:   &g.nodes[row*g.cols+col],
		ur:   &g.nodes[row*g.cols+col+1],
		ll:   &g.nodes[(row+1)*g.cols+col],
		lr:   &g.nodes[(row+1)*g.cols+col+1],
	}
	for _, n := range []*Node{t.ul, t.ur, t.ll, t.lr} {
		if n.OnEarth {
			t.onEarthCount++
		}
	}
	t.status = statusFromCount(t.onEarthCount, 4)
	return t, nil
}

func (t Tile) Row() int          { return t.row }
func (t Tile) Col() int          { return t.col }
func (t Tile) OnEarthCount() int { return t.onEarthCount }
func (t Tile) Status() Status    { return t.status }

// TestPixelOnEarth reports whether the pixel at (localRow, localCol) pixels
// from the tile's upper-left node sees the Earth.
func (t Tile) TestPixelOnEarth(localRow, localCol float64) bool {
	g := t.grid
	los := bilinear(t.ul.Los, t.ur.Los, t.ll.Los, t.lr.Los,
		localRow/float64(g.rowStep), localCol/float64(g.colStep))
	if los.IsZero() {
		return false
	}
	_, oth := g.earth.IntersectEllipsoid(g.observer, los)
	return !oth
}
