// Package orbit derives observer positions for LOS grids from orbital
// element sets.
package orbit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/opir-geoloc/core"
)

var (
	ErrMalformedTLE = errors.New("malformed TLE")
	ErrPropagation  = errors.New("orbit propagation failed")
)

const tleLineLength = 69

// Propagator yields the observer's Earth-fixed position (metres) at a time.
type Propagator interface {
	Position(t time.Time) (core.Vec3, error)
}

// Static is a Propagator for a fixed position.
type Static struct {
	Pos core.Vec3
}

func (s Static) Position(time.Time) (core.Vec3, error) { return s.Pos, nil }

// SGP4 propagates a two-line element set.
type SGP4 struct {
	sat satellite.Satellite
}

// NewSGP4FromTLE parses the element set. The line layout is checked first
// because the parser does not report field errors.
func NewSGP4FromTLE(line1, line2 string) (*SGP4, error) {
	line1, line2 = strings.TrimRight(line1, " \r\n"), strings.TrimRight(line2, " \r\n")
	if err := checkLine(line1, '1'); err != nil {
		return nil, err
	}
	if err := checkLine(line2, '2'); err != nil {
		return nil, err
	}
	if line1[2:7] != line2[2:7] {
		return nil, fmt.Errorf("%w: catalog numbers %q and %q differ", ErrMalformedTLE, line1[2:7], line2[2:7])
	}
	return &SGP4{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS72)}, nil
}

func checkLine(line string, num byte) error {
	if len(line) != tleLineLength {
		return fmt.Errorf("%w: line %c has %d characters, want %d", ErrMalformedTLE, num, len(line), tleLineLength)
	}
	if line[0] != num || line[1] != ' ' {
		return fmt.Errorf("%w: line %c starts with %q", ErrMalformedTLE, num, line[:2])
	}
	return nil
}

// Position propagates to t and rotates into the Earth-fixed frame.
// go-satellite works in kilometres.
func (s *SGP4) Position(t time.Time) (core.Vec3, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	posECEF := satellite.ECIToECEF(posECI, satellite.ThetaG_JD(jd))

	const kmToM = 1000.0
	pos := core.Vec3{X: posECEF.X * kmToM, Y: posECEF.Y * kmToM, Z: posECEF.Z * kmToM}
	if r := pos.Norm(); math.IsNaN(r) || math.IsInf(r, 0) || r == 0 {
		return core.Vec3{}, fmt.Errorf("%w at %s", ErrPropagation, t.Format(time.RFC3339))
	}
	return pos, nil
}

// ReadTLE reads an element set in two-line or three-line (named) form.
func ReadTLE(r io.Reader) (name, line1, line2 string, err error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if l := strings.TrimRight(sc.Text(), " \r"); l != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", "", fmt.Errorf("read TLE: %w", err)
	}
	switch len(lines) {
	case 2:
		return "", lines[0], lines[1], nil
	case 3:
		return strings.TrimSpace(strings.TrimPrefix(lines[0], "0 ")), lines[1], lines[2], nil
	}
	return "", "", "", fmt.Errorf("%w: %d non-empty lines", ErrMalformedTLE, len(lines))
}

// ObserverFromTLE is the observer position of an element set at t.
func ObserverFromTLE(line1, line2 string, t time.Time) (core.Vec3, error) {
	p, err := NewSGP4FromTLE(line1, line2)
	if err != nil {
		return core.Vec3{}, err
	}
	return p.Position(t)
}
