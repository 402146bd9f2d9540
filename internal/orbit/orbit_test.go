package orbit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/opir-geoloc/core"
)

const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func TestSGP4PositionIsInLowEarthOrbit(t *testing.T) {
	p, err := NewSGP4FromTLE(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewSGP4FromTLE: %v", err)
	}
	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)

	first, err := p.Position(t1)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if r := first.Norm(); r < 6.6e6 || r > 6.9e6 {
		t.Fatalf("orbit radius = %v m, want LEO", r)
	}

	second, err := p.Position(t1.Add(5 * time.Minute))
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if first == second {
		t.Fatalf("position unchanged after 5 minutes: %+v", first)
	}
}

func TestObserverFromTLEMatchesPropagator(t *testing.T) {
	at := time.Date(2021, 10, 2, 6, 0, 0, 0, time.UTC)
	obs, err := ObserverFromTLE(issLine1, issLine2, at)
	if err != nil {
		t.Fatalf("ObserverFromTLE: %v", err)
	}
	p, _ := NewSGP4FromTLE(issLine1, issLine2)
	want, _ := p.Position(at)
	if obs != want {
		t.Fatalf("ObserverFromTLE = %+v, want %+v", obs, want)
	}
}

func TestNewSGP4FromTLERejectsMalformed(t *testing.T) {
	cases := []struct {
		name, l1, l2 string
	}{
		{"short", issLine1[:60], issLine2},
		{"swapped", issLine2, issLine1},
		{"catalog mismatch", issLine1, "2 25545" + issLine2[7:]},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		if _, err := NewSGP4FromTLE(tc.l1, tc.l2); !errors.Is(err, ErrMalformedTLE) {
			t.Fatalf("%s: err = %v, want ErrMalformedTLE", tc.name, err)
		}
	}
}

func TestReadTLE(t *testing.T) {
	name, l1, l2, err := ReadTLE(strings.NewReader("0 ISS (ZARYA)\r\n" + issLine1 + "\r\n" + issLine2 + "\r\n\r\n"))
	if err != nil {
		t.Fatalf("ReadTLE: %v", err)
	}
	if name != "ISS (ZARYA)" || l1 != issLine1 || l2 != issLine2 {
		t.Fatalf("ReadTLE = %q %q %q", name, l1, l2)
	}

	if _, l1, _, err = ReadTLE(strings.NewReader(issLine1 + "\n" + issLine2)); err != nil || l1 != issLine1 {
		t.Fatalf("two-line ReadTLE = %q, %v", l1, err)
	}
	if _, _, _, err = ReadTLE(strings.NewReader(issLine1)); !errors.Is(err, ErrMalformedTLE) {
		t.Fatalf("one line err = %v, want ErrMalformedTLE", err)
	}
}

func TestStatic(t *testing.T) {
	pos := core.Vec3{X: 42164000}
	got, err := Static{Pos: pos}.Position(time.Now())
	if err != nil || got != pos {
		t.Fatalf("Static.Position = %+v, %v", got, err)
	}
}
