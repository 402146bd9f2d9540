package model

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/opir-geoloc/core"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

func TestValueParseKeepsKind(t *testing.T) {
	cases := []struct {
		base Value
		in   string
		want string
	}{
		{Int32(0), "-42", "-42"},
		{Uint32(0), "42", "42"},
		{Int64(0), "-9000000000", "-9000000000"},
		{Uint64(0), "18000000000000000000", "18000000000000000000"},
		{Float32(0), "1.5", "1.5"},
		{Float64(0), "-0.125", "-0.125"},
		{String("a"), "LOS_FAILED ", "LOS_FAILED "},
	}
	for _, tc := range cases {
		v, err := tc.base.Parse(tc.in)
		if err != nil {
			t.Fatalf("%s Parse(%q): %v", tc.base.Kind(), tc.in, err)
		}
		if v.Kind() != tc.base.Kind() || v.String() != tc.want {
			t.Fatalf("%s Parse(%q) = %s %q", tc.base.Kind(), tc.in, v.Kind(), v.String())
		}
	}
}

func TestValueParseRejects(t *testing.T) {
	cases := []struct {
		base Value
		in   string
	}{
		{Int32(0), "3000000000"},
		{Uint32(0), "-1"},
		{Uint64(0), "x"},
		{Float64(0), "north"},
		{Value{}, "1"},
	}
	for _, tc := range cases {
		if _, err := tc.base.Parse(tc.in); !errors.Is(err, ErrValueParse) {
			t.Fatalf("%s Parse(%q) err = %v, want ErrValueParse", tc.base.Kind(), tc.in, err)
		}
	}
}

func TestValueAccessors(t *testing.T) {
	if i, ok := Int32(-3).Int(); !ok || i != -3 {
		t.Fatalf("Int = %v %v", i, ok)
	}
	if _, ok := Int32(1).Float(); ok {
		t.Fatalf("Float accepted an int32")
	}
	if u, ok := Uint64(7).Uint(); !ok || u != 7 {
		t.Fatalf("Uint = %v %v", u, ok)
	}
	if f, ok := Float32(0.5).Float(); !ok || f != 0.5 {
		t.Fatalf("Float = %v %v", f, ok)
	}
	if s, ok := String("x").Str(); !ok || s != "x" {
		t.Fatalf("Str = %q %v", s, ok)
	}
	if Bool(true).String() != "1" || Bool(false).String() != "0" {
		t.Fatalf("Bool renders %s/%s", Bool(true), Bool(false))
	}
}

func TestAttributesModify(t *testing.T) {
	a := NewAttributes()
	a.Set("H5R.GEO.X_Stepsize_Pixels", Int32(20))
	a.Set("H5R.minLatitude", Float64(0))
	a.Set("H5R.GEO.X_Stepsize_Pixels", Int32(10))

	if got := a.Names(); len(got) != 2 || got[0] != "H5R.GEO.X_Stepsize_Pixels" {
		t.Fatalf("Names = %v", got)
	}
	if err := a.Modify("H5R.minLatitude", "-12.5"); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if v, _ := a.Get("H5R.minLatitude"); v.String() != "-12.5" || v.Kind() != KindFloat64 {
		t.Fatalf("minLatitude = %s %s", v.Kind(), v)
	}
	if err := a.Modify("H5R.GEO.X_Stepsize_Pixels", "ten"); !errors.Is(err, ErrValueParse) {
		t.Fatalf("bad value err = %v, want ErrValueParse", err)
	}
	if v, _ := a.Get("H5R.GEO.X_Stepsize_Pixels"); v.String() != "10" {
		t.Fatalf("failed Modify changed value to %s", v)
	}
	if err := a.Modify("H5R.nope", "1"); !errors.Is(err, ErrUnknownAttribute) {
		t.Fatalf("unknown err = %v, want ErrUnknownAttribute", err)
	}
}

func summaryGrid(t *testing.T, valid func(r, c int) bool) (*losgrid.Grid, core.Vec3) {
	t.Helper()
	earth := core.WGS84()
	obs := earth.GeoSyncPosition(0)
	g, err := losgrid.New(3, 4, 20, 10, obs, earth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := 12
	lat, lon, ok := make([]float64, n), make([]float64, n), make([]bool, n)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			i := r*4 + c
			lat[i], lon[i] = 10-5*float64(r), -10+5*float64(c)
			ok[i] = valid == nil || valid(r, c)
		}
	}
	if _, err := g.BuildFromSamples(3, 4, lat, lon, ok); err != nil {
		t.Fatalf("BuildFromSamples: %v", err)
	}
	return g, obs
}

func TestSummarizeGrid(t *testing.T) {
	g, obs := summaryGrid(t, nil)
	s := SummarizeGrid(g, obs, nil)

	if s.XStepSize != 10 || s.YStepSize != 20 || s.NumGeoPoints != 6 {
		t.Fatalf("steps %d/%d points %d", s.XStepSize, s.YStepSize, s.NumGeoPoints)
	}
	corners := map[string]struct{ got, want Corner }{
		"UL": {s.UL, Corner{10, -10}},
		"LL": {s.LL, Corner{0, -10}},
		"UR": {s.UR, Corner{10, 5}},
		"LR": {s.LR, Corner{0, 5}},
	}
	for name, c := range corners {
		if math.Abs(c.got.Lat-c.want.Lat) > 1e-9 || math.Abs(c.got.Lon-c.want.Lon) > 1e-9 {
			t.Fatalf("%s = %+v, want %+v", name, c.got, c.want)
		}
	}
	if s.MinLatitude != 0 || s.MaxLatitude != 10 || s.MinLongitude != -10 || s.MaxLongitude != 5 {
		t.Fatalf("bounds lat [%v,%v] lon [%v,%v]", s.MinLatitude, s.MaxLatitude, s.MinLongitude, s.MaxLongitude)
	}
	if s.LOSDegraded || s.LOSFailed || s.EphemerisMissing || s.ErrorCount() != 0 {
		t.Fatalf("unexpected flags %+v", s)
	}

	a := s.Attributes()
	if v, _ := a.Get("H5R.errorsDetectedList"); v.String() != "NO_ERRORS " {
		t.Fatalf("errorsDetectedList = %q", v.String())
	}
	if v, _ := a.Get("H5R.GEO.Y_Stepsize_Pixels"); v.String() != "20" {
		t.Fatalf("Y_Stepsize_Pixels = %s", v)
	}
	if v, _ := a.Get("H5R.LOS_degraded"); v.String() != "0" {
		t.Fatalf("LOS_degraded = %s", v)
	}
}

func TestSummarizeDegradedGrid(t *testing.T) {
	g, _ := summaryGrid(t, func(r, c int) bool { return r != 1 || c != 1 })
	s := SummarizeGrid(g, core.Vec3{}, nil)

	if !s.LOSDegraded || !s.EphemerisMissing || s.LOSFailed {
		t.Fatalf("flags %+v", s)
	}
	if s.ErrorCount() != 2 || s.Errors[0] != ErrCodeLOSDegraded || s.Errors[1] != ErrCodeEphNotAvailable {
		t.Fatalf("errors %v", s.Errors)
	}
	a := s.Attributes()
	if v, _ := a.Get("H5R.errorsDetectedList"); v.String() != "LOS_DEGRADED EPH_NOT_AVAILABLE " {
		t.Fatalf("errorsDetectedList = %q", v.String())
	}
	if v, _ := a.Get("H5R.errorsDetectedCt"); v.String() != "2" {
		t.Fatalf("errorsDetectedCt = %s", v)
	}
}

func TestSummarizeFailedGrid(t *testing.T) {
	s := SummarizeGrid(nil, core.WGS84().GeoSyncPosition(0), nil)
	if !s.LOSFailed || s.ErrorCount() != 1 || s.Errors[0] != ErrCodeLOSFailed {
		t.Fatalf("summary %+v", s)
	}
	a := s.Attributes()
	if _, ok := a.Get("H5R.minLatitude"); ok {
		t.Fatalf("grid attributes written for a failed grid")
	}
	if v, _ := a.Get("H5R.LOS_failed"); v.String() != "1" {
		t.Fatalf("LOS_failed = %s", v)
	}
}
