// Package config parses the open and creation options of the geolocation
// driver. Options arrive as NAME=VALUE lists with case-insensitive names,
// optionally preceded by GEOLOC_<NAME> environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrUnknownOption = errors.New("unknown option")
	ErrOptionRange   = errors.New("option value out of range")
)

// EnvPrefix prefixes option names when read from the environment.
const EnvPrefix = "GEOLOC_"

// Option names.
const (
	OptGCPMax        = "GCP_MAX"
	OptNoGCP         = "NO_GCP"
	OptAttrRW        = "ATTR_RW"
	OptBlankOffEarth = "BLANK_OFF_EARTH"
	OptSatLon        = "SAT_LON"
	OptGCPRegrid     = "GCP_REGRID"
	OptGCPOrder      = "GCP_ORDER"
)

// Defaults.
const (
	DefaultGCPMax = 225
	MaxGCPOrder   = 3
)

// explicit records which options were set by the user.
type explicit map[string]bool

func (e explicit) IsSet(name string) bool { return e[strings.ToUpper(name)] }

// OpenOptions control reading a file.
type OpenOptions struct {
	// GCPMax caps the generated GCP count; 0 disables the cap.
	GCPMax        int
	NoGCP         bool
	AttrRW        bool
	BlankOffEarth bool
	// SatLon is only meaningful when IsSet(OptSatLon).
	SatLon float64

	explicit
}

// DefaultOpenOptions returns the option defaults.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		GCPMax:        DefaultGCPMax,
		AttrRW:        true,
		BlankOffEarth: true,
		explicit:      explicit{},
	}
}

// Set assigns one option by name.
func (o *OpenOptions) Set(name, value string) error {
	if o.explicit == nil {
		o.explicit = explicit{}
	}
	key := strings.ToUpper(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	var err error
	switch key {
	case OptGCPMax:
		o.GCPMax, err = parseUint(key, value, math.MaxInt32)
	case OptNoGCP:
		o.NoGCP, err = parseBool(key, value)
	case OptAttrRW:
		o.AttrRW, err = parseBool(key, value)
	case OptBlankOffEarth:
		o.BlankOffEarth, err = parseBool(key, value)
	case OptSatLon:
		o.SatLon, err = parseFloatRange(key, value, -180, 180)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	if err != nil {
		return err
	}
	o.explicit[key] = true
	return nil
}

// Apply sets every NAME=VALUE item of list.
func (o *OpenOptions) Apply(list []string) error {
	return applyList(list, o.Set)
}

// ApplyEnv sets the options that have a GEOLOC_<NAME> variable.
func (o *OpenOptions) ApplyEnv(getenv func(string) string) error {
	return applyEnv(getenv, o.Set, OptGCPMax, OptNoGCP, OptAttrRW, OptBlankOffEarth, OptSatLon)
}

// CreateOptions control writing a file from another georeferenced source.
type CreateOptions struct {
	Regrid bool
	NoGCP  bool
	// GCPOrder is the polynomial order; 0 selects the reliable order.
	GCPOrder int

	explicit
}

func DefaultCreateOptions() CreateOptions {
	return CreateOptions{explicit: explicit{}}
}

func (c *CreateOptions) Set(name, value string) error {
	if c.explicit == nil {
		c.explicit = explicit{}
	}
	key := strings.ToUpper(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	var err error
	switch key {
	case OptGCPRegrid:
		c.Regrid, err = parseBool(key, value)
	case OptNoGCP:
		c.NoGCP, err = parseBool(key, value)
	case OptGCPOrder:
		c.GCPOrder, err = parseUint(key, value, MaxGCPOrder)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	if err != nil {
		return err
	}
	c.explicit[key] = true
	return nil
}

func (c *CreateOptions) Apply(list []string) error {
	return applyList(list, c.Set)
}

func (c *CreateOptions) ApplyEnv(getenv func(string) string) error {
	return applyEnv(getenv, c.Set, OptGCPRegrid, OptNoGCP, OptGCPOrder)
}

// SplitNameValue splits "NAME=VALUE" or "NAME:VALUE".
func SplitNameValue(item string) (name, value string, ok bool) {
	i := strings.IndexAny(item, "=:")
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(item[:i]), item[i+1:], true
}

func applyList(list []string, set func(name, value string) error) error {
	for _, item := range list {
		name, value, ok := SplitNameValue(item)
		if !ok {
			return fmt.Errorf("%w: malformed item %q", ErrUnknownOption, item)
		}
		if err := set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func applyEnv(getenv func(string) string, set func(name, value string) error, names ...string) error {
	for _, name := range names {
		if v := getenv(EnvPrefix + name); v != "" {
			if err := set(name, v); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
		}
	}
	return nil
}

func parseBool(name, value string) (bool, error) {
	switch strings.ToUpper(value) {
	case "1", "YES", "TRUE", "ON":
		return true, nil
	case "0", "NO", "FALSE", "OFF":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s=%q (want 0 or 1)", ErrOptionRange, name, value)
}

func parseUint(name, value string, maxValue int) (int, error) {
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil || n > uint64(maxValue) {
		return 0, fmt.Errorf("%w: %s=%q (want 0-%d)", ErrOptionRange, name, value, maxValue)
	}
	return int(n), nil
}

func parseFloatRange(name, value string, lo, hi float64) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || f < lo || f > hi {
		return 0, fmt.Errorf("%w: %s=%q (want %g to %g)", ErrOptionRange, name, value, lo, hi)
	}
	return f, nil
}
