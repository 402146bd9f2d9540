package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/opir-geoloc/core"
	"github.com/signalsfoundry/opir-geoloc/internal/config"
)

// getConfigString gets a string value from flag, then env, then default.
func getConfigString(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if cmd.Flags().Changed(flagName) {
		val, _ := cmd.Flags().GetString(flagName)
		return val
	}
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return defaultValue
}

// getConfigInt gets an int value from flag, then env, then default.
func getConfigInt(cmd *cobra.Command, flagName, envName string, defaultValue int) int {
	if cmd.Flags().Changed(flagName) {
		val, _ := cmd.Flags().GetInt(flagName)
		return val
	}
	if v := os.Getenv(envName); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// loadOpenOptions layers defaults, GEOLOC_* env, -o NAME=VALUE items and
// the dedicated flags of cmd, in increasing precedence.
func loadOpenOptions(cmd *cobra.Command) (config.OpenOptions, error) {
	oo := config.DefaultOpenOptions()
	if err := oo.ApplyEnv(os.Getenv); err != nil {
		return oo, err
	}
	items, _ := cmd.Flags().GetStringArray("oo")
	if err := oo.Apply(items); err != nil {
		return oo, err
	}
	flagOptions := []struct{ flag, option string }{
		{"gcp-max", config.OptGCPMax},
		{"no-gcp", config.OptNoGCP},
		{"sat-lon", config.OptSatLon},
		{"blank", config.OptBlankOffEarth},
	}
	for _, f := range flagOptions {
		if err := applyFlag(cmd, f.flag, f.option, oo.Set); err != nil {
			return oo, err
		}
	}
	return oo, nil
}

func loadCreateOptions(cmd *cobra.Command) (config.CreateOptions, error) {
	co := config.DefaultCreateOptions()
	if err := co.ApplyEnv(os.Getenv); err != nil {
		return co, err
	}
	items, _ := cmd.Flags().GetStringArray("co")
	if err := co.Apply(items); err != nil {
		return co, err
	}
	flagOptions := []struct{ flag, option string }{
		{"regrid", config.OptGCPRegrid},
		{"no-gcp", config.OptNoGCP},
		{"gcp-order", config.OptGCPOrder},
	}
	for _, f := range flagOptions {
		if err := applyFlag(cmd, f.flag, f.option, co.Set); err != nil {
			return co, err
		}
	}
	return co, nil
}

// applyFlag forwards an explicitly set flag to an option setter.
func applyFlag(cmd *cobra.Command, flagName, option string, set func(name, value string) error) error {
	f := cmd.Flags().Lookup(flagName)
	if f == nil || !f.Changed {
		return nil
	}
	value := f.Value.String()
	if f.Value.Type() == "bool" {
		value = map[string]string{"true": "1", "false": "0"}[value]
	}
	return set(option, value)
}

// parseVec3 parses "x,y,z".
func parseVec3(s string) (core.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return core.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Vec3{}, fmt.Errorf("component %d of %q: %w", i, s, err)
		}
		v[i] = f
	}
	return core.NewVec3(v), nil
}
