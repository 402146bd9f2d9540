package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/opir-geoloc/georef"
	"github.com/signalsfoundry/opir-geoloc/internal/config"
)

func newRelocateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relocate",
		Short: "Recompute a stored LOS grid for a geosynchronous observer",
		RunE:  a.runRelocate,
	}
	addGridInputFlags(cmd)
	f := cmd.Flags()
	f.Float64("sat-lon", 0, "Geosynchronous longitude in degrees (SAT_LON)")
	f.String("out", "", "Write the relocated records to this file")
	f.StringArray("attr", nil, "Override a summary attribute NAME=VALUE (requires ATTR_RW)")
	return cmd
}

func (a *app) runRelocate(cmd *cobra.Command, _ []string) error {
	oo, err := loadOpenOptions(cmd)
	if err != nil {
		return err
	}
	if !oo.IsSet(config.OptSatLon) {
		return fmt.Errorf("--sat-lon or %s is required", config.OptSatLon)
	}
	entry, err := a.loadEntry(cmd)
	if err != nil {
		return err
	}
	g, err := entry.Grid(nil)
	if err != nil {
		return err
	}
	if _, err := georef.RelocateToGeoSync(cmd.Context(), g, oo.SatLon, a.log); err != nil {
		return err
	}
	if err := a.saveGrid(cmd, g); err != nil {
		return err
	}
	return a.printSummary(cmd, g, g.Observer(), oo)
}
