package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/subcommands"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/projection"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/provider"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/config"
)

type urlCmd struct {
	lat  float64
	lon  float64
	zoom int
}

func (c *urlCmd) Name() string     { return "url" }
func (c *urlCmd) Synopsis() string { return "print the tile url covering a position" }
func (c *urlCmd) Usage() string {
	return "url -lat <deg> -lon <deg> -zoom <z>\n"
}
func (c *urlCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.lat, "lat", 0, "Latitude in degrees")
	f.Float64Var(&c.lon, "lon", 0, "Longitude in degrees")
	f.IntVar(&c.zoom, "zoom", 1, "Zoom level")
}

func (c *urlCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := config.New()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return subcommands.ExitFailure
	}

	p, err := provider.FromConfig(cfg.Provider)
	if err != nil {
		log.Printf("invalid provider: %v", err)
		return subcommands.ExitFailure
	}

	levels, err := p.ZoomLevels()
	if err != nil {
		log.Printf("invalid provider zoom levels: %v", err)
		return subcommands.ExitFailure
	}

	addr := levels.TileAt(projection.GeoPosition{Latitude: c.lat, Longitude: c.lon}, c.zoom)
	if !levels.IsValidTile(addr.X, addr.Y, addr.Zoom) {
		log.Printf("no tile at lat %f lon %f zoom %d", c.lat, c.lon, c.zoom)
		return subcommands.ExitUsageError
	}

	fmt.Printf("%d/%d/%d %s\n", addr.Zoom, addr.X, addr.Y, p.TileURL(addr.X, addr.Y, addr.Zoom))
	return subcommands.ExitSuccess
}
