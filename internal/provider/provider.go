package provider

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/projection"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/config"
)

var ErrUnknownProvider = errors.New("unknown tile provider")

// Provider describes a tile source: its zoom range, tile size and how a
// tile address turns into a url.
type Provider struct {
	Name            string
	MinZoom         int
	MaxZoom         int
	TotalZoomLevels int
	TileSize        int
	BaseURL         string
	URLSuffix       string
	CoordinatePart  CoordinatePart
}

// TileURL is BaseURL + CoordinatePart(x, y, zoom) + URLSuffix.
func (p Provider) TileURL(x, y, zoom int) string {
	return p.BaseURL + p.CoordinatePart(x, y, zoom) + p.URLSuffix
}

func (p Provider) ZoomLevels() (*projection.ZoomLevels, error) {
	return projection.NewZoomLevels(p.TileSize, p.MinZoom, p.MaxZoom, p.TotalZoomLevels)
}

const virtualEarthSuffix = "?g=117"

var builtins = map[string]Provider{
	"openstreetmap": {
		Name:            "openstreetmap",
		MinZoom:         1,
		MaxZoom:         15,
		TotalZoomLevels: 17,
		TileSize:        256,
		BaseURL:         "https://tile.openstreetmap.org/",
		URLSuffix:       ".png",
		CoordinatePart:  PathStyle,
	},
	"google-maps": {
		Name:            "google-maps",
		MinZoom:         0,
		MaxZoom:         20,
		TotalZoomLevels: 20,
		TileSize:        256,
		BaseURL:         "https://mt1.google.com/vt/lyrs=m",
		CoordinatePart:  QueryStyle,
	},
	"google-satellite": {
		Name:            "google-satellite",
		MinZoom:         0,
		MaxZoom:         20,
		TotalZoomLevels: 20,
		TileSize:        256,
		BaseURL:         "https://mt1.google.com/vt/lyrs=s",
		CoordinatePart:  QueryStyle,
	},
	"virtual-earth-road": {
		Name:            "virtual-earth-road",
		MinZoom:         1,
		MaxZoom:         19,
		TotalZoomLevels: 21,
		TileSize:        256,
		BaseURL:         "http://r0.ortho.tiles.virtualearth.net/tiles/r",
		URLSuffix:       ".png" + virtualEarthSuffix,
		CoordinatePart:  QuadKey(1),
	},
	"virtual-earth-aerial": {
		Name:            "virtual-earth-aerial",
		MinZoom:         1,
		MaxZoom:         19,
		TotalZoomLevels: 21,
		TileSize:        256,
		BaseURL:         "http://a0.ortho.tiles.virtualearth.net/tiles/a",
		URLSuffix:       ".jpeg" + virtualEarthSuffix,
		CoordinatePart:  QuadKey(1),
	},
}

// Lookup returns a copy of the built-in provider called name.
func Lookup(name string) (Provider, error) {
	p, ok := builtins[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the built-in providers in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig resolves the configured provider and applies its overrides.
func FromConfig(cfg config.Provider) (Provider, error) {
	p, err := Lookup(cfg.Name)
	if err != nil {
		return Provider{}, err
	}

	if cfg.BaseURL != "" {
		p.BaseURL = cfg.BaseURL
	}
	if cfg.URLSuffix != "" {
		p.URLSuffix = cfg.URLSuffix
	}
	if cfg.Pattern != "" {
		part, err := Template(cfg.Pattern)
		if err != nil {
			return Provider{}, err
		}
		p.CoordinatePart = part
	}

	return p, nil
}
