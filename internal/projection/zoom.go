package projection

import (
	"errors"
	"fmt"
	"math"
)

// maxTotalZoomLevels keeps tileSize<<zoom well inside int range.
const maxTotalZoomLevels = 30

var ErrInvalidZoomLevels = errors.New("invalid zoom level parameters")

// Level holds the precomputed constants of one zoom level. Zoom 0 is the
// most zoomed out level.
type Level struct {
	WorldSize   int
	GridWidth   int
	CenterX     float64
	CenterY     float64
	DegreeScale float64
	RadianScale float64
}

// ZoomLevels is the immutable per-zoom table derived from provider parameters.
type ZoomLevels struct {
	tileSize        int
	minZoom         int
	maxZoom         int
	totalZoomLevels int
	levels          []Level
}

func NewZoomLevels(tileSize, minZoom, maxZoom, totalZoomLevels int) (*ZoomLevels, error) {
	switch {
	case tileSize <= 0:
		return nil, fmt.Errorf("%w: tile size %d", ErrInvalidZoomLevels, tileSize)
	case minZoom < 0 || minZoom > maxZoom:
		return nil, fmt.Errorf("%w: zoom range [%d, %d]", ErrInvalidZoomLevels, minZoom, maxZoom)
	case maxZoom > totalZoomLevels:
		return nil, fmt.Errorf("%w: max zoom %d exceeds total %d", ErrInvalidZoomLevels, maxZoom, totalZoomLevels)
	case totalZoomLevels > maxTotalZoomLevels:
		return nil, fmt.Errorf("%w: total zoom levels %d exceeds %d", ErrInvalidZoomLevels, totalZoomLevels, maxTotalZoomLevels)
	}

	levels := make([]Level, totalZoomLevels+1)
	for z := range levels {
		worldSize := tileSize << z
		center := float64(worldSize) / 2
		levels[z] = Level{
			WorldSize:   worldSize,
			GridWidth:   1 << z,
			CenterX:     center,
			CenterY:     center,
			DegreeScale: float64(worldSize) / 360,
			RadianScale: float64(worldSize) / (2 * math.Pi),
		}
	}

	return &ZoomLevels{
		tileSize:        tileSize,
		minZoom:         minZoom,
		maxZoom:         maxZoom,
		totalZoomLevels: totalZoomLevels,
		levels:          levels,
	}, nil
}

func (z *ZoomLevels) TileSize() int        { return z.tileSize }
func (z *ZoomLevels) MinZoom() int         { return z.minZoom }
func (z *ZoomLevels) MaxZoom() int         { return z.maxZoom }
func (z *ZoomLevels) TotalZoomLevels() int { return z.totalZoomLevels }

// Has reports whether zoom has an entry in the table, which can be true
// for zooms outside [MinZoom, MaxZoom].
func (z *ZoomLevels) Has(zoom int) bool {
	return zoom >= 0 && zoom < len(z.levels)
}

// InRange reports whether zoom lies within the provider's served range.
func (z *ZoomLevels) InRange(zoom int) bool {
	return z.Has(zoom) && zoom >= z.minZoom && zoom <= z.maxZoom
}

// Level returns a copy of the constants for zoom.
func (z *ZoomLevels) Level(zoom int) (Level, bool) {
	if !z.Has(zoom) {
		return Level{}, false
	}
	return z.levels[zoom], true
}

// GridWidth returns the number of tile columns at zoom, or 0 when the zoom
// is not in the table.
func (z *ZoomLevels) GridWidth(zoom int) int {
	if !z.Has(zoom) {
		return 0
	}
	return z.levels[zoom].GridWidth
}
