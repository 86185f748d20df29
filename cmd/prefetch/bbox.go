package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/projection"
	"github.com/paulmach/orb"
)

// parseBound reads "minLon,minLat,maxLon,maxLat".
func parseBound(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: want minLon,minLat,maxLon,maxLat", s)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}

	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() {
		return orb.Bound{}, fmt.Errorf("bbox %q: min corner exceeds max corner", s)
	}
	if b.Min.Y() < -90 || b.Max.Y() > 90 || b.Min.X() < -180 || b.Max.X() > 180 {
		return orb.Bound{}, fmt.Errorf("bbox %q: out of range", s)
	}

	return b, nil
}

// tileRange returns the inclusive tile columns and rows covering b at zoom.
func tileRange(levels *projection.ZoomLevels, b orb.Bound, zoom int) (minX, minY, maxX, maxY int) {
	topLeft := levels.TileAt(projection.GeoFromPoint(b.LeftTop()), zoom)
	bottomRight := levels.TileAt(projection.GeoFromPoint(b.RightBottom()), zoom)

	last := levels.GridWidth(zoom) - 1
	clamp := func(v int) int { return min(max(v, 0), last) }

	return clamp(topLeft.X), clamp(topLeft.Y), clamp(bottomRight.X), clamp(bottomRight.Y)
}
