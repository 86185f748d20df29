package projection

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// sinLatLimit keeps the Mercator log away from its poles.
const sinLatLimit = 0.9999

// GeoPosition is a latitude/longitude pair in degrees. It is not normalized.
type GeoPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func GeoFromPoint(p orb.Point) GeoPosition {
	return GeoPosition{Latitude: p.Lat(), Longitude: p.Lon()}
}

func (g GeoPosition) Point() orb.Point {
	return orb.Point{g.Longitude, g.Latitude}
}

// Address identifies one tile column/row at a zoom level.
type Address struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Zoom int `json:"zoom"`
}

// PixelFromGeo projects pos into the world bitmap at zoom. A zoom missing
// from the table yields the zero point.
func (z *ZoomLevels) PixelFromGeo(pos GeoPosition, zoom int) orb.Point {
	lvl, ok := z.Level(zoom)
	if !ok {
		return orb.Point{}
	}

	x := lvl.CenterX + pos.Longitude*lvl.DegreeScale

	e := math.Sin(pos.Latitude * (math.Pi / 180))
	e = math.Max(-sinLatLimit, math.Min(sinLatLimit, e))
	y := lvl.CenterY - 0.5*math.Log((1+e)/(1-e))*lvl.RadianScale

	return orb.Point{x, y}
}

// GeoFromPixel is the inverse of PixelFromGeo.
func (z *ZoomLevels) GeoFromPixel(p orb.Point, zoom int) GeoPosition {
	lvl, ok := z.Level(zoom)
	if !ok {
		return GeoPosition{}
	}

	lon := (p.X() - lvl.CenterX) / lvl.DegreeScale
	lat := (2*math.Atan(math.Exp((p.Y()-lvl.CenterY)/(-lvl.RadianScale))) - math.Pi/2) * (180 / math.Pi)

	return GeoPosition{Latitude: lat, Longitude: lon}
}

// IsValidTile reports whether (x, y) is a real tile at zoom. Off-map tiles
// are rendered blank and never fetched.
func (z *ZoomLevels) IsValidTile(x, y, zoom int) bool {
	if !z.InRange(zoom) {
		return false
	}
	if x < 0 || y < 0 {
		return false
	}

	lvl := z.levels[zoom]
	if float64(x*z.tileSize) >= 2*lvl.CenterX {
		return false
	}
	if float64(y*z.tileSize) >= 2*lvl.CenterY {
		return false
	}

	return true
}

// TileAt returns the address of the tile containing pos at zoom.
func (z *ZoomLevels) TileAt(pos GeoPosition, zoom int) Address {
	p := z.PixelFromGeo(pos, zoom)
	return Address{
		X:    int(math.Floor(p.X() / float64(z.tileSize))),
		Y:    int(math.Floor(p.Y() / float64(z.tileSize))),
		Zoom: zoom,
	}
}

// MapSize is the world size at zoom measured in tiles.
func (z *ZoomLevels) MapSize(zoom int) (width, height int) {
	w := z.GridWidth(zoom)
	return w, w
}

// TileBound returns the geographic bound of a tile.
func (z *ZoomLevels) TileBound(x, y, zoom int) orb.Bound {
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom)).Bound()
}

// WrapX normalizes x into [0, gridWidth) for horizontal wraparound. Zooms
// missing from the table are returned unchanged.
func (z *ZoomLevels) WrapX(x, zoom int) int {
	w := z.GridWidth(zoom)
	if w == 0 {
		return x
	}
	if x < 0 {
		x = w - (-x % w)
	}
	return x % w
}
