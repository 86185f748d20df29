package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/projection"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tilefactory"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/paulmach/orb"
)

var (
	ErrOffMap      = errors.New("tile is outside the map")
	ErrFetchFailed = errors.New("tile fetch failed")
	ErrPending     = errors.New("tile is still loading")
	ErrInvalidZoom = errors.New("zoom level not supported by provider")
)

const MaxPrefetchRadius = 5

type TileStatus struct {
	URL      string
	X        int
	Y        int
	Zoom     int
	State    tile.State
	Priority tile.Priority
	Err      error
}

type PixelLocation struct {
	X     float64
	Y     float64
	TileX int
	TileY int
}

type TileUseCase struct {
	factory     *tilefactory.Factory
	waitTimeout time.Duration
	logger      logger.Logger
}

func NewTileUseCase(f *tilefactory.Factory, waitTimeout time.Duration, l logger.Logger) *TileUseCase {
	return &TileUseCase{
		factory:     f,
		waitTimeout: waitTimeout,
		logger:      logger.OrNoOp(l),
	}
}

// GetTile returns a loaded tile, waiting up to the configured timeout for
// a pending fetch.
func (uc *TileUseCase) GetTile(ctx context.Context, x, y, zoom int) (*tile.Tile, error) {
	t := uc.factory.GetTile(x, y, zoom)
	if t.IsOffMap() {
		return nil, ErrOffMap
	}

	if !t.IsLoaded() && !t.IsFailed() {
		timer := time.NewTimer(uc.waitTimeout)
		defer timer.Stop()

		select {
		case <-t.Done():
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	switch {
	case t.IsLoaded():
		return t, nil
	case t.IsFailed():
		return t, fmt.Errorf("%w: %w", ErrFetchFailed, t.Err())
	default:
		uc.logger.Debug("tile not ready in time", "url", t.URL(), "state", t.State())
		return t, ErrPending
	}
}

// Status reports the state of a resident tile without scheduling a fetch.
func (uc *TileUseCase) Status(x, y, zoom int) (TileStatus, error) {
	url := uc.factory.TileURL(x, y, zoom)
	if url == "" {
		return TileStatus{}, ErrOffMap
	}

	x = uc.factory.Levels().WrapX(x, zoom)
	status := TileStatus{URL: url, X: x, Y: y, Zoom: zoom, State: tile.StateIdle, Priority: tile.PriorityLow}

	if t, ok := uc.factory.Lookup(x, y, zoom); ok {
		status.State = t.State()
		status.Priority = t.Priority()
		status.Err = t.Err()
	}

	return status, nil
}

// Prefetch schedules the tile and its neighbours within radius at low
// priority and returns the scheduled urls.
func (uc *TileUseCase) Prefetch(x, y, zoom, radius int) ([]string, error) {
	center := uc.factory.Prefetch(x, y, zoom)
	if center.IsOffMap() {
		return nil, ErrOffMap
	}

	radius = min(max(radius, 0), MaxPrefetchRadius)

	urls := []string{center.URL()}
	for _, t := range uc.factory.PrefetchAround(x, y, zoom, radius) {
		urls = append(urls, t.URL())
	}

	uc.logger.Info("prefetch scheduled", "x", x, "y", y, "zoom", zoom, "radius", radius, "tiles", len(urls))

	return urls, nil
}

func (uc *TileUseCase) PixelFromGeo(pos projection.GeoPosition, zoom int) (PixelLocation, error) {
	if !uc.factory.Levels().Has(zoom) {
		return PixelLocation{}, fmt.Errorf("%w: %d", ErrInvalidZoom, zoom)
	}

	p := uc.factory.PixelFromGeo(pos, zoom)
	addr := uc.factory.Levels().TileAt(pos, zoom)
	return PixelLocation{X: p.X(), Y: p.Y(), TileX: addr.X, TileY: addr.Y}, nil
}

func (uc *TileUseCase) GeoFromPixel(x, y float64, zoom int) (projection.GeoPosition, error) {
	if !uc.factory.Levels().Has(zoom) {
		return projection.GeoPosition{}, fmt.Errorf("%w: %d", ErrInvalidZoom, zoom)
	}

	return uc.factory.GeoFromPixel(orb.Point{x, y}, zoom), nil
}

func (uc *TileUseCase) Flush() (int, error) {
	return uc.factory.Flush()
}
