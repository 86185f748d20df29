package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/app"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/config"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/schollz/progressbar/v3"
)

type prefetchCmd struct {
	bbox    string
	minZoom int
	maxZoom int
	timeout time.Duration
}

func (c *prefetchCmd) Name() string     { return "prefetch" }
func (c *prefetchCmd) Synopsis() string { return "download the tiles of a bounding box into the durable cache" }
func (c *prefetchCmd) Usage() string {
	return "prefetch -bbox <minLon,minLat,maxLon,maxLat> -minzoom <z> -maxzoom <z> [-timeout <duration>]\n"
}
func (c *prefetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.bbox, "bbox", "", "Bounding box as minLon,minLat,maxLon,maxLat")
	f.IntVar(&c.minZoom, "minzoom", -1, "First zoom level, defaults to the provider minimum")
	f.IntVar(&c.maxZoom, "maxzoom", -1, "Last zoom level, defaults to minzoom")
	f.DurationVar(&c.timeout, "timeout", time.Minute, "How long to wait for one batch of tiles")
}

func (c *prefetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	bound, err := parseBound(c.bbox)
	if err != nil {
		log.Printf("invalid bbox: %v", err)
		return subcommands.ExitUsageError
	}

	cfg, err := config.New()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return subcommands.ExitFailure
	}

	l := logger.NewZapLogger(cfg.Logger)
	defer l.Sync()

	stack, err := app.NewTileStack(cfg, l)
	if err != nil {
		l.Error("failed to initialize tile stack", "error", err)
		return subcommands.ExitFailure
	}

	levels := stack.Factory.Levels()
	if c.minZoom < 0 {
		c.minZoom = levels.MinZoom()
	}
	if c.maxZoom < 0 {
		c.maxZoom = c.minZoom
	}
	if !levels.InRange(c.minZoom) || !levels.InRange(c.maxZoom) || c.minZoom > c.maxZoom {
		log.Printf("zoom range %d..%d outside provider range %d..%d",
			c.minZoom, c.maxZoom, levels.MinZoom(), levels.MaxZoom())
		return subcommands.ExitUsageError
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var total int
	for z := c.minZoom; z <= c.maxZoom; z++ {
		minX, minY, maxX, maxY := tileRange(levels, bound, z)
		total += (maxX - minX + 1) * (maxY - minY + 1)
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("prefetch"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)

	// A batch never exceeds the memory tier so that no tile is evicted
	// before it finished loading.
	batchSize := max(cfg.Cache.MemoryCapacity, 1)
	batch := make([]*tile.Tile, 0, batchSize)
	var failed int

	flushBatch := func() {
		failed += c.wait(ctx, batch, bar)
		batch = batch[:0]
	}

walk:
	for z := c.minZoom; z <= c.maxZoom; z++ {
		minX, minY, maxX, maxY := tileRange(levels, bound, z)
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				if ctx.Err() != nil {
					break walk
				}
				batch = append(batch, stack.Factory.Prefetch(x, y, z))
				if len(batch) == batchSize {
					flushBatch()
				}
			}
		}
	}
	flushBatch()

	bar.Finish()
	fmt.Println()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := stack.Close(shutdownCtx); err != nil {
		l.Error("failed to close tile stack", "error", err)
		return subcommands.ExitFailure
	}

	l.Info("prefetch finished", "tiles", total, "failed", failed, "tiers", stack.Chain.Tiers())

	if ctx.Err() != nil || failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// wait blocks until every tile of batch is terminal or the batch timeout
// expires and returns how many did not load.
func (c *prefetchCmd) wait(ctx context.Context, batch []*tile.Tile, bar *progressbar.ProgressBar) int {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var failed int
	for _, t := range batch {
		select {
		case <-t.Done():
		case <-ctx.Done():
		}
		if !t.IsLoaded() {
			failed++
		}
		bar.Add(1)
	}
	return failed
}
