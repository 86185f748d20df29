package cache

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteCache struct {
	db     *sql.DB
	logger logger.Logger
}

func NewSQLiteCache(path string, l logger.Logger) (*SQLiteCache, error) {
	l = logger.OrNoOp(l)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &SQLiteCache{
		db:     db,
		logger: l,
	}

	err = c.runMigrations()
	if err != nil {
		db.Close()
		return nil, err
	}

	l.Info("sqlite cache initialized", "path", path)

	return c, nil
}

func (c *SQLiteCache) runMigrations() error {
	goose.SetBaseFS(migrations)

	err := goose.SetDialect("sqlite3")
	if err != nil {
		return err
	}

	err = goose.Up(c.db, "migrations")
	if err != nil {
		return err
	}

	return nil
}

var _ TileCache = (*SQLiteCache)(nil)

func (c *SQLiteCache) Get(k TileCacheKey) (TileCacheValue, bool, error) {
	c.logger.Debug("sqlite cache get", "url", k)

	query := `SELECT tile_data
	FROM tile_cache
	WHERE url = ?`

	var tileData []byte
	err := c.db.QueryRow(query, string(k)).Scan(&tileData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		c.logger.Error("sqlite cache get failed", "url", k, "error", err)
		return nil, false, err
	}

	return tileData, true, nil
}

func (c *SQLiteCache) Set(k TileCacheKey, v TileCacheValue) error {
	c.logger.Debug("sqlite cache set", "url", k, "size", len(v))

	query := `INSERT INTO tile_cache (url, tile_data)
	VALUES (?, ?)
	ON CONFLICT(url) DO UPDATE SET tile_data = excluded.tile_data, updated_at = CURRENT_TIMESTAMP`

	_, err := c.db.Exec(query, string(k), []byte(v))
	if err != nil {
		c.logger.Error("sqlite cache set failed", "url", k, "error", err)
		return err
	}

	return nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
