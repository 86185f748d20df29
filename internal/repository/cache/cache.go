package cache

// TileCacheKey is the fully resolved tile url.
type TileCacheKey string

// TileCacheValue holds the raw encoded image bytes.
type TileCacheValue []byte

// TileCache is a durable byte store tier. A missing key is reported as
// (nil, false, nil); errors are reserved for storage failures.
type TileCache interface {
	Get(TileCacheKey) (TileCacheValue, bool, error)
	Set(TileCacheKey, TileCacheValue) error
}
