package cache

// NoopCache never stores anything. Used when durable caching is disabled.
type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

var _ TileCache = (*NoopCache)(nil)

func (c *NoopCache) Get(TileCacheKey) (TileCacheValue, bool, error) {
	return nil, false, nil
}

func (c *NoopCache) Set(TileCacheKey, TileCacheValue) error {
	return nil
}
