package cache

import "context"

// WarmBackend abstracts WarmTier and RedisWarmTier behind one interface
// so Manager doesn't care which deployment mode it's running in.
type WarmBackend interface {
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Set(ctx context.Context, id string, value []byte) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// inProcessWarmAdapter lets the in-process WarmTier (whose methods are
// synchronous, no ctx) satisfy WarmBackend alongside RedisWarmTier.
type inProcessWarmAdapter struct{ t *WarmTier }

func (a inProcessWarmAdapter) Get(_ context.Context, id string) ([]byte, bool, error) {
	v, ok := a.t.Get(id)
	return v, ok, nil
}
func (a inProcessWarmAdapter) Set(_ context.Context, id string, value []byte) error {
	a.t.Set(id, value)
	return nil
}
func (a inProcessWarmAdapter) Delete(_ context.Context, id string) error {
	a.t.Delete(id)
	return nil
}
func (a inProcessWarmAdapter) Clear(_ context.Context) error {
	a.t.Clear()
	return nil
}

// Manager is the cache manager described for the engine: a hot tier
// promoted by repeated access sitting in front of a warm tier, exposed
// as a single get/set/delete/clear surface. Writes always populate both
// tiers immediately, so a read immediately following a buffered write
// sees consistent data.
type Manager struct {
	hot  *HotTier
	warm WarmBackend

	hits map[string]int
}

func NewManager(hot *HotTier, warm WarmBackend) *Manager {
	return &Manager{hot: hot, warm: warm, hits: make(map[string]int)}
}

// NewInProcessManager builds a Manager over the two in-process tiers,
// the default for the embedded, single-process deployment.
func NewInProcessManager(hotCfg HotTierConfig, warmCfg WarmTierConfig) *Manager {
	return NewManager(NewHotTier(hotCfg), inProcessWarmAdapter{NewWarmTier(warmCfg)})
}

// Get checks the hot tier first, then the warm tier. A warm-tier hit
// bumps the id's access counter; once it crosses HotPromoteThreshold the
// value is promoted into the hot tier.
func (m *Manager) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if v, ok := m.hot.Get(id); ok {
		return v, true, nil
	}
	v, ok, err := m.warm.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	m.hits[id]++
	if m.hits[id] >= HotPromoteThreshold {
		m.hot.Set(id, v)
		delete(m.hits, id)
	}
	return v, true, nil
}

// Set writes through to both tiers immediately.
func (m *Manager) Set(ctx context.Context, id string, value []byte) error {
	m.hot.Set(id, value)
	return m.warm.Set(ctx, id, value)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	m.hot.Delete(id)
	delete(m.hits, id)
	return m.warm.Delete(ctx, id)
}

func (m *Manager) Clear(ctx context.Context) error {
	m.hot.Clear()
	m.hits = make(map[string]int)
	return m.warm.Clear(ctx)
}
