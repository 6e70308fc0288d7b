package bulk

import "sync"

// sharedMemo is a concurrency-safe check.Memo shared across every triple
// in one CheckBulk batch, so triples whose traversal crosses the same
// sub-problem (a shared parent directory, a shared group membership) pay
// for that sub-computation once — bulk_checker.py's bulk_memo_cache.
type sharedMemo struct {
	mu    sync.Mutex
	cache map[string]bool
}

func newSharedMemo() *sharedMemo {
	return &sharedMemo{cache: make(map[string]bool)}
}

func (m *sharedMemo) Get(key string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache[key]
	return v, ok
}

func (m *sharedMemo) Set(key string, result bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = result
}

func (m *sharedMemo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}
