package restengine

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

// SessionPool is a bounded, concurrent-safe LRU cache of reusable HTTP
// clients keyed by target scheme://host. Callers borrow the client for the
// duration of one request attempt and must not retain it. Eviction and
// insertion happen as one atomic step under the pool's lock, and every
// evicted entry has its transport's idle connections closed.
type SessionPool struct {
	mu          sync.Mutex
	maxSessions int
	entries     map[string]*list.Element
	order       *list.List // front = most recently used
	timeout     time.Duration
	onEvict     func(hostKey string)
}

type sessionEntry struct {
	hostKey   string
	client    *http.Client
	transport *http.Transport
	lastUsed  time.Time
}

// NewSessionPool creates a pool bounded at maxSessions entries. Each pooled
// client carries the per-attempt request timeout.
func NewSessionPool(maxSessions int, requestTimeout time.Duration) *SessionPool {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &SessionPool{
		maxSessions: maxSessions,
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		timeout:     requestTimeout,
	}
}

// Lease returns the pooled client for hostKey, creating one on miss. On hit
// the entry becomes most-recently-used; on miss beyond capacity the
// least-recently-used entry is evicted and its transport released before the
// new entry is inserted.
func (p *SessionPool) Lease(hostKey string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.entries[hostKey]; ok {
		entry := elem.Value.(*sessionEntry)
		entry.lastUsed = time.Now()
		p.order.MoveToFront(elem)
		return entry.client
	}

	if len(p.entries) >= p.maxSessions {
		p.evictOldestLocked()
	}

	transport := newPooledTransport()
	entry := &sessionEntry{
		hostKey:   hostKey,
		client:    &http.Client{Transport: transport, Timeout: p.timeout},
		transport: transport,
		lastUsed:  time.Now(),
	}
	p.entries[hostKey] = p.order.PushFront(entry)
	return entry.client
}

func (p *SessionPool) evictOldestLocked() {
	elem := p.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*sessionEntry)
	p.order.Remove(elem)
	delete(p.entries, entry.hostKey)
	entry.transport.CloseIdleConnections()
	if p.onEvict != nil {
		p.onEvict(entry.hostKey)
	}
}

// Len returns the number of cached sessions.
func (p *SessionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close releases every cached session. The pool remains usable; subsequent
// leases create fresh sessions.
func (p *SessionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, elem := range p.entries {
		elem.Value.(*sessionEntry).transport.CloseIdleConnections()
		delete(p.entries, key)
	}
	p.order.Init()
}

func newPooledTransport() *http.Transport {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{MaxIdleConnsPerHost: 10}
	}
	clone := transport.Clone()
	clone.MaxIdleConnsPerHost = 10
	return clone
}
