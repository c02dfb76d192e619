package main

import (
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"
)

// Registry is the in-process view of the source table, shared by the
// scheduler and the chat front-end. It is constructed once at startup from
// storage and refreshed on every add/delete, instead of living as a global
// map scattered across handlers.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceRegistration
}

var sourceURLRegex = regexp.MustCompile(`^https://remanga\.org/guild/[^/]+/settings/donations$`)

func NewRegistry() (*Registry, error) {
	r := &Registry{sources: make(map[string]SourceRegistration)}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the in-memory view with the storage-backed registry.
func (r *Registry) Reload() error {
	sources, err := loadAllSources()
	if err != nil {
		return err
	}
	fresh := make(map[string]SourceRegistration, len(sources))
	for _, src := range sources {
		fresh[src.Name] = src
	}

	r.mu.Lock()
	r.sources = fresh
	r.mu.Unlock()

	log.Printf("[I] [Registry] Loaded %d registered sources.", len(fresh))
	return nil
}

func (r *Registry) Get(name string) (SourceRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// All returns a snapshot ordered by name.
func (r *Registry) All() []SourceRegistration {
	sources, err := loadAllSources()
	if err != nil {
		log.Printf("[W] [Registry] Falling back to in-memory snapshot: %v", err)
		r.mu.RLock()
		defer r.mu.RUnlock()
		snapshot := make([]SourceRegistration, 0, len(r.sources))
		for _, src := range r.sources {
			snapshot = append(snapshot, src)
		}
		return snapshot
	}
	return sources
}

// Add validates, persists, and publishes a new source registration.
func (r *Registry) Add(name, sourceURL string) (SourceRegistration, error) {
	if name == "" {
		return SourceRegistration{}, fmt.Errorf("source name must not be empty")
	}
	if !sourceURLRegex.MatchString(sourceURL) {
		return SourceRegistration{}, fmt.Errorf("url must look like https://remanga.org/guild/NAME/settings/donations")
	}

	src, err := saveSource(name, sourceURL)
	if err != nil {
		return SourceRegistration{}, err
	}

	r.mu.Lock()
	r.sources[src.Name] = src
	r.mu.Unlock()

	log.Printf("[I] [Registry] Registered source '%s' -> %s", src.Name, src.TableName)
	return src, nil
}

// Remove deletes a registration and its donation partition.
func (r *Registry) Remove(name string) error {
	src, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("no source named '%s'", name)
	}
	if err := deleteSource(src); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.sources, name)
	r.mu.Unlock()

	log.Printf("[I] [Registry] Removed source '%s' and its donation records.", name)
	return nil
}

// userLimiter throttles chat users: one in-flight request at a time plus a
// short cooldown between accepted requests. Entries expire so the map stays
// bounded.
type userLimiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	ttl      time.Duration
	entries  map[string]*userLimiterEntry
}

type userLimiterEntry struct {
	inFlight bool
	lastSeen time.Time
}

func newUserLimiter(cooldown, ttl time.Duration) *userLimiter {
	return &userLimiter{
		cooldown: cooldown,
		ttl:      ttl,
		entries:  make(map[string]*userLimiterEntry),
	}
}

// Acquire reports whether the user may start a request now, and if so marks
// it in flight. The caller must Release on every path.
func (l *userLimiter) Acquire(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	e, ok := l.entries[userID]
	if !ok {
		l.entries[userID] = &userLimiterEntry{inFlight: true, lastSeen: now}
		return true
	}
	if e.inFlight || now.Sub(e.lastSeen) < l.cooldown {
		return false
	}
	e.inFlight = true
	e.lastSeen = now
	return true
}

func (l *userLimiter) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[userID]; ok {
		e.inFlight = false
		e.lastSeen = time.Now()
	}
}

// sweep drops idle entries; called with the lock held.
func (l *userLimiter) sweep(now time.Time) {
	for id, e := range l.entries {
		if !e.inFlight && now.Sub(e.lastSeen) > l.ttl {
			delete(l.entries, id)
		}
	}
}
