package inbox

import (
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/p-blackswan/project-hub/internal/models"
)

const anonymousSession = "anonymous"

// Prefs holds per-session view state: the hidden thread set and the
// pagination position of each open thread. Nothing here is persisted;
// a session idle for longer than the TTL starts over.
type Prefs struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewPrefs creates a view preference store whose sessions expire after ttl
// of inactivity. A non-positive ttl keeps sessions until restart.
func NewPrefs(ttl time.Duration) *Prefs {
	cleanup := 10 * time.Minute
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	}
	return &Prefs{cache: cache.New(ttl, cleanup)}
}

type viewState struct {
	mu     sync.Mutex
	hidden map[string]struct{}
	pagers map[string]*pager
}

type pager struct {
	cursor  *models.Cursor
	hasMore bool
	loading bool
}

// session returns the state for id, creating it on first use. Every access
// pushes the expiry out again.
func (p *Prefs) session(id string) *viewState {
	if id == "" {
		id = anonymousSession
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(id); ok {
		st := v.(*viewState)
		p.cache.Set(id, st, cache.DefaultExpiration)
		return st
	}
	st := &viewState{hidden: make(map[string]struct{}), pagers: make(map[string]*pager)}
	p.cache.Set(id, st, cache.DefaultExpiration)
	return st
}

// Hide adds contact to the session's hidden set.
func (p *Prefs) Hide(sessionID, contact string) {
	st := p.session(sessionID)
	st.mu.Lock()
	st.hidden[models.NormalizeAddress(contact)] = struct{}{}
	st.mu.Unlock()
}

// ShowAll clears the session's hidden set.
func (p *Prefs) ShowAll(sessionID string) {
	st := p.session(sessionID)
	st.mu.Lock()
	st.hidden = make(map[string]struct{})
	st.mu.Unlock()
}

// Hidden returns the session's hidden contacts, sorted.
func (p *Prefs) Hidden(sessionID string) []string {
	st := p.session(sessionID)
	st.mu.Lock()
	out := make([]string, 0, len(st.hidden))
	for k := range st.hidden {
		out = append(out, k)
	}
	st.mu.Unlock()
	sort.Strings(out)
	return out
}

func (p *Prefs) isHidden(sessionID, contact string) bool {
	st := p.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.hidden[contact]
	return ok
}

// resetPager records the result of loading the newest page of a thread.
func (p *Prefs) resetPager(sessionID, contact string, cursor *models.Cursor, hasMore bool) {
	st := p.session(sessionID)
	st.mu.Lock()
	st.pagers[contact] = &pager{cursor: cursor, hasMore: hasMore}
	st.mu.Unlock()
}

// beginOlder claims the thread's pager for one older-page fetch. It reports
// false when a fetch is already in flight, when the thread is exhausted, or
// when no page has been loaded yet.
func (p *Prefs) beginOlder(sessionID, contact string) (models.Cursor, bool) {
	st := p.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	pg, ok := st.pagers[contact]
	if !ok || pg.loading || !pg.hasMore || pg.cursor == nil {
		return models.Cursor{}, false
	}
	pg.loading = true
	return *pg.cursor, true
}

// endOlder releases the pager. On success the cursor advances to next.
func (p *Prefs) endOlder(sessionID, contact string, next *models.Cursor, hasMore bool, ok bool) {
	st := p.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	pg, found := st.pagers[contact]
	if !found {
		return
	}
	pg.loading = false
	if !ok {
		return
	}
	if next != nil {
		pg.cursor = next
	}
	pg.hasMore = hasMore
}
