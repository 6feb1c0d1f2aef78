package federation

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks known members. Static members from configuration never
// expire; members learned from the rendezvous expire when not seen for the
// configured expiry.
type Registry struct {
	selfID string
	expiry time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	static  map[string]Member
	dynamic map[string]Member
}

// NewRegistry 创建成员注册表
func NewRegistry(selfID string, expiry time.Duration, static []Member) *Registry {
	r := &Registry{
		selfID:  selfID,
		expiry:  expiry,
		now:     time.Now,
		static:  make(map[string]Member, len(static)),
		dynamic: make(map[string]Member),
	}
	for _, m := range static {
		if m.ID == "" || m.ID == selfID {
			continue
		}
		r.static[m.ID] = m.Clone()
	}
	return r
}

// SetClock overrides the clock.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// SelfID returns this member's id.
func (r *Registry) SelfID() string {
	return r.selfID
}

// Upsert records m as seen now. Self is ignored.
func (r *Registry) Upsert(m Member) {
	if m.ID == "" || m.ID == r.selfID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m = m.Clone()
	m.LastSeen = r.now()
	if _, ok := r.static[m.ID]; ok {
		if m.Address == "" {
			m.Address = r.static[m.ID].Address
		}
		r.static[m.ID] = m
		return
	}
	r.dynamic[m.ID] = m
}

// Replace swaps the dynamic member set for members, as returned by a
// rendezvous lookup. Static members only get their snapshot refreshed.
func (r *Registry) Replace(members []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	next := make(map[string]Member, len(members))
	for _, m := range members {
		if m.ID == "" || m.ID == r.selfID {
			continue
		}
		m = m.Clone()
		if m.LastSeen.IsZero() {
			m.LastSeen = now
		}
		if st, ok := r.static[m.ID]; ok {
			if m.Address == "" {
				m.Address = st.Address
			}
			r.static[m.ID] = m
			continue
		}
		next[m.ID] = m
	}
	r.dynamic = next
}

// Get returns the member with id, expired or not.
func (r *Registry) Get(id string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.static[id]; ok {
		return m.Clone(), true
	}
	m, ok := r.dynamic[id]
	return m.Clone(), ok
}

// Members returns the live members, excluding self, sorted by id.
func (r *Registry) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]Member, 0, len(r.static)+len(r.dynamic))
	for _, m := range r.static {
		out = append(out, m.Clone())
	}
	for id, m := range r.dynamic {
		if r.expiry > 0 && now.Sub(m.LastSeen) > r.expiry {
			delete(r.dynamic, id)
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live members.
func (r *Registry) Len() int {
	return len(r.Members())
}
