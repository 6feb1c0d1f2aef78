package request

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Common errors
var (
	ErrNotFound      = errors.New("request not found")
	ErrAlreadyExists = errors.New("request already exists")
	ErrStateConflict = errors.New("request state changed concurrently")
	ErrClosed        = errors.New("repository is closed")
)

// ChangeKind classifies a repository change.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change describes a committed repository mutation. Before is nil for
// additions, After is nil for removals.
type Change struct {
	Kind   ChangeKind
	Before *Request
	After  *Request
}

// Observer is notified after a change is committed, outside the repository lock.
type Observer func(Change)

// Repository is the indexed in-memory store of requests.
type Repository struct {
	mu      sync.RWMutex
	byID    map[string]*Request
	byOwner map[string]map[string]struct{}
	byState map[State]map[string]struct{}

	observers []Observer

	journal  Journal
	flushMu  sync.Mutex
	pending  []journalEntry
	kick     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	closed   bool
	jTimeout time.Duration

	now    func() time.Time
	logger *zap.Logger
}

type journalEntry struct {
	id  string
	req *Request // nil means delete
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithJournal mirrors every change into j.
func WithJournal(j Journal) RepositoryOption {
	return func(r *Repository) { r.journal = j }
}

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// WithJournalTimeout bounds each journal write.
func WithJournalTimeout(d time.Duration) RepositoryOption {
	return func(r *Repository) { r.jTimeout = d }
}

// NewRepository creates an empty repository.
func NewRepository(logger *zap.Logger, opts ...RepositoryOption) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		byID:     make(map[string]*Request),
		byOwner:  make(map[string]map[string]struct{}),
		byState:  make(map[State]map[string]struct{}),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		jTimeout: 5 * time.Second,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "request_repository")),
	}
	for _, st := range AllStates {
		r.byState[st] = make(map[string]struct{})
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.journal != nil {
		r.wg.Add(1)
		go r.journalLoop()
	}
	return r
}

// Observe registers an observer. Observers must not block.
func (r *Repository) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Restore loads the journal contents into an empty repository.
func (r *Repository) Restore(ctx context.Context) (int, error) {
	if r.journal == nil {
		return 0, nil
	}
	reqs, err := r.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	restored := 0
	for _, req := range reqs {
		if err := req.CheckInvariants(); err != nil {
			r.logger.Warn("skipping inconsistent journal entry", zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		if _, exists := r.byID[req.ID]; exists {
			continue
		}
		r.insertLocked(req.Clone())
		restored++
	}
	r.logger.Info("repository restored from journal", zap.Int("requests", restored))
	return restored, nil
}

// Add stores a new request.
func (r *Repository) Add(req *Request) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("invalid request")
	}
	if err := req.CheckInvariants(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, exists := r.byID[req.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, req.ID)
	}
	stored := req.Clone()
	r.insertLocked(stored)
	r.enqueueLocked(stored)
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Change{Kind: ChangeAdded, After: stored.Clone()})
	return nil
}

// Get returns a copy of the request with the given id.
func (r *Repository) Get(id string) (*Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// FindByInstance returns the request currently holding instanceID.
func (r *Repository) FindByInstance(instanceID string) (*Request, bool) {
	if instanceID == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.byState[StateFulfilled] {
		if req := r.byID[id]; req.InstanceID == instanceID {
			return req.Clone(), true
		}
	}
	return nil, false
}

// ByOwner returns a snapshot of the owner's requests, oldest first.
func (r *Repository) ByOwner(owner string) []*Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byOwner[owner])
}

// ByState returns a snapshot of the requests in any of the given states,
// oldest first.
func (r *Repository) ByState(states ...State) []*Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(states) == 1 {
		return r.collectLocked(r.byState[states[0]])
	}
	ids := make(map[string]struct{})
	for _, st := range states {
		for id := range r.byState[st] {
			ids[id] = struct{}{}
		}
	}
	return r.collectLocked(ids)
}

// All returns a snapshot of every request, oldest first.
func (r *Repository) All() []*Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Request, 0, len(r.byID))
	for _, req := range r.byID {
		out = append(out, req.Clone())
	}
	sortRequests(out)
	return out
}

// Len returns the number of stored requests.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountByState returns the size of every state bucket.
func (r *Repository) CountByState() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[State]int, len(r.byState))
	for st, ids := range r.byState {
		out[st] = len(ids)
	}
	return out
}

// Transition applies mutate to a copy of the request and commits it together
// with the index update. When expected is non-empty the request must be in
// one of those states, otherwise ErrStateConflict is returned and nothing
// changes. An error from mutate also leaves the request untouched.
func (r *Repository) Transition(id string, expected []State, mutate func(*Request) error) (*Request, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	current, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(expected) > 0 && !stateIn(current.State, expected) {
		state := current.State
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrStateConflict, id, state)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	next.ID = current.ID
	next.Owner = current.Owner
	if err := next.CheckInvariants(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = r.now()

	r.removeIndexesLocked(current)
	r.insertLocked(next)
	r.enqueueLocked(next)
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Change{Kind: ChangeUpdated, Before: current.Clone(), After: next.Clone()})
	return next.Clone(), nil
}

// Remove deletes a request. When expected is non-empty the request must be in
// one of those states.
func (r *Repository) Remove(id string, expected ...State) (*Request, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	current, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(expected) > 0 && !stateIn(current.State, expected) {
		state := current.State
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrStateConflict, id, state)
	}
	r.removeIndexesLocked(current)
	delete(r.byID, id)
	r.pending = append(r.pending, journalEntry{id: id})
	r.signalLocked()
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Change{Kind: ChangeRemoved, Before: current.Clone()})
	return current.Clone(), nil
}

// Flush blocks until every queued journal write has been attempted.
func (r *Repository) Flush(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	return r.writeBatch(ctx, batch)
}

// Close stops the journal writer after draining pending writes.
func (r *Repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.journal == nil {
		return nil
	}
	close(r.done)
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), r.jTimeout)
	defer cancel()
	flushErr := r.Flush(ctx)
	return errors.Join(flushErr, r.journal.Close())
}

// =============================================================================
// Index maintenance (callers hold r.mu)
// =============================================================================

func (r *Repository) insertLocked(req *Request) {
	r.byID[req.ID] = req
	owned, ok := r.byOwner[req.Owner]
	if !ok {
		owned = make(map[string]struct{})
		r.byOwner[req.Owner] = owned
	}
	owned[req.ID] = struct{}{}
	r.byState[req.State][req.ID] = struct{}{}
}

func (r *Repository) removeIndexesLocked(req *Request) {
	delete(r.byState[req.State], req.ID)
	if owned, ok := r.byOwner[req.Owner]; ok {
		delete(owned, req.ID)
		if len(owned) == 0 {
			delete(r.byOwner, req.Owner)
		}
	}
}

func (r *Repository) collectLocked(ids map[string]struct{}) []*Request {
	out := make([]*Request, 0, len(ids))
	for id := range ids {
		if req, ok := r.byID[id]; ok {
			out = append(out, req.Clone())
		}
	}
	sortRequests(out)
	return out
}

// =============================================================================
// Journal writer
// =============================================================================

func (r *Repository) enqueueLocked(req *Request) {
	if r.journal == nil {
		return
	}
	r.pending = append(r.pending, journalEntry{id: req.ID, req: req.Clone()})
	r.signalLocked()
}

func (r *Repository) signalLocked() {
	if r.journal == nil {
		r.pending = nil
		return
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Repository) journalLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.kick:
			ctx, cancel := context.WithTimeout(context.Background(), r.jTimeout)
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("journal write failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (r *Repository) writeBatch(ctx context.Context, batch []journalEntry) error {
	var errs []error
	for _, e := range batch {
		var err error
		if e.req == nil {
			err = r.journal.Delete(ctx, e.id)
		} else {
			err = r.journal.Save(ctx, e.req)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("journal %s: %w", e.id, err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Helpers
// =============================================================================

func stateIn(s State, states []State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func sortRequests(reqs []*Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

func notify(observers []Observer, c Change) {
	for _, o := range observers {
		o(c)
	}
}
