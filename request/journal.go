package request

import (
	"context"
	"sync"
)

// JournalType represents the type of journal backend
type JournalType string

const (
	JournalTypeMemory JournalType = "memory"
	JournalTypeRedis  JournalType = "redis"
)

// Journal persists repository changes so that requests survive a restart.
type Journal interface {
	// Save upserts the request snapshot.
	Save(ctx context.Context, req *Request) error

	// Delete removes the request. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Load returns every journaled request.
	Load(ctx context.Context) ([]*Request, error)

	// Ping checks if the journal is healthy
	Ping(ctx context.Context) error

	// Close releases resources held by the journal.
	Close() error
}

// MemoryJournal is an in-memory Journal for development and testing.
type MemoryJournal struct {
	mu   sync.RWMutex
	reqs map[string]*Request
}

// NewMemoryJournal creates an empty memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{reqs: make(map[string]*Request)}
}

// Save implements Journal.
func (j *MemoryJournal) Save(_ context.Context, req *Request) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reqs[req.ID] = req.Clone()
	return nil
}

// Delete implements Journal.
func (j *MemoryJournal) Delete(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.reqs, id)
	return nil
}

// Load implements Journal.
func (j *MemoryJournal) Load(_ context.Context) ([]*Request, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*Request, 0, len(j.reqs))
	for _, r := range j.reqs {
		out = append(out, r.Clone())
	}
	sortRequests(out)
	return out, nil
}

// Ping implements Journal.
func (j *MemoryJournal) Ping(context.Context) error { return nil }

// Close implements Journal.
func (j *MemoryJournal) Close() error { return nil }
