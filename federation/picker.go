package federation

import "sync/atomic"

// Picker chooses the member a request is offloaded to. It is consulted once
// per request per scheduler tick.
type Picker interface {
	// Pick returns one of members, or false when members is empty.
	Pick(members []Member) (Member, bool)
}

// Cursor is the position source of a RoundRobin picker.
type Cursor interface {
	// Next returns the current position and advances it.
	Next() uint64
}

// AtomicCursor is a goroutine-safe Cursor starting at zero.
type AtomicCursor struct {
	n atomic.Uint64
}

// Next implements Cursor.
func (c *AtomicCursor) Next() uint64 {
	return c.n.Add(1) - 1
}

// RoundRobin picks members in turn. With an unchanged member list of size
// N, N consecutive picks return every member exactly once.
type RoundRobin struct {
	cursor Cursor
}

var _ Picker = (*RoundRobin)(nil)

// NewRoundRobin 创建轮询选择器；cursor 为 nil 时使用 AtomicCursor
func NewRoundRobin(cursor Cursor) *RoundRobin {
	if cursor == nil {
		cursor = &AtomicCursor{}
	}
	return &RoundRobin{cursor: cursor}
}

// Pick implements Picker. The cursor does not move on an empty list.
func (r *RoundRobin) Pick(members []Member) (Member, bool) {
	if len(members) == 0 {
		return Member{}, false
	}
	idx := r.cursor.Next() % uint64(len(members))
	return members[idx], true
}
