// Package request holds the Request entity, its lifecycle state machine and
// the Repository that indexes in-flight requests by id, owner and state.
//
// Repository mutations go through Transition, which applies the state change
// and the index update atomically. Readers always receive clones, so callers
// may iterate over a snapshot while loops and client operations mutate the
// live store.
//
// Every change is mirrored into a Journal. Supported backends:
// - Memory: for development and testing (default)
// - Redis: for restarts and multi-process inspection
package request
