package federation

import (
	"time"

	"github.com/fgan1/fogbow-manager/plugins"
)

// Member is a known federation peer. Members are replaced wholesale on
// update and never mutated in place.
type Member struct {
	ID        string                 `json:"id" yaml:"id"`
	Address   string                 `json:"address" yaml:"address"`
	Resources *plugins.ResourcesInfo `json:"resources,omitempty" yaml:"-"`
	LastSeen  time.Time              `json:"last_seen,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the member.
func (m Member) Clone() Member {
	if m.Resources != nil {
		res := *m.Resources
		m.Resources = &res
	}
	return m
}
