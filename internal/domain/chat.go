package domain

import "time"

// Role identifies the author of a chat turn.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is a single message in a scoped chat session.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DefaultHistoryLimit is the number of turns kept behind the preamble when
// no limit is configured.
const DefaultHistoryLimit = 20

// SessionKind distinguishes sessions grounded on one control from sessions
// grounded on a set of clauses.
type SessionKind string

// Session kinds.
const (
	SessionControl SessionKind = "control"
	SessionGeneral SessionKind = "general"
)

// Session is a scoped conversation: a fixed grounding preamble followed by
// a bounded tail of turns. The preamble is set once at creation and is
// never evicted by trimming.
type Session struct {
	ID         string      `json:"id"`
	Kind       SessionKind `json:"kind"`
	Preamble   string      `json:"preamble"`
	Turns      []ChatTurn  `json:"turns"`
	CreatedAt  time.Time   `json:"created_at"`
	LastActive time.Time   `json:"last_active"`
}

// Append adds a turn to the tail.
func (s *Session) Append(role Role, content string) {
	s.Turns = append(s.Turns, ChatTurn{Role: role, Content: content})
}

// Trim drops the oldest turns so that at most limit remain. A non-positive
// limit uses DefaultHistoryLimit.
func (s *Session) Trim(limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if n := len(s.Turns); n > limit {
		kept := make([]ChatTurn, limit)
		copy(kept, s.Turns[n-limit:])
		s.Turns = kept
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() Session {
	c := *s
	c.Turns = append([]ChatTurn(nil), s.Turns...)
	return c
}
