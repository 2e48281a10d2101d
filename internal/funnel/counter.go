package funnel

import (
	"fmt"
	"strings"
)

// Counter accumulates distinct users per stage for a fixed stage order.
// It is not safe for concurrent use.
type Counter struct {
	stages []string
	index  map[string]int
	users  []map[string]struct{}
}

// NewCounter returns a Counter for stages, in funnel order. An empty list
// means DefaultStages. Duplicate stage names are an error.
func NewCounter(stages []string) (*Counter, error) {
	if len(stages) == 0 {
		stages = DefaultStages
	}
	c := &Counter{
		stages: append([]string(nil), stages...),
		index:  make(map[string]int, len(stages)),
		users:  make([]map[string]struct{}, len(stages)),
	}
	for i, s := range c.stages {
		if _, dup := c.index[s]; dup {
			return nil, fmt.Errorf("funnel: duplicate stage %q", s)
		}
		c.index[s] = i
		c.users[i] = make(map[string]struct{})
	}
	return c, nil
}

// Add records e and reports whether it was counted. Events with an empty user
// id or a stage outside the funnel are ignored.
func (c *Counter) Add(e Event) bool {
	if e.UserID == "" {
		return false
	}
	i, ok := c.index[e.Stage]
	if !ok {
		return false
	}
	c.users[i][e.UserID] = struct{}{}
	return true
}

// AddValues records an event given as raw source values, normalizing both to
// strings with NormalizeKey.
func (c *Counter) AddValues(userID, stage any) bool {
	return c.Add(Event{UserID: NormalizeKey(userID), Stage: NormalizeKey(stage)})
}

// Counts returns the distinct-user count of every stage in funnel order,
// including stages with no users.
func (c *Counter) Counts() []StageCount {
	out := make([]StageCount, len(c.stages))
	for i, s := range c.stages {
		out[i] = StageCount{Stage: s, UniqueUsers: len(c.users[i])}
	}
	return out
}

// Stages returns the funnel order.
func (c *Counter) Stages() []string {
	return append([]string(nil), c.stages...)
}

// NormalizeKey converts a source value to its canonical string form so the
// same user read as "42", 42 or int64(42) counts once.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return fmt.Sprintf("%d", t)
	case int32:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
