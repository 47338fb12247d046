package rule

import "sync"

// Endpoint identifies a bus endpoint a rule is registered against. Router
// endpoint types implement this with their unique bus name.
type Endpoint interface {
	UniqueName() string
}

// Table is a many-to-many endpoint-to-rule registry, guarded by its own
// mutex distinct from the name-service engine's so the router can never
// deadlock against the engine through lock-order inversion.
type Table struct {
	mu    sync.RWMutex
	rules map[string][]entry
}

type entry struct {
	endpoint Endpoint
	rule     Rule
}

// NewTable constructs an empty rule table.
func NewTable() *Table {
	return &Table{rules: make(map[string][]entry)}
}

// AddRule registers rule against endpoint.
func (t *Table) AddRule(endpoint Endpoint, r Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := endpoint.UniqueName()
	t.rules[key] = append(t.rules[key], entry{endpoint: endpoint, rule: r})
}

// RemoveRule removes the first rule registered against endpoint that
// equals r. It is a no-op if no such rule is registered.
func (t *Table) RemoveRule(endpoint Endpoint, r Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := endpoint.UniqueName()
	entries := t.rules[key]
	for i, e := range entries {
		if e.rule == r {
			t.rules[key] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// RemoveAllRules removes every rule registered against endpoint, used
// when the endpoint disconnects.
func (t *Table) RemoveAllRules(endpoint Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rules, endpoint.UniqueName())
}

// MatchingEndpoints returns every endpoint with at least one rule that
// matches msg, used by the router to fan a message out to subscribers.
func (t *Table) MatchingEndpoints(msg Message) []Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Endpoint
	seen := make(map[string]bool)
	for key, entries := range t.rules {
		if seen[key] {
			continue
		}
		for _, e := range entries {
			if e.rule.Matches(msg) {
				out = append(out, e.endpoint)
				seen[key] = true
				break
			}
		}
	}
	return out
}
