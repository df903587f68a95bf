package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureVisitorIDPreservesExisting(t *testing.T) {
	assert.Equal(t, "visitor_existing", EnsureVisitorID("visitor_existing"))
}

func TestEnsureVisitorIDMints(t *testing.T) {
	id := EnsureVisitorID("")
	assert.True(t, strings.HasPrefix(id, "visitor_"))

	// Distinct visitors get distinct identifiers.
	assert.NotEqual(t, id, EnsureVisitorID(""))
}

func TestEnsureSessionIDMints(t *testing.T) {
	id := EnsureSessionID("")
	assert.True(t, strings.HasPrefix(id, "session_"))
	assert.Equal(t, "session_tab1", EnsureSessionID("session_tab1"))
}

// The composite must be deterministic: the widget and the workflow both
// derive it independently and the two sides have to agree.
func TestResponseIDIsDeterministic(t *testing.T) {
	a := ResponseID("agent-1", "visitor_abc", "session_def")
	b := ResponseID("agent-1", "visitor_abc", "session_def")

	assert.Equal(t, a, b)
	assert.Equal(t, "agent-1_visitor_abc_session_def", a)

	assert.NotEqual(t, a, ResponseID("agent-2", "visitor_abc", "session_def"))
	assert.NotEqual(t, a, ResponseID("agent-1", "visitor_abc", "session_other"))
}
