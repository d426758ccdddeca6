package core

// Conversation roles. Providers that use a different vocabulary map these at
// the transport boundary.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one exchange unit of a conversation. An ordered slice of turns is
// the history passed to a generation attempt, oldest first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NormalizeHistory enforces the role constraints shared by the providers:
// unknown roles collapse to "user", and a leading assistant-authored greeting
// (a turn that never came from a real generation call) is dropped so the
// history starts with a user turn.
func NormalizeHistory(history []Turn) []Turn {
	out := make([]Turn, 0, len(history))
	for i, t := range history {
		role := t.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		if len(out) == 0 && i == 0 && role == RoleAssistant {
			// canned UI greeting, not a real turn
			continue
		}
		out = append(out, Turn{Role: role, Content: t.Content})
	}
	return out
}

// Chunk is one unit of a streamed generation. A stream is a channel of
// chunks closed by the producer; a chunk with Err set is the final one.
type Chunk struct {
	Text string
	Err  error
}
