package store

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is the ordered message history of one conversation.
// Messages[0] is always the system prompt.
type Context struct {
	ID       string
	Messages []Message
}

// NewContext returns a context seeded with the system prompt.
func NewContext(id, systemPrompt string) *Context {
	return &Context{
		ID:       id,
		Messages: []Message{{Role: RoleSystem, Content: systemPrompt}},
	}
}

func (c *Context) Len() int { return len(c.Messages) }

// Append adds a message at the end of the history.
func (c *Context) Append(role, content string) {
	c.Messages = append(c.Messages, Message{Role: role, Content: content})
}

// Last returns a pointer to the newest message, or nil if the context is empty.
func (c *Context) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// RefreshSystemPrompt replaces message 0 in place when the prompt has changed.
// An empty context is seeded instead.
func (c *Context) RefreshSystemPrompt(prompt string) bool {
	if len(c.Messages) == 0 {
		c.Messages = []Message{{Role: RoleSystem, Content: prompt}}
		return true
	}
	if c.Messages[0].Role == RoleSystem && c.Messages[0].Content == prompt {
		return false
	}
	if c.Messages[0].Role != RoleSystem {
		c.Messages = append([]Message{{Role: RoleSystem, Content: prompt}}, c.Messages...)
		return true
	}
	c.Messages[0] = Message{Role: RoleSystem, Content: prompt}
	return true
}

// Trim evicts the oldest non-system messages until at most max remain.
// Index 0 is pinned. A max below 1 is treated as 1.
func (c *Context) Trim(max int) int {
	if max < 1 {
		max = 1
	}
	removed := 0
	for len(c.Messages) > max {
		c.Messages = append(c.Messages[:1], c.Messages[2:]...)
		removed++
	}
	return removed
}

// Rollback drops every message appended after the context had n messages.
func (c *Context) Rollback(n int) int {
	if n < 0 {
		n = 0
	}
	extra := len(c.Messages) - n
	if extra <= 0 {
		return 0
	}
	clear(c.Messages[n:])
	c.Messages = c.Messages[:n]
	return extra
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return &Context{ID: c.ID, Messages: msgs}
}
