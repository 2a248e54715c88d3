package llm

// Conversation is the append-only turn sequence of a single continuation session.
// Turns are addressed by index; nothing already appended is ever replaced.
//
// A Conversation is owned by one orchestration loop and is not safe for
// concurrent use.
type Conversation struct {
	turns []Turn
}

// NewConversation creates a conversation seeded with the given turns.
func NewConversation(initial ...Turn) *Conversation {
	c := &Conversation{turns: make([]Turn, 0, len(initial)+8)}
	for _, t := range initial {
		c.Append(t)
	}
	return c
}

// Append stores a copy of the turn and returns its index.
func (c *Conversation) Append(t Turn) int {
	c.turns = append(c.turns, t.clone())
	return len(c.turns) - 1
}

// At returns a copy of the turn at index i.
func (c *Conversation) At(i int) Turn {
	return c.turns[i].clone()
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Last returns the most recent turn, or false when the conversation is empty.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.At(len(c.turns) - 1), true
}

// Turns returns a snapshot of the full ordered sequence.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.clone()
	}
	return out
}
