package contextpack

import "strings"

// Exchange is one user message and the assistant's reply.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

func (e Exchange) tokens() int {
	return EstimateTokens(e.User) + EstimateTokens(e.Assistant)
}

// Buffer is a conversation history bounded by exchange count and by total
// estimated tokens. The oldest exchanges are evicted first under either bound.
type Buffer struct {
	maxExchanges int
	maxTokens    int
	exchanges    []Exchange
}

// NewBuffer creates a buffer seeded with prior exchanges, oldest first.
// Seed entries beyond the bounds are evicted immediately.
func NewBuffer(maxExchanges, maxTokens int, seed []Exchange) *Buffer {
	b := &Buffer{maxExchanges: maxExchanges, maxTokens: maxTokens}
	b.exchanges = append(b.exchanges, seed...)
	b.evict()
	return b
}

// Append adds an exchange and evicts as needed.
func (b *Buffer) Append(user, assistant string) {
	b.exchanges = append(b.exchanges, Exchange{User: user, Assistant: assistant})
	b.evict()
}

func (b *Buffer) evict() {
	for len(b.exchanges) > 0 && (len(b.exchanges) > b.maxExchanges || b.Tokens() > b.maxTokens) {
		b.exchanges = b.exchanges[1:]
	}
}

// Tokens returns the estimated token total of the buffered exchanges.
func (b *Buffer) Tokens() int {
	n := 0
	for _, e := range b.exchanges {
		n += e.tokens()
	}
	return n
}

// Len returns the number of buffered exchanges.
func (b *Buffer) Len() int { return len(b.exchanges) }

// Exchanges returns a copy of the buffered exchanges, oldest first.
func (b *Buffer) Exchanges() []Exchange {
	out := make([]Exchange, len(b.exchanges))
	copy(out, b.exchanges)
	return out
}

// Render formats the buffer for a prompt.
func (b *Buffer) Render() string {
	var sb strings.Builder
	for i, e := range b.exchanges {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("User: ")
		sb.WriteString(e.User)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(e.Assistant)
	}
	return sb.String()
}
