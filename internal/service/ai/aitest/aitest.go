// Package aitest provides scripted model fakes for tests.
package aitest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai"
)

// Reply is one scripted model answer.
type Reply struct {
	Content string
	Err     error
	Delay   time.Duration
}

// ChatModel is an eino chat model that replays scripted replies in order.
type ChatModel struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]*schema.Message
}

// NewChatModel returns a ChatModel that answers with replies in order.
func NewChatModel(replies ...Reply) *ChatModel {
	return &ChatModel{replies: replies}
}

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("aitest: no scripted reply left")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	m.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reply.Delay):
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return schema.AssistantMessage(reply.Content, nil), nil
}

// Stream implements model.BaseChatModel, emitting the scripted reply one word per chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	parts := Chunks(msg.Content)
	chunks := make([]*schema.Message, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, schema.AssistantMessage(part, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// Chunks splits content the way the fakes stream it: one word plus its trailing space per chunk.
func Chunks(content string) []string {
	return strings.SplitAfter(content, " ")
}

// BindTools implements model.ChatModel; tools are ignored.
func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

// Calls returns the prompts received so far.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

// Completer is a ai.Completer driven by per-purpose functions.
type Completer struct {
	mu       sync.Mutex
	handlers map[ai.Purpose]func(ctx context.Context, req ai.Request) (string, error)
	requests []ai.Request
}

// NewCompleter returns an empty Completer; unhandled purposes fail with ai.ErrModelError.
func NewCompleter() *Completer {
	return &Completer{handlers: make(map[ai.Purpose]func(context.Context, ai.Request) (string, error))}
}

// On registers the handler for one purpose.
func (c *Completer) On(purpose ai.Purpose, fn func(ctx context.Context, req ai.Request) (string, error)) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[purpose] = fn
	return c
}

// Reply registers a fixed answer for one purpose.
func (c *Completer) Reply(purpose ai.Purpose, content string) *Completer {
	return c.On(purpose, func(context.Context, ai.Request) (string, error) { return content, nil })
}

// Fail registers a fixed error for one purpose.
func (c *Completer) Fail(purpose ai.Purpose, err error) *Completer {
	return c.On(purpose, func(context.Context, ai.Request) (string, error) { return "", err })
}

// Complete implements ai.Completer.
func (c *Completer) Complete(ctx context.Context, req ai.Request) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.handlers[req.Purpose]
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn == nil {
		return "", fmt.Errorf("%w: no handler for %s", ai.ErrModelError, req.Purpose)
	}
	content, err := fn(ctx, req)
	if err == nil && req.OnChunk != nil {
		for _, part := range Chunks(content) {
			if part != "" {
				req.OnChunk(part)
			}
		}
	}
	return content, err
}

// Requests returns every request received so far.
func (c *Completer) Requests() []ai.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ai.Request(nil), c.requests...)
}

// Count returns how many requests had the given purpose.
func (c *Completer) Count(purpose ai.Purpose) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, req := range c.requests {
		if req.Purpose == purpose {
			n++
		}
	}
	return n
}
