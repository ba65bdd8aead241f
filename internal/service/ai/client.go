package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/observability/metrics"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

// Purpose labels a model call for logs, spans and metrics.
type Purpose string

const (
	PurposeGuestTurn  Purpose = "guest_turn"
	PurposeEvaluation Purpose = "evaluation"
	PurposePersona    Purpose = "persona"
)

// Request is one prompt for the chat model.
type Request struct {
	Purpose Purpose
	System  string
	History []*schema.Message
	Query   string
	// OnChunk, when set, streams the completion and receives each non-empty chunk as it arrives.
	OnChunk func(chunk string)
}

// Completer is the generative-model collaborator seen by the training components.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client runs prompts through an eino chain (chat template -> chat model).
// It is safe for concurrent use; the compiled chain is shared read-only.
type Client struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.TrainingMetrics
	tracer  trace.Tracer
}

// Option customises a Client.
type Option func(*Client)

// WithTimeout bounds every model call. Expiry is reported as ErrModelUnavailable.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Named("ai") }
}

// WithMetrics records model call outcomes.
func WithMetrics(m *metrics.TrainingMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient compiles the prompt chain around chatModel.
func NewClient(ctx context.Context, chatModel model.BaseChatModel, opts ...Option) (*Client, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	c := &Client{
		chain:  runnable,
		logger: logging.Nop(),
		tracer: otel.Tracer("roleplay.internal.service.ai"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete sends one prompt and returns the trimmed completion text.
// A cancelled ctx is returned as-is; every other failure wraps ErrModelUnavailable or ErrModelError.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ai.complete", trace.WithAttributes(
		attribute.String("purpose", string(req.Purpose)),
		attribute.Int("history_len", len(req.History)),
		attribute.Bool("streaming", req.OnChunk != nil),
	))
	defer span.End()

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	msg, err := c.run(callCtx, map[string]any{
		"system":  req.System,
		"history": req.History,
		"query":   req.Query,
	}, req.OnChunk)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			c.metrics.ObserveModelCall(string(req.Purpose), "cancelled")
			return "", ctxErr
		}
		classified := Classify(err)
		if callCtx.Err() != nil && !errors.Is(classified, ErrModelUnavailable) {
			classified = fmt.Errorf("%w: %w", ErrModelUnavailable, callCtx.Err())
		}
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		c.metrics.ObserveModelCall(string(req.Purpose), statusLabel(classified))
		c.logger.For(ctx).Warn("model call failed",
			zap.String("purpose", string(req.Purpose)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(classified),
		)
		return "", classified
	}

	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		err := fmt.Errorf("%w: empty completion", ErrModelError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveModelCall(string(req.Purpose), "error")
		return "", err
	}

	c.metrics.ObserveModelCall(string(req.Purpose), "ok")
	c.logger.For(ctx).Debug("model call completed",
		zap.String("purpose", string(req.Purpose)),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("length", len(msg.Content)),
	)
	return strings.TrimSpace(msg.Content), nil
}

func (c *Client) run(ctx context.Context, input map[string]any, onChunk func(string)) (*schema.Message, error) {
	if onChunk == nil {
		return c.chain.Invoke(ctx, input)
	}

	stream, err := c.chain.Stream(ctx, input)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			onChunk(chunk.Content)
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return schema.ConcatMessages(chunks)
}

func statusLabel(err error) string {
	if errors.Is(err, ErrModelUnavailable) {
		return "unavailable"
	}
	return "error"
}
