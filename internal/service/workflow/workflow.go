package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
	"github.com/zhouzirui/guest-roleplay/backend/internal/observability/metrics"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/completion"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/guest"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

const (
	nodeValidate = "validate"
	nodeAppend   = "append_trainee"
	nodeEvaluate = "evaluate"
	nodeCheck    = "check_completion"
	nodeGenerate = "generate_guest"
	nodeFinish   = "finish"
)

// TurnGenerator produces the next guest line, passing raw model chunks to onChunk when it is set.
type TurnGenerator interface {
	StreamTurn(ctx context.Context, sc scenario.Scenario, p persona.Persona, conversation []session.Turn, onChunk func(string)) (guest.Utterance, error)
}

// TurnEvaluator rates a trainee turn.
type TurnEvaluator interface {
	Rate(ctx context.Context, sc scenario.Scenario, p persona.Persona, conversation []session.Turn, turn session.Turn) (session.Rating, error)
}

// CompletionChecker decides whether the session is over.
type CompletionChecker interface {
	Check(sc scenario.Scenario, conversation []session.Turn, forceEnd bool) completion.Decision
}

// Request is one workflow invocation.
//
// An empty TraineeMessage is only accepted to open a session (empty conversation)
// or together with ForceEnd to end it without a new turn.
type Request struct {
	State          session.State
	TraineeMessage string
	ForceEnd       bool
	// OnGuestChunk receives the guest reply while it is generated. The final text in the
	// returned state is authoritative.
	OnGuestChunk func(chunk string)
}

// Workflow sequences evaluation, completion check and guest generation for one trainee turn.
// It keeps no per-session state; one instance serves every session concurrently.
type Workflow struct {
	runnable  compose.Runnable[*run, *run]
	generator TurnGenerator
	evaluator TurnEvaluator
	detector  CompletionChecker
	logger    *logging.Logger
	metrics   *metrics.TrainingMetrics
	tracer    trace.Tracer
}

// Option customises a Workflow.
type Option func(*Workflow)

// WithLogger sets the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Workflow) { w.logger = l.Named("workflow") }
}

// WithMetrics records invocation and step metrics.
func WithMetrics(m *metrics.TrainingMetrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// run is the working copy threaded through the graph for a single invocation.
type run struct {
	state      session.State
	message    string
	forceEnd   bool
	onChunk    func(string)
	traineeIdx int
	checked    bool
	decision   completion.Decision
	failedStep string
	failure    error
}

// New compiles the turn graph.
func New(ctx context.Context, generator TurnGenerator, evaluator TurnEvaluator, detector CompletionChecker, opts ...Option) (*Workflow, error) {
	if generator == nil || evaluator == nil || detector == nil {
		return nil, fmt.Errorf("workflow requires a generator, an evaluator and a completion checker")
	}

	w := &Workflow{
		generator: generator,
		evaluator: evaluator,
		detector:  detector,
		logger:    logging.Nop(),
		tracer:    otel.Tracer("roleplay.internal.service.workflow"),
	}
	for _, opt := range opts {
		opt(w)
	}

	g := compose.NewGraph[*run, *run]()
	steps := []struct {
		key string
		fn  func(context.Context, *run) error
	}{
		{nodeValidate, w.validate},
		{nodeAppend, w.appendTrainee},
		{nodeEvaluate, w.evaluate},
		{nodeCheck, w.checkCompletion},
		{nodeGenerate, w.generate},
		{nodeFinish, w.finish},
	}
	for _, step := range steps {
		if err := g.AddLambdaNode(step.key, compose.InvokableLambda(w.instrument(step.key, step.fn))); err != nil {
			return nil, fmt.Errorf("add node %s: %w", step.key, err)
		}
	}

	edges := [][2]string{
		{compose.START, nodeValidate},
		{nodeValidate, nodeAppend},
		{nodeAppend, nodeEvaluate},
		{nodeEvaluate, nodeCheck},
		{nodeGenerate, compose.END},
		{nodeFinish, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	branch := compose.NewGraphBranch(func(_ context.Context, r *run) (string, error) {
		if r.decision.Completed {
			return nodeFinish, nil
		}
		return nodeGenerate, nil
	}, map[string]bool{nodeGenerate: true, nodeFinish: true})
	if err := g.AddBranch(nodeCheck, branch); err != nil {
		return nil, fmt.Errorf("add completion branch: %w", err)
	}

	runnable, err := g.Compile(ctx, compose.WithGraphName("training_turn"))
	if err != nil {
		return nil, fmt.Errorf("failed to compile training workflow: %w", err)
	}
	w.runnable = runnable
	return w, nil
}

// Run executes one invocation and returns the updated state. req.State is never modified.
//
// When guest generation fails after the trainee turn was appended and rated, Run returns
// that partially advanced state together with the error. Every other failure, including
// cancellation of ctx, returns a nil state.
func (w *Workflow) Run(ctx context.Context, req Request) (*session.State, error) {
	ctx, span := w.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("session_id", req.State.ID),
		attribute.Int("history_len", len(req.State.Conversation)),
		attribute.Bool("force_end", req.ForceEnd),
	))
	defer span.End()

	r := &run{
		state:      req.State.Clone(),
		message:    strings.TrimSpace(req.TraineeMessage),
		forceEnd:   req.ForceEnd,
		onChunk:    req.OnGuestChunk,
		traineeIdx: -1,
	}

	if _, err := w.runnable.Invoke(ctx, r); err != nil {
		if r.failure != nil {
			err = r.failure
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if ctxErr := ctx.Err(); ctxErr != nil {
			w.metrics.ObserveInvocation("cancelled")
			return nil, ctxErr
		}

		w.metrics.ObserveInvocation(failureOutcome(err))
		w.logger.For(ctx).Warn("training turn failed",
			zap.String("session_id", req.State.ID),
			zap.String("step", r.failedStep),
			zap.Error(err),
		)
		if r.failedStep == nodeGenerate && r.traineeIdx >= 0 {
			return &r.state, err
		}
		return nil, err
	}

	outcome := "continued"
	switch {
	case r.state.Status == session.StatusCompleted:
		outcome = "completed"
	case r.traineeIdx < 0:
		outcome = "opened"
	}
	w.metrics.ObserveInvocation(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))

	fields := []zap.Field{
		zap.String("session_id", r.state.ID),
		zap.String("outcome", outcome),
		zap.Int("turns", len(r.state.Conversation)),
	}
	if r.state.LastRating != nil {
		fields = append(fields, zap.Int("rating", *r.state.LastRating))
	}
	w.logger.For(ctx).Info("training turn processed", fields...)
	return &r.state, nil
}

func failureOutcome(err error) string {
	switch {
	case validate.IsSchemaError(err):
		return "rejected"
	case errors.Is(err, session.ErrSessionNotActive):
		return "not_active"
	default:
		return "failed"
	}
}

// instrument wraps a step with a span, latency metric and failure bookkeeping.
func (w *Workflow) instrument(key string, fn func(context.Context, *run) error) func(context.Context, *run) (*run, error) {
	return func(ctx context.Context, r *run) (*run, error) {
		ctx, span := w.tracer.Start(ctx, "workflow."+key)
		defer span.End()

		started := time.Now()
		err := fn(ctx, r)
		w.metrics.ObserveStep(key, time.Since(started).Seconds())
		if err != nil {
			r.failedStep = key
			r.failure = err
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return r, err
		}
		return r, nil
	}
}

func (w *Workflow) validate(_ context.Context, r *run) error {
	if r.state.Status == "" {
		return validate.Errorf("state", "status", "is required")
	}
	if r.state.Status != session.StatusActive {
		return fmt.Errorf("%w: status is %s", session.ErrSessionNotActive, r.state.Status)
	}
	if err := r.state.Validate(); err != nil {
		return err
	}

	last, hasTurns := r.state.LastTurn()
	switch {
	case r.message == "" && (r.forceEnd || !hasTurns):
		return nil
	case r.message == "":
		return validate.Errorf("request", "traineeMessage", "is required")
	case hasTurns && last.Speaker == session.Trainee:
		return validate.Errorf("request", "conversation", "ends with a trainee turn that has no guest reply")
	}
	return nil
}

func (w *Workflow) appendTrainee(_ context.Context, r *run) error {
	if r.message == "" {
		return nil
	}
	if err := r.state.Append(session.NewTraineeTurn(r.message)); err != nil {
		return err
	}
	r.traineeIdx = len(r.state.Conversation) - 1
	return nil
}

// evaluate degrades any evaluator failure to an unrated turn. Only cancellation aborts.
func (w *Workflow) evaluate(ctx context.Context, r *run) error {
	if r.traineeIdx < 0 {
		return nil
	}

	turn := &r.state.Conversation[r.traineeIdx]
	rating, err := w.evaluator.Rate(ctx, r.state.Scenario, r.state.Persona, r.state.Conversation[:r.traineeIdx], *turn)
	if err == nil {
		err = turn.AttachRating(rating)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.metrics.ObserveEvaluatorFailure()
		w.logger.For(ctx).Warn("rating unavailable, continuing without it",
			zap.String("session_id", r.state.ID),
			zap.Error(err),
		)
		r.state.LastRating = nil
		r.state.LastRatingReason = ""
		return nil
	}

	w.metrics.ObserveRating(rating.Score)
	score := rating.Score
	r.state.LastRating = &score
	r.state.LastRatingReason = rating.Reason
	return nil
}

func (w *Workflow) checkCompletion(ctx context.Context, r *run) error {
	if r.traineeIdx < 0 && !r.forceEnd {
		return nil
	}

	r.checked = true
	r.decision = w.detector.Check(r.state.Scenario, r.state.Conversation, r.forceEnd)
	if r.decision.AggregationErr != nil {
		w.logger.For(ctx).Warn("feedback aggregation degraded",
			zap.String("session_id", r.state.ID),
			zap.Error(r.decision.AggregationErr),
		)
	}
	return nil
}

func (w *Workflow) generate(ctx context.Context, r *run) error {
	utterance, err := w.generator.StreamTurn(ctx, r.state.Scenario, r.state.Persona, r.state.Conversation, r.onChunk)
	if err != nil {
		return err
	}
	return r.state.Append(session.NewGuestTurn(utterance.Content))
}

func (w *Workflow) finish(_ context.Context, r *run) error {
	if err := r.state.Complete(r.decision.Feedback); err != nil {
		return err
	}
	w.metrics.ObserveCompletion(string(r.decision.Outcome))
	return nil
}
