package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
	"github.com/zhouzirui/guest-roleplay/backend/internal/observability/metrics"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai/aitest"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/completion"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/evaluator"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/guest"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

const ratingReply = `{"score": 4, "reason": "Warm and clear", "suggestions": ["Offer an alternative"]}`

func testScenario(maxTurns int) scenario.Scenario {
	return scenario.Scenario{
		ID:         "lost-key",
		Title:      "Lost key card",
		Situation:  "A guest is locked out of their room.",
		Objectives: []string{"Verify identity", "Issue a new key"},
		Difficulty: scenario.Medium,
		Completion: scenario.CompletionRules{
			MaxTraineeTurns: maxTurns,
			SuccessPhrases:  []string{"here is your new key"},
		},
	}
}

func newModel() *aitest.Completer {
	return aitest.NewCompleter().
		Reply(ai.PurposeEvaluation, ratingReply).
		Reply(ai.PurposeGuestTurn, "Fine, but please hurry.")
}

func newWorkflow(t *testing.T, model ai.Completer, opts ...Option) *Workflow {
	t.Helper()
	logger := logging.Nop()
	wf, err := New(context.Background(),
		guest.NewGenerator(model, 0, logger),
		evaluator.New(model, 0, logger),
		completion.NewDetector(10),
		append([]Option{WithLogger(logger)}, opts...)...,
	)
	require.NoError(t, err)
	return wf
}

func openedState(maxTurns int) session.State {
	st := session.New("s-1", testScenario(maxTurns), persona.Seed()[0])
	st.Conversation = append(st.Conversation, session.NewGuestTurn("I can't get into my room."))
	return st
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}

func TestOpeningAddsGuestTurn(t *testing.T) {
	model := newModel()
	wf := newWorkflow(t, model)

	st := session.New("s-1", testScenario(3), persona.Seed()[0])
	out, err := wf.Run(context.Background(), Request{State: st})
	require.NoError(t, err)

	require.Len(t, out.Conversation, 1)
	assert.Equal(t, session.Guest, out.Conversation[0].Speaker)
	assert.Equal(t, session.StatusActive, out.Status)
	assert.Zero(t, model.Count(ai.PurposeEvaluation))
}

func TestTurnAppendsTraineeAndGuest(t *testing.T) {
	wf := newWorkflow(t, newModel())
	in := openedState(5)

	out, err := wf.Run(context.Background(), Request{State: in, TraineeMessage: "  I'm sorry, may I see your ID?  "})
	require.NoError(t, err)

	require.Len(t, out.Conversation, len(in.Conversation)+2)
	trainee := out.Conversation[1]
	assert.Equal(t, session.Trainee, trainee.Speaker)
	assert.Equal(t, "I'm sorry, may I see your ID?", trainee.Content)
	require.NotNil(t, trainee.Rating)
	assert.Equal(t, 4, *trainee.Rating)
	assert.Equal(t, session.Guest, out.Conversation[2].Speaker)

	require.NotNil(t, out.LastRating)
	assert.Equal(t, 4, *out.LastRating)
	assert.Equal(t, "Warm and clear", out.LastRatingReason)
	assert.Equal(t, session.StatusActive, out.Status)
	assert.Nil(t, out.Feedback)

	assert.Len(t, in.Conversation, 1, "input state must not be modified")
}

func TestTraineeFarewellWordsContinueSession(t *testing.T) {
	wf := newWorkflow(t, newModel())

	out, err := wf.Run(context.Background(), Request{State: openedState(5), TraineeMessage: "Don't say forget it, I'm not leaving you locked out."})
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, out.Status)
	assert.Len(t, out.Conversation, 3)
}

func TestGuestReplyIsStreamed(t *testing.T) {
	wf := newWorkflow(t, newModel())

	var chunks []string
	out, err := wf.Run(context.Background(), Request{
		State:          openedState(5),
		TraineeMessage: "May I see your ID?",
		OnGuestChunk:   func(chunk string) { chunks = append(chunks, chunk) },
	})
	require.NoError(t, err)

	require.Len(t, out.Conversation, 3)
	assert.Equal(t, []string{"Fine, ", "but ", "please ", "hurry."}, chunks)
	assert.Equal(t, out.Conversation[2].Content, strings.Join(chunks, ""))
}

func TestCompletedTurnStreamsNothing(t *testing.T) {
	wf := newWorkflow(t, newModel())

	called := false
	out, err := wf.Run(context.Background(), Request{
		State:          openedState(10),
		TraineeMessage: "Thank you, here is your new key.",
		OnGuestChunk:   func(string) { called = true },
	})
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, out.Status)
	assert.False(t, called)
}

func TestRejectsInactiveSession(t *testing.T) {
	for _, status := range []session.Status{session.StatusPaused, session.StatusCompleted} {
		model := newModel()
		wf := newWorkflow(t, model)

		st := openedState(5)
		st.Status = status
		out, err := wf.Run(context.Background(), Request{State: st, TraineeMessage: "hello"})
		assert.ErrorIs(t, err, session.ErrSessionNotActive, status)
		assert.Nil(t, out)
		assert.Empty(t, model.Requests(), status)
	}
}

func TestRejectsMissingStatus(t *testing.T) {
	model := newModel()
	wf := newWorkflow(t, model)

	st := openedState(5)
	st.Status = ""
	out, err := wf.Run(context.Background(), Request{State: st, TraineeMessage: "hello"})
	require.Error(t, err)
	assert.True(t, validate.IsSchemaError(err))
	assert.NotErrorIs(t, err, session.ErrSessionNotActive)
	assert.Nil(t, out)
	assert.Empty(t, model.Requests())
}

func TestRejectsMissingMessage(t *testing.T) {
	wf := newWorkflow(t, newModel())

	_, err := wf.Run(context.Background(), Request{State: openedState(5), TraineeMessage: "   "})
	require.Error(t, err)
	assert.True(t, validate.IsSchemaError(err))
}

func TestRejectsBrokenState(t *testing.T) {
	wf := newWorkflow(t, newModel())

	st := openedState(5)
	st.Conversation = append(st.Conversation, session.NewGuestTurn("again"))
	_, err := wf.Run(context.Background(), Request{State: st, TraineeMessage: "hello"})
	require.Error(t, err)
	assert.True(t, validate.IsSchemaError(err))
}

func TestEvaluatorFailureStillGenerates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewTrainingMetrics(reg)
	model := aitest.NewCompleter().
		Fail(ai.PurposeEvaluation, fmt.Errorf("%w: upstream 503", ai.ErrModelUnavailable)).
		Reply(ai.PurposeGuestTurn, "Okay.")
	wf := newWorkflow(t, model, WithMetrics(m))

	st := openedState(5)
	score := 2
	st.LastRating = &score
	out, err := wf.Run(context.Background(), Request{State: st, TraineeMessage: "Let me help."})
	require.NoError(t, err)

	require.Len(t, out.Conversation, 3)
	assert.Nil(t, out.Conversation[1].Rating)
	assert.Nil(t, out.LastRating)
	assert.Equal(t, "Okay.", out.Conversation[2].Content)
	assert.Equal(t, 1, model.Count(ai.PurposeGuestTurn))
	expected := `
# HELP roleplay_workflow_evaluator_failures_total Trainee turns left unrated because evaluation failed
# TYPE roleplay_workflow_evaluator_failures_total counter
roleplay_workflow_evaluator_failures_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "roleplay_workflow_evaluator_failures_total"))
}

func TestMaxTurnsEndsSession(t *testing.T) {
	model := newModel()
	wf := newWorkflow(t, model)

	st := openedState(3)
	for i := 1; i <= 3; i++ {
		out, err := wf.Run(context.Background(), Request{State: st, TraineeMessage: fmt.Sprintf("Reply number %d", i)})
		require.NoError(t, err)
		st = *out
	}

	assert.Equal(t, session.StatusCompleted, st.Status)
	require.NotNil(t, st.Feedback)
	assert.Equal(t, session.OutcomeMaxTurns, st.Feedback.Outcome)
	assert.Equal(t, 3, st.Feedback.TraineeTurns)
	require.NotNil(t, st.Feedback.AverageScore)
	assert.Equal(t, 4.0, *st.Feedback.AverageScore)

	last, _ := st.LastTurn()
	assert.Equal(t, session.Trainee, last.Speaker, "no guest turn after completion")
	assert.Len(t, st.Conversation, 1+3+2)
	assert.Equal(t, 2, model.Count(ai.PurposeGuestTurn))

	_, err := wf.Run(context.Background(), Request{State: st, TraineeMessage: "one more"})
	assert.ErrorIs(t, err, session.ErrSessionNotActive)
}

func TestSuccessPhraseEndsSession(t *testing.T) {
	model := newModel()
	wf := newWorkflow(t, model)

	out, err := wf.Run(context.Background(), Request{State: openedState(10), TraineeMessage: "Thank you, here is your new key."})
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, out.Status)
	require.NotNil(t, out.Feedback)
	assert.Equal(t, session.OutcomeObjectiveMet, out.Feedback.Outcome)
	assert.NotNil(t, out.Feedback.Assessment)
	assert.Len(t, out.Conversation, 2)
	assert.Zero(t, model.Count(ai.PurposeGuestTurn))
}

func TestForceEnd(t *testing.T) {
	t.Run("with message", func(t *testing.T) {
		model := newModel()
		wf := newWorkflow(t, model)

		out, err := wf.Run(context.Background(), Request{State: openedState(10), TraineeMessage: "I have to go.", ForceEnd: true})
		require.NoError(t, err)
		assert.Equal(t, session.StatusCompleted, out.Status)
		assert.Equal(t, session.OutcomeForced, out.Feedback.Outcome)
		assert.Len(t, out.Conversation, 2)
		assert.Equal(t, 1, model.Count(ai.PurposeEvaluation))
		assert.Zero(t, model.Count(ai.PurposeGuestTurn))
	})

	t.Run("without message", func(t *testing.T) {
		model := newModel()
		wf := newWorkflow(t, model)

		out, err := wf.Run(context.Background(), Request{State: openedState(10), ForceEnd: true})
		require.NoError(t, err)
		assert.Equal(t, session.StatusCompleted, out.Status)
		assert.Len(t, out.Conversation, 1)
		assert.Equal(t, 0, out.Feedback.RatedTurns)
		assert.Empty(t, model.Requests())
	})
}

func TestGenerationUnavailableKeepsRatedTraineeTurn(t *testing.T) {
	model := aitest.NewCompleter().
		Reply(ai.PurposeEvaluation, ratingReply).
		Fail(ai.PurposeGuestTurn, fmt.Errorf("%w: %w", ai.ErrModelUnavailable, context.DeadlineExceeded))
	wf := newWorkflow(t, model)

	in := openedState(10)
	out, err := wf.Run(context.Background(), Request{State: in, TraineeMessage: "One moment please."})
	require.ErrorIs(t, err, ai.ErrModelUnavailable)
	require.NotNil(t, out)

	require.Len(t, out.Conversation, 2)
	last, _ := out.LastTurn()
	assert.Equal(t, session.Trainee, last.Speaker)
	require.NotNil(t, last.Rating)
	assert.Equal(t, session.StatusActive, out.Status)
	assert.Len(t, in.Conversation, 1)
}

func TestCancellationAbortsWithoutState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := aitest.NewCompleter().
		On(ai.PurposeEvaluation, func(ctx context.Context, _ ai.Request) (string, error) {
			cancel()
			return "", ctx.Err()
		}).
		Reply(ai.PurposeGuestTurn, "never")
	wf := newWorkflow(t, model)

	out, err := wf.Run(ctx, Request{State: openedState(10), TraineeMessage: "hello"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, out)
	assert.Zero(t, model.Count(ai.PurposeGuestTurn))
}

func TestFeedbackIsDeterministic(t *testing.T) {
	wf := newWorkflow(t, newModel())
	req := Request{State: openedState(1), TraineeMessage: "Sorry about that, let me fix it."}

	first, err := wf.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := wf.Run(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, first.Feedback)
	assert.Equal(t, first.Feedback, second.Feedback)
}

func TestConcurrentSessions(t *testing.T) {
	wf := newWorkflow(t, newModel())

	var wg sync.WaitGroup
	errs := make([]error, 16)
	lens := make([]int, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := openedState(10)
			st.ID = fmt.Sprintf("s-%d", i)
			out, err := wf.Run(context.Background(), Request{State: st, TraineeMessage: "How can I help?"})
			errs[i] = err
			if out != nil {
				lens[i] = len(out.Conversation)
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		assert.NoError(t, errs[i])
		assert.Equal(t, 3, lens[i])
	}
}
