package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/infrastructure/logging"
	"github.com/mshogin/deepresearch/internal/infrastructure/metrics"
)

// WorkflowController drives the research state machine for every session
// and is the only component exposed to the transport layer.
//
// Design principles:
// - One goroutine per session: all Session mutation happens there, through
//   the closed stage transition table
// - Stages run sequentially; only the dispatch round inside RESEARCHING
//   fans out
// - Sessions share nothing with each other except the credential pool
//   buried inside the invoker
type WorkflowController struct {
	planner    *QueryPlanner
	dispatcher *ResearchDispatcher
	reflector  *ReflectionEvaluator
	finalizer  *AnswerFinalizer

	mu       sync.RWMutex
	runs     map[string]*sessionRun
	finished []string // terminal session ids, oldest first
}

// maxRetainedSessions bounds how many terminal sessions stay queryable for
// polling before the oldest are dropped.
const maxRetainedSessions = 128

// sessionRun pairs a live session with its cancellation handle and event
// stream. The run lock guards the session against concurrent reads from the
// HTTP layer while the workflow goroutine mutates it.
type sessionRun struct {
	mu      sync.RWMutex
	session *models.Session
	cancel  context.CancelFunc
	events  chan *StageEvent
}

func (r *sessionRun) update(mutate func(*models.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(r.session)
}

func (r *sessionRun) snapshot() models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session.Snapshot()
}

// NewWorkflowController creates a controller over the four stage components.
func NewWorkflowController(
	planner *QueryPlanner,
	dispatcher *ResearchDispatcher,
	reflector *ReflectionEvaluator,
	finalizer *AnswerFinalizer,
) *WorkflowController {
	return &WorkflowController{
		planner:    planner,
		dispatcher: dispatcher,
		reflector:  reflector,
		finalizer:  finalizer,
		runs:       make(map[string]*sessionRun),
	}
}

// Submit starts a new research session and returns its id plus the stream
// of stage events. The channel closes once the session reaches a terminal
// stage. Unrecognized effort values are rejected, never defaulted.
func (c *WorkflowController) Submit(ctx context.Context, question, effort string) (string, <-chan *StageEvent, error) {
	if strings.TrimSpace(question) == "" {
		return "", nil, models.ErrEmptyQuestion
	}
	parsedEffort, err := models.ParseEffort(effort)
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	run := &sessionRun{
		session: models.NewSession(id, strings.TrimSpace(question), parsedEffort),
		cancel:  cancel,
		events:  make(chan *StageEvent, 16),
	}

	c.mu.Lock()
	c.runs[id] = run
	c.mu.Unlock()

	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()
	go c.execute(runCtx, run)

	return id, run.events, nil
}

// Cancel requests early termination of a session. It is idempotent: the
// acknowledgment is the same whether the session is running, already
// cancelled, or otherwise terminal.
func (c *WorkflowController) Cancel(sessionID string) error {
	c.mu.RLock()
	run, ok := c.runs[sessionID]
	c.mu.RUnlock()
	if !ok {
		return models.ErrSessionNotFound
	}
	run.cancel()
	return nil
}

// Get returns a copy of the session's current state.
func (c *WorkflowController) Get(sessionID string) (models.Session, error) {
	c.mu.RLock()
	run, ok := c.runs[sessionID]
	c.mu.RUnlock()
	if !ok {
		return models.Session{}, models.ErrSessionNotFound
	}
	return run.snapshot(), nil
}

// retire records a session as terminal and evicts the oldest terminal
// sessions beyond the retention bound. Running sessions are never evicted.
func (c *WorkflowController) retire(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, sessionID)
	for len(c.finished) > maxRetainedSessions {
		delete(c.runs, c.finished[0])
		c.finished = c.finished[1:]
	}
}

// execute runs the full stage loop for one session.
func (c *WorkflowController) execute(ctx context.Context, run *sessionRun) {
	defer close(run.events)
	defer metrics.ActiveSessions.Dec()

	session := run.snapshot()
	defer c.retire(session.ID)
	log := logging.GetDefaultLogger().NewContext(map[string]interface{}{
		"session_id": session.ID,
	})
	c.emit(ctx, run, NewSessionEvent(session.ID))

	// PLANNING
	c.transition(run, models.StagePlanning)
	queries, maxLoops, err := c.planner.Plan(ctx, session.Question, session.Effort)
	if err != nil {
		c.terminate(ctx, run, log, err)
		return
	}

	var current []models.Query
	run.update(func(s *models.Session) {
		s.MaxLoops = maxLoops
		current = s.AddQueries(0, queries)
	})
	log.Info("planned initial queries", map[string]interface{}{
		"queries":   len(queries),
		"max_loops": maxLoops,
	})
	c.emit(ctx, run, NewStageEvent(models.StagePlanning, PlanningPayload{
		Queries:  queries,
		MaxLoops: maxLoops,
	}))

	for {
		if ctx.Err() != nil {
			c.terminate(ctx, run, log, ctx.Err())
			return
		}

		// RESEARCHING
		c.transition(run, models.StageResearching)
		metrics.ResearchRounds.Inc()
		merged, outcomes, err := c.dispatcher.Research(ctx, current)
		session = run.snapshot()
		if err != nil {
			if !errors.Is(err, models.ErrResearchExhausted) {
				c.terminate(ctx, run, log, err)
				return
			}
			// Total fetch failure is fatal only in the first round; later
			// rounds fall through to reflection with zero new sources,
			// since prior evidence may already be sufficient.
			if session.LoopCount == 0 {
				c.terminate(ctx, run, log, err)
				return
			}
			log.Warn("research round returned no sources, proceeding on prior evidence")
			merged = nil
		}

		failedQueries := 0
		for i := range outcomes {
			if outcomes[i].Err != nil {
				failedQueries++
			}
		}

		var newSources []models.Source
		run.update(func(s *models.Session) {
			for _, result := range merged {
				if src, fresh := s.AddSource(result); fresh {
					newSources = append(newSources, src)
				}
			}
		})
		session = run.snapshot()
		c.emit(ctx, run, NewStageEvent(models.StageResearching, ResearchPayload{
			Round:         session.LoopCount + 1,
			NewSources:    newSources,
			TotalSources:  len(session.Sources),
			FailedQueries: failedQueries,
		}))

		// Once the loop budget is spent the controller forces sufficiency;
		// the reflector is not consulted at all.
		if session.LoopCount >= session.MaxLoops {
			break
		}

		// REFLECTING
		c.transition(run, models.StageReflecting)
		verdict, err := c.reflector.Reflect(ctx, session.Question, session.Queries, session.Sources, session.RemainingLoops())
		if err != nil {
			c.terminate(ctx, run, log, err)
			return
		}
		c.emit(ctx, run, NewStageEvent(models.StageReflecting, ReflectionPayload{
			Sufficient:      verdict.Sufficient,
			KnowledgeGap:    verdict.KnowledgeGap,
			FollowUpQueries: verdict.FollowUpQueries,
		}))
		if verdict.Sufficient {
			break
		}

		run.update(func(s *models.Session) {
			s.LoopCount++
			current = s.AddQueries(s.LoopCount, verdict.FollowUpQueries)
		})
	}

	// FINALIZING
	c.transition(run, models.StageFinalizing)
	session = run.snapshot()
	c.emit(ctx, run, NewStageEvent(models.StageFinalizing, FinalizingPayload{
		SourceCount: len(session.Sources),
	}))
	answer, err := c.finalizer.Finalize(ctx, session.Question, session.Sources)
	if err != nil {
		c.terminate(ctx, run, log, err)
		return
	}

	run.update(func(s *models.Session) {
		s.Answer = answer
	})
	c.transition(run, models.StageDone)
	session = run.snapshot()
	c.emit(ctx, run, NewStageEvent(models.StageDone, AnswerPayload{
		Answer:      answer,
		SourceCount: len(session.Sources),
	}))
	c.emit(ctx, run, NewDoneEvent(models.StageDone))
	metrics.SessionsFinished.WithLabelValues(string(models.StageDone)).Inc()
	log.Info("session finished", map[string]interface{}{
		"loops":   session.LoopCount,
		"sources": len(session.Sources),
	})
}

// terminate moves the session to CANCELLED or FAILED exactly once and emits
// the closing events. Session failures are never silently swallowed: the
// cause is stored on the session and streamed to the caller.
func (c *WorkflowController) terminate(ctx context.Context, run *sessionRun, log *logging.LoggerContext, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		c.transition(run, models.StageCancelled)
		c.emit(context.Background(), run, NewDoneEvent(models.StageCancelled))
		metrics.SessionsFinished.WithLabelValues(string(models.StageCancelled)).Inc()
		log.Info("session cancelled")
		return
	}

	cause := err.Error()
	run.update(func(s *models.Session) {
		s.FailureCause = cause
	})
	c.transition(run, models.StageFailed)
	c.emit(ctx, run, NewErrorEvent(models.StageFailed, cause))
	c.emit(ctx, run, NewDoneEvent(models.StageFailed))
	metrics.SessionsFinished.WithLabelValues(string(models.StageFailed)).Inc()
	log.Error("session failed", err)
}

// transition applies a stage change under the run lock. The transition
// table makes an illegal move a programming error, not a recoverable state.
func (c *WorkflowController) transition(run *sessionRun, next models.Stage) {
	run.update(func(s *models.Session) {
		if err := s.Transition(next); err != nil {
			logging.Error("illegal stage transition", err, map[string]interface{}{
				"session_id": s.ID,
			})
		}
	})
}

// emit sends an event without ever blocking a cancelled session.
func (c *WorkflowController) emit(ctx context.Context, run *sessionRun, event *StageEvent) {
	select {
	case run.events <- event:
	case <-ctx.Done():
	}
}
