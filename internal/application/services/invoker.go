package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mshogin/deepresearch/internal/domain/models"
	domainservices "github.com/mshogin/deepresearch/internal/domain/services"
	"github.com/mshogin/deepresearch/internal/infrastructure/keypool"
	"github.com/mshogin/deepresearch/internal/infrastructure/logging"
	"github.com/mshogin/deepresearch/internal/infrastructure/metrics"
)

// ModelInvoker is the single choke point through which every outbound
// provider call in the workflow passes, guaranteeing uniform credential
// accounting. It acquires a key from the pool per attempt, runs the call
// under a per-attempt timeout, reports the outcome, and fails over to a
// fresh key on transient or auth failures.
//
// The retry budget is the pool's available count at entry, so it shrinks as
// keys are exhausted and the loop can never spin unboundedly.
type ModelInvoker struct {
	pool      *keypool.Pool
	generator domainservices.GenerativeProvider
	searcher  domainservices.SearchProvider

	generateTimeout time.Duration
	searchTimeout   time.Duration
}

// NewModelInvoker creates a new invoker bound to the shared credential pool.
func NewModelInvoker(
	pool *keypool.Pool,
	generator domainservices.GenerativeProvider,
	searcher domainservices.SearchProvider,
	generateTimeout time.Duration,
	searchTimeout time.Duration,
) *ModelInvoker {
	return &ModelInvoker{
		pool:            pool,
		generator:       generator,
		searcher:        searcher,
		generateTimeout: generateTimeout,
		searchTimeout:   searchTimeout,
	}
}

// Generate runs one language model call with credential rotation.
func (inv *ModelInvoker) Generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := inv.withRotation(ctx, "generate", inv.generateTimeout, func(callCtx context.Context, key string) error {
		out, err := inv.generator.Generate(callCtx, prompt, key)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}

// Search runs one web search call with credential rotation.
func (inv *ModelInvoker) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	var results []models.SearchResult
	err := inv.withRotation(ctx, "search", inv.searchTimeout, func(callCtx context.Context, key string) error {
		out, err := inv.searcher.Search(callCtx, query, key)
		if err != nil {
			return err
		}
		results = out
		return nil
	})
	return results, err
}

// withRotation drives the acquire/call/report cycle. Every failure is
// recorded against the credential that made the call regardless of whether
// the loop retries or gives up.
func (inv *ModelInvoker) withRotation(ctx context.Context, op string, timeout time.Duration, call func(context.Context, string) error) error {
	budget := inv.pool.Available()
	var attempts []error

	for attempt := 0; attempt < budget; attempt++ {
		cred, err := inv.pool.Acquire()
		if err != nil {
			var exhausted *models.ExhaustionError
			if errors.As(err, &exhausted) {
				exhausted.Attempts = attempts
			}
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err = call(callCtx, cred.Key)
		cancel()
		metrics.ProviderCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err == nil {
			inv.pool.ReportSuccess(cred.Index)
			return nil
		}

		// A cancelled session is not the credential's fault; stop without
		// touching the record.
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return ctx.Err()
		}

		inv.pool.ReportFailure(cred.Index, err)
		metrics.CredentialFailures.Inc()
		logging.Warn("provider call failed, rotating credential", map[string]interface{}{
			"op":        op,
			"key_index": cred.Index,
			"reason":    err.Error(),
		})

		if models.IsFatal(err) {
			return err
		}
		attempts = append(attempts, fmt.Errorf("key[%d]: %w", cred.Index, err))
	}

	return &models.ExhaustionError{Snapshot: inv.pool.Snapshot(), Attempts: attempts}
}
