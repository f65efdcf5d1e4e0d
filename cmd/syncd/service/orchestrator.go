package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/cmd/syncd/platform"
	"github.com/clubops/membersync/common/backoff"
	"github.com/clubops/membersync/common/config"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/queue"
	"github.com/clubops/membersync/common/ratelimit"
	"github.com/clubops/membersync/common/syncerr"
	"github.com/google/uuid"
)

// jobQueue is the durable queue surface the orchestrator needs
type jobQueue interface {
	Enqueue(ctx context.Context, stream string, payload []byte) (string, error)
}

// OrchestratorService coordinates sync jobs: it persists them to the
// queue, gates execution through the per-platform rate limiter, invokes
// the reconciler and records outcomes in the ledger.
type OrchestratorService struct {
	cfg        *config.Config
	registry   *platform.Registry
	queue      jobQueue
	limiter    *ratelimit.Limiter
	reconciler *ReconcilerService
	ledger     *LedgerService
	fetcher    platform.Fetcher
	log        *logger.Logger
}

// NewOrchestratorService creates a new orchestrator
func NewOrchestratorService(
	cfg *config.Config,
	registry *platform.Registry,
	jobs jobQueue,
	limiter *ratelimit.Limiter,
	reconciler *ReconcilerService,
	ledger *LedgerService,
	fetcher platform.Fetcher,
	log *logger.Logger,
) *OrchestratorService {
	return &OrchestratorService{
		cfg:        cfg,
		registry:   registry,
		queue:      jobs,
		limiter:    limiter,
		reconciler: reconciler,
		ledger:     ledger,
		fetcher:    fetcher,
		log:        log,
	}
}

// EnqueueWebhook accepts a verified webhook and persists it as a job.
// The caller acks the platform as soon as this returns; reconciliation
// happens on the consumer. Unknown platforms fail fast before any
// ledger write, since there is nothing sync-relevant to audit.
func (s *OrchestratorService) EnqueueWebhook(ctx context.Context, pf models.Platform, eventType string, payload []byte) (uuid.UUID, error) {
	if _, err := s.registry.Lookup(pf); err != nil {
		return uuid.Nil, err
	}

	op := s.ledger.Begin(ctx, pf, models.OperationWebhook, "", payload)

	job := &models.Job{
		ID:          uuid.New(),
		Platform:    pf,
		Type:        models.OperationWebhook,
		EventType:   eventType,
		Payload:     payload,
		OperationID: op.ID,
		EnqueuedAt:  time.Now().UTC(),
	}

	if err := s.enqueue(ctx, queue.StreamWebhook, job); err != nil {
		s.ledger.Fail(ctx, op.ID, err.Error())
		return uuid.Nil, err
	}

	return op.ID, nil
}

// QueueBulkSync persists a bulk-sync job for the platform
func (s *OrchestratorService) QueueBulkSync(ctx context.Context, pf models.Platform, scope map[string]string) (uuid.UUID, error) {
	if _, err := s.registry.Lookup(pf); err != nil {
		return uuid.Nil, err
	}

	op := s.ledger.Begin(ctx, pf, models.OperationBulkSync, "", nil)

	job := &models.Job{
		ID:          uuid.New(),
		Platform:    pf,
		Type:        models.OperationBulkSync,
		Scope:       scope,
		OperationID: op.ID,
		EnqueuedAt:  time.Now().UTC(),
	}

	if err := s.enqueue(ctx, queue.StreamBulk, job); err != nil {
		s.ledger.Fail(ctx, op.ID, err.Error())
		return uuid.Nil, err
	}

	return op.ID, nil
}

// QueueManualSync persists a single-entity sync job. Same pipeline as
// bulk, narrowed to one externally-identified entity.
func (s *OrchestratorService) QueueManualSync(ctx context.Context, pf models.Platform, externalID string, scope map[string]string) (uuid.UUID, error) {
	if _, err := s.registry.Lookup(pf); err != nil {
		return uuid.Nil, err
	}

	op := s.ledger.Begin(ctx, pf, models.OperationManualSync, externalID, nil)

	job := &models.Job{
		ID:          uuid.New(),
		Platform:    pf,
		Type:        models.OperationManualSync,
		ExternalID:  externalID,
		Scope:       scope,
		OperationID: op.ID,
		EnqueuedAt:  time.Now().UTC(),
	}

	if err := s.enqueue(ctx, queue.StreamBulk, job); err != nil {
		s.ledger.Fail(ctx, op.ID, err.Error())
		return uuid.Nil, err
	}

	return op.ID, nil
}

func (s *OrchestratorService) enqueue(ctx context.Context, stream string, job *models.Job) error {
	payload, err := job.Encode()
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, stream, payload); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	s.log.Info("job enqueued",
		"job_id", job.ID,
		"platform", job.Platform,
		"type", job.Type,
		"sync_operation_id", job.OperationID)

	return nil
}

// HandleJob is the queue consumer entry point. Every job runs under its
// own bounded timeout; a timeout is a transient failure recorded in the
// ledger, picked up again by the next scheduled sweep rather than by
// immediate resubmission.
func (s *OrchestratorService) HandleJob(ctx context.Context, stream string, payload []byte) error {
	job, err := models.DecodeJob(payload)
	if err != nil {
		s.log.Error("undecodable job payload dropped", "stream", stream, "error", err)
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.Sync.JobTimeout)
	defer cancel()

	log := s.log.WithPlatform(string(job.Platform)).WithOperation(job.OperationID.String())

	var execErr error
	switch job.Type {
	case models.OperationWebhook:
		execErr = s.executeWebhookJob(jobCtx, job)
	case models.OperationBulkSync:
		execErr = s.executeBulkJob(jobCtx, job)
	case models.OperationManualSync:
		execErr = s.executeManualJob(jobCtx, job)
	default:
		execErr = fmt.Errorf("unknown job type %q", job.Type)
	}

	if execErr != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			s.ledger.Fail(ctx, job.OperationID, fmt.Sprintf("job timed out after %s", s.cfg.Sync.JobTimeout))
		}
		log.Error("job failed", "job_id", job.ID, "type", job.Type, "error", execErr)
		return execErr
	}

	return nil
}

// executeWebhookJob parses and reconciles a single webhook entity
func (s *OrchestratorService) executeWebhookJob(ctx context.Context, job *models.Job) error {
	adapter, err := s.registry.Lookup(job.Platform)
	if err != nil {
		s.ledger.Fail(ctx, job.OperationID, err.Error())
		return err
	}

	s.ledger.MarkProcessing(ctx, job.OperationID)

	entity, err := adapter.ParseWebhook(job.Payload)
	if err != nil {
		s.ledger.Fail(ctx, job.OperationID, err.Error())
		return err
	}

	return s.limiter.WithRateLimit(ctx, string(job.Platform), func(ctx context.Context) error {
		_, err := s.reconciler.Reconcile(ctx, job.Platform, entity, job.OperationID)
		return err
	})
}

// executeBulkJob fetches remote pages and fans reconciliation out over
// a bounded worker pool. A single entity's failure is captured in its
// own ledger entry and never aborts the batch.
func (s *OrchestratorService) executeBulkJob(ctx context.Context, job *models.Job) error {
	adapter, err := s.registry.Lookup(job.Platform)
	if err != nil {
		s.ledger.Fail(ctx, job.OperationID, err.Error())
		return err
	}

	platformCfg, ok := s.cfg.Platform(string(job.Platform))
	if !ok {
		err := fmt.Errorf("no config for platform %q: %w", job.Platform, syncerr.ErrUnknownPlatform)
		s.ledger.Fail(ctx, job.OperationID, err.Error())
		return err
	}

	s.ledger.MarkProcessing(ctx, job.OperationID)

	schedule, err := s.limiter.AdaptiveSchedule(string(job.Platform))
	if err != nil {
		s.ledger.Fail(ctx, job.OperationID, err.Error())
		return err
	}

	var processed, failed int
	for page := 1; ; page++ {
		var fetched platform.Page

		// Page fetches are retried with the platform's adaptive
		// backoff; exhausting the attempts fails the sweep.
		fetchErr := backoff.Retry(ctx, s.log, schedule, func(ctx context.Context) error {
			var err error
			fetched, err = s.fetchPage(ctx, adapter, platformCfg, job.Scope, page)
			return err
		})
		if fetchErr != nil {
			s.ledger.Fail(ctx, job.OperationID, fetchErr.Error())
			return fetchErr
		}

		pageFailed := s.fanOut(ctx, job, fetched.Entities)
		failed += pageFailed
		processed += len(fetched.Entities)

		if !fetched.HasMore {
			break
		}
	}

	s.log.Info("bulk sync complete",
		"platform", job.Platform,
		"processed", processed,
		"failed", failed)

	if processed == 0 {
		s.ledger.Skip(ctx, job.OperationID, "no remote entities")
		return nil
	}

	s.ledger.SucceedBatch(ctx, job.OperationID)
	return nil
}

// executeManualJob reconciles one externally-identified entity by
// scanning the platform's pages for it.
func (s *OrchestratorService) executeManualJob(ctx context.Context, job *models.Job) error {
	adapter, err := s.registry.Lookup(job.Platform)
	if err != nil {
		s.ledger.Fail(ctx, job.OperationID, err.Error())
		return err
	}

	platformCfg, ok := s.cfg.Platform(string(job.Platform))
	if !ok {
		err := fmt.Errorf("no config for platform %q: %w", job.Platform, syncerr.ErrUnknownPlatform)
		s.ledger.Fail(ctx, job.OperationID, err.Error())
		return err
	}

	s.ledger.MarkProcessing(ctx, job.OperationID)

	for page := 1; ; page++ {
		fetched, err := s.fetchPage(ctx, adapter, platformCfg, job.Scope, page)
		if err != nil {
			s.ledger.Fail(ctx, job.OperationID, err.Error())
			return err
		}

		for _, entity := range fetched.Entities {
			if entity.ExternalID != job.ExternalID {
				continue
			}
			return s.limiter.WithRateLimit(ctx, string(job.Platform), func(ctx context.Context) error {
				_, err := s.reconciler.Reconcile(ctx, job.Platform, entity, job.OperationID)
				return err
			})
		}

		if !fetched.HasMore {
			break
		}
	}

	s.ledger.Fail(ctx, job.OperationID, fmt.Sprintf("entity %s not found on %s", job.ExternalID, job.Platform))
	return syncerr.Permanent(fmt.Errorf("entity %s not found on %s", job.ExternalID, job.Platform))
}

// fetchPage wraps the adapter fetch in the rate limiter, since it is an
// external API call like any other.
func (s *OrchestratorService) fetchPage(ctx context.Context, adapter platform.Adapter, cfg config.PlatformConfig, scope map[string]string, page int) (platform.Page, error) {
	var fetched platform.Page
	err := s.limiter.WithRateLimit(ctx, string(adapter.Name()), func(ctx context.Context) error {
		var err error
		fetched, err = adapter.FetchPage(ctx, s.fetcher, cfg, scope, page)
		return err
	})
	return fetched, err
}

// fanOut reconciles a page of entities with bounded concurrency,
// returning the number of entities that failed. Each entity gets its
// own ledger entry; errors are recorded there and swallowed here.
func (s *OrchestratorService) fanOut(ctx context.Context, job *models.Job, entities []platform.Entity) int {
	workers := s.cfg.Sync.WorkerCount
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	work := make(chan platform.Entity)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range work {
				if err := s.reconcileOne(ctx, job, entity); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

	for _, entity := range entities {
		select {
		case work <- entity:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return failed
		}
	}
	close(work)
	wg.Wait()

	return failed
}

// reconcileOne runs one entity through the rate limiter and reconciler
// under its own ledger entry.
func (s *OrchestratorService) reconcileOne(ctx context.Context, job *models.Job, entity platform.Entity) error {
	op := s.ledger.Begin(ctx, job.Platform, job.Type, entity.ExternalID, entity.Raw)
	s.ledger.MarkProcessing(ctx, op.ID)

	executed := false
	err := s.limiter.WithRateLimit(ctx, string(job.Platform), func(ctx context.Context) error {
		executed = true
		_, err := s.reconciler.Reconcile(ctx, job.Platform, entity, op.ID)
		return err
	})
	if err != nil && !executed {
		// The permit wait failed before the reconciler ran, so nobody
		// else will close this entry. The write must outlive the
		// cancellation that caused the failure.
		s.ledger.Fail(context.WithoutCancel(ctx), op.ID, err.Error())
	}
	return err
}
