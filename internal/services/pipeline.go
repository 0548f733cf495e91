package services

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/store"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

const (
	consecutiveFailureLimit = 5
	failureCooldown         = 60 * time.Second
)

// StopController carries the graceful-stop signal between the signal
// handler, the status API, the pipeline and the agent loop. The stop file
// lets external tooling stop a run without talking to the API.
type StopController struct {
	flag atomic.Bool
}

// RequestStop flags the run to stop after the current URL
func (s *StopController) RequestStop() {
	s.flag.Store(true)
}

// Stopped reports whether a stop was requested by any channel
func (s *StopController) Stopped() bool {
	return s.flag.Load() || utils.StopFileExists()
}

// ResultStore is the slice of the store the pipeline persists through
type ResultStore interface {
	IsURLProcessed(url string) (bool, error)
	AddProcessedURL(rec store.ProcessedURL) error
	MarkURLProcessed(url string) error
	SaveAPISessionCosts(summary models.CostSummary) error
}

// PipelineService drains URL sources through the agent, one URL at a time
type PipelineService struct {
	sources    []URLSource
	agent      AgentServiceInterface
	planner    PlannerServiceInterface
	store      ResultStore
	rng        *rand.Rand
	minDelay   int
	maxDelay   int
	maxSignups int
	logger     *logrus.Logger

	mu                  sync.Mutex
	runID               string
	running             bool
	startedAt           time.Time
	currentURL          string
	processed           int
	successful          int
	failed              int
	skipped             int
	consecutiveFailures int
	failureCategories   map[string]int

	ctrl *StopController
}

// NewPipelineService creates a new pipeline orchestrator
func NewPipelineService(sources []URLSource, agent AgentServiceInterface,
	planner PlannerServiceInterface, st ResultStore, ctrl *StopController,
	rng *rand.Rand, minDelay, maxDelay, maxSignups int, logger *logrus.Logger) *PipelineService {
	return &PipelineService{
		sources:           sources,
		agent:             agent,
		planner:           planner,
		store:             st,
		ctrl:              ctrl,
		rng:               rng,
		minDelay:          minDelay,
		maxDelay:          maxDelay,
		maxSignups:        maxSignups,
		logger:            logger,
		failureCategories: make(map[string]int),
	}
}

// RequestStop asks the run to stop after the current URL
func (p *PipelineService) RequestStop() {
	if !p.ctrl.Stopped() {
		p.logger.Info("Stop requested, finishing current URL")
	}
	p.ctrl.RequestStop()
}

// ShouldStop reports whether a graceful stop is pending, from the API,
// the stop file, or context cancellation.
func (p *PipelineService) ShouldStop(ctx context.Context) bool {
	return ctx.Err() != nil || p.ctrl.Stopped()
}

// Status returns the live run view for the status API
func (p *PipelineService) Status() models.RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.RunStatus{
		RunID:               p.runID,
		Running:             p.running,
		CurrentURL:          p.currentURL,
		Processed:           p.processed,
		Successful:          p.successful,
		Failed:              p.failed,
		Skipped:             p.skipped,
		ConsecutiveFailures: p.consecutiveFailures,
		StartedAt:           p.startedAt,
		Cost:                p.planner.CostSummary(),
	}
}

// Run processes URLs until the sources drain, the signup budget is met, or
// a stop arrives. The returned summary is always non-nil.
func (p *PipelineService) Run(ctx context.Context) (*models.RunSummary, error) {
	p.mu.Lock()
	p.runID = uuid.New().String()
	p.running = true
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"run_id":      p.runID,
		"max_signups": p.maxSignups,
		"sources":     len(p.sources),
	}).Info("Starting signup run")

	interrupted := false
	var runErr error

sourceLoop:
	for i, source := range p.sources {
		if i > 0 {
			// Consumed by log watchers that track which feed is active.
			p.logger.Infof("DATASOURCE_CHANGE:%s", source.Name())
		}

		for {
			if p.ShouldStop(ctx) {
				interrupted = true
				break sourceLoop
			}
			if p.successCount() >= p.maxSignups {
				p.logger.WithField("successful", p.successCount()).Info("Signup budget reached")
				break sourceLoop
			}

			target, err := source.Next(ctx)
			if err != nil {
				p.logger.WithError(err).WithField("source", source.Name()).Error("Source failed")
				break
			}
			if target == nil {
				p.logger.WithField("source", source.Name()).Info("Source drained")
				break
			}

			stop, fatalErr := p.processOne(ctx, source, target)
			if fatalErr != nil {
				runErr = fatalErr
				break sourceLoop
			}
			if stop {
				interrupted = true
				break sourceLoop
			}
		}
	}

	summary := p.finalize(interrupted)
	return summary, runErr
}

// processOne runs one target through the agent and records the outcome.
// Returns stop=true on interruption, or a non-nil error on fatal LLM failure.
func (p *PipelineService) processOne(ctx context.Context, source URLSource, target *models.TargetURL) (bool, error) {
	done, err := p.store.IsURLProcessed(target.URL)
	if err != nil {
		p.logger.WithError(err).Warn("Duplicate check failed")
	}
	if done {
		p.logger.WithField("url", target.URL).Debug("Skipping already-processed URL")
		if source.Name() == "database" {
			if err := p.store.MarkURLProcessed(target.URL); err != nil {
				p.logger.WithError(err).Warn("Failed to mark queued URL processed")
			}
		}
		return false, nil
	}

	p.mu.Lock()
	p.currentURL = target.URL
	p.mu.Unlock()

	result := p.agent.ProcessURL(ctx, *target)

	if result.Interrupted {
		// Not persisted: the URL gets a clean retry on the next run.
		return true, nil
	}

	p.tally(result)
	p.persist(source, target, result)

	if result.PrimaryCategory == models.CategoryLLMError && isFatalLLMKind(result.Details) {
		p.logger.WithField("kind", result.Details).Error("Fatal AI provider error, stopping run")
		return false, &LLMError{Kind: result.Details, Message: result.PrimaryError, Fatal: true}
	}

	if p.cooldownIfNeeded(ctx) {
		return true, nil
	}

	// Only no-form quick skips go straight to the next URL; every other
	// outcome interacted with the site and keeps the pacing delay.
	quickSkip := result.Status == models.StatusSkipped && result.PrimaryCategory == models.CategoryNoForm
	if !quickSkip {
		delay := utils.RandomDelay(p.rng, p.minDelay, p.maxDelay)
		p.logger.WithField("delay", delay).Debug("Waiting before next URL")
		if !sleepCtx(ctx, delay) {
			return true, nil
		}
	}
	return false, nil
}

func (p *PipelineService) tally(result *models.SignupResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	switch result.Status {
	case models.StatusSuccess:
		p.successful++
		p.consecutiveFailures = 0
	case models.StatusSkipped:
		p.skipped++
	default:
		p.failed++
		p.consecutiveFailures++
		if result.PrimaryCategory != "" {
			p.failureCategories[string(result.PrimaryCategory)]++
		}
	}
}

func (p *PipelineService) persist(source URLSource, target *models.TargetURL, result *models.SignupResult) {
	status := string(result.Status)
	if result.Status == models.StatusFailed && result.PrimaryCategory == models.CategoryException {
		status = string(models.StatusError)
	}

	rec := store.ProcessedURL{
		URL:           target.URL,
		Source:        target.Source,
		Status:        status,
		FieldsFilled:  result.FieldsFilled,
		ErrorMessage:  result.PrimaryError,
		ErrorCategory: string(result.PrimaryCategory),
		Details:       result.Details,
		ProcessedAt:   time.Now(),
	}
	if err := p.store.AddProcessedURL(rec); err != nil {
		p.logger.WithError(err).Warn("Failed to persist result")
	}
	if source.Name() == "database" {
		if err := p.store.MarkURLProcessed(target.URL); err != nil {
			p.logger.WithError(err).Warn("Failed to mark queued URL processed")
		}
	}
}

// cooldownIfNeeded sleeps out a failure streak; five straight failures
// usually means the network or the provider is unhappy, not the sites.
func (p *PipelineService) cooldownIfNeeded(ctx context.Context) (stopped bool) {
	p.mu.Lock()
	streak := p.consecutiveFailures
	p.mu.Unlock()
	if streak < consecutiveFailureLimit {
		return false
	}

	p.logger.WithField("failures", streak).Warnf("Failure streak, cooling down for %s", failureCooldown)
	if !sleepCtx(ctx, failureCooldown) {
		return true
	}
	p.mu.Lock()
	p.consecutiveFailures = 0
	p.mu.Unlock()
	return false
}

func (p *PipelineService) successCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.successful
}

func (p *PipelineService) finalize(interrupted bool) *models.RunSummary {
	p.mu.Lock()
	p.running = false
	p.currentURL = ""
	summary := &models.RunSummary{
		RunID:             p.runID,
		StartedAt:         p.startedAt,
		FinishedAt:        time.Now(),
		TotalAttempted:    p.processed,
		Successful:        p.successful,
		Failed:            p.failed,
		Skipped:           p.skipped,
		Interrupted:       interrupted,
		FailureCategories: p.failureCategories,
	}
	p.mu.Unlock()

	summary.Cost = p.planner.CostSummary()
	if err := p.store.SaveAPISessionCosts(summary.Cost); err != nil {
		p.logger.WithError(err).Warn("Failed to persist session costs")
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":      summary.RunID,
		"attempted":   summary.TotalAttempted,
		"successful":  summary.Successful,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"interrupted": summary.Interrupted,
		"total_cost":  summary.Cost.TotalCost,
	}).Info("Run finished")
	return summary
}

func isFatalLLMKind(kind string) bool {
	switch kind {
	case LLMQuotaExceeded, LLMInvalidAPIKey, LLMAccessDenied:
		return true
	}
	return false
}
