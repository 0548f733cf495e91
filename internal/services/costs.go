package services

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
)

// modelPricing holds USD cost per 1M tokens
type modelPricing struct {
	Input  float64
	Output float64
}

var modelPrices = map[string]modelPricing{
	"gpt-4o":      {Input: 2.50, Output: 10.00},
	"gpt-4o-mini": {Input: 0.15, Output: 0.60},
	"gpt-4-turbo": {Input: 10.00, Output: 30.00},
}

// CostTracker accumulates OpenAI token usage and spend per model
type CostTracker struct {
	mu           sync.Mutex
	sessionStart time.Time
	totalCalls   int
	usage        map[string]models.ModelUsage
	warned       map[string]bool
	logger       *logrus.Logger
}

// NewCostTracker creates an empty tracker for one run
func NewCostTracker(logger *logrus.Logger) *CostTracker {
	return &CostTracker{
		sessionStart: time.Now().UTC(),
		usage:        make(map[string]models.ModelUsage),
		warned:       make(map[string]bool),
		logger:       logger,
	}
}

// RecordUsage adds one API call's token counts and returns its cost in USD.
// Models without a pricing entry are tracked with zero cost.
func (t *CostTracker) RecordUsage(model string, inputTokens, outputTokens int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	pricing, known := modelPrices[model]
	if !known && !t.warned[model] {
		t.warned[model] = true
		t.logger.WithField("model", model).Warn("No pricing for model, tracking tokens only")
	}

	cost := (float64(inputTokens)*pricing.Input + float64(outputTokens)*pricing.Output) / 1_000_000

	u := t.usage[model]
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.Cost += cost
	u.Calls++
	t.usage[model] = u
	t.totalCalls++

	t.logger.WithFields(logrus.Fields{
		"model":         model,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"call_cost":     cost,
	}).Debug("Recorded API usage")

	return cost
}

// Summary returns a copy of the accumulated usage
func (t *CostTracker) Summary() models.CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := models.CostSummary{
		SessionStart: t.sessionStart,
		TotalCalls:   t.totalCalls,
		Models:       make(map[string]models.ModelUsage, len(t.usage)),
	}
	for model, u := range t.usage {
		out.Models[model] = u
		out.TotalCost += u.Cost
	}
	return out
}

// TotalCost returns the accumulated spend in USD
func (t *CostTracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, u := range t.usage {
		total += u.Cost
	}
	return total
}
