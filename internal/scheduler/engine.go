// Package scheduler decides which orders need a provider follow-up, sends
// them through the dispatcher and escalates orders that keep needing one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procurement_followup/internal/ai"
	"procurement_followup/internal/channel"
	"procurement_followup/internal/dispatch"
	"procurement_followup/internal/events"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/platform/apperr"
	"procurement_followup/platform/config"
	"procurement_followup/platform/locks"
	"procurement_followup/platform/logger"
	"procurement_followup/platform/metrics"

	"github.com/google/uuid"
)

const orderLockWait = 5 * time.Second

// ReasonDecidedNoFollowUp marks orders that passed the pre-check but were
// not contacted.
const ReasonDecidedNoFollowUp = "DECIDED_NO_FOLLOWUP"

// OrderStore is the part of the orders repository the engine uses.
type OrderStore interface {
	ListFollowUpCandidates(ctx context.Context, filter orders.CandidateFilter) ([]orders.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (orders.Order, error)
	GetProvider(ctx context.Context, id uuid.UUID) (orders.Provider, error)
	ListRecentHistory(ctx context.Context, orderID uuid.UUID, limit int) ([]orders.HistoryEntry, error)
	CreateHistory(ctx context.Context, params orders.CreateHistoryParams) (orders.HistoryEntry, error)
}

// AttemptStore is the part of the attempt tracker the engine uses.
type AttemptStore interface {
	CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	LatestByOrder(ctx context.Context, orderID uuid.UUID) (*followup.Attempt, error)
}

// EscalationStore appends to the escalation ledger.
type EscalationStore interface {
	CreateEscalation(ctx context.Context, orderID uuid.UUID, reason, notes string, attemptCount int) (followup.Escalation, error)
}

// Dispatcher sends a follow-up.
type Dispatcher interface {
	SendFollowUp(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// DecisionMaker is the AI collaborator deciding on follow-ups.
type DecisionMaker interface {
	DecideFollowUp(ctx context.Context, orderID uuid.UUID) (ai.Decision, error)
}

// OrderResult is the outcome of processing one order.
type OrderResult struct {
	OrderID       uuid.UUID `json:"orderId"`
	Processed     bool      `json:"processed"`
	FollowUpSent  bool      `json:"followUpSent"`
	Escalated     bool      `json:"escalated"`
	UsedAI        bool      `json:"usedAI"`
	SkippedReason string    `json:"skippedReason,omitempty"`
	Error         string    `json:"error,omitempty"`

	err error
}

// Err returns the processing error, keeping its kind for HTTP mapping.
func (r OrderResult) Err() error {
	return r.err
}

// BatchResult aggregates one scheduler run.
type BatchResult struct {
	Processed          int           `json:"processed"`
	FollowUpsSent      int           `json:"followUpsSent"`
	EscalationsCreated int           `json:"escalationsCreated"`
	Errors             int           `json:"errors"`
	Details            []OrderResult `json:"details"`
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Orders      OrderStore
	Attempts    AttemptStore
	Escalations EscalationStore
	Dispatcher  Dispatcher
	AI          DecisionMaker
	Locker      locks.Locker
	EventBus    events.Bus
	Metrics     *metrics.Metrics
	Policy      config.FollowUpPolicy
	Log         *logger.Logger
	// Now is overridable in tests.
	Now func() time.Time
}

// Engine is the Scheduler Decision Engine.
type Engine struct {
	orders      OrderStore
	attempts    AttemptStore
	escalations EscalationStore
	dispatcher  Dispatcher
	ai          DecisionMaker
	locker      locks.Locker
	eventBus    events.Bus
	metrics     *metrics.Metrics
	policy      config.FollowUpPolicy
	log         *logger.Logger
	now         func() time.Time
}

func NewEngine(deps Deps) *Engine {
	e := &Engine{
		orders:      deps.Orders,
		attempts:    deps.Attempts,
		escalations: deps.Escalations,
		dispatcher:  deps.Dispatcher,
		ai:          deps.AI,
		locker:      deps.Locker,
		eventBus:    deps.EventBus,
		metrics:     deps.Metrics,
		policy:      deps.Policy,
		log:         deps.Log,
		now:         deps.Now,
	}
	if e.ai == nil {
		e.ai = ai.Unavailable{}
	}
	if e.locker == nil {
		e.locker = locks.NewLocal()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) preCheckPolicy() PreCheckPolicy {
	return PreCheckPolicy{
		MinDaysBetweenFollowUps: e.policy.MinDaysBetweenFollowUps,
		MaxFollowUpAttempts:     e.policy.MaxFollowUpAttempts,
	}
}

// FindOrdersNeedingAnalysis returns eligible orders, oldest-updated first,
// skipping orders at the attempt cap or contacted too recently.
func (e *Engine) FindOrdersNeedingAnalysis(ctx context.Context) ([]orders.Order, error) {
	statuses := make([]orders.Status, 0, len(e.policy.EligibleStatuses))
	for _, raw := range e.policy.EligibleStatuses {
		if s, ok := orders.ParseStatus(raw); ok {
			statuses = append(statuses, s)
		}
	}
	minGap := time.Duration(e.policy.MinDaysBetweenFollowUps) * day

	return e.orders.ListFollowUpCandidates(ctx, orders.CandidateFilter{
		Statuses:          statuses,
		MaxAttempts:       e.policy.MaxFollowUpAttempts,
		LastAttemptBefore: e.now().Add(-minGap),
		Limit:             e.policy.BatchSize,
	})
}

// BuildAnalysisContext loads the order, its latest attempt and recent history.
func (e *Engine) BuildAnalysisContext(ctx context.Context, orderID uuid.UUID) (AnalysisContext, error) {
	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			return AnalysisContext{}, apperr.NotFound(fmt.Sprintf("order %s not found", orderID))
		}
		return AnalysisContext{}, err
	}
	last, err := e.attempts.LatestByOrder(ctx, orderID)
	if err != nil {
		return AnalysisContext{}, fmt.Errorf("latest attempt: %w", err)
	}
	count, err := e.attempts.CountByOrder(ctx, orderID)
	if err != nil {
		return AnalysisContext{}, fmt.Errorf("count attempts: %w", err)
	}
	history, err := e.orders.ListRecentHistory(ctx, orderID, recentHistoryLimit)
	if err != nil {
		return AnalysisContext{}, fmt.Errorf("recent history: %w", err)
	}
	return newAnalysisContext(order, last, history, count, e.now()), nil
}

// Run processes one batch sequentially. It never fails: per-order errors are
// counted and reported in the details.
func (e *Engine) Run(ctx context.Context) BatchResult {
	start := e.now()
	result := BatchResult{Details: []OrderResult{}}

	candidates, err := e.FindOrdersNeedingAnalysis(ctx)
	if err != nil {
		e.log.WithContext(ctx).DatabaseError("list follow-up candidates", err)
		result.Errors++
		result.Details = append(result.Details, OrderResult{Error: err.Error()})
		return result
	}

	for _, order := range candidates {
		if ctx.Err() != nil {
			break
		}
		res := e.ProcessOrder(ctx, order.ID)
		result.Details = append(result.Details, res)
		if res.Processed {
			result.Processed++
		}
		if res.FollowUpSent {
			result.FollowUpsSent++
		}
		if res.Escalated {
			result.EscalationsCreated++
		}
		if res.Error != "" {
			result.Errors++
		}
	}

	e.log.WithContext(ctx).SchedulerBatch(result.Processed, result.FollowUpsSent, result.EscalationsCreated, result.Errors,
		e.now().Sub(start).Milliseconds())
	return result
}

// ProcessOrder runs the pre-check, the decision and the resulting actions for
// one order under its lock. Errors are reported in the result.
func (e *Engine) ProcessOrder(ctx context.Context, orderID uuid.UUID) OrderResult {
	result := OrderResult{OrderID: orderID}
	ctx = logger.ContextWithOrderID(ctx, orderID.String())

	lockCtx, cancel := context.WithTimeout(ctx, orderLockWait)
	release, err := e.locker.Acquire(lockCtx, locks.OrderKey(orderID.String()), e.policy.OrderLockTTL)
	cancel()
	if err != nil {
		result.err = fmt.Errorf("lock order: %w", err)
		result.Error = result.err.Error()
		e.metrics.OrderProcessed("error")
		return result
	}
	defer release()

	if err := e.processLocked(ctx, orderID, &result); err != nil {
		result.err = err
		result.Error = err.Error()
		e.log.WithContext(ctx).Error("order processing failed", "error", err)
	}
	e.metrics.OrderProcessed(outcomeOf(result))
	return result
}

func (e *Engine) processLocked(ctx context.Context, orderID uuid.UUID, result *OrderResult) error {
	ac, err := e.BuildAnalysisContext(ctx, orderID)
	if err != nil {
		return err
	}
	result.Processed = true

	check := StaticPreCheck(ac, e.preCheckPolicy())
	if !check.ShouldProceed {
		result.SkippedReason = check.Reason
		e.recordAnalysis(ctx, ac, check, nil, false, nil)
		return nil
	}

	decision, usedAI, decideErr := e.decide(ctx, ac, check)
	result.UsedAI = usedAI
	e.recordAnalysis(ctx, ac, check, decision, usedAI, decideErr)
	if decideErr != nil {
		return decideErr
	}
	if decision == nil || !decision.ShouldFollowUp || decision.Message == "" {
		result.SkippedReason = ReasonDecidedNoFollowUp
		return nil
	}

	if _, err := e.dispatcher.SendFollowUp(ctx, dispatch.Request{
		OrderRef: orderID.String(),
		Channel:  decision.Channel,
		Message:  decision.Message,
		Metadata: map[string]any{
			"source":         "scheduler",
			"preCheckReason": check.Reason,
			"usedAI":         usedAI,
			"priority":       string(decision.Priority),
		},
	}); err != nil {
		return fmt.Errorf("dispatch follow-up: %w", err)
	}
	result.FollowUpSent = true

	if ac.AttemptCount+1 >= e.policy.EscalationThreshold {
		if err := e.escalate(ctx, ac); err != nil {
			return fmt.Errorf("create escalation: %w", err)
		}
		result.Escalated = true
	}
	return nil
}

// decide asks the AI collaborator. Without a configured model, orders the
// pre-check flagged as due get a templated message on the preferred channel.
func (e *Engine) decide(ctx context.Context, ac AnalysisContext, check PreCheckResult) (*ai.Decision, bool, error) {
	if check.SkipAI {
		return &ai.Decision{ShouldFollowUp: false, Reasoning: check.Reason}, false, nil
	}

	aiCtx := ctx
	if e.policy.AIDecisionTimeout > 0 {
		var cancel context.CancelFunc
		aiCtx, cancel = context.WithTimeout(ctx, e.policy.AIDecisionTimeout)
		defer cancel()
	}

	decision, err := e.ai.DecideFollowUp(aiCtx, ac.Order.ID)
	if err == nil {
		return &decision, true, nil
	}
	if !apperr.Is(err, apperr.KindUnavailable) {
		return nil, true, fmt.Errorf("ai decision: %w", err)
	}
	if !check.ShouldFollowUp {
		return &ai.Decision{ShouldFollowUp: false, Reasoning: "no AI model configured; " + check.Reason}, false, nil
	}

	provider, err := e.orders.GetProvider(ctx, ac.Order.ProviderID)
	if err != nil {
		return nil, false, fmt.Errorf("load provider: %w", err)
	}
	return &ai.Decision{
		ShouldFollowUp: true,
		Channel:        fallbackChannel(provider, ac.LastChannel),
		Message:        templateMessage(ac.Order),
		Priority:       ac.Order.Priority,
		Reasoning:      "no AI model configured; " + check.Reason,
	}, false, nil
}

func fallbackChannel(provider orders.Provider, last channel.Channel) channel.Channel {
	if _, ok := provider.ContactFor(provider.PreferredChannel); ok {
		return provider.PreferredChannel
	}
	if _, ok := provider.ContactFor(last); ok {
		return last
	}
	for _, ch := range channel.All {
		if _, ok := provider.ContactFor(ch); ok {
			return ch
		}
	}
	return provider.PreferredChannel
}

func templateMessage(order orders.Order) string {
	msg := fmt.Sprintf("Hello, could you share the current status of order %s", order.Ref())
	if order.PartNumber != "" {
		msg += fmt.Sprintf(" (part %s)", order.PartNumber)
	}
	msg += " and confirm the expected delivery date? Thank you."
	return msg
}

func (e *Engine) escalate(ctx context.Context, ac AnalysisContext) error {
	attemptCount := ac.AttemptCount + 1
	notes := fmt.Sprintf("%d follow-up attempts sent without resolution (threshold %d)",
		attemptCount, e.policy.EscalationThreshold)

	esc, err := e.escalations.CreateEscalation(ctx, ac.Order.ID, followup.ReasonAttemptThreshold, notes, attemptCount)
	if err != nil {
		return err
	}
	e.metrics.EscalationCreated()
	if e.eventBus != nil {
		e.eventBus.Publish(ctx, events.EscalationCreated{
			BaseEvent:       events.NewBaseEvent(),
			EscalationID:    esc.ID,
			OrderID:         ac.Order.ID,
			ExternalOrderID: ac.Order.ExternalOrderID,
			Reason:          esc.Reason,
			Notes:           esc.Notes,
			AttemptCount:    attemptCount,
		})
	}
	e.log.WithOrderID(ac.Order.ID.String()).Warn("order escalated", "attemptCount", attemptCount)
	return nil
}

// recordAnalysis writes the AI_ANALYSIS history entry. Failures are logged.
func (e *Engine) recordAnalysis(ctx context.Context, ac AnalysisContext, check PreCheckResult, decision *ai.Decision, usedAI bool, decideErr error) {
	summary := "Static pre-check: " + check.Reason
	metadata := map[string]any{
		"preCheck": check,
		"usedAI":   usedAI,
	}
	if decision != nil {
		metadata["decision"] = decision
		if decision.Reasoning != "" {
			summary = decision.Reasoning
		}
	}
	if decideErr != nil {
		metadata["error"] = decideErr.Error()
		summary = "Decision failed: " + decideErr.Error()
	}

	historyContext := map[string]any{
		"attemptCount":          ac.AttemptCount,
		"daysSinceLastUpdate":   finiteDays(ac.DaysSinceLastUpdate),
		"daysSinceLastFollowUp": finiteDays(ac.DaysSinceLastFollowUp),
		"orderAgeDays":          finiteDays(ac.OrderAgeDays),
		"status":                string(ac.Order.Status),
		"priority":              string(ac.Order.Priority),
	}
	if ac.LastChannel != "" {
		historyContext["lastChannel"] = string(ac.LastChannel)
	}

	if _, err := e.orders.CreateHistory(ctx, orders.CreateHistoryParams{
		OrderID:   ac.Order.ID,
		Type:      orders.HistoryAIAnalysis,
		AISummary: orders.TruncateSummary(summary, orders.SummaryMaxLen),
		Context:   historyContext,
		Metadata:  metadata,
	}); err != nil {
		e.log.WithOrderID(ac.Order.ID.String()).Error("analysis history write failed", "error", err)
	}
}

// finiteDays keeps +Inf out of JSON.
func finiteDays(v float64) any {
	if v > 1e9 {
		return nil
	}
	return v
}

func outcomeOf(r OrderResult) string {
	switch {
	case r.Error != "":
		return "error"
	case r.Escalated:
		return "escalated"
	case r.FollowUpSent:
		return "followup_sent"
	default:
		return "skipped"
	}
}
