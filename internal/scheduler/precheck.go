package scheduler

import (
	"math"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
)

// Pre-check reasons, in rule order.
const (
	ReasonMaxAttemptsReached       = "MAX_ATTEMPTS_REACHED"
	ReasonTooSoonSinceLastFollowUp = "TOO_SOON_SINCE_LAST_FOLLOWUP"
	ReasonOrderTooRecent           = "ORDER_TOO_RECENT"
	ReasonOrderRecentlyUpdated     = "ORDER_RECENTLY_UPDATED"
	ReasonUrgentPriorityCheck      = "URGENT_PRIORITY_CHECK"
	ReasonLowPriorityTooSoon       = "LOW_PRIORITY_TOO_SOON"
	ReasonFirstFollowUpCandidate   = "FIRST_FOLLOWUP_CANDIDATE"
	ReasonNeedsAIAnalysis          = "NEEDS_AI_ANALYSIS"
)

const day = 24 * time.Hour

// recentHistoryLimit is how many history entries feed an analysis.
const recentHistoryLimit = 10

// AnalysisContext is everything the pre-check and the decision need about one order.
type AnalysisContext struct {
	Order         orders.Order
	LastAttempt   *followup.Attempt
	RecentHistory []orders.HistoryEntry
	AttemptCount  int
	LastChannel   channel.Channel

	// Day counts are fractional. DaysSinceLastFollowUp is +Inf without attempts.
	DaysSinceLastUpdate   float64
	DaysSinceLastFollowUp float64
	OrderAgeDays          float64
	DaysSinceOrderUpdated float64
}

// PreCheckResult is the outcome of the static gate.
type PreCheckResult struct {
	ShouldProceed  bool   `json:"shouldProceed"`
	ShouldFollowUp bool   `json:"shouldFollowUp"`
	Reason         string `json:"reason"`
	SkipAI         bool   `json:"skipAI"`
}

// PreCheckPolicy is the part of the follow-up policy the gate reads.
type PreCheckPolicy struct {
	MinDaysBetweenFollowUps int
	MaxFollowUpAttempts     int
}

// newAnalysisContext derives the day counters from raw records.
func newAnalysisContext(order orders.Order, last *followup.Attempt, history []orders.HistoryEntry, count int, now time.Time) AnalysisContext {
	ac := AnalysisContext{
		Order:                 order,
		LastAttempt:           last,
		RecentHistory:         history,
		AttemptCount:          count,
		OrderAgeDays:          daysBetween(order.CreatedAt, now),
		DaysSinceOrderUpdated: daysBetween(order.UpdatedAt, now),
		DaysSinceLastFollowUp: math.Inf(1),
	}

	lastUpdate := order.CreatedAt
	if len(history) > 0 {
		lastUpdate = history[0].CreatedAt
		for _, h := range history[1:] {
			if h.CreatedAt.After(lastUpdate) {
				lastUpdate = h.CreatedAt
			}
		}
	}
	ac.DaysSinceLastUpdate = daysBetween(lastUpdate, now)

	if last != nil {
		ac.DaysSinceLastFollowUp = daysBetween(last.CreatedAt, now)
		ac.LastChannel = last.Channel
	}
	return ac
}

func daysBetween(from, to time.Time) float64 {
	if from.IsZero() {
		return math.Inf(1)
	}
	return to.Sub(from).Hours() / 24
}

// StaticPreCheck is the deterministic gate evaluated before any AI call.
// Rules are evaluated in order and the first match wins.
func StaticPreCheck(ac AnalysisContext, policy PreCheckPolicy) PreCheckResult {
	minDays := float64(policy.MinDaysBetweenFollowUps)

	switch {
	case ac.AttemptCount >= policy.MaxFollowUpAttempts:
		return stop(ReasonMaxAttemptsReached)
	case ac.DaysSinceLastFollowUp < minDays:
		return stop(ReasonTooSoonSinceLastFollowUp)
	case ac.OrderAgeDays < 1:
		return stop(ReasonOrderTooRecent)
	case ac.DaysSinceOrderUpdated < 1 && ac.DaysSinceLastUpdate < 1:
		return stop(ReasonOrderRecentlyUpdated)
	case ac.Order.Priority == orders.PriorityUrgent && ac.DaysSinceLastFollowUp >= minDays:
		return PreCheckResult{ShouldProceed: true, ShouldFollowUp: true, Reason: ReasonUrgentPriorityCheck}
	case ac.Order.Priority == orders.PriorityLow && ac.DaysSinceLastFollowUp < 2*minDays:
		return stop(ReasonLowPriorityTooSoon)
	case ac.AttemptCount == 0 && ac.OrderAgeDays >= minDays:
		return PreCheckResult{ShouldProceed: true, ShouldFollowUp: true, Reason: ReasonFirstFollowUpCandidate}
	default:
		return PreCheckResult{ShouldProceed: true, Reason: ReasonNeedsAIAnalysis}
	}
}

func stop(reason string) PreCheckResult {
	return PreCheckResult{Reason: reason, SkipAI: true}
}
