// Package ai holds the follow-up decision and reply analysis collaborators.
// A workflow is chosen once at startup: an ADK agent on Moonshot, an OpenAI
// chat model, or an Unavailable variant when neither is configured.
package ai

import (
	"context"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/orders"
	"procurement_followup/platform/apperr"
	"procurement_followup/platform/config"
	"procurement_followup/platform/logger"

	"github.com/google/uuid"
)

// Analysis is the lightweight order assessment.
type Analysis struct {
	ShouldFollowUp bool   `json:"shouldFollowUp"`
	Reasoning      string `json:"reasoning"`
}

// Decision is what the decision model wants done for an order.
type Decision struct {
	ShouldFollowUp bool            `json:"shouldFollowUp"`
	Channel        channel.Channel `json:"channel,omitempty"`
	Message        string          `json:"message,omitempty"`
	Priority       orders.Priority `json:"priority,omitempty"`
	Reasoning      string          `json:"reasoning"`
}

// ReplyInput is a provider reply to analyse.
type ReplyInput struct {
	Channel channel.Channel
	From    string
	Subject string
	Text    string
}

// ReplyAnalysis carries the order changes a reply implies. Nil fields mean
// no change was recommended.
type ReplyAnalysis struct {
	Summary              string
	Status               *orders.Status
	ExpectedDeliveryDate *time.Time
	Priority             *orders.Priority
	DelayReason          *string
}

// Update converts the analysis into an order update.
func (a ReplyAnalysis) Update() orders.ReplyUpdate {
	return orders.ReplyUpdate{
		Status:               a.Status,
		ExpectedDeliveryDate: a.ExpectedDeliveryDate,
		Priority:             a.Priority,
		DelayReason:          a.DelayReason,
	}
}

// Workflow is the AI collaborator used by the scheduler and the correlator.
type Workflow interface {
	AnalyzeOrder(ctx context.Context, orderID uuid.UUID) (Analysis, error)
	DecideFollowUp(ctx context.Context, orderID uuid.UUID) (Decision, error)
	AnalyzeReply(ctx context.Context, orderID uuid.UUID, reply ReplyInput) (ReplyAnalysis, error)
}

// Unavailable is installed when no model is configured. Every call fails
// with a KindUnavailable error and performs no I/O.
type Unavailable struct{}

func (Unavailable) AnalyzeOrder(context.Context, uuid.UUID) (Analysis, error) {
	return Analysis{}, apperr.Unavailable("AI workflow")
}

func (Unavailable) DecideFollowUp(context.Context, uuid.UUID) (Decision, error) {
	return Decision{}, apperr.Unavailable("AI workflow")
}

func (Unavailable) AnalyzeReply(context.Context, uuid.UUID, ReplyInput) (ReplyAnalysis, error) {
	return ReplyAnalysis{}, apperr.Unavailable("AI workflow")
}

// New picks the workflow for the configured model provider.
func New(cfg config.AIConfig, loader *ContextLoader, log *logger.Logger) (Workflow, error) {
	switch {
	case cfg.GetMoonshotAPIKey() != "":
		wf, err := NewADKWorkflow(cfg.GetMoonshotAPIKey(), cfg.GetMoonshotModel(), loader)
		if err != nil {
			return nil, err
		}
		log.Info("ai workflow configured", "provider", "moonshot", "model", cfg.GetMoonshotModel())
		return wf, nil
	case cfg.GetOpenAIAPIKey() != "":
		log.Info("ai workflow configured", "provider", "openai", "model", cfg.GetOpenAIModel())
		return NewOpenAIWorkflow(cfg.GetOpenAIAPIKey(), cfg.GetOpenAIModel(), cfg.GetOpenAIBaseURL(), loader), nil
	default:
		log.Warn("no AI model configured; follow-up decisions fall back to static rules only")
		return Unavailable{}, nil
	}
}
