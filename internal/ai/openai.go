package ai

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIWorkflow asks an OpenAI-compatible chat model for JSON answers.
type OpenAIWorkflow struct {
	client *openai.Client
	model  string
	loader *ContextLoader
}

func NewOpenAIWorkflow(apiKey, model, baseURL string, loader *ContextLoader) *OpenAIWorkflow {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIWorkflow{client: openai.NewClientWithConfig(cfg), model: model, loader: loader}
}

func (w *OpenAIWorkflow) complete(ctx context.Context, system, prompt string, out any) error {
	resp, err := w.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: w.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		return fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("openai completion: empty choices")
	}
	return extractJSON(resp.Choices[0].Message.Content, out)
}

func (w *OpenAIWorkflow) AnalyzeOrder(ctx context.Context, orderID uuid.UUID) (Analysis, error) {
	snap, err := w.loader.Load(ctx, orderID)
	if err != nil {
		return Analysis{}, err
	}
	var out Analysis
	if err := w.complete(ctx, analysisInstruction, analysisPrompt(snap), &out); err != nil {
		return Analysis{}, err
	}
	return out, nil
}

func (w *OpenAIWorkflow) DecideFollowUp(ctx context.Context, orderID uuid.UUID) (Decision, error) {
	snap, err := w.loader.Load(ctx, orderID)
	if err != nil {
		return Decision{}, err
	}
	var raw rawDecision
	if err := w.complete(ctx, decisionInstruction, decisionPrompt(snap), &raw); err != nil {
		return Decision{}, err
	}
	return normalizeDecision(raw, snap.provider), nil
}

func (w *OpenAIWorkflow) AnalyzeReply(ctx context.Context, orderID uuid.UUID, reply ReplyInput) (ReplyAnalysis, error) {
	snap, err := w.loader.Load(ctx, orderID)
	if err != nil {
		return ReplyAnalysis{}, err
	}
	var raw rawReplyAnalysis
	if err := w.complete(ctx, replyInstruction, replyPrompt(snap, reply), &raw); err != nil {
		return ReplyAnalysis{}, err
	}
	return normalizeReplyAnalysis(raw), nil
}
