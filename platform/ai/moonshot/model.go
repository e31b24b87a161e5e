// Package moonshot lets ADK agents run on Moonshot's Kimi models. The
// Moonshot API speaks the OpenAI chat completions protocol, so requests go
// through the go-openai client pointed at the Moonshot base URL.
package moonshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const (
	defaultBaseURL     = "https://api.moonshot.ai/v1"
	defaultModel       = "kimi-k2-turbo-preview"
	defaultTimeout     = 90 * time.Second
	defaultTemperature = 0.6
)

// Config selects the model and transport settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Temperature applies when the agent does not set one. Zero means 0.6,
	// the value Moonshot recommends for non-thinking Kimi models.
	Temperature float32
	// JSONMode asks for a JSON object when the request carries no tools.
	JSONMode bool
	Timeout  time.Duration
}

// KimiModel implements model.LLM.
type KimiModel struct {
	config Config
	client *openai.Client
}

func NewModel(cfg Config) *KimiModel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &KimiModel{config: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

func (m *KimiModel) Name() string {
	return m.config.Model
}

// GenerateContent performs one non-streaming completion. Streaming is not
// used by the follow-up agents, so stream is ignored.
func (m *KimiModel) GenerateContent(ctx context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		yield(m.generate(ctx, req))
	}
}

func (m *KimiModel) generate(ctx context.Context, req *model.LLMRequest) (*model.LLMResponse, error) {
	if req == nil {
		return nil, errors.New("kimi: nil request")
	}

	request := openai.ChatCompletionRequest{
		Model:       m.config.Model,
		Messages:    append(systemMessages(req.Config), chatMessages(req.Contents)...),
		Temperature: m.config.Temperature,
	}
	if req.Config != nil && req.Config.Temperature != nil {
		request.Temperature = *req.Config.Temperature
	}
	if tools := toolDefinitions(req.Config); len(tools) > 0 {
		request.Tools = tools
		request.ToolChoice = "auto"
	} else if m.config.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := m.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("kimi completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("kimi completion: empty choices")
	}

	return &model.LLMResponse{Content: toContent(resp.Choices[0].Message)}, nil
}

// toContent turns the assistant message into genai parts: text first, then
// one FunctionCall per tool call.
func toContent(msg openai.ChatCompletionMessage) *genai.Content {
	parts := make([]*genai.Part, 0, 1+len(msg.ToolCalls))
	if strings.TrimSpace(msg.Content) != "" {
		parts = append(parts, genai.NewPartFromText(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": call.Function.Arguments}
			}
		}
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		}})
	}
	return &genai.Content{Role: genai.RoleModel, Parts: parts}
}

// systemMessages forwards the agent instruction, which ADK carries on the
// request config rather than in Contents.
func systemMessages(cfg *genai.GenerateContentConfig) []openai.ChatCompletionMessage {
	if cfg == nil || cfg.SystemInstruction == nil {
		return nil
	}
	text := joinText(cfg.SystemInstruction.Parts)
	if text == "" {
		return nil
	}
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: text}}
}

// chatMessages flattens the ADK conversation. Function responses become
// tool messages and precede the turn that carried them.
func chatMessages(contents []*genai.Content) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(contents))
	for _, content := range contents {
		if content == nil {
			continue
		}

		var calls []openai.ToolCall
		var text []*genai.Part
		for _, part := range content.Parts {
			switch {
			case part == nil:
			case part.FunctionResponse != nil:
				payload, _ := json.Marshal(part.FunctionResponse.Response)
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Name:       part.FunctionResponse.Name,
					ToolCallID: part.FunctionResponse.ID,
					Content:    string(payload),
				})
			case part.FunctionCall != nil:
				args, _ := json.Marshal(part.FunctionCall.Args)
				calls = append(calls, openai.ToolCall{
					ID:       part.FunctionCall.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: part.FunctionCall.Name, Arguments: string(args)},
				})
			default:
				text = append(text, part)
			}
		}

		body := joinText(text)
		if body == "" && len(calls) == 0 {
			continue
		}
		role := openai.ChatMessageRoleUser
		if content.Role == genai.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: body, ToolCalls: calls})
	}
	return messages
}

func joinText(parts []*genai.Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part == nil || strings.TrimSpace(part.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

func toolDefinitions(cfg *genai.GenerateContentConfig) []openai.Tool {
	if cfg == nil {
		return nil
	}
	var tools []openai.Tool
	for _, group := range cfg.Tools {
		if group == nil {
			continue
		}
		for _, decl := range group.FunctionDeclarations {
			if decl == nil || decl.Name == "" {
				continue
			}
			var params any
			if decl.ParametersJsonSchema != nil {
				params = decl.ParametersJsonSchema
			} else if decl.Parameters != nil {
				params = decl.Parameters
			}
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        decl.Name,
					Description: decl.Description,
					Parameters:  params,
				},
			})
		}
	}
	return tools
}
