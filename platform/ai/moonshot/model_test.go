package moonshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func TestGenerateForwardsSystemInstructionAndParsesToolCalls(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"SubmitDecision","arguments":"{\"shouldFollowUp\":true}"}}]}}]}`))
	}))
	defer server.Close()

	m := NewModel(Config{APIKey: "key", BaseURL: server.URL, Model: "kimi-test"})
	req := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText("order context", genai.RoleUser)},
		Config:   &genai.GenerateContentConfig{SystemInstruction: genai.NewContentFromText("you decide follow-ups", genai.RoleUser)},
	}

	var resp *model.LLMResponse
	for r, err := range m.GenerateContent(context.Background(), req, false) {
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		resp = r
	}

	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system + user messages, got %v", captured["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "you decide follow-ups" {
		t.Fatalf("unexpected system message %v", first)
	}

	if resp == nil || len(resp.Content.Parts) != 1 || resp.Content.Parts[0].FunctionCall == nil {
		t.Fatalf("expected one function call part, got %+v", resp)
	}
	if resp.Content.Parts[0].FunctionCall.Args["shouldFollowUp"] != true {
		t.Fatalf("unexpected args %v", resp.Content.Parts[0].FunctionCall.Args)
	}
}

func TestGenerateReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	m := NewModel(Config{APIKey: "key", BaseURL: server.URL, JSONMode: true})
	req := &model.LLMRequest{Contents: []*genai.Content{genai.NewContentFromText("hi", genai.RoleUser)}}

	for _, err := range m.GenerateContent(context.Background(), req, false) {
		if err == nil {
			t.Fatalf("expected an error for HTTP 429")
		}
	}
}

func TestChatMessagesMapsToolTurns(t *testing.T) {
	contents := []*genai.Content{
		genai.NewContentFromText("decide for order 42", genai.RoleUser),
		{Role: genai.RoleModel, Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "c1", Name: "GetOrderContext", Args: map[string]any{"orderId": "42"}}}}},
		{Role: genai.RoleUser, Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{ID: "c1", Name: "GetOrderContext", Response: map[string]any{"status": "DELAYED"}}}}},
	}

	msgs := chatMessages(contents)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].Role != "assistant" || len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Function.Arguments != `{"orderId":"42"}` {
		t.Fatalf("unexpected assistant turn %+v", msgs[1])
	}
	if msgs[2].Role != "tool" || msgs[2].ToolCallID != "c1" || msgs[2].Content != `{"status":"DELAYED"}` {
		t.Fatalf("unexpected tool turn %+v", msgs[2])
	}
}
