package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"procurement_followup/platform/ai/moonshot"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"
)

const adkUserID = "followup-scheduler"

// OrderContextInput is the input of the GetOrderContext tool.
type OrderContextInput struct {
	OrderID string `json:"orderId"`
}

// SubmitOutput acknowledges a submitted answer.
type SubmitOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// runCapture holds the snapshot and answers of the run in progress.
type runCapture struct {
	mu       sync.Mutex
	snapshot OrderSnapshot
	decision *rawDecision
	reply    *rawReplyAnalysis
}

func (c *runCapture) reset(snap OrderSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snap
	c.decision = nil
	c.reply = nil
}

// agentRun is one ADK agent with its runner and session store.
type agentRun struct {
	appName        string
	runner         *runner.Runner
	sessionService session.Service
}

// ADKWorkflow runs ADK agents backed by the Moonshot model. Runs are
// serialized because tools write into a shared capture.
type ADKWorkflow struct {
	loader  *ContextLoader
	decider *agentRun
	analyst *agentRun
	replies *agentRun
	capture *runCapture
	runMu   sync.Mutex
}

func NewADKWorkflow(apiKey, modelName string, loader *ContextLoader) (*ADKWorkflow, error) {
	kimi := moonshot.NewModel(moonshot.Config{
		APIKey: apiKey,
		Model:  modelName,
	})

	w := &ADKWorkflow{loader: loader, capture: &runCapture{}}

	contextTool, err := w.orderContextTool()
	if err != nil {
		return nil, err
	}
	decisionTool, err := w.submitDecisionTool()
	if err != nil {
		return nil, err
	}
	replyTool, err := w.submitReplyTool()
	if err != nil {
		return nil, err
	}

	if w.decider, err = newAgentRun("followup_decider", "FollowUpDecider",
		"Decides whether a supplier needs a follow-up and drafts the message.",
		decisionInstruction+"\n\nCall GetOrderContext first, then SubmitFollowUpDecision exactly once.",
		kimi, []tool.Tool{contextTool, decisionTool}); err != nil {
		return nil, err
	}
	if w.analyst, err = newAgentRun("order_analyst", "OrderAnalyst",
		"Assesses whether an order needs supplier contact.",
		analysisInstruction, kimi, []tool.Tool{contextTool}); err != nil {
		return nil, err
	}
	if w.replies, err = newAgentRun("reply_analyst", "ReplyAnalyst",
		"Extracts order changes from supplier replies.",
		replyInstruction+"\n\nCall SubmitReplyAnalysis exactly once with your answer.",
		kimi, []tool.Tool{contextTool, replyTool}); err != nil {
		return nil, err
	}
	return w, nil
}

func newAgentRun(appName, name, description, instruction string, llm *moonshot.KimiModel, tools []tool.Tool) (*agentRun, error) {
	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        name,
		Model:       llm,
		Description: description,
		Instruction: instruction,
		Tools:       tools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s agent: %w", name, err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s runner: %w", name, err)
	}
	return &agentRun{appName: appName, runner: r, sessionService: sessionService}, nil
}

func (w *ADKWorkflow) orderContextTool() (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "GetOrderContext",
		Description: "Returns the purchase order, supplier contact channels, previous follow-up attempts and recent history.",
	}, func(_ tool.Context, _ OrderContextInput) (OrderSnapshot, error) {
		w.capture.mu.Lock()
		defer w.capture.mu.Unlock()
		return w.capture.snapshot, nil
	})
}

func (w *ADKWorkflow) submitDecisionTool() (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "SubmitFollowUpDecision",
		Description: "Records the follow-up decision. channel must be one of the order's availableChannels.",
	}, func(_ tool.Context, input rawDecision) (SubmitOutput, error) {
		w.capture.mu.Lock()
		defer w.capture.mu.Unlock()
		w.capture.decision = &input
		return SubmitOutput{Success: true, Message: "decision recorded"}, nil
	})
}

func (w *ADKWorkflow) submitReplyTool() (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "SubmitReplyAnalysis",
		Description: "Records what the supplier reply changes about the order. Leave fields null when the reply does not state them.",
	}, func(_ tool.Context, input rawReplyAnalysis) (SubmitOutput, error) {
		w.capture.mu.Lock()
		defer w.capture.mu.Unlock()
		w.capture.reply = &input
		return SubmitOutput{Success: true, Message: "analysis recorded"}, nil
	})
}

// execute creates an ephemeral session, runs the agent and returns the
// concatenated text output.
func (a *agentRun) execute(ctx context.Context, promptText string) (string, error) {
	sessionID := uuid.NewString()
	if _, err := a.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   a.appName,
		UserID:    adkUserID,
		SessionID: sessionID,
	}); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer func() {
		_ = a.sessionService.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName:   a.appName,
			UserID:    adkUserID,
			SessionID: sessionID,
		})
	}()

	userMessage := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: promptText}},
	}

	var output strings.Builder
	for event, err := range a.runner.Run(ctx, adkUserID, sessionID, userMessage, agent.RunConfig{StreamingMode: agent.StreamingModeNone}) {
		if err != nil {
			return "", fmt.Errorf("%s run failed: %w", a.appName, err)
		}
		if event.Content != nil {
			for _, part := range event.Content.Parts {
				output.WriteString(part.Text)
			}
		}
	}
	return output.String(), nil
}

func (w *ADKWorkflow) AnalyzeOrder(ctx context.Context, orderID uuid.UUID) (Analysis, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	snap, err := w.loader.Load(ctx, orderID)
	if err != nil {
		return Analysis{}, err
	}
	w.capture.reset(snap)

	output, err := w.analyst.execute(ctx, analysisPrompt(snap))
	if err != nil {
		return Analysis{}, err
	}
	var out Analysis
	if err := extractJSON(output, &out); err != nil {
		return Analysis{}, err
	}
	return out, nil
}

func (w *ADKWorkflow) DecideFollowUp(ctx context.Context, orderID uuid.UUID) (Decision, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	snap, err := w.loader.Load(ctx, orderID)
	if err != nil {
		return Decision{}, err
	}
	w.capture.reset(snap)

	output, err := w.decider.execute(ctx, decisionPrompt(snap))
	if err != nil {
		return Decision{}, err
	}

	w.capture.mu.Lock()
	submitted := w.capture.decision
	w.capture.mu.Unlock()

	raw := rawDecision{}
	if submitted != nil {
		raw = *submitted
	} else if err := extractJSON(output, &raw); err != nil {
		return Decision{}, fmt.Errorf("decider returned no decision: %w", err)
	}
	return normalizeDecision(raw, snap.provider), nil
}

func (w *ADKWorkflow) AnalyzeReply(ctx context.Context, orderID uuid.UUID, reply ReplyInput) (ReplyAnalysis, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	snap, err := w.loader.Load(ctx, orderID)
	if err != nil {
		return ReplyAnalysis{}, err
	}
	w.capture.reset(snap)

	output, err := w.replies.execute(ctx, replyPrompt(snap, reply))
	if err != nil {
		return ReplyAnalysis{}, err
	}

	w.capture.mu.Lock()
	submitted := w.capture.reply
	w.capture.mu.Unlock()

	raw := rawReplyAnalysis{}
	if submitted != nil {
		raw = *submitted
	} else if err := extractJSON(output, &raw); err != nil {
		return ReplyAnalysis{}, fmt.Errorf("reply analyst returned no analysis: %w", err)
	}
	return normalizeReplyAnalysis(raw), nil
}
