// Package orchestrator turns an inbound customer message into an automated
// reply: budget check, prompt assembly, primary model call with bounded
// retries, single fallback, and usage accounting for every invocation.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/llm"
	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/metrics"
	"github.com/replyflow-ai/messaging-pipeline/pkg/retry"
)

const (
	// BudgetExceededMessage is served when a tenant's spend cap is reached.
	BudgetExceededMessage = "Thanks for reaching out! Our automated assistant is taking a short break. A member of our team will get back to you soon."

	// ApologyMessage is served when both models fail.
	ApologyMessage = "I'm sorry, I'm having trouble responding right now. Please try again in a few minutes."

	maxHistoryTurns      = 10
	maxKnowledgeSnippets = 3
)

// UsageSource records invocations and aggregates spend.
type UsageSource interface {
	Record(ctx context.Context, rec *model.LlmUsageRecord) error
	CostSince(ctx context.Context, tenantID string, since time.Time) (float64, error)
}

// KnowledgeSource returns up to limit text snippets relevant to a query.
type KnowledgeSource interface {
	Search(ctx context.Context, tenantID, query string, limit int) ([]string, error)
}

// Request is one reply-generation request.
type Request struct {
	Tenant  *model.Tenant
	Phone   string
	Message string
	History []model.Message
}

// Result is the outcome of a reply-generation request. It is always
// populated: on failure Content carries a graceful fallback message.
type Result struct {
	Content        string
	Model          string
	TokensIn       int
	TokensOut      int
	CostUSD        float64
	Success        bool
	Fallback       bool
	BudgetExceeded bool
	ProcessingMs   int64
}

// Orchestrator coordinates model invocation for automated replies.
type Orchestrator struct {
	primary       llm.Client
	fallback      llm.Client
	primaryModel  string
	fallbackModel string
	maxTokens     int
	temperature   float64
	usage         UsageSource
	knowledge     KnowledgeSource
	retryPolicy   retry.Policy
	logger        *logger.Logger

	now func() time.Time
}

// Config wires an orchestrator.
type Config struct {
	Primary       llm.Client
	Fallback      llm.Client
	PrimaryModel  string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	Usage         UsageSource
	Knowledge     KnowledgeSource
	RetryPolicy   retry.Policy
	Logger        *logger.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		primary:       cfg.Primary,
		fallback:      cfg.Fallback,
		primaryModel:  cfg.PrimaryModel,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		usage:         cfg.Usage,
		knowledge:     cfg.Knowledge,
		retryPolicy:   cfg.RetryPolicy,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

// Respond generates a reply for the request. It never returns an error for
// model failures; the Result carries the graceful fallback instead. Budget
// enforcement is best-effort: near-simultaneous requests may both pass the
// check before either's usage lands.
func (o *Orchestrator) Respond(ctx context.Context, req *Request) *Result {
	start := o.now()

	if window, exceeded := o.budgetExceeded(ctx, req.Tenant); exceeded {
		metrics.BudgetExceededTotal.WithLabelValues(req.Tenant.ID, window).Inc()
		o.recordUsage(ctx, req, o.primaryModel, 0, 0, 0, false, false)
		return &Result{
			Content:        BudgetExceededMessage,
			Success:        false,
			BudgetExceeded: true,
			ProcessingMs:   time.Since(start).Milliseconds(),
		}
	}

	messages := o.buildMessages(ctx, req)

	resp, err := o.invoke(ctx, o.primary, o.primaryModel, messages)
	if err == nil {
		cost := llm.Cost(resp.Model, resp.TokensIn, resp.TokensOut)
		o.recordUsage(ctx, req, resp.Model, resp.TokensIn, resp.TokensOut, cost, true, false)
		metrics.RecordLLMRequest(resp.Model, "success", float64(resp.LatencyMs)/1000, resp.TokensIn, resp.TokensOut)
		metrics.LLMCostTotal.WithLabelValues(req.Tenant.ID, resp.Model).Add(cost)
		return &Result{
			Content:      resp.Content,
			Model:        resp.Model,
			TokensIn:     resp.TokensIn,
			TokensOut:    resp.TokensOut,
			CostUSD:      cost,
			Success:      true,
			ProcessingMs: time.Since(start).Milliseconds(),
		}
	}

	o.logger.Warn("primary model failed, trying fallback",
		zap.String("model", o.primaryModel),
		zap.Error(err),
	)
	metrics.RecordLLMRequest(o.primaryModel, "error", time.Since(start).Seconds(), 0, 0)
	o.recordUsage(ctx, req, o.primaryModel, 0, 0, 0, false, false)

	if o.fallback != nil {
		resp, err = o.invoke(ctx, o.fallback, o.fallbackModel, messages)
		if err == nil {
			cost := llm.Cost(resp.Model, resp.TokensIn, resp.TokensOut)
			o.recordUsage(ctx, req, resp.Model, resp.TokensIn, resp.TokensOut, cost, true, true)
			metrics.RecordLLMRequest(resp.Model, "fallback_success", float64(resp.LatencyMs)/1000, resp.TokensIn, resp.TokensOut)
			metrics.LLMCostTotal.WithLabelValues(req.Tenant.ID, resp.Model).Add(cost)
			return &Result{
				Content:      resp.Content,
				Model:        resp.Model,
				TokensIn:     resp.TokensIn,
				TokensOut:    resp.TokensOut,
				CostUSD:      cost,
				Success:      true,
				Fallback:     true,
				ProcessingMs: time.Since(start).Milliseconds(),
			}
		}

		o.logger.Error("fallback model failed",
			zap.String("model", o.fallbackModel),
			zap.Error(err),
		)
		metrics.RecordLLMRequest(o.fallbackModel, "error", time.Since(start).Seconds(), 0, 0)
		o.recordUsage(ctx, req, o.fallbackModel, 0, 0, 0, false, true)
	}

	return &Result{
		Content:      ApologyMessage,
		Success:      false,
		ProcessingMs: time.Since(start).Milliseconds(),
	}
}

// invoke calls one model under the shared retry policy. Non-retryable errors
// (4xx other than 429) abort immediately.
func (o *Orchestrator) invoke(ctx context.Context, client llm.Client, modelName string, messages []llm.ChatMessage) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := retry.Do(ctx, o.retryPolicy, func() error {
		var callErr error
		resp, callErr = client.Complete(ctx, &llm.CompletionRequest{
			Model:       modelName,
			Messages:    messages,
			MaxTokens:   o.maxTokens,
			Temperature: o.temperature,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// budgetExceeded checks today's and this month's recorded spend against the
// tenant's caps. Aggregation failures fail open with a logged error: a broken
// usage table must not silence every customer.
func (o *Orchestrator) budgetExceeded(ctx context.Context, tenant *model.Tenant) (string, bool) {
	now := o.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	if tenant.DailyBudgetUSD > 0 {
		spent, err := o.usage.CostSince(ctx, tenant.ID, dayStart)
		if err != nil {
			o.logger.Error("daily budget aggregation failed", zap.Error(err))
		} else if spent >= tenant.DailyBudgetUSD {
			return "daily", true
		}
	}

	if tenant.MonthlyBudgetUSD > 0 {
		spent, err := o.usage.CostSince(ctx, tenant.ID, monthStart)
		if err != nil {
			o.logger.Error("monthly budget aggregation failed", zap.Error(err))
		} else if spent >= tenant.MonthlyBudgetUSD {
			return "monthly", true
		}
	}

	return "", false
}

// buildMessages assembles the prompt: system instructions with business
// context and knowledge snippets, recent history, then the user message.
func (o *Orchestrator) buildMessages(ctx context.Context, req *Request) []llm.ChatMessage {
	var snippets []string
	if o.knowledge != nil {
		found, err := o.knowledge.Search(ctx, req.Tenant.ID, req.Message, maxKnowledgeSnippets)
		if err != nil {
			o.logger.Warn("knowledge lookup failed", zap.Error(err))
		} else {
			snippets = found
		}
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful customer support assistant for ")
	sb.WriteString(req.Tenant.Name)
	sb.WriteString(". Answer concisely and politely.")
	if req.Tenant.BusinessContext != "" {
		sb.WriteString("\n\nBusiness context:\n")
		sb.WriteString(req.Tenant.BusinessContext)
	}
	if len(snippets) > 0 {
		sb.WriteString("\n\nRelevant knowledge:\n")
		for i, s := range snippets {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
		}
	}

	messages := []llm.ChatMessage{{Role: "system", Content: sb.String()}}

	history := req.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, msg := range history {
		role := "assistant"
		if msg.SenderType == model.SenderCustomer {
			role = "user"
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: msg.Content})
	}

	return append(messages, llm.ChatMessage{Role: "user", Content: req.Message})
}

// recordUsage appends one usage row. Persistence failures here are logged and
// swallowed; accounting must never block the reply path.
func (o *Orchestrator) recordUsage(ctx context.Context, req *Request, modelName string, tokensIn, tokensOut int, cost float64, success, fallback bool) {
	rec := &model.LlmUsageRecord{
		ID:          uuid.Must(uuid.NewV7()).String(),
		TenantID:    req.Tenant.ID,
		PhoneNumber: req.Phone,
		Model:       modelName,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		CostUSD:     cost,
		Success:     success,
		Fallback:    fallback,
	}
	if err := o.usage.Record(ctx, rec); err != nil {
		o.logger.Error("failed to record usage", zap.Error(err))
	}
}
