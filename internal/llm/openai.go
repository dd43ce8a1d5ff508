// Package llm implements the decision collaborators: an OpenAI-compatible
// chat decider that turns model output into engine calls, a noop fallback,
// and a rule-based critic for the retry loop.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/store"
	"llm-perp-bot/internal/ta"
	"llm-perp-bot/internal/trace"
	"llm-perp-bot/internal/types"
)

const systemPrompt = `You are a disciplined leveraged crypto perpetuals trader.
You receive the account state, open positions and recent candles as JSON.
Respond ONLY with compact JSON: {"actions":[...],"summary":"..."}.
Each action: {"op":"open|close|update_tp_sl|limit_order|cancel_order|hold",
"symbol","side":"long|short","notional_usdt","margin_usdt","leverage",
"tp_price","sl_price","limit_price","kind":"limit|conditional","order_id"}.
Always set both tp_price and sl_price when opening.`

// OpenAIDecider calls an OpenAI-compatible chat completions endpoint and
// executes the returned actions against the engine.
type OpenAIDecider struct {
	cfg    *store.Config
	client *http.Client
}

func NewOpenAIDecider(cfg *store.Config) *OpenAIDecider {
	return &OpenAIDecider{cfg: cfg, client: &http.Client{Timeout: 120 * time.Second}}
}

var _ interfaces.Decider = (*OpenAIDecider)(nil)

func (d *OpenAIDecider) Decide(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
	ctx, span := trace.StartSpan(ctx, "llm.decide")
	defer span.End()

	apiKey := os.Getenv(d.cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		return types.DecisionTrace{}, fmt.Errorf("%s missing", d.cfg.LLM.APIKeyEnv)
	}

	prompt, err := d.buildPrompt(ctx, eng, input)
	if err != nil {
		return types.DecisionTrace{}, err
	}

	text, err := d.complete(ctx, apiKey, prompt)
	if err != nil {
		return types.DecisionTrace{}, err
	}

	dec, err := parseDecision(text)
	if err != nil {
		logger.Warn(ctx, "Model response not parseable, holding", "error", err.Error())
		return types.DecisionTrace{Actions: []string{"hold"}, Summary: "unparseable model response"}, nil
	}
	return applyActions(ctx, eng, dec), nil
}

// buildPrompt serializes everything the model is allowed to see: account
// state, open positions, pending feedback and the context candles.
func (d *OpenAIDecider) buildPrompt(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (string, error) {
	account, err := eng.AccountSummary(ctx)
	if err != nil {
		return "", err
	}
	positions, err := eng.PositionsSummary(ctx)
	if err != nil {
		return "", err
	}
	indicators := make(map[string]ta.Summary, len(input.Candles))
	for symbol, bars := range input.Candles {
		indicators[symbol] = ta.Summarize(bars)
	}
	state := map[string]any{
		"ts":         input.Ts,
		"round":      input.Round,
		"account":    account,
		"positions":  positions,
		"candles":    input.Candles,
		"indicators": indicators,
	}
	if input.Feedback != nil {
		state["feedback"] = input.Feedback
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (d *OpenAIDecider) complete(ctx context.Context, apiKey, prompt string) (string, error) {
	reqBody := map[string]any{
		"model": d.cfg.LLM.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"max_tokens":  d.cfg.LLM.MaxTokens,
		"temperature": d.cfg.LLM.Temperature,
	}
	bb, _ := json.Marshal(reqBody)

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.cfg.LLM.BaseURL+"/chat/completions", bytes.NewReader(bb))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm http %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices in llm response")
	}
	logger.Debug(ctx, "Model response received",
		"model", d.cfg.LLM.Model,
		"latency_ms", latency.Milliseconds(),
		"length", len(out.Choices[0].Message.Content),
	)
	return out.Choices[0].Message.Content, nil
}
