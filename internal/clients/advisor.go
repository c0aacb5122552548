// Package clients holds adapters for external collaborators.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradewarden/warden/internal/domain"
)

const (
	defaultAdvisorTimeout    = 30 * time.Second
	defaultAdvisorMaxRetries = 3
	defaultAdvisorRetryDelay = 2 * time.Second
)

// PerformanceSummary is the recent-performance snapshot sent to the advisor.
type PerformanceSummary struct {
	Symbol                string
	InitialBalance        decimal.Decimal
	Cash                  decimal.Decimal
	Equity                decimal.Decimal
	DrawdownPercent       decimal.Decimal
	TradesInWindow        int
	Window                time.Duration
	MaxCapitalLossPercent decimal.Decimal
	MaxTradesPerWindow    int
	RecentTrades          []domain.TradeRecord
	Paused                bool
	TriggerReason         string
}

// Advisor is the risk-advisory collaborator contract: given a recent
// performance summary it returns a CONTINUE/PAUSE verdict with a rationale
// over a bounded-timeout call.
type Advisor interface {
	Advise(ctx context.Context, summary PerformanceSummary) (*domain.Advice, error)
}

const advisorSystemPrompt = `You are the risk manager of an automated paper-trading system.
You review recent trading performance and answer with a single verdict.

Respond with ONLY valid JSON, no markdown and no extra text:
{"action": "CONTINUE"}
{"action": "PAUSE", "reason": "short human-readable explanation"}

Rules:
- If capital loss exceeds the configured maximum OR trade velocity exceeds the
  configured window limit: PAUSE.
- If the system is currently paused, answer CONTINUE only when the risk
  conditions have clearly normalized.
- Otherwise: CONTINUE.`

// OpenAICompatibleAdvisor talks to any OpenAI-compatible chat completion API.
type OpenAICompatibleAdvisor struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAICompatibleAdvisor creates an advisor client with a bounded timeout
// and retry budget.
func NewOpenAICompatibleAdvisor(apiURL, apiKey, model string, timeout time.Duration, maxRetries int) *OpenAICompatibleAdvisor {
	if timeout == 0 {
		timeout = defaultAdvisorTimeout
	}
	if maxRetries == 0 {
		maxRetries = defaultAdvisorMaxRetries
	}
	return &OpenAICompatibleAdvisor{
		apiURL:     apiURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: defaultAdvisorRetryDelay,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []choice  `json:"choices"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Message message `json:"message"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Advise sends the performance summary and returns the validated verdict.
// Transport failures after the retry budget surface as
// domain.ErrAdvisoryUnavailable so callers can apply the fail-safe policy.
func (c *OpenAICompatibleAdvisor) Advise(ctx context.Context, summary PerformanceSummary) (*domain.Advice, error) {
	if c.apiKey == "" {
		return nil, errors.Wrap(domain.ErrAdvisoryUnavailable, "advisor API key is empty")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: advisorSystemPrompt},
			{Role: "user", Content: buildSummaryPrompt(summary)},
		},
		Temperature: 0.0, // deterministic verdicts
		MaxTokens:   512,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(domain.ErrAdvisoryUnavailable, ctx.Err().Error())
			case <-time.After(c.retryDelay):
			}
		}

		raw, err := c.sendRequest(ctx, reqBody)
		if err != nil {
			lastErr = err
			continue
		}

		advice, err := domain.ParseAdvice(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return advice, nil
	}

	return nil, errors.Wrapf(domain.ErrAdvisoryUnavailable, "after %d attempts: %v", c.maxRetries, lastErr)
}

func (c *OpenAICompatibleAdvisor) sendRequest(ctx context.Context, reqBody chatRequest) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "marshal advisor request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(payload))
	if err != nil {
		return "", errors.Wrap(err, "create advisor request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "advisor request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read advisor response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("advisor API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", errors.Wrap(err, "unmarshal advisor response")
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("advisor API error: %s (type: %s, code: %s)",
			chatResp.Error.Message, chatResp.Error.Type, chatResp.Error.Code)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("advisor API returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func buildSummaryPrompt(summary PerformanceSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Symbol: %s\n", summary.Symbol)
	fmt.Fprintf(&b, "Initial balance: %s | Cash: %s | Equity: %s\n",
		summary.InitialBalance.StringFixed(2), summary.Cash.StringFixed(2), summary.Equity.StringFixed(2))
	fmt.Fprintf(&b, "Drawdown: %s%% (limit %s%%)\n",
		summary.DrawdownPercent.StringFixed(2), summary.MaxCapitalLossPercent.String())
	fmt.Fprintf(&b, "Trades in last %s: %d (limit %d)\n",
		summary.Window, summary.TradesInWindow, summary.MaxTradesPerWindow)
	if summary.Paused {
		fmt.Fprintf(&b, "Trading is currently PAUSED. Trigger: %s\n", summary.TriggerReason)
	} else if summary.TriggerReason != "" {
		fmt.Fprintf(&b, "Local rule violation detected: %s\n", summary.TriggerReason)
	}

	if len(summary.RecentTrades) > 0 {
		b.WriteString("Recent trades:\n")
		for _, trade := range summary.RecentTrades {
			fmt.Fprintf(&b, "%s - %s %s @ %s, balance %s\n",
				trade.Timestamp.Format(time.RFC3339), trade.Direction,
				trade.Quantity.String(), trade.Price.StringFixed(2), trade.Balance.StringFixed(2))
		}
	} else {
		b.WriteString("No recent trades.\n")
	}

	return b.String()
}
