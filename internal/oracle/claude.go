package oracle

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/metrics"
	"github.com/sells-group/painpoint-radar/internal/resilience"
	"github.com/sells-group/painpoint-radar/pkg/anthropic"
)

// maxInputChars truncates item text sent to the model (~4K tokens).
const maxInputChars = 16000

// Claude implements Oracle on the Anthropic messages API.
type Claude struct {
	client        anthropic.Client
	classifyModel string
	generateModel string
	maxTokens     int64
	timeout       time.Duration
	limiter       *rate.Limiter
	breaker       *resilience.Breaker
}

// NewClaude creates a Claude oracle. Classify uses the Haiku model and
// Generate the Sonnet model.
func NewClaude(client anthropic.Client, ac config.AnthropicConfig, oc config.OracleConfig, breaker *resilience.Breaker) *Claude {
	rps := oc.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	timeout := time.Duration(oc.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := oc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if breaker == nil {
		breaker = resilience.NewBreaker("oracle", resilience.FromSettings(oc.FailureThreshold, oc.ResetTimeoutSecs))
	}
	return &Claude{
		client:        client,
		classifyModel: ac.HaikuModel,
		generateModel: ac.SonnetModel,
		maxTokens:     maxTokens,
		timeout:       timeout,
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		breaker:       breaker,
	}
}

// Classify implements Oracle.
func (c *Claude) Classify(ctx context.Context, text, instructions string, out Schema) error {
	return c.ask(ctx, "classify", c.classifyModel, text, instructions, out)
}

// Generate implements Oracle.
func (c *Claude) Generate(ctx context.Context, text, instructions string, out Schema) error {
	return c.ask(ctx, "generate", c.generateModel, text, instructions, out)
}

func (c *Claude) ask(ctx context.Context, kind, model, text, instructions string, out Schema) error {
	text = truncateRunes(text, maxInputChars)

	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "oracle: rate limit wait")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := resilience.Call(callCtx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     model,
			MaxTokens: c.maxTokens,
			System:    []anthropic.SystemBlock{{Text: instructions, Cached: true}},
			Messages:  []anthropic.Message{{Role: "user", Content: text}},
		})
		if err != nil {
			if resilience.IsTransientHTTPStatus(anthropic.StatusCode(err)) || errors.Is(err, context.DeadlineExceeded) {
				return nil, resilience.NewTransientError(err, anthropic.StatusCode(err))
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		metrics.ObserveOracle(kind, "error")
		return eris.Wrapf(err, "oracle: %s", kind)
	}

	stage := stageFrom(ctx)
	resp.Usage.LogCost(model, stage)

	if err := Decode(resp.Text(), out); err != nil {
		metrics.ObserveOracle(kind, "malformed")
		zap.L().Debug("oracle: malformed response",
			zap.String("stage", stage),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return err
	}
	metrics.ObserveOracle(kind, "ok")
	return nil
}

// truncateRunes cuts s to at most n runes so a multi-byte character is never split.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
