package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/utils"
)

const (
	Provider = "gemini"

	defaultModel      = "gemini-2.5-flash"
	defaultTimeout    = 20 * time.Second
	defaultMaxRetries = 1
	retryDelay        = 2 * time.Second

	statusResourceExhausted = "RESOURCE_EXHAUSTED"
)

var sleep = utils.WaitFor

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (c genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := c.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Options configure a Generator.
type Options struct {
	APIKey            string
	Model             string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// Generator sends single-turn prompts to Gemini with a per-attempt timeout and
// at most one retry on transient failures.
type Generator struct {
	chats      chatCreator
	model      string
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Output is the text of a response and the tokens the provider billed for it.
type Output struct {
	Text       string
	TokensUsed int
}

// NewGenerator creates a Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, opts Options, logger *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// One retry at most, never more.
	retries := opts.MaxRetries
	if retries < 0 || retries > defaultMaxRetries {
		retries = defaultMaxRetries
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		chats:      genaiChats{chats: client.Chats},
		model:      model,
		timeout:    timeout,
		maxRetries: retries,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// Generate sends message with the given system instruction and returns the
// concatenated text of the first candidate.
func (g *Generator) Generate(ctx context.Context, system, message string) (*Output, error) {
	if g == nil || g.chats == nil {
		return nil, errors.New("gemini generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.New("prompt must not be empty")
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}
	if system = strings.TrimSpace(system); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("retrying gemini request after transient failure",
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, retryDelay); err != nil {
				return nil, canceled(err)
			}
		}

		out, err := g.attempt(ctx, config, message)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !ai.IsTransient(err) {
			break
		}
	}

	return nil, lastErr
}

func (g *Generator) attempt(ctx context.Context, config *genai.GenerateContentConfig, message string) (*Output, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, canceled(err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()

	chat, err := g.chats.Create(attemptCtx, g.model, config, nil)
	if err != nil {
		return nil, classify(ctx, err)
	}

	resp, err := chat.SendMessage(attemptCtx, genai.Part{Text: message})
	if err != nil {
		return nil, classify(ctx, err)
	}

	g.logger.Debug("gemini response received", zap.Duration("latency", time.Since(started)))

	out := &Output{Text: responseText(resp)}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if out.Text == "" {
		return nil, ai.SchemaError(Provider, out.TokensUsed, errors.New("empty response"))
	}
	return out, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
		// Only the first candidate with content is used.
		if builder.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(builder.String())
}

// classify maps a provider or transport failure onto the ai error types.
// ctx is the caller's context: its cancellation is never retried.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return canceled(err)
	}

	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == statusResourceExhausted {
			return &ai.QuotaExceededError{Provider: Provider, Message: apiErr.Message, Err: err}
		}
		return ai.StatusError(Provider, apiErr.Code, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ai.APIError{Provider: Provider, Kind: ai.KindTimeout, Transient: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ai.APIError{Provider: Provider, Kind: ai.KindTimeout, Transient: true, Err: err}
	}

	return &ai.APIError{Provider: Provider, Kind: ai.KindTransport, Err: err}
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func canceled(err error) error {
	return &ai.APIError{Provider: Provider, Kind: ai.KindCanceled, Err: err}
}
