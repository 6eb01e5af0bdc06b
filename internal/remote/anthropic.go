package remote

import (
	"context"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"reasongate/internal/faults"
)

const (
	defaultClaudeModel    = "claude-sonnet-4-5"
	claudeMaxOutputTokens = 8192
)

// ClaudeService starts chats against the Anthropic Messages API. Unlike
// Gemini chats, the Messages API is stateless, so the handle carries
// the transcript client-side.
type ClaudeService struct {
	client  anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClaudeService builds a Claude-backed Service. The API key is read
// from the environment by the SDK.
func NewClaudeService(model string, rps float64, log *zap.Logger) *ClaudeService {
	if model == "" {
		model = defaultClaudeModel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ClaudeService{
		client:  anthropic.NewClient(),
		model:   anthropic.Model(model),
		limiter: newLimiter(rps),
		log:     log,
	}
}

// StartChat opens a client-side conversation primed with system
// instructions and synthetic history.
func (s *ClaudeService) StartChat(_ context.Context, system string, history []Message) (Chat, error) {
	c := &claudeChat{svc: s, system: system}
	for _, m := range history {
		if m.Role == RoleModel {
			c.messages = append(c.messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		} else {
			c.messages = append(c.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	s.log.Debug("claude chat started", zap.String("model", string(s.model)), zap.Int("primed_turns", len(history)))
	return c, nil
}

type claudeChat struct {
	svc    *ClaudeService
	system string

	mu       sync.Mutex
	messages []anthropic.MessageParam
}

func (c *claudeChat) Send(ctx context.Context, text string) (string, error) {
	if err := waitLimiter(ctx, c.svc.limiter); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.messages = append(c.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	transcript := make([]anthropic.MessageParam, len(c.messages))
	copy(transcript, c.messages)
	c.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     c.svc.model,
		MaxTokens: claudeMaxOutputTokens,
		Messages:  transcript,
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	msg, err := c.svc.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifySendErr(err)
	}

	var reply string
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply = block.Text
			break
		}
	}
	if reply == "" {
		return "", faults.New(faults.APIParseError, "no text block in remote response")
	}

	c.mu.Lock()
	c.messages = append(c.messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	c.mu.Unlock()
	return reply, nil
}
