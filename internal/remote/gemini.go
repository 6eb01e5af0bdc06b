package remote

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"reasongate/internal/faults"
)

const defaultGeminiModel = "gemini-2.5-pro"

// GeminiService starts chats against the Gemini API. It is the default
// backend.
type GeminiService struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewGeminiService builds a Gemini-backed Service. rps caps outbound
// requests per second; zero disables client-side limiting.
func NewGeminiService(ctx context.Context, apiKey, model string, rps float64, log *zap.Logger) (*GeminiService, error) {
	if model == "" {
		model = defaultGeminiModel
	}
	if log == nil {
		log = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, faults.Wrap(faults.APIAuthError, "create gemini client", err)
	}
	return &GeminiService{
		client:  client,
		model:   model,
		limiter: newLimiter(rps),
		log:     log,
	}, nil
}

// StartChat opens a Gemini chat primed with the given system
// instructions and synthetic history.
func (s *GeminiService) StartChat(ctx context.Context, system string, history []Message) (Chat, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	chat, err := s.client.Chats.Create(ctx, s.model, cfg, contents)
	if err != nil {
		return nil, classifySendErr(err)
	}
	s.log.Debug("gemini chat started", zap.String("model", s.model), zap.Int("primed_turns", len(history)))
	return &geminiChat{chat: chat, limiter: s.limiter}, nil
}

type geminiChat struct {
	chat    *genai.Chat
	limiter *rate.Limiter
}

func (c *geminiChat) Send(ctx context.Context, text string) (string, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return "", err
	}
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", classifySendErr(err)
	}
	out := resp.Text()
	if out == "" {
		return "", faults.New(faults.APIParseError, "empty response from remote service")
	}
	return out, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		return faults.Classify(err)
	}
	return nil
}

// classifySendErr maps provider failures onto the api taxonomy:
// throttling and timeouts become retryable errors, credential problems
// do not.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}
	return faults.Classify(err)
}
