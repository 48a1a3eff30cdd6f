package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiLLMClient completes chat turns with Google's Gemini API. The model id
// is fixed at construction; LLMRequest.Model is ignored.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: gemini client: %w", err)
	}
	return &GeminiLLMClient{client: client, modelID: modelID}, nil
}

func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	history, last, err := geminiTurns(req.Messages)
	if err != nil {
		return LLMResponse{}, err
	}

	model := c.client.GenerativeModel(c.modelID)
	configureGeminiModel(model, req)

	chat := model.StartChat()
	chat.History = history
	resp, err := chat.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: gemini send: %w", err)
	}
	return geminiResponse(resp)
}

func configureGeminiModel(model *genai.GenerativeModel, req LLMRequest) {
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.JSONOutput {
		model.ResponseMIMEType = "application/json"
	}

	var system []string
	for _, block := range req.System {
		if block = strings.TrimSpace(block); block != "" {
			system = append(system, block)
		}
	}
	for _, msg := range req.Messages {
		if msg.Role == ChatRoleSystem && strings.TrimSpace(msg.Content) != "" {
			system = append(system, strings.TrimSpace(msg.Content))
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(system, "\n\n")))
	}
}

// geminiTurns maps the conversation onto Gemini chat history and returns the
// final user text separately, since SendMessage takes it as an argument.
// System turns are handled by configureGeminiModel.
func geminiTurns(messages []ChatMessage) ([]*genai.Content, string, error) {
	var history []*genai.Content
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		var role string
		switch msg.Role {
		case ChatRoleSystem:
			continue
		case ChatRoleUser:
			role = "user"
		case ChatRoleAssistant:
			role = "model"
		default:
			return nil, "", fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
		if n := len(history); n > 0 && history[n-1].Role == role {
			history[n-1].Parts = append(history[n-1].Parts, genai.Text(text))
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}

	if len(history) == 0 {
		return nil, "", errors.New("conversation: gemini request has no turns")
	}
	tail := history[len(history)-1]
	if tail.Role != "user" {
		return nil, "", errors.New("conversation: gemini request must end with a user turn")
	}
	history = history[:len(history)-1]

	parts := make([]string, 0, len(tail.Parts))
	for _, p := range tail.Parts {
		parts = append(parts, string(p.(genai.Text)))
	}
	return history, strings.Join(parts, "\n"), nil
}

func geminiResponse(resp *genai.GenerateContentResponse) (LLMResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return LLMResponse{}, errors.New("conversation: gemini candidate has no content")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return LLMResponse{}, errors.New("conversation: gemini candidate has no text")
	}

	out := LLMResponse{Text: text, StopReason: candidate.FinishReason.String()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = TokenUsage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
	}
	return out, nil
}

func (c *GeminiLLMClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
