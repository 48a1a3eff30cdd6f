package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/validation"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// ErrInvalidCommentReply is returned when the model's comment output is not
// the expected JSON object.
var ErrInvalidCommentReply = errors.New("conversation: invalid comment reply")

// DefaultCommentContext seeds the DM conversation when the model gives none.
const DefaultCommentContext = "This conversation is initiated via Instagram comment"

const (
	defaultAgentTimeout = 20 * time.Second
	defaultMaxTokens    = 512
)

// AgentConfig tunes model calls.
type AgentConfig struct {
	Model        string
	MaxTokens    int32
	Temperature  float32
	Timeout      time.Duration
	HistoryLimit int
}

// Agent is the qualification agent. It holds no conversation state.
type Agent struct {
	llm       LLMClient
	cfg       AgentConfig
	validator *validation.Validator
	logger    *logging.Logger
}

func NewAgent(llm LLMClient, cfg AgentConfig, v *validation.Validator, logger *logging.Logger) *Agent {
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAgentTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if v == nil {
		v = validation.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Agent{llm: llm, cfg: cfg, validator: v, logger: logger}
}

// HistoryLimit is how many stored messages callers should read as history.
func (a *Agent) HistoryLimit() int {
	return a.cfg.HistoryLimit
}

// ReplyRequest is one DM turn.
type ReplyRequest struct {
	CompanyName string
	History     []ChatMessage
	Input       string
	Context     string
}

// Reply returns the assistant's next DM.
func (a *Agent) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return "", errors.New("conversation: reply input is empty")
	}
	history := req.History
	// callers usually append the inbound message before reading history
	if n := len(history); n > 0 && history[n-1].Role == ChatRoleUser && strings.TrimSpace(history[n-1].Content) == input {
		history = history[:n-1]
	}
	messages := make([]ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: input})

	system := []string{renderPrompt(dmInstructions, req.CompanyName)}
	if c := strings.TrimSpace(req.Context); c != "" {
		system = append(system, "Relevant listings:\n"+c)
	}

	resp, err := a.complete(ctx, system, messages)
	if err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", errors.New("conversation: model returned an empty reply")
	}
	return resp.Text, nil
}

// CommentRequest is a top-level comment on a post.
type CommentRequest struct {
	CompanyName string
	Username    string
	Comment     string
	Context     string
}

// CommentReply is the structured output for the comment flow.
type CommentReply struct {
	CommentReply        string `json:"comment_reply" validate:"required"`
	FirstDM             string `json:"first_dm" validate:"required"`
	ContextForDMHandler string `json:"context_for_dm_handler"`
	DetectedLanguage    string `json:"detected_language,omitempty"`
}

// CommentReply asks the model for a public reply, a private opener and a
// handoff summary. Output that is not a valid object yields
// ErrInvalidCommentReply.
func (a *Agent) CommentReply(ctx context.Context, req CommentRequest) (*CommentReply, error) {
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, errors.New("conversation: comment is empty")
	}
	system := []string{renderPrompt(commentInstructions, req.CompanyName)}
	if c := strings.TrimSpace(req.Context); c != "" {
		system = append(system, "Listing for this post:\n"+c)
	}
	input := comment
	if u := strings.TrimSpace(req.Username); u != "" {
		input = fmt.Sprintf("@%s commented: %s", u, comment)
	}

	resp, err := a.complete(ctx, system, []ChatMessage{{Role: ChatRoleUser, Content: input}})
	if err != nil {
		return nil, err
	}

	var out CommentReply
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommentReply, err)
	}
	out.CommentReply = strings.TrimSpace(out.CommentReply)
	out.FirstDM = strings.TrimSpace(out.FirstDM)
	out.ContextForDMHandler = strings.TrimSpace(out.ContextForDMHandler)
	if err := a.validator.Struct(out); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommentReply, validation.Describe(err))
	}
	if out.ContextForDMHandler == "" {
		out.ContextForDMHandler = DefaultCommentContext
	}
	return &out, nil
}

func (a *Agent) complete(ctx context.Context, system []string, messages []ChatMessage) (LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := a.llm.Complete(ctx, LLMRequest{
		Model:       a.cfg.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		JSONOutput:  true,
	})
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: model call: %w", err)
	}
	a.logger.Debug("model call completed",
		"duration_ms", time.Since(started).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	resp.Text = strings.TrimSpace(resp.Text)
	return resp, nil
}
