package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// ErrExtractionUnparseable is returned when the model output is not a JSON
// object. Nothing is applied to the lead in that case.
var ErrExtractionUnparseable = errors.New("conversation: extraction output not parseable")

// LeadStore is the slice of the lead repository the extractor needs.
type LeadStore interface {
	GetByID(ctx context.Context, id string) (*leads.Lead, error)
	SaveQualification(ctx context.Context, lead *leads.Lead) error
}

// ExtractorConfig tunes extraction model calls.
type ExtractorConfig struct {
	Model     string
	MaxTokens int32
	Timeout   time.Duration
	Merge     leads.MergeOptions
}

// Extractor reconciles structured lead fields from the full transcript.
type Extractor struct {
	llm     LLMClient
	session Session
	leads   LeadStore
	cfg     ExtractorConfig
	logger  *logging.Logger
	now     func() time.Time
}

func NewExtractor(llm LLMClient, session Session, store LeadStore, cfg ExtractorConfig, logger *logging.Logger) *Extractor {
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if session == nil {
		panic("conversation: session cannot be nil")
	}
	if store == nil {
		panic("conversation: lead store cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAgentTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{
		llm:     llm,
		session: session,
		leads:   store,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Extract re-reads the lead's transcript and merges the model's answer into
// the lead. The merge is all-or-nothing on parse failure.
func (e *Extractor) Extract(ctx context.Context, leadID string) (leads.MergeReport, error) {
	lead, err := e.leads.GetByID(ctx, leadID)
	if err != nil {
		return leads.MergeReport{}, fmt.Errorf("conversation: load lead: %w", err)
	}
	msgs, err := e.session.Messages(ctx, lead.ConversationID)
	if err != nil {
		return leads.MergeReport{}, err
	}
	transcript := renderTranscript(msgs)
	if transcript == "" {
		return leads.MergeReport{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	resp, err := e.llm.Complete(callCtx, LLMRequest{
		Model:       e.cfg.Model,
		System:      []string{extractionInstructions},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "Conversation:\n" + transcript}},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: 0,
		JSONOutput:  true,
	})
	if err != nil {
		return leads.MergeReport{}, fmt.Errorf("conversation: extraction model call: %w", err)
	}

	fields, err := parseExtraction(resp.Text)
	if err != nil {
		e.logger.Warn("extraction output unparseable", "lead_id", leadID, "error", err)
		return leads.MergeReport{}, err
	}

	report := leads.ApplyExtraction(lead, fields, e.cfg.Merge)
	if len(report.Rejected) > 0 {
		e.logger.Info("extraction fields rejected", "lead_id", leadID, "rejected", report.Rejected)
	}
	if !report.Changed() {
		return report, nil
	}
	now := e.now()
	lead.LastInteractionAt = &now
	if err := e.leads.SaveQualification(ctx, lead); err != nil {
		return report, fmt.Errorf("conversation: save extracted fields: %w", err)
	}
	e.logger.Info("lead fields extracted", "lead_id", leadID, "applied", report.Applied())
	return report, nil
}

// renderTranscript formats the conversation as one text block.
func renderTranscript(msgs []StoredMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		body := strings.TrimSpace(m.Body)
		if body == "" {
			continue
		}
		if m.Sender == SenderUser {
			b.WriteString("Customer: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(body)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func parseExtraction(text string) (map[string]json.RawMessage, error) {
	text = stripCodeFence(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, ErrExtractionUnparseable
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionUnparseable, err)
	}
	return fields, nil
}
