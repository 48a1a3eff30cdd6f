package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/realestate-lead-ai/internal/config"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// ErrNoModel is returned when the selected provider has no model configured.
var ErrNoModel = errors.New("bootstrap: no llm model configured")

// LLM is the configured completion client plus the optional embedder used
// for listing retrieval.
type LLM struct {
	Client         conversation.LLMClient
	Model          string
	Provider       string
	Embedder       listings.Embedder
	EmbeddingModel string

	closer func() error
}

// Close releases provider connections.
func (l *LLM) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer()
}

// BuildLLM selects Bedrock or Gemini from LLM_PROVIDER. Embeddings always go
// through Bedrock and are skipped when no embedding model is set.
func BuildLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var bedrockClient *bedrockruntime.Client
	bedrock := func() *bedrockruntime.Client {
		if bedrockClient == nil {
			bedrockClient = bedrockruntime.NewFromConfig(awsCfg)
		}
		return bedrockClient
	}

	out := &LLM{Provider: cfg.LLMProvider}
	switch cfg.LLMProvider {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" || strings.TrimSpace(cfg.GeminiModelID) == "" {
			return nil, fmt.Errorf("%w: gemini needs GEMINI_API_KEY and GEMINI_MODEL_ID", ErrNoModel)
		}
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		out.Client = client
		out.Model = cfg.GeminiModelID
		out.closer = client.Close
	case "bedrock", "":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("%w: set BEDROCK_MODEL_ID", ErrNoModel)
		}
		out.Provider = "bedrock"
		out.Client = conversation.NewBedrockLLMClient(bedrock())
		out.Model = cfg.BedrockModelID
	default:
		return nil, fmt.Errorf("bootstrap: unsupported llm provider %q", cfg.LLMProvider)
	}

	if model := strings.TrimSpace(cfg.BedrockEmbeddingModelID); model != "" {
		out.Embedder = conversation.NewBedrockEmbeddingClient(bedrock(), conversation.WithEmbeddingDimensions(cfg.EmbeddingDimensions))
		out.EmbeddingModel = model
	} else {
		logger.Warn("no embedding model configured; listing retrieval disabled")
	}

	logger.Info("llm configured", "provider", out.Provider, "model", out.Model, "embedding_model", out.EmbeddingModel)
	return out, nil
}

// BuildRetriever builds the listing vector index, or returns nil when the
// LLM has no embedder.
func BuildRetriever(llm *LLM, repo listings.Repository, logger *logging.Logger) *listings.VectorIndex {
	if llm == nil || llm.Embedder == nil {
		return nil
	}
	return listings.NewVectorIndex(llm.Embedder, llm.EmbeddingModel, repo, logger)
}
