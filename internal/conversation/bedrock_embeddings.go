package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/sync/errgroup"
)

const defaultEmbeddingParallelism = 4

type bedrockInvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// titanEmbeddingRequest is the Titan text embeddings v2 body. Dimensions is
// left to the model default when zero.
type titanEmbeddingRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbeddingResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockEmbeddingClient embeds listing summaries and buyer queries with a
// Titan model. Vectors are normalized so cosine similarity is a dot product.
type BedrockEmbeddingClient struct {
	api         bedrockInvokeModelAPI
	dimensions  int
	parallelism int
}

// EmbeddingOption configures a BedrockEmbeddingClient.
type EmbeddingOption func(*BedrockEmbeddingClient)

// WithEmbeddingDimensions requests a specific vector size (256, 512 or 1024 for Titan v2).
func WithEmbeddingDimensions(n int) EmbeddingOption {
	return func(c *BedrockEmbeddingClient) {
		if n > 0 {
			c.dimensions = n
		}
	}
}

// WithEmbeddingParallelism bounds concurrent InvokeModel calls per Embed.
func WithEmbeddingParallelism(n int) EmbeddingOption {
	return func(c *BedrockEmbeddingClient) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

func NewBedrockEmbeddingClient(api bedrockInvokeModelAPI, opts ...EmbeddingOption) *BedrockEmbeddingClient {
	if api == nil {
		panic("conversation: bedrock runtime client cannot be nil")
	}
	c := &BedrockEmbeddingClient{api: api, parallelism: defaultEmbeddingParallelism}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns one vector per text, in input order. Titan takes a single
// input per call, so texts are embedded concurrently.
func (c *BedrockEmbeddingClient) Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("conversation: bedrock embedding model id is required")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.embedOne(gctx, modelID, text)
			if err != nil {
				return fmt.Errorf("conversation: embed text %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *BedrockEmbeddingClient) embedOne(ctx context.Context, modelID, text string) ([]float32, error) {
	payload, err := json.Marshal(titanEmbeddingRequest{
		InputText:  text,
		Dimensions: c.dimensions,
		Normalize:  true,
	})
	if err != nil {
		return nil, err
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, err
	}

	var decoded titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New("empty embedding")
	}

	vec := make([]float32, len(decoded.Embedding))
	for i, f := range decoded.Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}
