package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nainya/boltindex/pkg/errs"
)

// OpenAIConfig configures the remote embeddings analyzer
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAI calls an OpenAI-compatible embeddings endpoint
type OpenAI struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAI creates the remote analyzer
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai analyzer: missing API key")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dims:   cfg.Dimensions,
	}, nil
}

// Analyze embeds the request text. Pragmatic requests embed the granularity
// context ahead of the text so placement shifts the vector.
func (o *OpenAI) Analyze(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errs.ErrEmptyContent
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{o.input(req)},
		Model:      o.model,
		Dimensions: o.dims,
	})
	if err != nil {
		if code := statusOf(err); code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return nil, fmt.Errorf("%w: %w", errs.ErrAnalysisUnavailable, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", errs.ErrAnalysisUnavailable)
	}

	return &Result{
		Vector:   resp.Data[0].Embedding,
		Features: map[string]float64{"prompt_tokens": float64(resp.Usage.PromptTokens)},
		Model:    string(resp.Model),
	}, nil
}

func (o *OpenAI) input(req Request) string {
	if req.View != Pragmatic || (len(req.Context) == 0 && req.ContentTypeHint == "") {
		return req.Text
	}
	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if req.ContentTypeHint != "" {
		fmt.Fprintf(&b, "content type: %s\n", req.ContentTypeHint)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, req.Context[k])
	}
	b.WriteString("\n")
	b.WriteString(req.Text)
	return b.String()
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
