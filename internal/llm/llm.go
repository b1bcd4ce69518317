package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ScorerMode selects how similarity is computed.
type ScorerMode string

const (
	// ScorerEmbedding compares embedding vectors by cosine similarity.
	ScorerEmbedding ScorerMode = "embedding"
	// ScorerJudge asks a chat model to rate semantic agreement.
	ScorerJudge ScorerMode = "judge"
)

// IsValidMode checks if a scorer mode name is valid.
func IsValidMode(m string) bool {
	switch ScorerMode(m) {
	case ScorerEmbedding, ScorerJudge:
		return true
	}
	return false
}

// Config holds model names and the endpoint for an OpenAI-compatible API.
type Config struct {
	BaseURL         string
	APIKey          string
	TranscribeModel string
	EmbeddingModel  string
	JudgeModel      string
	Mode            ScorerMode
	Language        string // optional ISO-639-1 hint for transcription
}

// Client wraps an OpenAI-compatible API client. It transcribes answers and
// scores them against reference answers.
type Client struct {
	api *openai.Client
	cfg Config
}

// New creates a new LLM client.
func New(cfg Config) (*Client, error) {
	if cfg.Mode == "" {
		cfg.Mode = ScorerEmbedding
	}
	if !IsValidMode(string(cfg.Mode)) {
		return nil, fmt.Errorf("invalid scorer mode %q", cfg.Mode)
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = openai.Whisper1
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.JudgeModel == "" {
		cfg.JudgeModel = openai.GPT4oMini
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api: openai.NewClientWithConfig(config),
		cfg: cfg,
	}, nil
}

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Transcribe converts the audio file at path to text.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:       c.cfg.TranscribeModel,
		FilePath:    path,
		Language:    c.cfg.Language,
		Temperature: 0,
		Format:      openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription API call: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Score returns the similarity of candidate to reference in [0,1].
func (c *Client) Score(ctx context.Context, candidate, reference string) (float64, error) {
	var (
		s   float64
		err error
	)
	switch c.cfg.Mode {
	case ScorerJudge:
		s, err = c.judge(ctx, candidate, reference)
	default:
		s, err = c.embeddingSimilarity(ctx, candidate, reference)
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, errors.New("scorer returned a non-finite similarity")
	}
	return math.Max(0, math.Min(1, s)), nil
}

func (c *Client) embeddingSimilarity(ctx context.Context, candidate, reference string) (float64, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{candidate, reference},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return 0, fmt.Errorf("embeddings API call: %w", err)
	}
	if len(resp.Data) != 2 {
		return 0, fmt.Errorf("embeddings API returned %d vectors, want 2", len(resp.Data))
	}
	vecs := make([][]float32, 2)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index > 1 {
			return 0, fmt.Errorf("embeddings API returned index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return cosine(vecs[0], vecs[1])
}

func cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
