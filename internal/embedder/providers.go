package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "sha256-384"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Endpoints
	OpenAIEndpoint = "https://api.openai.com/v1/embeddings"
	JinaEndpoint   = "https://api.jina.ai/v1/embeddings"
)

// APIProvider implements Embedder against an OpenAI-compatible /embeddings endpoint
type APIProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// APIOption configures an APIProvider
type APIOption func(*APIProvider)

// WithEndpoint overrides the provider URL
func WithEndpoint(url string) APIOption {
	return func(p *APIProvider) { p.endpoint = url }
}

// WithModel overrides the default model
func WithModel(model string) APIOption {
	return func(p *APIProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithRetry overrides the retry policy
func WithRetry(cfg RetryConfig) APIOption {
	return func(p *APIProvider) { p.retry = cfg }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) APIOption {
	return func(p *APIProvider) { p.httpClient = c }
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache, opts ...APIOption) (*APIProvider, error) {
	return newAPIProvider(ProviderOpenAI, OpenAIEndpoint, DefaultOpenAIModel, OpenAIDimension, apiKey, cache, opts)
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache, opts ...APIOption) (*APIProvider, error) {
	return newAPIProvider(ProviderJina, JinaEndpoint, DefaultJinaModel, JinaDimension, apiKey, cache, opts)
}

func newAPIProvider(name, endpoint, model string, dimension int, apiKey string, cache *Cache, opts []APIOption) (*APIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s API key not set", ErrNoProviderEnabled, name)
	}
	p := &APIProvider{
		name:      name,
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *APIProvider) GenerateEmbedding(ctx context.Context, text string) (*Embedding, error) {
	embeddings, err := p.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateBatch serves cached texts from the cache and sends only the rest to the API
func (p *APIProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts, MaxBatchSize); err != nil {
		return nil, err
	}

	result := make([]*Embedding, len(texts))
	var (
		missing    []string
		missingIdx []int
	)
	for i, text := range texts {
		if emb, ok := p.cache.Get(ComputeHash(text)); ok {
			result[i] = emb
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := withRetry(ctx, p.retry, func(ctx context.Context) ([]*Embedding, error) {
		return p.callAPI(ctx, missing)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.name, err)
	}
	if len(fetched) != len(missing) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts", ErrProviderFailed, p.name, len(fetched), len(missing))
	}

	for j, emb := range fetched {
		emb.Hash = ComputeHash(missing[j])
		p.cache.Set(emb.Hash, emb)
		result[missingIdx[j]] = emb
	}
	return result, nil
}

func (p *APIProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": p.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The API may answer out of order
	sort.Slice(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	model := apiResp.Model
	if model == "" {
		model = p.model
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     model,
		}
	}

	return embeddings, nil
}

func (p *APIProvider) Dimension() int {
	return p.dimension
}

func (p *APIProvider) Provider() string {
	return p.name
}

func (p *APIProvider) Model() string {
	return p.model
}

func (p *APIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider derives deterministic unit vectors from the text hash.
// It needs no network and is meant for tests and offline pipelines.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) *LocalProvider {
	return &LocalProvider{
		model: DefaultLocalModel,
		cache: cache,
	}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(text)
	if emb, ok := l.cache.Get(hash); ok {
		return emb, nil
	}

	emb := &Embedding{
		Vector:    NormalizeVector(hashVector(text, LocalDimension)),
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}
	l.cache.Set(hash, emb)
	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts, 0); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(texts))
	for i, text := range texts {
		emb, err := l.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// hashVector stretches sha256(text || block) over dim components in [-1, 1]
func hashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	var block [4]byte
	for i := 0; i < dim; i += sha256.Size {
		binary.BigEndian.PutUint32(block[:], uint32(i/sha256.Size))
		sum := sha256.Sum256(append([]byte(text), block[:]...))
		for j := 0; j < sha256.Size && i+j < dim; j++ {
			vector[i+j] = float32(sum[j])/127.5 - 1
		}
	}
	return vector
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
