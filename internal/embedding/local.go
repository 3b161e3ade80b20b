package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// LocalConfig configures the local ONNX fallback embedder.
type LocalConfig struct {
	// Model is a friendly model name (see modelMapping) or a raw fastembed model
	// identifier. Defaults to BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir caches downloaded model files. Defaults to ./local_cache.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// LocalClient embeds with a local ONNX model when the remote backend is
// unreachable. Its Version() is always prefixed "local:" so it is never
// mistaken for the remote backend's embedding_version, per §4.2's requirement
// that the fallback report a distinct version.
type LocalClient struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	mu        sync.RWMutex
}

// NewLocalClient constructs the fallback embedder.
func NewLocalClient(cfg LocalConfig) (*LocalClient, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}
	model, ok := modelMapping[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported local model %q", ErrInvalidConfig, cfg.Model)
		}
	}
	dimension := modelDimensions[model]

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing local embedder: %w", err)
	}

	return &LocalClient{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: dimension,
	}, nil
}

func (c *LocalClient) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if role == RoleQuery && len(texts) == 1 {
		vec, err := c.model.QueryEmbed(texts[0])
		if err != nil {
			return nil, fmt.Errorf("local embed failed: %w", err)
		}
		return [][]float32{vec}, nil
	}

	vecs, err := c.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("local embed failed: %w", err)
	}
	return vecs, nil
}

// Classify is unsupported by the local fallback; it always returns zero scores
// rather than failing the caller, since NSFW classification is a best-effort
// signal and the local path only exists to keep search available.
func (c *LocalClient) Classify(ctx context.Context, texts []string) ([]float32, error) {
	scores := make([]float32, len(texts))
	return scores, nil
}

func (c *LocalClient) Dimension() int { return c.dimension }

func (c *LocalClient) Version() string {
	return fmt.Sprintf("local:%s:%d", c.modelName, c.dimension)
}

func (c *LocalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		return c.model.Destroy()
	}
	return nil
}

var _ Client = (*LocalClient)(nil)
