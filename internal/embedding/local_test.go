package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalClientRejectsUnsupportedModel(t *testing.T) {
	_, err := NewLocalClient(LocalConfig{Model: "not-a-real-model"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModelMappingDimensionsAreKnown(t *testing.T) {
	for name, model := range modelMapping {
		dim, ok := modelDimensions[model]
		require.Truef(t, ok, "model %q has no dimension entry", name)
		require.Greaterf(t, dim, 0, "model %q has non-positive dimension", name)
	}
}

func TestLocalClientVersionFormat(t *testing.T) {
	c := &LocalClient{modelName: "BAAI/bge-small-en-v1.5", dimension: 384}
	require.Equal(t, "local:BAAI/bge-small-en-v1.5:384", c.Version())
}

func TestLocalClientClassifyReturnsZeroScores(t *testing.T) {
	c := &LocalClient{modelName: "m", dimension: 1}
	scores, err := c.Classify(nil, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0, 0}, scores)
}

func TestLocalClientCloseNilModelIsSafe(t *testing.T) {
	c := &LocalClient{modelName: "m", dimension: 1}
	require.NoError(t, c.Close())
}
