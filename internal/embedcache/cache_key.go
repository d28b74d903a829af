package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// buildCacheKey returns the lru key, the content hash and the model scope.
// The scope folds in the output width so a dimension change never serves
// stale vectors.
func buildCacheKey(modelName string, dim int, text string) (string, string, string) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	scope := modelName + "@" + strconv.Itoa(dim)
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return "embed:" + scope + ":" + contentHash, contentHash, scope
}

func cloneEmbedding(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float64, len(values))
	copy(clone, values)
	return clone
}
