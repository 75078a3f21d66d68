package orchestrator

import (
	"testing"

	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/engine"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmptyResults(t *testing.T) {
	// Results that omit every count field must normalize to an
	// all-zero summary, for all four operation shapes.
	zero := domain.DeploymentSummary{}

	assert.Equal(t, zero, normalizePreview(&engine.PreviewResult{}))
	assert.Equal(t, zero, normalizeUp(&engine.UpResult{}))
	assert.Equal(t, zero, normalizeDestroy(&engine.DestroyResult{}))
	assert.Equal(t, zero, normalizeRefresh(&engine.RefreshResult{}))

	assert.Equal(t, zero, normalizePreview(nil))
	assert.Equal(t, zero, normalizeUp(nil))
	assert.Equal(t, zero, normalizeDestroy(nil))
	assert.Equal(t, zero, normalizeRefresh(nil))
}

func TestNormalizeMapsEngineKeys(t *testing.T) {
	summary := normalizePreview(&engine.PreviewResult{
		ChangeSummary: map[string]int{"create": 3, "update": 1, "delete": 2, "same": 7},
	})
	assert.Equal(t, domain.DeploymentSummary{Created: 3, Updated: 1, Deleted: 2, Unchanged: 7}, summary)

	up := normalizeUp(&engine.UpResult{
		Summary: engine.UpdateSummary{ResourceChanges: map[string]int{"create": 5}},
	})
	assert.Equal(t, domain.DeploymentSummary{Created: 5}, up)
}

func TestNormalizeIgnoresUnknownKeys(t *testing.T) {
	summary := normalizeDestroy(&engine.DestroyResult{
		Summary: engine.UpdateSummary{ResourceChanges: map[string]int{"delete": 4, "read": 9}},
	})
	assert.Equal(t, domain.DeploymentSummary{Deleted: 4}, summary)
}
