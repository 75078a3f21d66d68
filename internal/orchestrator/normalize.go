package orchestrator

import (
	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/engine"
)

// The engine reports change counts under a different shape per
// operation. These four functions are the only place that variance is
// absorbed: each is total over its input, so a result with no counts at
// all still yields an all-zero summary instead of a lookup fault.

func normalizePreview(res *engine.PreviewResult) domain.DeploymentSummary {
	if res == nil {
		return domain.DeploymentSummary{}
	}
	return summaryFromCounts(res.ChangeSummary)
}

func normalizeUp(res *engine.UpResult) domain.DeploymentSummary {
	if res == nil {
		return domain.DeploymentSummary{}
	}
	return summaryFromCounts(res.Summary.ResourceChanges)
}

func normalizeDestroy(res *engine.DestroyResult) domain.DeploymentSummary {
	if res == nil {
		return domain.DeploymentSummary{}
	}
	return summaryFromCounts(res.Summary.ResourceChanges)
}

func normalizeRefresh(res *engine.RefreshResult) domain.DeploymentSummary {
	if res == nil {
		return domain.DeploymentSummary{}
	}
	return summaryFromCounts(res.Summary.ResourceChanges)
}

// summaryFromCounts maps the engine's create/update/delete/same keys to
// the uniform summary. Missing keys and nil maps count as zero.
func summaryFromCounts(counts map[string]int) domain.DeploymentSummary {
	return domain.DeploymentSummary{
		Created:   counts["create"],
		Updated:   counts["update"],
		Deleted:   counts["delete"],
		Unchanged: counts["same"],
	}
}
