package postprocess

import "github.com/kubeaiops/inference-engine/internal/models"

// Combine merges per-component ensemble scores. The combined value is the
// mean over successful components, and only exists when a strict majority
// succeeded; failed components stay visible to the caller either way, they
// are never averaged over as placeholders.
func Combine(components []models.ComponentResult) (float64, bool) {
	if len(components) == 0 {
		return 0, false
	}
	sum := 0.0
	succeeded := 0
	for _, comp := range components {
		if comp.Error != "" {
			continue
		}
		sum += comp.Score
		succeeded++
	}
	if succeeded*2 <= len(components) {
		return 0, false
	}
	return sum / float64(succeeded), true
}
