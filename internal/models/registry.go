package models

// ModelFamily tags the calling convention and post-processing path of a model.
type ModelFamily string

const (
	FamilyAnomaly  ModelFamily = "anomaly"
	FamilyForecast ModelFamily = "forecast"
)

// ModelInfo describes one registered model. ServingName is the identifier the
// serving backend expects in its URL path; it is resolved once at registry
// build time and never re-derived mid-request.
type ModelInfo struct {
	LogicalName string
	Endpoint    string
	ServingName string
	Namespace   string
	Family      ModelFamily

	// EnsembleOf lists member logical names when this model is a virtual
	// ensemble; predict calls fan out to the members instead of Endpoint.
	EnsembleOf []string
}
