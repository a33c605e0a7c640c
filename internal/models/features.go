package models

// FeatureVector is the ordered numeric input for one inference call. Values
// are laid out exactly as the feature catalogue for the model family
// prescribes; FeatureCount records the length the catalogue claims, so a
// mismatch between the two is detectable before the vector leaves the
// process.
type FeatureVector struct {
	Family       string
	Values       []float64
	FeatureCount int
}
