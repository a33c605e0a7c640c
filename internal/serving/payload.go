package serving

import (
	"encoding/json"
	"fmt"
)

// The serving protocol is versioned by shape: a predict shape, a health
// shape, and a flexible instances payload that carries either raw feature
// arrays or named-field rows. No single universal shape is assumed across
// model families.

// predictRequest is the V1 predict body: {"instances": [...]}.
type predictRequest struct {
	Instances json.RawMessage `json:"instances"`
}

// predictResponse is the V1 predict reply. Error carries the backend's
// textual failure when Predictions is absent.
type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error"`
}

// healthResponse is the V1 model metadata reply used for readiness.
type healthResponse struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// encodeRows marshals raw feature arrays into an instances payload.
func encodeRows(rows [][]float64) (json.RawMessage, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode instances: %w", err)
	}
	return data, nil
}

// encodeNamedRows marshals named-field rows into an instances payload.
func encodeNamedRows(rows []map[string]float64) (json.RawMessage, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode named instances: %w", err)
	}
	return data, nil
}

// decodePrediction flattens one prediction entry into floats. Backends
// return scalars, arrays of scalars, or {"score": x}-style objects depending
// on the model family; anything else is a protocol error.
func decodePrediction(raw json.RawMessage) ([]float64, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return []float64{scalar}, nil
	}
	var array []float64
	if err := json.Unmarshal(raw, &array); err == nil {
		return array, nil
	}
	var object map[string]float64
	if err := json.Unmarshal(raw, &object); err == nil {
		for _, key := range []string{"score", "value", "prediction"} {
			if v, ok := object[key]; ok {
				return []float64{v}, nil
			}
		}
		return nil, fmt.Errorf("prediction object has no score/value/prediction field")
	}
	return nil, fmt.Errorf("unsupported prediction shape: %s", truncate(string(raw), 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
