package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidScope marks scopes the query builder cannot express.
var ErrInvalidScope = errors.New("invalid scope")

// Scope narrows an analysis request to a slice of the cluster. Narrower
// fields require the broader ones (a pod needs a namespace); Selector is a
// raw label selector appended to every base metric query.
type Scope struct {
	Cluster    string
	Namespace  string
	Deployment string
	Pod        string
	Selector   string
}

// Validate rejects scopes the query builder cannot express.
func (s Scope) Validate() error {
	if s.Pod != "" && s.Namespace == "" {
		return fmt.Errorf("%w: pod %q requires a namespace", ErrInvalidScope, s.Pod)
	}
	if s.Deployment != "" && s.Namespace == "" {
		return fmt.Errorf("%w: deployment %q requires a namespace", ErrInvalidScope, s.Deployment)
	}
	if strings.ContainsAny(s.Namespace+s.Deployment+s.Pod, `{}"`) {
		return fmt.Errorf("%w: names must not contain selector metacharacters", ErrInvalidScope)
	}
	return nil
}

// AnalysisRequest is the exposed request shape: a scope, an optional metric
// focus, an optional window, and an optional forecast target timestamp.
type AnalysisRequest struct {
	Model      string
	Scope      Scope
	Metric     string
	TimeRange  TimeRange
	TargetTime time.Time
}
