package promapi

import (
	"fmt"
	"strings"

	"github.com/kubeaiops/inference-engine/internal/models"
)

// BuildSelector renders a scope into PromQL label matchers. The returned
// string is the inner matcher list without braces, so query templates can
// splice it into an existing selector. Quoting is exact: names were already
// validated to be free of selector metacharacters.
func BuildSelector(scope models.Scope) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}

	matchers := make([]string, 0, 4)
	if scope.Cluster != "" {
		matchers = append(matchers, fmt.Sprintf(`cluster=%q`, scope.Cluster))
	}
	if scope.Namespace != "" {
		matchers = append(matchers, fmt.Sprintf(`namespace=%q`, scope.Namespace))
	}
	if scope.Pod != "" {
		matchers = append(matchers, fmt.Sprintf(`pod=%q`, scope.Pod))
	} else if scope.Deployment != "" {
		// Deployments own their pods through the replicaset name prefix.
		matchers = append(matchers, fmt.Sprintf(`pod=~%q`, scope.Deployment+"-.*"))
	}
	if scope.Selector != "" {
		matchers = append(matchers, scope.Selector)
	}
	return strings.Join(matchers, ","), nil
}

// RenderQuery substitutes the scope selector into a base metric query
// template. Templates carry a single %s placeholder inside their selector
// braces.
func RenderQuery(template string, scope models.Scope) (string, error) {
	selector, err := BuildSelector(scope)
	if err != nil {
		return "", err
	}
	if !strings.Contains(template, "%s") {
		return template, nil
	}
	return fmt.Sprintf(template, selector), nil
}
