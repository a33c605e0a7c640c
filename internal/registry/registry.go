package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/kubeaiops/inference-engine/internal/config"
	"github.com/kubeaiops/inference-engine/internal/models"
)

// ErrModelNotRegistered signals a lookup for an unknown logical model name.
// It is distinct from "registered but unreachable", which is a serving
// failure.
var ErrModelNotRegistered = errors.New("model not registered")

// Registry is the process-wide table mapping logical model names to
// ModelInfo. The table is built once from configuration and read without
// locks; Reload swaps the whole table atomically, so in-flight requests keep
// whichever snapshot they resolved against.
type Registry struct {
	snapshot atomic.Pointer[table]
}

type table struct {
	models map[string]models.ModelInfo
}

// New builds a registry from the configured model set. The serving-side
// identifier resolution rule (explicit override, else the logical name) is
// applied here, exactly once.
func New(cfg map[string]config.ModelConfig) (*Registry, error) {
	t, err := buildTable(cfg)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.snapshot.Store(t)
	return r, nil
}

// Lookup resolves a logical model name to its ModelInfo.
func (r *Registry) Lookup(logicalName string) (models.ModelInfo, error) {
	t := r.snapshot.Load()
	info, ok := t.models[logicalName]
	if !ok {
		return models.ModelInfo{}, fmt.Errorf("%w: %q", ErrModelNotRegistered, logicalName)
	}
	return info, nil
}

// List returns every registered model sorted by logical name.
func (r *Registry) List() []models.ModelInfo {
	t := r.snapshot.Load()
	infos := make([]models.ModelInfo, 0, len(t.models))
	for _, info := range t.models {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LogicalName < infos[j].LogicalName })
	return infos
}

// Reload replaces the whole table atomically. A build error leaves the
// current snapshot untouched.
func (r *Registry) Reload(cfg map[string]config.ModelConfig) error {
	t, err := buildTable(cfg)
	if err != nil {
		return err
	}
	r.snapshot.Store(t)
	return nil
}

func buildTable(cfg map[string]config.ModelConfig) (*table, error) {
	t := &table{models: make(map[string]models.ModelInfo, len(cfg))}
	for logicalName, mc := range cfg {
		if logicalName == "" {
			return nil, fmt.Errorf("registry: empty logical model name")
		}
		if mc.Endpoint == "" && len(mc.EnsembleOf) == 0 {
			return nil, fmt.Errorf("registry: model %q has no endpoint", logicalName)
		}
		for _, member := range mc.EnsembleOf {
			if _, ok := cfg[member]; !ok {
				return nil, fmt.Errorf("registry: ensemble %q references unregistered member %q", logicalName, member)
			}
			if member == logicalName {
				return nil, fmt.Errorf("registry: ensemble %q references itself", logicalName)
			}
		}
		servingName := mc.ServingName
		if servingName == "" {
			servingName = logicalName
		}
		family := models.ModelFamily(mc.Family)
		switch family {
		case models.FamilyAnomaly, models.FamilyForecast:
		case "":
			family = models.FamilyAnomaly
		default:
			return nil, fmt.Errorf("registry: model %q has unknown family %q", logicalName, mc.Family)
		}
		t.models[logicalName] = models.ModelInfo{
			LogicalName: logicalName,
			Endpoint:    mc.Endpoint,
			ServingName: servingName,
			Namespace:   mc.Namespace,
			Family:      family,
			EnsembleOf:  append([]string(nil), mc.EnsembleOf...),
		}
	}
	return t, nil
}
