package registry

import (
	"errors"
	"testing"

	"github.com/kubeaiops/inference-engine/internal/config"
	"github.com/kubeaiops/inference-engine/internal/models"
)

func testModels() map[string]config.ModelConfig {
	return map[string]config.ModelConfig{
		"anomaly-detector": {
			Endpoint:  "http://kserve.models.svc",
			Namespace: "models",
			Family:    "anomaly",
		},
		"predictive-analytics": {
			Endpoint:    "http://kserve.models.svc",
			ServingName: "v2-prod",
			Namespace:   "models",
			Family:      "forecast",
		},
	}
}

func TestLookupDefaultsServingNameToLogicalName(t *testing.T) {
	reg, err := New(testModels())
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	info, err := reg.Lookup("anomaly-detector")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.ServingName != "anomaly-detector" {
		t.Fatalf("serving name = %q, want the logical name", info.ServingName)
	}
	if info.Family != models.FamilyAnomaly {
		t.Fatalf("family = %q, want anomaly", info.Family)
	}
}

func TestLookupHonoursServingNameOverride(t *testing.T) {
	reg, err := New(testModels())
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	info, err := reg.Lookup("predictive-analytics")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.ServingName != "v2-prod" {
		t.Fatalf("serving name = %q, want v2-prod", info.ServingName)
	}
	if info.LogicalName != "predictive-analytics" {
		t.Fatalf("logical name = %q, want predictive-analytics", info.LogicalName)
	}
}

func TestLookupUnknownModel(t *testing.T) {
	reg, err := New(testModels())
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	_, err = reg.Lookup("nonexistent")
	if !errors.Is(err, ErrModelNotRegistered) {
		t.Fatalf("expected ErrModelNotRegistered, got %v", err)
	}
}

func TestReloadSwapsTableAtomically(t *testing.T) {
	reg, err := New(testModels())
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}

	next := testModels()
	next["capacity-planner"] = config.ModelConfig{
		Endpoint: "http://kserve.models.svc",
		Family:   "forecast",
	}
	if err := reg.Reload(next); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := reg.Lookup("capacity-planner"); err != nil {
		t.Fatalf("lookup after reload: %v", err)
	}

	// A broken reload must leave the current snapshot untouched.
	if err := reg.Reload(map[string]config.ModelConfig{"broken": {}}); err == nil {
		t.Fatal("expected reload error for model without endpoint")
	}
	if _, err := reg.Lookup("capacity-planner"); err != nil {
		t.Fatalf("failed reload replaced the snapshot: %v", err)
	}
}

func TestListSortsByLogicalName(t *testing.T) {
	reg, err := New(testModels())
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	infos := reg.List()
	if len(infos) != 2 {
		t.Fatalf("list length = %d, want 2", len(infos))
	}
	if infos[0].LogicalName != "anomaly-detector" || infos[1].LogicalName != "predictive-analytics" {
		t.Fatalf("unexpected order: %q, %q", infos[0].LogicalName, infos[1].LogicalName)
	}
}

func TestEnsembleValidation(t *testing.T) {
	cfg := testModels()
	cfg["pod-health-ensemble"] = config.ModelConfig{
		Family:     "anomaly",
		EnsembleOf: []string{"anomaly-detector", "predictive-analytics"},
	}
	reg, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	info, err := reg.Lookup("pod-health-ensemble")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(info.EnsembleOf) != 2 {
		t.Fatalf("ensemble members = %d, want 2", len(info.EnsembleOf))
	}

	cfg["pod-health-ensemble"] = config.ModelConfig{
		Family:     "anomaly",
		EnsembleOf: []string{"ghost-model"},
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for ensemble referencing unregistered member")
	}

	cfg["pod-health-ensemble"] = config.ModelConfig{
		Family:     "anomaly",
		EnsembleOf: []string{"pod-health-ensemble"},
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for self-referencing ensemble")
	}
}

func TestUnknownFamilyRejected(t *testing.T) {
	cfg := testModels()
	cfg["odd"] = config.ModelConfig{Endpoint: "http://kserve.models.svc", Family: "clustering"}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown model family")
	}
}
