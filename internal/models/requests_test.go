package models

import (
	"errors"
	"testing"
	"time"
)

func TestScopeValidate(t *testing.T) {
	valid := []Scope{
		{},
		{Namespace: "payments"},
		{Namespace: "payments", Pod: "checkout-7d9f"},
		{Namespace: "payments", Deployment: "checkout"},
		{Cluster: "prod-eu", Namespace: "payments", Selector: `container!="istio-proxy"`},
	}
	for _, s := range valid {
		if err := s.Validate(); err != nil {
			t.Fatalf("scope %+v should validate: %v", s, err)
		}
	}

	invalid := []Scope{
		{Pod: "checkout-7d9f"},
		{Deployment: "checkout"},
		{Namespace: `payments"}`},
		{Namespace: "payments", Pod: "p{o}d"},
	}
	for _, s := range invalid {
		if err := s.Validate(); !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("scope %+v: expected ErrInvalidScope, got %v", s, err)
		}
	}
}

func TestSeriesValueAt(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	series := MetricSeries{
		Metric: "cpu_usage",
		Points: []MetricPoint{
			{Timestamp: base, Value: 1.5},
			{Timestamp: base.Add(time.Hour), Value: 2.5},
		},
	}

	if v, ok := series.ValueAt(base.Add(time.Hour)); !ok || v != 2.5 {
		t.Fatalf("ValueAt = %v, %v", v, ok)
	}
	// Same instant in another location still matches.
	if v, ok := series.ValueAt(base.In(time.FixedZone("x", 3600))); !ok || v != 1.5 {
		t.Fatalf("ValueAt across locations = %v, %v", v, ok)
	}
	if _, ok := series.ValueAt(base.Add(30 * time.Minute)); ok {
		t.Fatal("unaligned timestamp must not match")
	}
}
