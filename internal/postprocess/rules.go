package postprocess

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kubeaiops/inference-engine/internal/models"
)

// ActionRules maps breached base metrics and severity onto a recommended
// action. Rules are evaluated in file order; the first match wins, and a
// built-in fallback covers the unmatched cases.
type ActionRules struct {
	rules  []ActionRule
	logger *slog.Logger
}

// ActionRule is a single recommendation rule.
type ActionRule struct {
	ID     string    `yaml:"id"`
	Match  RuleMatch `yaml:"match"`
	Action string    `yaml:"action"`
}

// RuleMatch defines optional attributes for rule matching.
type RuleMatch struct {
	Metrics     []string `yaml:"metrics"`
	MinSeverity string   `yaml:"minSeverity"`
}

type ruleConfigFile struct {
	Rules []ActionRule `yaml:"rules"`
}

// NewActionRules loads rules from the provided path. If path is empty or the
// file does not exist, returns a nil rule set and the fallback applies.
func NewActionRules(path string, logger *slog.Logger) (*ActionRules, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg ruleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionRules{rules: cfg.Rules, logger: logger}, nil
}

// Select returns the recommended action for the breached metric set at the
// given severity.
func (r *ActionRules) Select(severity models.Severity, breached []string) models.Action {
	if r != nil {
		for _, rule := range r.rules {
			if rule.Match.MinSeverity != "" && severityRank(models.Severity(rule.Match.MinSeverity)) > severityRank(severity) {
				continue
			}
			if len(rule.Match.Metrics) > 0 && !anyMetricMatches(rule.Match.Metrics, breached) {
				continue
			}
			if action, ok := parseAction(rule.Action); ok {
				return action
			}
			r.logger.Warn("rule references unknown action", slog.String("rule", rule.ID), slog.String("action", rule.Action))
		}
	}
	return fallbackAction(severity, breached)
}

// fallbackAction is the built-in metric-to-action mapping used when no rule
// pack is loaded or nothing matched.
func fallbackAction(severity models.Severity, breached []string) models.Action {
	for _, metric := range breached {
		switch {
		case strings.Contains(metric, "restart"):
			return models.ActionInvestigateCrashloop
		case strings.Contains(metric, "memory"):
			return models.ActionInvestigateMemLeak
		case strings.Contains(metric, "cpu"):
			return models.ActionScaleUp
		}
	}
	switch severity {
	case models.SeverityCritical:
		return models.ActionRestartPod
	case models.SeverityLow:
		return models.ActionNone
	default:
		return models.ActionInvestigate
	}
}

func anyMetricMatches(wanted, breached []string) bool {
	for _, w := range wanted {
		for _, b := range breached {
			if strings.EqualFold(w, b) {
				return true
			}
		}
	}
	return false
}

func parseAction(s string) (models.Action, bool) {
	switch models.Action(s) {
	case models.ActionRestartPod, models.ActionScaleUp, models.ActionInvestigateMemLeak,
		models.ActionInvestigateCrashloop, models.ActionInvestigate, models.ActionNone:
		return models.Action(s), true
	default:
		return "", false
	}
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}
