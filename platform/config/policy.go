package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FollowUpPolicy is the process-wide scheduling policy, loaded once at startup.
type FollowUpPolicy struct {
	MinDaysBetweenFollowUps int           `yaml:"minDaysBetweenFollowUps"`
	MaxFollowUpAttempts     int           `yaml:"maxFollowUpAttempts"`
	EscalationThreshold     int           `yaml:"escalationThreshold"`
	BatchSize               int           `yaml:"batchSize"`
	EligibleStatuses        []string      `yaml:"eligibleStatuses"`
	RunInterval             time.Duration `yaml:"runInterval"`
	AIDecisionTimeout       time.Duration `yaml:"aiDecisionTimeout"`
	TransportTimeout        time.Duration `yaml:"transportTimeout"`
	StalePendingAfter       time.Duration `yaml:"stalePendingAfter"`
	SweepInterval           time.Duration `yaml:"sweepInterval"`
	OrderLockTTL            time.Duration `yaml:"orderLockTTL"`
}

var knownOrderStatuses = map[string]struct{}{
	"PENDING":    {},
	"IN_TRANSIT": {},
	"DELIVERED":  {},
	"DELAYED":    {},
	"CANCELLED":  {},
}

// DefaultFollowUpPolicy returns the built-in policy.
func DefaultFollowUpPolicy() FollowUpPolicy {
	return FollowUpPolicy{
		MinDaysBetweenFollowUps: 3,
		MaxFollowUpAttempts:     5,
		EscalationThreshold:     3,
		BatchSize:               20,
		EligibleStatuses:        []string{"PENDING", "IN_TRANSIT", "DELAYED"},
		RunInterval:             time.Hour,
		AIDecisionTimeout:       60 * time.Second,
		TransportTimeout:        20 * time.Second,
		StalePendingAfter:       30 * time.Minute,
		SweepInterval:           5 * time.Minute,
		OrderLockTTL:            2 * time.Minute,
	}
}

// Validate rejects policies the scheduler cannot run with.
func (p FollowUpPolicy) Validate() error {
	if p.MinDaysBetweenFollowUps < 0 {
		return fmt.Errorf("minDaysBetweenFollowUps must not be negative")
	}
	if p.MaxFollowUpAttempts < 1 {
		return fmt.Errorf("maxFollowUpAttempts must be at least 1")
	}
	if p.EscalationThreshold < 1 {
		return fmt.Errorf("escalationThreshold must be at least 1")
	}
	if p.BatchSize < 1 || p.BatchSize > 500 {
		return fmt.Errorf("batchSize must be between 1 and 500")
	}
	if len(p.EligibleStatuses) == 0 {
		return fmt.Errorf("at least one eligible order status is required")
	}
	for _, status := range p.EligibleStatuses {
		if _, ok := knownOrderStatuses[status]; !ok {
			return fmt.Errorf("unknown eligible order status %q", status)
		}
	}
	if p.RunInterval <= 0 {
		return fmt.Errorf("runInterval must be positive")
	}
	return nil
}

// loadPolicy starts from the defaults and overlays the optional YAML file.
func loadPolicy(path string) (FollowUpPolicy, error) {
	policy := DefaultFollowUpPolicy()
	if strings.TrimSpace(path) == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read follow-up policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return policy, fmt.Errorf("parse follow-up policy %s: %w", path, err)
	}
	policy.EligibleStatuses = normalizeStatuses(policy.EligibleStatuses)
	return policy, nil
}

// applyPolicyEnv lets individual environment variables override the file.
func applyPolicyEnv(policy FollowUpPolicy) FollowUpPolicy {
	if v := getEnv("FOLLOWUP_MIN_DAYS_BETWEEN", ""); v != "" {
		policy.MinDaysBetweenFollowUps = int(mustInt64(v))
	}
	if v := getEnv("FOLLOWUP_MAX_ATTEMPTS", ""); v != "" {
		policy.MaxFollowUpAttempts = int(mustInt64(v))
	}
	if v := getEnv("FOLLOWUP_ESCALATION_THRESHOLD", ""); v != "" {
		policy.EscalationThreshold = int(mustInt64(v))
	}
	if v := getEnv("FOLLOWUP_BATCH_SIZE", ""); v != "" {
		policy.BatchSize = int(mustInt64(v))
	}
	if v := getEnv("FOLLOWUP_ELIGIBLE_STATUSES", ""); v != "" {
		policy.EligibleStatuses = normalizeStatuses(splitCSV(v))
	}
	if v := getEnv("FOLLOWUP_RUN_INTERVAL", ""); v != "" {
		policy.RunInterval = mustDuration(v)
	}
	if v := getEnv("FOLLOWUP_AI_TIMEOUT", ""); v != "" {
		policy.AIDecisionTimeout = mustDuration(v)
	}
	if v := getEnv("FOLLOWUP_TRANSPORT_TIMEOUT", ""); v != "" {
		policy.TransportTimeout = mustDuration(v)
	}
	if v := getEnv("FOLLOWUP_STALE_PENDING_AFTER", ""); v != "" {
		policy.StalePendingAfter = mustDuration(v)
	}
	return policy
}

func normalizeStatuses(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToUpper(strings.TrimSpace(value))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
