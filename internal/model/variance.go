package model

import "time"

// VarianceThresholds holds the breach thresholds for one scope (project-wide
// or one category override). Zero-valued override fields fall back to the
// project thresholds at the analyzer level.
type VarianceThresholds struct {
	ItemVariancePct    float64 `json:"item_variance_pct" yaml:"item_variance_pct"`
	ItemVarianceValue  float64 `json:"item_variance_value,omitempty" yaml:"item_variance_value,omitempty"`
	ProjectVariancePct float64 `json:"project_variance_pct" yaml:"project_variance_pct"`
	ErosionPct         float64 `json:"erosion_pct" yaml:"erosion_pct"`
}

// ProjectVarianceConfig is the per-project analyzer configuration, lazily
// created with defaults on first access.
type ProjectVarianceConfig struct {
	ProjectID         string                        `json:"project_id"`
	Enabled           bool                          `json:"enabled"`
	Thresholds        VarianceThresholds            `json:"thresholds"`
	CategoryOverrides map[string]VarianceThresholds `json:"category_overrides,omitempty"`
	LastUpdated       time.Time                     `json:"last_updated"`
}

// AlertLevel grades an alert's severity.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// AlertType identifies what kind of breach an alert reports.
type AlertType string

const (
	AlertItemVariance    AlertType = "item-variance"
	AlertProjectVariance AlertType = "project-variance"
	AlertProfitErosion   AlertType = "profit-erosion"
)

// VarianceAlert is one classified breach emitted by an analysis run.
type VarianceAlert struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Level         AlertLevel `json:"level"`
	Type          AlertType  `json:"type"`
	Message       string     `json:"message"`
	ItemID        string     `json:"item_id,omitempty"`
	Description   string     `json:"description,omitempty"`
	Category      string     `json:"category,omitempty"`
	VarianceValue float64    `json:"variance_value,omitempty"`
	VariancePct   float64    `json:"variance_pct,omitempty"`
	ErosionPct    float64    `json:"erosion_pct,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// VarianceStats summarizes one analysis run.
type VarianceStats struct {
	ItemsChecked       int     `json:"items_checked"`
	ItemsBreached      int     `json:"items_breached"`
	ProjectVariancePct float64 `json:"project_variance_pct"`
	ErosionPct         float64 `json:"erosion_pct"`
}

// VarianceCacheEntry is the cached result of the most recent analysis run for
// one project. It goes stale silently; only an explicit re-run refreshes it.
type VarianceCacheEntry struct {
	ProjectID string          `json:"project_id"`
	RunAt     time.Time       `json:"run_at"`
	Alerts    []VarianceAlert `json:"alerts"`
	Stats     VarianceStats   `json:"stats"`
}
