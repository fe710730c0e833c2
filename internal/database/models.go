package database

import "time"

// ComputePlanRecord is the persisted form of a compute plan: the
// metadata the API exposes, not the task graph itself.
type ComputePlanRecord struct {
	Key            string    `gorm:"primaryKey;size:64" json:"key"`
	Tag            string    `gorm:"size:64;index" json:"tag"`
	Strategy       string    `gorm:"size:64" json:"strategy"`
	Status         string    `gorm:"size:32;index" json:"status"`
	NumRounds      int       `json:"num_rounds"`
	NumTasks       int       `json:"num_tasks"`
	CleanModels    bool      `json:"clean_models"`
	AuthorizedOrgs string    `gorm:"size:2048" json:"authorized_orgs"` // comma separated
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName maps the record to its table.
func (ComputePlanRecord) TableName() string { return "compute_plans" }

// PerformanceRecord is one metric value measured on one organization at
// one round of a plan.
type PerformanceRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PlanKey   string    `gorm:"size:64;index" json:"plan_key"`
	Round     int       `json:"round"`
	OrgID     string    `gorm:"size:64" json:"org_id"`
	MetricKey string    `gorm:"size:64" json:"metric_key"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName maps the record to its table.
func (PerformanceRecord) TableName() string { return "round_performances" }
