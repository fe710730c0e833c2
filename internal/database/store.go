package database

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// ResultStore persists plan lifecycle updates and performances. It is
// the database-backed engine.ResultSink and the read side of the API.
type ResultStore struct {
	pm     *PoolManager
	logger *zap.Logger
}

var _ engine.ResultSink = (*ResultStore)(nil)

// NewResultStore creates a result store on the given pool.
func NewResultStore(pm *PoolManager, logger *zap.Logger) *ResultStore {
	return &ResultStore{pm: pm, logger: logger.With(zap.String("component", "result_store"))}
}

// SavePlan upserts the plan metadata.
func (s *ResultStore) SavePlan(ctx context.Context, p *plan.Plan) error {
	record := ComputePlanRecord{
		Key:            p.Key,
		Tag:            p.Tag,
		Strategy:       string(p.Strategy),
		Status:         engine.PlanStatusRunning,
		NumRounds:      p.NumRounds,
		NumTasks:       len(p.Tasks),
		CleanModels:    p.CleanModels,
		AuthorizedOrgs: strings.Join(p.AuthorizedOrgIDs, ","),
		CreatedAt:      p.CreatedAt,
	}
	return s.pm.DB().WithContext(ctx).Save(&record).Error
}

// SetPlanStatus updates the lifecycle status of a plan.
func (s *ResultStore) SetPlanStatus(ctx context.Context, planKey, status string) error {
	res := s.pm.DB().WithContext(ctx).
		Model(&ComputePlanRecord{}).
		Where("key = ?", planKey).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.NewErrorf(types.ErrPlanNotFound, "plan %s not found", planKey)
	}
	return nil
}

// SavePerformance appends one performance measurement.
func (s *ResultStore) SavePerformance(ctx context.Context, perf types.RoundPerformance) error {
	record := PerformanceRecord{
		PlanKey:   perf.PlanKey,
		Round:     perf.Round,
		OrgID:     perf.OrgID,
		MetricKey: perf.MetricKey,
		Value:     perf.Value,
		CreatedAt: perf.CreatedAt,
	}
	return s.pm.DB().WithContext(ctx).Create(&record).Error
}

// GetPlan returns one plan record.
func (s *ResultStore) GetPlan(ctx context.Context, planKey string) (*ComputePlanRecord, error) {
	var record ComputePlanRecord
	err := s.pm.DB().WithContext(ctx).First(&record, "key = ?", planKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewErrorf(types.ErrPlanNotFound, "plan %s not found", planKey)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListPlans returns plan records, newest first.
func (s *ResultStore) ListPlans(ctx context.Context, limit int) ([]ComputePlanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ComputePlanRecord
	err := s.pm.DB().WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ListPerformances returns the performances of a plan ordered by round.
func (s *ResultStore) ListPerformances(ctx context.Context, planKey string) ([]PerformanceRecord, error) {
	var records []PerformanceRecord
	err := s.pm.DB().WithContext(ctx).
		Where("plan_key = ?", planKey).
		Order("round ASC, org_id ASC, metric_key ASC").
		Find(&records).Error
	return records, err
}

// AutoMigrate creates the result tables. Production deployments run the
// versioned migrations instead; this covers sqlite and tests.
func (s *ResultStore) AutoMigrate() error {
	return s.pm.DB().AutoMigrate(&ComputePlanRecord{}, &PerformanceRecord{})
}
