package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fedlab/fedflow/api"
	"github.com/fedlab/fedflow/internal/database"
	"github.com/fedlab/fedflow/types"
)

// PlanStore is the persistence surface the plan endpoints read from.
type PlanStore interface {
	GetPlan(ctx context.Context, planKey string) (*database.ComputePlanRecord, error)
	ListPlans(ctx context.Context, limit int) ([]database.ComputePlanRecord, error)
	ListPerformances(ctx context.Context, planKey string) ([]database.PerformanceRecord, error)
}

// PlanHandler serves compute plan metadata and round performances.
type PlanHandler struct {
	store  PlanStore
	logger *zap.Logger
}

// NewPlanHandler creates the plan endpoints.
func NewPlanHandler(store PlanStore, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{
		store:  store,
		logger: logger.With(zap.String("component", "plan_handler")),
	}
}

// HandleList serves GET /api/v1/plans.
func (h *PlanHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	records, err := h.store.ListPlans(r.Context(), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	plans := make([]api.PlanInfo, 0, len(records))
	for i := range records {
		plans = append(plans, toPlanInfo(&records[i]))
	}
	WriteSuccess(w, plans)
}

// HandleGet serves GET /api/v1/plans/{key}.
func (h *PlanHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "plan key is required", h.logger)
		return
	}

	record, err := h.store.GetPlan(r.Context(), key)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, toPlanInfo(record))
}

// HandlePerformances serves GET /api/v1/plans/{key}/performances.
func (h *PlanHandler) HandlePerformances(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "plan key is required", h.logger)
		return
	}

	// 404 for unknown plans rather than an empty result set.
	if _, err := h.store.GetPlan(r.Context(), key); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	records, err := h.store.ListPerformances(r.Context(), key)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	points := make([]api.PerformancePoint, 0, len(records))
	for _, rec := range records {
		points = append(points, api.PerformancePoint{
			Round:     rec.Round,
			OrgID:     rec.OrgID,
			MetricKey: rec.MetricKey,
			Value:     rec.Value,
			CreatedAt: rec.CreatedAt,
		})
	}
	WriteSuccess(w, points)
}

func toPlanInfo(rec *database.ComputePlanRecord) api.PlanInfo {
	var orgs []string
	if rec.AuthorizedOrgs != "" {
		orgs = strings.Split(rec.AuthorizedOrgs, ",")
	}
	return api.PlanInfo{
		Key:            rec.Key,
		Tag:            rec.Tag,
		Strategy:       rec.Strategy,
		Status:         rec.Status,
		NumRounds:      rec.NumRounds,
		NumTasks:       rec.NumTasks,
		CleanModels:    rec.CleanModels,
		AuthorizedOrgs: orgs,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}
