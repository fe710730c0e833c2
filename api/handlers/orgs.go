package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fedlab/fedflow/api"
	"github.com/fedlab/fedflow/registry"
	"github.com/fedlab/fedflow/types"
)

// OrgHandler serves organization registration and heartbeats.
type OrgHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewOrgHandler creates the organization endpoints.
func NewOrgHandler(reg *registry.Registry, logger *zap.Logger) *OrgHandler {
	return &OrgHandler{
		registry: reg,
		logger:   logger.With(zap.String("component", "org_handler")),
	}
}

// HandleRegister serves POST /api/v1/orgs. Re-registering an existing
// organization refreshes its address and issues a fresh token.
func (h *OrgHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterOrgRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	token, err := h.registry.Register(registry.Org{
		ID:      req.ID,
		Name:    req.Name,
		Address: req.Address,
		Algos:   req.Algos,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	org, err := h.registry.Get(req.ID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data: api.RegisterOrgResponse{
			Org:   toOrgInfo(org),
			Token: token,
		},
		Timestamp: time.Now(),
	})
}

// HandleList serves GET /api/v1/orgs.
func (h *OrgHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	orgs := h.registry.List()
	infos := make([]api.OrgInfo, 0, len(orgs))
	for _, org := range orgs {
		infos = append(infos, toOrgInfo(org))
	}
	WriteSuccess(w, infos)
}

// HandleGet serves GET /api/v1/orgs/{id}.
func (h *OrgHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "organization id is required", h.logger)
		return
	}

	org, err := h.registry.Get(id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, toOrgInfo(org))
}

// HandleHeartbeat serves POST /api/v1/orgs/{id}/heartbeat.
func (h *OrgHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "organization id is required", h.logger)
		return
	}

	if err := h.registry.Heartbeat(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "ok"})
}

func toOrgInfo(org registry.Org) api.OrgInfo {
	return api.OrgInfo{
		ID:            org.ID,
		Name:          org.Name,
		Address:       org.Address,
		Algos:         org.Algos,
		Status:        string(org.Status),
		RegisteredAt:  org.RegisteredAt,
		LastHeartbeat: org.LastHeartbeat,
	}
}
