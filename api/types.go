package api

import (
	"encoding/json"
	"time"
)

// OrgInfo is the public view of a registered organization.
type OrgInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Address       string    `json:"address,omitempty"`
	Algos         []string  `json:"algos,omitempty"`
	Status        string    `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// RegisterOrgRequest registers (or refreshes) an organization. The
// address is the base URL of the organization's worker; organizations
// trained in process leave it empty.
type RegisterOrgRequest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Address string   `json:"address,omitempty"`
	Algos   []string `json:"algos,omitempty"`
}

// RegisterOrgResponse returns the registered organization and, when the
// server issues worker tokens, the bearer token the worker presents on
// dispatched training requests.
type RegisterOrgResponse struct {
	Org   OrgInfo `json:"org"`
	Token string  `json:"token,omitempty"`
}

// PlanInfo is the public view of a compute plan.
type PlanInfo struct {
	Key            string    `json:"key"`
	Tag            string    `json:"tag"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	NumRounds      int       `json:"num_rounds"`
	NumTasks       int       `json:"num_tasks"`
	CleanModels    bool      `json:"clean_models"`
	AuthorizedOrgs []string  `json:"authorized_orgs"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExperimentParticipant names one organization's role in a submitted
// experiment. Dataset and sample keys refer to data held by the
// organization's worker, never by the coordinator.
type ExperimentParticipant struct {
	OrgID      string   `json:"org_id"`
	DatasetKey string   `json:"dataset_key"`
	TrainKeys  []string `json:"train_keys"`
	TestKeys   []string `json:"test_keys,omitempty"`
	MetricKeys []string `json:"metric_keys,omitempty"`
}

// RunExperimentRequest submits a federated experiment. The algo name
// must be registered on the server; AlgoParams is passed through to
// its builder.
type RunExperimentRequest struct {
	Algo           string                  `json:"algo"`
	AlgoParams     json.RawMessage         `json:"algo_params,omitempty"`
	Strategy       string                  `json:"strategy"`
	Participants   []ExperimentParticipant `json:"participants"`
	NumRounds      int                     `json:"num_rounds"`
	EvalRounds     []int                   `json:"eval_rounds,omitempty"`
	CleanModels    bool                    `json:"clean_models,omitempty"`
	AggregationOrg string                  `json:"aggregation_org,omitempty"`
}

// RunExperimentResponse acknowledges a submitted experiment. Progress
// streams from /api/v1/plans/{key}/progress while the plan runs.
type RunExperimentResponse struct {
	PlanKey  string `json:"plan_key"`
	Tag      string `json:"tag"`
	Status   string `json:"status"`
	NumTasks int    `json:"num_tasks"`
}

// PerformancePoint is one metric value measured on one organization at
// one round of a plan.
type PerformancePoint struct {
	Round     int       `json:"round"`
	OrgID     string    `json:"org_id"`
	MetricKey string    `json:"metric_key"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
