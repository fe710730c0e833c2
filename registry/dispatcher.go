package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// trainPath is the worker endpoint executing one training task.
const trainPath = "/api/v1/train"

// TrainRequest is the payload sent to a worker for one training task.
type TrainRequest struct {
	Task   *plan.Task           `json:"task"`
	Shared *types.AveragedState `json:"shared,omitempty"`
}

// TrainResponse is the worker's reply: the shared state the pass
// produced. The local state stays on the worker.
type TrainResponse struct {
	State *types.SharedState `json:"state"`
	Error string             `json:"error,omitempty"`
}

// DispatcherConfig configures the HTTP dispatcher.
type DispatcherConfig struct {
	// RPS caps outgoing calls per second per worker.
	RPS   float64
	Burst int
	// Timeout bounds one remote training call.
	Timeout time.Duration
}

// HTTPDispatcher sends training tasks to remote workers over HTTP,
// rate limited per worker. It implements engine.Dispatcher.
type HTTPDispatcher struct {
	registry *Registry
	issuer   *TokenIssuer
	client   *http.Client
	config   DispatcherConfig
	logger   *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ engine.Dispatcher = (*HTTPDispatcher)(nil)

// NewHTTPDispatcher creates a dispatcher over the given registry. The
// issuer may be nil when workers do not check tokens.
func NewHTTPDispatcher(reg *Registry, issuer *TokenIssuer, cfg DispatcherConfig, logger *zap.Logger) *HTTPDispatcher {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RPS)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPDispatcher{
		registry: reg,
		issuer:   issuer,
		client:   &http.Client{Timeout: cfg.Timeout},
		config:   cfg,
		logger:   logger.With(zap.String("component", "dispatcher")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// CanDispatch reports whether the organization has a reachable remote
// worker: registered, online, and carrying a worker address.
func (d *HTTPDispatcher) CanDispatch(orgID string) bool {
	org, err := d.registry.Get(orgID)
	if err != nil {
		return false
	}
	return org.Status == OrgStatusOnline && org.Address != ""
}

// DispatchTrain executes one training task on the organization's worker.
func (d *HTTPDispatcher) DispatchTrain(ctx context.Context, orgID string, task *plan.Task, shared *types.AveragedState) (*types.SharedState, error) {
	org, err := d.registry.Get(orgID)
	if err != nil {
		return nil, err
	}
	if org.Status != OrgStatusOnline {
		return nil, types.NewErrorf(types.ErrOrgOffline, "organization %s is offline", orgID)
	}
	if org.Address == "" {
		return nil, types.NewErrorf(types.ErrDispatchFailed, "organization %s has no worker address", orgID)
	}

	if err := d.limiter(orgID).Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(TrainRequest{Task: task, Shared: shared})
	if err != nil {
		return nil, types.WrapError(types.ErrInternalError, "encode train request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, org.Address+trainPath, bytes.NewReader(body))
	if err != nil {
		return nil, types.WrapError(types.ErrDispatchFailed, "build train request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.issuer != nil {
		token, err := d.issuer.Issue(orgID)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		derr := types.WrapError(types.ErrDispatchFailed,
			fmt.Sprintf("dispatch to organization %s", orgID), err)
		derr.Retryable = true
		return nil, derr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		derr := types.NewErrorf(types.ErrDispatchFailed,
			"worker of organization %s returned %d: %s", orgID, resp.StatusCode, string(payload))
		// 5xx means the worker may recover; 4xx will not change on retry.
		derr.Retryable = resp.StatusCode >= http.StatusInternalServerError
		return nil, derr
	}

	var trainResp TrainResponse
	if err := json.NewDecoder(resp.Body).Decode(&trainResp); err != nil {
		return nil, types.WrapError(types.ErrDispatchFailed, "decode train response", err)
	}
	if trainResp.Error != "" {
		return nil, types.NewErrorf(types.ErrTaskFailed,
			"worker of organization %s failed: %s", orgID, trainResp.Error)
	}
	if trainResp.State == nil {
		return nil, types.NewErrorf(types.ErrDispatchFailed,
			"worker of organization %s returned no shared state", orgID)
	}

	d.logger.Debug("training dispatched",
		zap.String("org_id", orgID),
		zap.String("task_key", task.Key),
		zap.Int("round", task.Round),
		zap.Duration("duration", time.Since(start)),
	)
	return trainResp.State, nil
}

func (d *HTTPDispatcher) limiter(orgID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[orgID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.config.RPS), d.config.Burst)
		d.limiters[orgID] = l
	}
	return l
}
