package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/algo/linear"
	"github.com/fedlab/fedflow/api"
	"github.com/fedlab/fedflow/dataset"
	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/localstate"
	"github.com/fedlab/fedflow/metric"
	"github.com/fedlab/fedflow/registry"
	"github.com/fedlab/fedflow/testutil"
	"github.com/fedlab/fedflow/types"
)

// progressRecorder captures engine progress so tests can wait for the
// asynchronous run to finish.
type progressRecorder struct {
	mu     sync.Mutex
	events []engine.ProgressEvent
}

func (p *progressRecorder) record(ev engine.ProgressEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *progressRecorder) finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return false
	}
	last := p.events[len(p.events)-1]
	return last.TasksTotal > 0 && last.TasksCompleted == last.TasksTotal
}

func newExperimentServer(t *testing.T, recorder *progressRecorder, orgs *registry.Registry) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)

	data := dataset.NewRegistry()
	data.AddSamples("org-1-data", "train", testutil.LinearData(3, 120, 7, 500))
	data.AddSamples("org-1-data", "test", testutil.LinearData(3, 60, 7, 501))
	data.AddSamples("org-2-data", "train", testutil.LinearData(3, 120, 7, 502))

	opts := []engine.Option{}
	if recorder != nil {
		opts = append(opts, engine.WithProgress(recorder.record))
	}
	exec := engine.New(localstate.NewMemoryStore(), data, metric.NewRegistry(), logger, opts...)

	h := NewExperimentHandler(exec, orgs, context.Background(), logger)
	h.RegisterAlgo("linear_sgd", func(params json.RawMessage) (algo.Factory, error) {
		var p linear.Config
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
		}
		cfg := linear.DefaultConfig(p.NumFeatures)
		cfg.NumUpdates = 20
		return func() algo.Algo { return linear.New(cfg) }, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/experiments", h.HandleRun)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func validRequest() api.RunExperimentRequest {
	return api.RunExperimentRequest{
		Algo:       "linear_sgd",
		AlgoParams: json.RawMessage(`{"num_features": 3}`),
		Strategy:   string(types.StrategyFederatedAveraging),
		Participants: []api.ExperimentParticipant{
			{OrgID: "org-1", DatasetKey: "org-1-data", TrainKeys: []string{"train"}, TestKeys: []string{"test"}},
			{OrgID: "org-2", DatasetKey: "org-2-data", TrainKeys: []string{"train"}},
		},
		NumRounds:  2,
		EvalRounds: []int{2},
	}
}

func TestHandleRunAcceptsAndExecutes(t *testing.T) {
	recorder := &progressRecorder{}
	srv := newExperimentServer(t, recorder, nil)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/experiments", validRequest())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, envelope.Success)

	var ack api.RunExperimentResponse
	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.NotEmpty(t, ack.PlanKey)
	assert.Equal(t, engine.PlanStatusRunning, ack.Status)
	assert.Positive(t, ack.NumTasks)

	require.Eventually(t, recorder.finished, 10*time.Second, 20*time.Millisecond)
}

func TestHandleRunUnknownAlgo(t *testing.T) {
	srv := newExperimentServer(t, nil, nil)

	req := validRequest()
	req.Algo = "resnet"
	resp, envelope := postJSON(t, srv.URL+"/api/v1/experiments", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, string(types.ErrInvalidRequest), envelope.Error.Code)
}

func TestHandleRunUnknownStrategy(t *testing.T) {
	srv := newExperimentServer(t, nil, nil)

	req := validRequest()
	req.Strategy = "gossip"
	resp, _ := postJSON(t, srv.URL+"/api/v1/experiments", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRunNoParticipants(t *testing.T) {
	srv := newExperimentServer(t, nil, nil)

	req := validRequest()
	req.Participants = nil
	resp, _ := postJSON(t, srv.URL+"/api/v1/experiments", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRunChecksCapabilities(t *testing.T) {
	reg := registry.New(15*time.Second, nil, zaptest.NewLogger(t))
	_, err := reg.Register(registry.Org{ID: "org-1", Algos: []string{"cnn"}})
	require.NoError(t, err)
	srv := newExperimentServer(t, nil, reg)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/experiments", validRequest())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, string(types.ErrIncompatibleAlgo), envelope.Error.Code)
}

func TestHandleRunInvalidRounds(t *testing.T) {
	srv := newExperimentServer(t, nil, nil)

	req := validRequest()
	req.NumRounds = 0
	resp, _ := postJSON(t, srv.URL+"/api/v1/experiments", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
