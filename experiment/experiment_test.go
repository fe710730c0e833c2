package experiment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/algo/linear"
	"github.com/fedlab/fedflow/dataset"
	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/experiment"
	"github.com/fedlab/fedflow/localstate"
	"github.com/fedlab/fedflow/metric"
	"github.com/fedlab/fedflow/node"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/strategy"
	"github.com/fedlab/fedflow/testutil"
	"github.com/fedlab/fedflow/types"
)

const numFeatures = 3

// fixture wires two organizations holding linearly linked data: the
// same underlying relation, different noise on each organization.
type fixture struct {
	data       *dataset.Registry
	trainNodes []*node.TrainDataNode
	testNodes  []*node.TestDataNode
	aggNode    *node.AggregationNode
}

func newFixture(t *testing.T, numOrgs int) *fixture {
	t.Helper()
	f := &fixture{data: dataset.NewRegistry()}
	for i := 0; i < numOrgs; i++ {
		org := string(rune('a'+i)) + "-org"
		ds := org + "-dataset"
		f.data.AddSamples(ds, "train", testutil.LinearData(numFeatures, 120, 7, int64(500+i)))
		f.data.AddSamples(ds, "test", testutil.LinearData(numFeatures, 60, 7, int64(900+i)))
		f.trainNodes = append(f.trainNodes, node.NewTrainDataNode(org, ds, []string{"train"}))
		f.testNodes = append(f.testNodes, node.NewTestDataNode(org, ds, []string{"test"}, []string{"mae"}))
	}
	f.aggNode = node.NewAggregationNode(f.trainNodes[0].OrgID)
	return f
}

func (f *fixture) run(t *testing.T, def experiment.Definition) *engine.Result {
	t.Helper()
	store, err := localstate.NewStore(localstate.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	scorers := metric.NewRegistry()
	scorers.Register("mae", metric.MAE)

	exec := engine.New(store, f.data, scorers, zaptest.NewLogger(t))
	res, err := experiment.Execute(context.Background(), exec, def, zaptest.NewLogger(t))
	require.NoError(t, err)
	return res
}

// linearFactory keeps the per-round update count low so the model is
// visibly better after three rounds than after the initialization pass.
func linearFactory() algo.Factory {
	cfg := linear.DefaultConfig(numFeatures)
	cfg.NumUpdates = 20
	return func() algo.Algo { return linear.New(cfg) }
}

func localLinearFactory() algo.Factory {
	cfg := linear.DefaultConfig(numFeatures)
	cfg.NumUpdates = 20
	cfg.Local = true
	return func() algo.Algo { return linear.New(cfg) }
}

func TestFedAvgExperimentLearns(t *testing.T) {
	f := newFixture(t, 2)
	res := f.run(t, experiment.Definition{
		Algo:       linearFactory(),
		Strategy:   strategy.NewFedAvg(),
		TrainNodes: f.trainNodes,
		TestNodes:  f.testNodes,
		AggNode:    f.aggNode,
		NumRounds:  3,
		EvalRounds: []int{0, 3},
	})

	first, ok := res.PerformanceAt(0, "mae")
	require.True(t, ok)
	last, ok := res.PerformanceAt(3, "mae")
	require.True(t, ok)

	assert.Less(t, last, first, "training should reduce the error")
	assert.Less(t, last, 0.60, "final error too high: %f", last)
}

func TestFedAvgExperimentIsDeterministic(t *testing.T) {
	run := func() []types.RoundPerformance {
		f := newFixture(t, 2)
		res := f.run(t, experiment.Definition{
			Algo:       linearFactory(),
			Strategy:   strategy.NewFedAvg(),
			TrainNodes: f.trainNodes,
			TestNodes:  f.testNodes,
			AggNode:    f.aggNode,
			NumRounds:  2,
			EvalRounds: []int{2},
		})
		return res.Performances
	}

	a, b := run(), run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].OrgID, b[i].OrgID)
		assert.Equal(t, a[i].MetricKey, b[i].MetricKey)
		assert.InDelta(t, a[i].Value, b[i].Value, 1e-12)
	}
}

func TestSingleOrgExperiment(t *testing.T) {
	f := newFixture(t, 1)
	res := f.run(t, experiment.Definition{
		Algo:       localLinearFactory(),
		Strategy:   strategy.NewSingleOrg(),
		TrainNodes: f.trainNodes,
		TestNodes:  f.testNodes,
		NumRounds:  3,
		EvalRounds: []int{0, 3},
	})

	first, _ := res.PerformanceAt(0, "mae")
	last, ok := res.PerformanceAt(3, "mae")
	require.True(t, ok)
	assert.Less(t, last, first)
}

func TestBuildPlanShape(t *testing.T) {
	f := newFixture(t, 2)
	p, err := experiment.Build(experiment.Definition{
		Algo:        linearFactory(),
		Strategy:    strategy.NewFedAvg(),
		TrainNodes:  f.trainNodes,
		TestNodes:   f.testNodes,
		AggNode:     f.aggNode,
		NumRounds:   2,
		EvalRounds:  []int{0, 2},
		CleanModels: true,
	})
	require.NoError(t, err)

	assert.Equal(t, types.StrategyFederatedAveraging, p.Strategy)
	assert.True(t, p.CleanModels)
	assert.Equal(t, 2, p.NumRounds)
	assert.ElementsMatch(t, []string{"a-org", "b-org"}, p.AuthorizedOrgIDs)
	assert.NotEmpty(t, p.Tag)

	counts := map[plan.TaskKind]int{}
	for _, task := range p.Tasks {
		counts[task.Kind]++
	}
	// 2 orgs x 3 training passes, 2 aggregations (rounds 1 and 2),
	// 2 orgs x 2 evaluation rounds.
	assert.Equal(t, 6, counts[plan.TaskTrain])
	assert.Equal(t, 2, counts[plan.TaskAggregate])
	assert.Equal(t, 4, counts[plan.TaskTest])

	// Round 0 trains have no inputs at all.
	for _, task := range p.TasksOfRound(0) {
		if task.Kind == plan.TaskTrain {
			assert.Nil(t, task.LocalInput)
			assert.Nil(t, task.SharedInput)
		}
	}
}

func TestBuildAuthorizesTrainAndAggregationOrgsOnly(t *testing.T) {
	f := newFixture(t, 2)
	// A dedicated aggregation organization and a test node on an
	// organization that never trains. Only the former belongs in the
	// authorized set.
	aggNode := node.NewAggregationNode("agg-org")
	testNodes := append(f.testNodes,
		node.NewTestDataNode("z-org", "z-org-dataset", []string{"test"}, []string{"mae"}))

	p, err := experiment.Build(experiment.Definition{
		Algo:       linearFactory(),
		Strategy:   strategy.NewFedAvg(),
		TrainNodes: f.trainNodes,
		TestNodes:  testNodes,
		AggNode:    aggNode,
		NumRounds:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-org", "agg-org", "b-org"}, p.AuthorizedOrgIDs)
}

func TestBuildRejectsInvalidDefinitions(t *testing.T) {
	f := newFixture(t, 2)
	base := experiment.Definition{
		Algo:       linearFactory(),
		Strategy:   strategy.NewFedAvg(),
		TrainNodes: f.trainNodes,
		TestNodes:  f.testNodes,
		AggNode:    f.aggNode,
		NumRounds:  2,
	}

	cases := []struct {
		name   string
		mutate func(*experiment.Definition)
		code   types.ErrorCode
	}{
		{"no algo", func(d *experiment.Definition) { d.Algo = nil }, types.ErrInvalidRequest},
		{"no strategy", func(d *experiment.Definition) { d.Strategy = nil }, types.ErrInvalidRequest},
		{"zero rounds", func(d *experiment.Definition) { d.NumRounds = 0 }, types.ErrInvalidRequest},
		{"eval round out of range", func(d *experiment.Definition) { d.EvalRounds = []int{3} }, types.ErrInvalidRequest},
		{"eval without test nodes", func(d *experiment.Definition) {
			d.EvalRounds = []int{1}
			d.TestNodes = nil
		}, types.ErrInvalidRequest},
		{"no aggregation node", func(d *experiment.Definition) { d.AggNode = nil }, types.ErrNoAggregator},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := base
			def.Strategy = strategy.NewFedAvg()
			tc.mutate(&def)
			_, err := experiment.Build(def)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestBuildRejectsIncompatibleAlgo(t *testing.T) {
	f := newFixture(t, 1)
	_, err := experiment.Build(experiment.Definition{
		Algo:       func() algo.Algo { return &singleOrgOnlyAlgo{} },
		Strategy:   strategy.NewFedAvg(),
		TrainNodes: f.trainNodes,
		AggNode:    f.aggNode,
		NumRounds:  1,
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrIncompatibleAlgo))
}

// singleOrgOnlyAlgo declares compatibility with single_org only.
type singleOrgOnlyAlgo struct{ testutil.DummyAlgo }

func (a *singleOrgOnlyAlgo) Strategies() []types.StrategyName {
	return []types.StrategyName{types.StrategySingleOrg}
}
