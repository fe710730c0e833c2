package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedlab/fedflow/types"
)

func TestAddTaskAssignsKeyStatusAndRank(t *testing.T) {
	b := NewBuilder()

	localA := b.NewLocalRef("org-1", 0)
	sharedA := b.NewSharedRef("org-1", 0)
	root := b.AddTask(&Task{
		Kind:      TaskTrain,
		OrgID:     "org-1",
		OutLocal:  localA,
		OutShared: sharedA,
	})

	assert.NotEmpty(t, root.Key)
	assert.Equal(t, TaskStatusPending, root.Status)
	assert.Equal(t, 1, root.Rank)

	aggOut := b.NewSharedRef("org-1", 1)
	agg := b.AddTask(&Task{
		Kind:         TaskAggregate,
		OrgID:        "org-1",
		Round:        1,
		SharedInputs: []types.StateRef{*sharedA},
		OutShared:    aggOut,
	})
	assert.Equal(t, 2, agg.Rank)

	next := b.AddTask(&Task{
		Kind:        TaskTrain,
		OrgID:       "org-1",
		Round:       1,
		LocalInput:  localA,
		SharedInput: aggOut,
		OutLocal:    b.NewLocalRef("org-1", 1),
		OutShared:   b.NewSharedRef("org-1", 1),
	})
	// One past the deepest producer, not one per hop.
	assert.Equal(t, 3, next.Rank)

	producer, ok := b.Producer(*aggOut)
	require.True(t, ok)
	assert.Same(t, agg, producer)
}

func TestBuildSealsPlan(t *testing.T) {
	b := NewBuilder()
	b.AddTask(&Task{
		Kind:      TaskTrain,
		OrgID:     "org-1",
		OutLocal:  b.NewLocalRef("org-1", 0),
		OutShared: b.NewSharedRef("org-1", 0),
	})

	p, err := b.Build(types.StrategySingleOrg, []string{"org-1"}, 1, true)
	require.NoError(t, err)

	assert.NotEmpty(t, p.Key)
	assert.Regexp(t, `^\d{4}_\d{2}_\d{2}_\d{2}_\d{2}_\d{2}$`, p.Tag)
	assert.Equal(t, types.StrategySingleOrg, p.Strategy)
	assert.Equal(t, []string{"org-1"}, p.AuthorizedOrgIDs)
	assert.True(t, p.CleanModels)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Len(t, p.Tasks, 1)
}

func TestBuildValidation(t *testing.T) {
	t.Run("empty plan", func(t *testing.T) {
		_, err := NewBuilder().Build(types.StrategySingleOrg, nil, 1, false)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
	})

	t.Run("unproduced input", func(t *testing.T) {
		b := NewBuilder()
		ghost := types.StateRef{Key: "never-produced", Kind: types.RefShared}
		b.AddTask(&Task{
			Kind:         TaskAggregate,
			SharedInputs: []types.StateRef{ghost},
			OutShared:    b.NewSharedRef("org-1", 1),
		})
		_, err := b.Build(types.StrategyFederatedAveraging, nil, 1, false)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
		assert.Contains(t, err.Error(), "never-produced")
	})

	t.Run("duplicate producer", func(t *testing.T) {
		b := NewBuilder()
		out := b.NewSharedRef("org-1", 0)
		b.AddTask(&Task{Kind: TaskTrain, OutShared: out, OutLocal: b.NewLocalRef("org-1", 0)})
		b.AddTask(&Task{Kind: TaskTrain, OutShared: out, OutLocal: b.NewLocalRef("org-1", 0)})
		_, err := b.Build(types.StrategyFederatedAveraging, nil, 1, false)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
	})
}

func TestTaskRefAccessors(t *testing.T) {
	local := &types.StateRef{Key: "l", Kind: types.RefLocal}
	shared := &types.StateRef{Key: "s", Kind: types.RefShared}
	agg := &types.StateRef{Key: "a", Kind: types.RefShared}
	predict := &types.StateRef{Key: "p", Kind: types.RefLocal}

	task := &Task{
		LocalInput:   local,
		SharedInput:  agg,
		SharedInputs: []types.StateRef{*shared},
		PredictFrom:  predict,
		OutLocal:     &types.StateRef{Key: "ol"},
		OutShared:    &types.StateRef{Key: "os"},
	}

	inKeys := make([]string, 0, 4)
	for _, ref := range task.InputRefs() {
		inKeys = append(inKeys, ref.Key)
	}
	assert.ElementsMatch(t, []string{"l", "a", "s", "p"}, inKeys)

	outKeys := make([]string, 0, 2)
	for _, ref := range task.OutputRefs() {
		outKeys = append(outKeys, ref.Key)
	}
	assert.ElementsMatch(t, []string{"ol", "os"}, outKeys)
}

func TestPlanRoundHelpers(t *testing.T) {
	p := &Plan{Tasks: []*Task{
		{Key: "t0", Round: 0},
		{Key: "t1", Round: 1},
		{Key: "t2", Round: 1},
		{Key: "t3", Round: 2},
	}}

	assert.Equal(t, 2, p.MaxRound())
	round1 := p.TasksOfRound(1)
	require.Len(t, round1, 2)
	assert.Equal(t, "t1", round1[0].Key)
	assert.Equal(t, "t2", round1[1].Key)
	assert.Empty(t, p.TasksOfRound(5))
}
