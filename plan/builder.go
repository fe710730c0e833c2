package plan

import (
	"time"

	"github.com/google/uuid"

	"github.com/fedlab/fedflow/types"
)

// Builder accumulates tasks while a strategy lays out the compute graph.
// It assigns task keys and ranks and tracks which task produces each
// state reference so the finished plan can be validated.
type Builder struct {
	tasks     []*Task
	producers map[string]*Task // ref key -> producing task
}

// NewBuilder creates an empty plan builder.
func NewBuilder() *Builder {
	return &Builder{producers: make(map[string]*Task)}
}

// NewLocalRef mints a reference to a local state produced at the given
// organization and round.
func (b *Builder) NewLocalRef(orgID string, round int) *types.StateRef {
	return &types.StateRef{Key: uuid.New().String(), Kind: types.RefLocal, OrgID: orgID, Round: round}
}

// NewSharedRef mints a reference to a shareable state produced at the
// given organization and round.
func (b *Builder) NewSharedRef(orgID string, round int) *types.StateRef {
	return &types.StateRef{Key: uuid.New().String(), Kind: types.RefShared, OrgID: orgID, Round: round}
}

// AddTask registers a task, assigning its key and rank. The rank is one
// more than the highest rank among the producers of its inputs; tasks
// with no registered producers get rank 1.
func (b *Builder) AddTask(t *Task) *Task {
	if t.Key == "" {
		t.Key = uuid.New().String()
	}
	t.Status = TaskStatusPending

	rank := 0
	for _, ref := range t.InputRefs() {
		if producer, ok := b.producers[ref.Key]; ok && producer.Rank > rank {
			rank = producer.Rank
		}
	}
	t.Rank = rank + 1

	for _, ref := range t.OutputRefs() {
		b.producers[ref.Key] = t
	}
	b.tasks = append(b.tasks, t)
	return t
}

// Tasks returns the tasks registered so far, in registration order.
func (b *Builder) Tasks() []*Task { return b.tasks }

// Producer returns the task that produces the given reference.
func (b *Builder) Producer(ref types.StateRef) (*Task, bool) {
	t, ok := b.producers[ref.Key]
	return t, ok
}

// Build validates the graph and seals it into a Plan. Every consumed
// reference must be produced by a registered task, and no reference may
// be produced twice.
func (b *Builder) Build(strategy types.StrategyName, authorizedOrgIDs []string, numRounds int, cleanModels bool) (*Plan, error) {
	if len(b.tasks) == 0 {
		return nil, types.NewError(types.ErrInvalidPlan, "plan has no tasks")
	}

	seen := make(map[string]bool)
	for _, t := range b.tasks {
		for _, ref := range t.OutputRefs() {
			if seen[ref.Key] {
				return nil, types.NewErrorf(types.ErrInvalidPlan, "state ref %s produced by more than one task", ref.Key)
			}
			seen[ref.Key] = true
		}
	}
	for _, t := range b.tasks {
		for _, ref := range t.InputRefs() {
			if _, ok := b.producers[ref.Key]; !ok {
				return nil, types.NewErrorf(types.ErrInvalidPlan,
					"task %s consumes ref %s which no task produces", t.Key, ref.Key)
			}
		}
	}

	now := time.Now()
	return &Plan{
		Key:              uuid.New().String(),
		Tag:              now.Format("2006_01_02_15_04_05"),
		Strategy:         strategy,
		AuthorizedOrgIDs: authorizedOrgIDs,
		CleanModels:      cleanModels,
		NumRounds:        numRounds,
		CreatedAt:        now,
		Tasks:            b.tasks,
	}, nil
}
