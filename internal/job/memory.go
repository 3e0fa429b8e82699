package job

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore keeps jobs in process memory. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]Job
	outputs map[string][]Output
}

func NewMemory() *MemoryStore {
	return &MemoryStore{jobs: map[string]Job{}, outputs: map[string][]Output{}}
}

func clone(job Job) *Job {
	job.Qualities = append([]string(nil), job.Qualities...)
	return &job
}

func (m *MemoryStore) Create(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return errors.Errorf("job %s already exists", job.ID)
	}

	m.jobs[job.ID] = *clone(*job)

	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]

	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}

	return clone(job), nil
}

func (m *MemoryStore) List(ctx context.Context, userID string, limit, offset int) ([]*Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []*Job

	for _, job := range m.jobs {
		if job.UserID == userID {
			owned = append(owned, clone(job))
		}
	}

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := len(owned)

	if limit <= 0 || offset >= total {
		return []*Job{}, total, nil
	}

	end := offset + limit

	if end > total {
		end = total
	}

	return owned[offset:end], total, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(job *Job) error) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[id]

	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}

	job := clone(stored)

	if err := fn(job); err != nil {
		return nil, err
	}

	m.jobs[id] = *clone(*job)

	return job, nil
}

func (m *MemoryStore) AddOutput(ctx context.Context, output Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outputs[output.JobID] = append(m.outputs[output.JobID], output)

	return nil
}

func (m *MemoryStore) Outputs(ctx context.Context, jobID string) ([]Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Output{}, m.outputs[jobID]...), nil
}

func (m *MemoryStore) DeleteOutputs(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.outputs, jobID)

	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return errors.Wrap(ErrNotFound, id)
	}

	delete(m.jobs, id)
	delete(m.outputs, id)

	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
