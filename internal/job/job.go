package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("job not found")

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is one extraction run over one source video.
type Job struct {
	ID          string     `json:"id"`
	SourcePath  string     `json:"source_path"`
	Status      Status     `json:"status"`
	FrameCount  int        `json:"frame_count"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func New(sourcePath string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		Status:     StatusIdle,
		CreatedAt:  time.Now().UTC(),
	}
}

func (j *Job) IsTerminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed || j.Status == StatusCancelled
}

func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
}

// Finish moves the job to its terminal state. A nil error means done.
func (j *Job) Finish(status Status, err error) {
	now := time.Now().UTC()
	j.Status = status
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

func (j *Job) clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type Stats struct {
	Idle      int `json:"idle"`
	Running   int `json:"running"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (s *Stats) count(st Status) {
	switch st {
	case StatusIdle:
		s.Idle++
	case StatusRunning:
		s.Running++
	case StatusDone:
		s.Done++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	}
}

// Store keeps jobs in memory. Callers always receive copies, so a job
// handed out by Get can be read while the runner keeps updating it.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // insertion order
}

func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]*Job),
		order: make([]string, 0),
	}
}

func (s *Store) Add(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job already exists: %s", j.ID)
	}
	s.jobs[j.ID] = j.clone()
	s.order = append(s.order, j.ID)
	return nil
}

func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.clone(), nil
}

func (s *Store) Update(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, j.ID)
	}
	s.jobs[j.ID] = j.clone()
	return nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(limit, offset int, status string) ([]*Job, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Job
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if status == "" || string(j.Status) == status {
			filtered = append(filtered, j.clone())
		}
	}
	return page(filtered, limit, offset)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, j := range s.jobs {
		st.count(j.Status)
	}
	return st
}

func page(all []*Job, limit, offset int) ([]*Job, int) {
	total := len(all)
	if offset >= total {
		return []*Job{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total
}

// JobStore is implemented by Store and PersistentStore. Get returns
// ErrNotFound for unknown ids; all methods hand out copies.
type JobStore interface {
	Add(j *Job) error
	Get(id string) (*Job, error)
	Update(j *Job) error
	List(limit, offset int, status string) ([]*Job, int)
	Stats() Stats
}
