package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/framesnap/framesnap/internal/db"
)

const keyPrefix = "jobs/"

// PersistentStore keeps job records as JSON in badger so the job history
// survives restarts.
type PersistentStore struct {
	dbStore *db.Store
}

func NewPersistentStore(dbStore *db.Store) *PersistentStore {
	return &PersistentStore{dbStore: dbStore}
}

func (s *PersistentStore) put(j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.dbStore.Set(keyPrefix+j.ID, data); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (s *PersistentStore) Add(j *Job) error {
	if _, err := s.dbStore.Get(keyPrefix + j.ID); err == nil {
		return fmt.Errorf("job already exists: %s", j.ID)
	}
	return s.put(j)
}

func (s *PersistentStore) Get(id string) (*Job, error) {
	data, err := s.dbStore.Get(keyPrefix + id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

func (s *PersistentStore) Update(j *Job) error {
	if _, err := s.Get(j.ID); err != nil {
		return err
	}
	return s.put(j)
}

func (s *PersistentStore) all() ([]*Job, error) {
	var jobs []*Job
	err := s.dbStore.Scan(keyPrefix, func(key string, value []byte) error {
		var j Job
		if err := json.Unmarshal(value, &j); err != nil {
			// skip records we cannot decode rather than hide the whole history
			return nil
		}
		jobs = append(jobs, &j)
		return nil
	})
	return jobs, err
}

func (s *PersistentStore) List(limit, offset int, status string) ([]*Job, int) {
	jobs, err := s.all()
	if err != nil {
		return []*Job{}, 0
	}

	var filtered []*Job
	for _, j := range jobs {
		if status == "" || string(j.Status) == status {
			filtered = append(filtered, j)
		}
	}

	// Most recent first
	sort.SliceStable(filtered, func(a, b int) bool {
		return filtered[a].CreatedAt.After(filtered[b].CreatedAt)
	})

	return page(filtered, limit, offset)
}

func (s *PersistentStore) Stats() Stats {
	var st Stats
	jobs, err := s.all()
	if err != nil {
		return st
	}
	for _, j := range jobs {
		st.count(j.Status)
	}
	return st
}

// RecoverInterrupted marks jobs that were idle or running when the previous
// process exited as failed. It returns how many records were changed.
func (s *PersistentStore) RecoverInterrupted() (int, error) {
	jobs, err := s.all()
	if err != nil {
		return 0, fmt.Errorf("scan jobs: %w", err)
	}

	n := 0
	for _, j := range jobs {
		if j.IsTerminal() {
			continue
		}
		j.Finish(StatusFailed, errors.New("interrupted by restart"))
		if err := s.put(j); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
