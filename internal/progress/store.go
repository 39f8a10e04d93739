// Package progress holds the process-wide extraction progress that the
// runner writes and the HTTP layer reads.
package progress

import "sync"

// Snapshot is a point-in-time copy of the progress state. Frames is never
// shared with the store.
type Snapshot struct {
	JobID      string   `json:"-"`
	Processing bool     `json:"processing"`
	Frames     []string `json:"frames"`
}

// Store is safe for concurrent use. Only the job that most recently called
// Begin may append to or end the sequence.
type Store struct {
	mu         sync.RWMutex
	jobID      string
	processing bool
	frames     []string

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

func NewStore() *Store {
	return &Store{
		frames: []string{},
		subs:   make(map[chan Snapshot]struct{}),
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	frames := make([]string, len(s.frames))
	copy(frames, s.frames)
	return Snapshot{
		JobID:      s.jobID,
		Processing: s.processing,
		Frames:     frames,
	}
}

// Begin makes jobID the active job, sets processing and clears the frame
// sequence in one step.
func (s *Store) Begin(jobID string) {
	s.mu.Lock()
	s.jobID = jobID
	s.processing = true
	s.frames = []string{}
	s.publishLocked()
	s.mu.Unlock()
}

// Append adds ref to the active job's sequence. It reports false and changes
// nothing when jobID is not the active job or the job has already ended.
func (s *Store) Append(jobID, ref string) bool {
	s.mu.Lock()
	if jobID != s.jobID || !s.processing {
		s.mu.Unlock()
		return false
	}
	s.frames = append(s.frames, ref)
	s.publishLocked()
	s.mu.Unlock()
	return true
}

// End clears processing for jobID. The frame sequence stays as the final
// result until the next Begin.
func (s *Store) End(jobID string) bool {
	s.mu.Lock()
	if jobID != s.jobID || !s.processing {
		s.mu.Unlock()
		return false
	}
	s.processing = false
	s.publishLocked()
	s.mu.Unlock()
	return true
}

// Subscribe returns a channel that receives a snapshot after every change,
// starting with the current state, and a function that unsubscribes.
// Updates are dropped for subscribers that fall behind.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	s.mu.RLock()
	ch <- s.snapshotLocked()
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	s.mu.RUnlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// publishLocked must be called with mu held so subscribers see changes in
// the order they were made.
func (s *Store) publishLocked() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
