package worker

import (
	"sync"

	"beepgenesis/internal/models"
)

// workerState holds one user's in-memory view of their history between turns.
type workerState struct {
	mu      sync.RWMutex
	loaded  bool
	turns   []models.ChatMessage
	taskCh  chan turnTask
	purgeCh chan struct{}
	stopCh  chan struct{}
}

func newWorkerState() *workerState {
	return &workerState{
		taskCh:  make(chan turnTask, taskQueueLen),
		purgeCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// history returns the cached turns and whether they were ever loaded.
func (s *workerState) history() ([]models.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, false
	}
	cloned := make([]models.ChatMessage, len(s.turns))
	copy(cloned, s.turns)
	return cloned, true
}

func (s *workerState) setHistory(turns []models.ChatMessage) {
	cloned := make([]models.ChatMessage, len(turns))
	copy(cloned, turns)
	s.mu.Lock()
	s.turns = cloned
	s.loaded = true
	s.mu.Unlock()
}

// drainTasks fails every turn still queued so no caller stays blocked after
// the worker exits.
func (s *workerState) drainTasks() {
	for {
		select {
		case task := <-s.taskCh:
			task.resultCh <- turnResult{err: ErrWorkerStopped}
		default:
			return
		}
	}
}

func (s *workerState) purge() {
	s.mu.Lock()
	s.turns = nil
	s.loaded = false
	s.mu.Unlock()
}
