package worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"beepgenesis/internal/models"
	"beepgenesis/internal/redis"
	"beepgenesis/internal/service/assistant"
)

const taskQueueLen = 16

// ErrWorkerBusy is returned when a user's turn queue is full.
var ErrWorkerBusy = errors.New("worker queue full")

// ErrWorkerStopped is returned for turns caught by a logout or user delete.
var ErrWorkerStopped = errors.New("worker stopped")

// ChatCalling is the orchestration flow the worker drives for each turn.
type ChatCalling interface {
	StreamChat(ctx context.Context, history []models.ChatMessage, persona models.Persona, chunkFn func(string) error) (*models.ChatMessage, error)
}

// TurnRequest carries one user turn into the worker.
type TurnRequest struct {
	Context context.Context
	UserID  int64
	Persona models.Persona
	Message *models.ChatMessage
	ChunkFn func(string) error
}

type turnTask struct {
	req      TurnRequest
	resultCh chan turnResult
}

type turnResult struct {
	aiMessage *models.ChatMessage
	err       error
}

// Manager runs one goroutine per user so turns for the same history are
// serialized; the history document has no version check, so concurrent
// writers would lose updates.
type Manager struct {
	assistant    *assistant.Service
	orchestrator ChatCalling
	cache        *stateCache

	mu      sync.Mutex
	workers map[int64]*workerState
}

// NewManager wires the worker layer. The cache client may be nil; state then
// lives only in process memory.
func NewManager(asst *assistant.Service, orchestrator ChatCalling, cacheClient *redis.Client) *Manager {
	m := &Manager{
		assistant:    asst,
		orchestrator: orchestrator,
		cache:        newStateCache(cacheClient),
		workers:      make(map[int64]*workerState),
	}
	m.cache.startListener(m.handleInvalidation)
	return m
}

// Chat executes one turn for the user, blocking until the stream completes.
func (m *Manager) Chat(req TurnRequest) (*models.ChatMessage, error) {
	if req.UserID <= 0 {
		return nil, errors.New("user id required")
	}
	if req.Message == nil {
		return nil, errors.New("message required")
	}
	state := m.ensureWorker(req.UserID)
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	resultCh := make(chan turnResult, 1)
	select {
	case state.taskCh <- turnTask{req: req, resultCh: resultCh}:
	case <-state.stopCh:
		return nil, ErrWorkerStopped
	default:
		return nil, ErrWorkerBusy
	}

	select {
	case ret := <-resultCh:
		return ret.aiMessage, ret.err
	case <-state.stopCh:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Purge drops the cached history for a user everywhere; the next turn
// reloads from the database.
func (m *Manager) Purge(userID int64) {
	if state := m.getWorker(userID); state != nil {
		select {
		case state.purgeCh <- struct{}{}:
		default:
			state.purge()
		}
	}
	m.cache.invalidateHistory(userID)
	m.cache.publishInvalidation(invalidateMessage{UserID: userID})
}

// ResetUser stops the user's worker and clears its state. Removing the entry
// from the map before closing makes the close happen exactly once even when
// two resets race; the next Chat simply spawns a fresh worker.
func (m *Manager) ResetUser(userID int64) {
	m.mu.Lock()
	state, ok := m.workers[userID]
	if ok {
		delete(m.workers, userID)
	}
	m.mu.Unlock()
	if ok {
		state.purge()
		close(state.stopCh)
	}
	m.cache.invalidateHistory(userID)
}

func (m *Manager) ensureWorker(userID int64) *workerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.workers[userID]; ok {
		return state
	}
	state := newWorkerState()
	m.workers[userID] = state
	go m.runWorker(userID, state)
	return state
}

func (m *Manager) getWorker(userID int64) *workerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[userID]
}

func (m *Manager) runWorker(userID int64, state *workerState) {
	defer func() {
		m.mu.Lock()
		// a replacement worker may already occupy the slot
		if m.workers[userID] == state {
			delete(m.workers, userID)
		}
		m.mu.Unlock()
	}()

	for {
		select {
		case <-state.stopCh:
			log.Printf("chat worker for user %d stopped", userID)
			state.drainTasks()
			return
		case task := <-state.taskCh:
			m.handleTurn(userID, task, state)
		case <-state.purgeCh:
			state.purge()
		}
	}
}

func (m *Manager) handleTurn(userID int64, task turnTask, state *workerState) {
	req := task.req
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	history, ok := state.history()
	if !ok {
		var loaded bool
		history, loaded = m.cache.loadHistory(ctx, userID)
		if !loaded {
			var err error
			history, err = m.assistant.GetHistory(ctx, userID)
			if err != nil {
				// a failed fetch is not an empty history; refuse the turn
				log.Printf("load history for user %d failed: %v", userID, err)
				task.resultCh <- turnResult{err: err}
				return
			}
		}
		state.setHistory(history)
	}

	turnHistory := append(append([]models.ChatMessage{}, history...), *req.Message)

	aiMsg, err := m.orchestrator.StreamChat(ctx, turnHistory, req.Persona, req.ChunkFn)
	if err != nil {
		log.Printf("chat turn for user %d failed: %v", userID, err)
		task.resultCh <- turnResult{err: err}
		return
	}

	final := append(turnHistory, *aiMsg)
	state.setHistory(final)
	m.cache.cacheHistory(ctx, userID, final)

	// fire and forget: a failed save degrades durability, not the reply
	if err := m.assistant.SaveHistory(ctx, userID, final); err != nil {
		log.Printf("persist history for user %d failed: %v", userID, err)
	}

	task.resultCh <- turnResult{aiMessage: aiMsg}
}

func (m *Manager) handleInvalidation(msg invalidateMessage) {
	if msg.UserID <= 0 {
		return
	}
	if state := m.getWorker(msg.UserID); state != nil {
		state.purge()
	}
}
