package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"beepgenesis/internal/config"
	"beepgenesis/internal/models"
	"beepgenesis/internal/service/assistant"
	"beepgenesis/internal/storage"
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	calls   [][]models.ChatMessage
	reply   string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeOrchestrator) StreamChat(_ context.Context, history []models.ChatMessage, _ models.Persona, chunkFn func(string) error) (*models.ChatMessage, error) {
	f.mu.Lock()
	cloned := make([]models.ChatMessage, len(history))
	copy(cloned, history)
	f.calls = append(f.calls, cloned)
	started := f.started
	block := f.block
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	if chunkFn != nil {
		if err := chunkFn(f.reply); err != nil {
			return nil, err
		}
	}
	return &models.ChatMessage{
		ID:      models.NewMessageID(),
		Role:    models.RoleAssistant,
		Content: f.reply,
	}, nil
}

func (f *fakeOrchestrator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEnv(t *testing.T) (*sql.DB, *assistant.Service) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db, assistant.NewService(db, "")
}

func registerTestUser(t *testing.T, asst *assistant.Service, name string) int64 {
	t.Helper()
	user, err := asst.RegisterUser(context.Background(), name, "", "pw", "")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	return user.ID
}

func TestChatAppendsTurnAndPersists(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()
	userID := registerTestUser(t, asst, "walt")
	ctx := context.Background()

	prior := []models.ChatMessage{
		{ID: models.NewMessageID(), Role: models.RoleUser, Content: "earlier question"},
		{ID: models.NewMessageID(), Role: models.RoleAssistant, Content: "earlier answer"},
	}
	if err := asst.SaveHistory(ctx, userID, prior); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	orch := &fakeOrchestrator{reply: "fresh answer"}
	m := NewManager(asst, orch, nil)

	var chunks []string
	aiMsg, err := m.Chat(TurnRequest{
		Context: ctx,
		UserID:  userID,
		Persona: models.DefaultPersona,
		Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "new question"},
		ChunkFn: func(c string) error {
			chunks = append(chunks, c)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if aiMsg.Content != "fresh answer" || aiMsg.Role != models.RoleAssistant {
		t.Fatalf("unexpected ai message: %+v", aiMsg)
	}
	if len(chunks) != 1 || chunks[0] != "fresh answer" {
		t.Fatalf("chunk callback not forwarded: %v", chunks)
	}

	// the orchestrator sees prior history plus the new user message
	if orch.callCount() != 1 {
		t.Fatalf("expected one orchestrator call")
	}
	seen := orch.calls[0]
	if len(seen) != 3 || seen[2].Content != "new question" {
		t.Fatalf("unexpected history seen by orchestrator: %+v", seen)
	}

	stored, err := asst.GetHistory(ctx, userID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(stored) != 4 || stored[3].Content != "fresh answer" {
		t.Fatalf("persisted history wrong: %+v", stored)
	}
}

func TestChatRefusesTurnWhenHistoryLoadFails(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()
	userID := registerTestUser(t, asst, "xena")

	if _, err := db.Exec(`INSERT INTO chat_histories (user_id, messages, updated_at) VALUES (?, 'garbage', CURRENT_TIMESTAMP)`, userID); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	orch := &fakeOrchestrator{reply: "should not run"}
	m := NewManager(asst, orch, nil)

	_, err := m.Chat(TurnRequest{
		UserID:  userID,
		Persona: models.DefaultPersona,
		Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "hi"},
	})
	if err == nil {
		t.Fatalf("expected refusal when history cannot be loaded")
	}
	if orch.callCount() != 0 {
		t.Fatalf("orchestrator must not run without history")
	}
}

func TestChatQueueOverflowIsBusy(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()
	userID := registerTestUser(t, asst, "yuri")

	orch := &fakeOrchestrator{
		reply:   "ok",
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	m := NewManager(asst, orch, nil)

	var wg sync.WaitGroup
	chat := func() {
		defer wg.Done()
		_, _ = m.Chat(TurnRequest{
			UserID:  userID,
			Persona: models.DefaultPersona,
			Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "q"},
		})
	}

	// one turn running, then fill the queue behind it
	wg.Add(1)
	go chat()
	<-orch.started

	state := m.getWorker(userID)
	if state == nil {
		t.Fatalf("worker not started")
	}
	for i := 0; i < taskQueueLen; i++ {
		wg.Add(1)
		go chat()
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(state.taskCh) < taskQueueLen {
		if time.Now().After(deadline) {
			t.Fatalf("queue never filled: %d", len(state.taskCh))
		}
		time.Sleep(time.Millisecond)
	}

	_, err := m.Chat(TurnRequest{
		UserID:  userID,
		Persona: models.DefaultPersona,
		Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "overflow"},
	})
	if !errors.Is(err, ErrWorkerBusy) {
		t.Fatalf("expected ErrWorkerBusy, got %v", err)
	}

	orch.mu.Lock()
	orch.started = nil
	orch.mu.Unlock()
	close(orch.block)
	wg.Wait()
}

func TestPurgeForcesReloadFromDatabase(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()
	userID := registerTestUser(t, asst, "zora")
	ctx := context.Background()

	orch := &fakeOrchestrator{reply: "first"}
	m := NewManager(asst, orch, nil)

	if _, err := m.Chat(TurnRequest{
		Context: ctx,
		UserID:  userID,
		Persona: models.DefaultPersona,
		Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "one"},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// replace the stored history behind the worker's back, then purge
	replacement := []models.ChatMessage{
		{ID: models.NewMessageID(), Role: models.RoleUser, Content: "rewritten"},
	}
	if err := asst.SaveHistory(ctx, userID, replacement); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	m.Purge(userID)

	deadline := time.Now().Add(2 * time.Second)
	for {
		state := m.getWorker(userID)
		if state != nil {
			if _, loaded := state.history(); !loaded {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("purge never took effect")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := m.Chat(TurnRequest{
		Context: ctx,
		UserID:  userID,
		Persona: models.DefaultPersona,
		Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "two"},
	}); err != nil {
		t.Fatalf("Chat after purge: %v", err)
	}
	seen := orch.calls[len(orch.calls)-1]
	if len(seen) != 2 || seen[0].Content != "rewritten" {
		t.Fatalf("worker did not reload from database: %+v", seen)
	}
}

func TestResetUserTwiceIsSafe(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()
	userID := registerTestUser(t, asst, "amos")

	orch := &fakeOrchestrator{reply: "ok"}
	m := NewManager(asst, orch, nil)

	if _, err := m.Chat(TurnRequest{
		UserID:  userID,
		Persona: models.DefaultPersona,
		Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "hi"},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// concurrent logout and delete both reset the same user
	m.ResetUser(userID)
	m.ResetUser(userID)

	// the user can chat again afterwards on a fresh worker
	if _, err := m.Chat(TurnRequest{
		UserID:  userID,
		Persona: models.DefaultPersona,
		Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "again"},
	}); err != nil {
		t.Fatalf("Chat after reset: %v", err)
	}
}

func TestResetReleasesQueuedTurn(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()
	userID := registerTestUser(t, asst, "bobbie")

	orch := &fakeOrchestrator{
		reply:   "ok",
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	m := NewManager(asst, orch, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Chat(TurnRequest{
			UserID:  userID,
			Persona: models.DefaultPersona,
			Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "first"},
		})
		firstDone <- err
	}()
	<-orch.started

	state := m.getWorker(userID)
	if state == nil {
		t.Fatalf("worker not started")
	}
	queuedDone := make(chan error, 1)
	go func() {
		_, err := m.Chat(TurnRequest{
			UserID:  userID,
			Persona: models.DefaultPersona,
			Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "second"},
		})
		queuedDone <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(state.taskCh) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("second turn never queued")
		}
		time.Sleep(time.Millisecond)
	}

	m.ResetUser(userID)
	orch.mu.Lock()
	orch.started = nil
	orch.mu.Unlock()
	close(orch.block)

	select {
	case err := <-queuedDone:
		// the worker either drained the turn or won the race and ran it
		if err != nil && !errors.Is(err, ErrWorkerStopped) {
			t.Fatalf("queued turn got %v, want ErrWorkerStopped or success", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued caller still blocked after reset")
	}
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight caller still blocked after reset")
	}
}

func TestChatReturnsWhenContextCanceled(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()
	userID := registerTestUser(t, asst, "clarissa")

	orch := &fakeOrchestrator{
		reply:   "ok",
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	m := NewManager(asst, orch, nil)

	go func() {
		_, _ = m.Chat(TurnRequest{
			UserID:  userID,
			Persona: models.DefaultPersona,
			Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "first"},
		})
	}()
	<-orch.started

	ctx, cancel := context.WithCancel(context.Background())
	queuedDone := make(chan error, 1)
	go func() {
		_, err := m.Chat(TurnRequest{
			Context: ctx,
			UserID:  userID,
			Persona: models.DefaultPersona,
			Message: &models.ChatMessage{ID: models.NewMessageID(), Role: models.RoleUser, Content: "second"},
		})
		queuedDone <- err
	}()
	state := m.getWorker(userID)
	deadline := time.Now().Add(2 * time.Second)
	for state == nil || len(state.taskCh) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("second turn never queued")
		}
		time.Sleep(time.Millisecond)
		state = m.getWorker(userID)
	}

	cancel()
	select {
	case err := <-queuedDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("canceled caller got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("caller still blocked after context cancel")
	}

	orch.mu.Lock()
	orch.started = nil
	orch.mu.Unlock()
	close(orch.block)
}

func TestChatValidatesRequest(t *testing.T) {
	db, asst := newTestEnv(t)
	defer db.Close()

	m := NewManager(asst, &fakeOrchestrator{}, nil)
	if _, err := m.Chat(TurnRequest{UserID: 0, Message: &models.ChatMessage{}}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if _, err := m.Chat(TurnRequest{UserID: 1}); err == nil {
		t.Fatalf("expected error for missing message")
	}
}
