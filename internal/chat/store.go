// Package chat owns the set of conversation threads, the active-thread
// selection, and the busy state of an in-flight completion. All state
// transitions flow through the Store, which flushes a full snapshot to the
// persistence port after every mutation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/akarpov/minichat/internal/domain"
	"github.com/akarpov/minichat/internal/gateway"
	"github.com/akarpov/minichat/internal/store"
)

// ErrBusy is returned by SendMessage while a previous send is still
// waiting on the provider. Overlapping sends are rejected, not queued.
var ErrBusy = errors.New("a message is already in flight")

// Completer produces one assistant reply for an ordered message history.
// Satisfied by gateway.Client.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}

// Listener receives the render state after every mutation.
type Listener func(StateView)

// ThreadSummary is the sidebar view of one thread.
type ThreadSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
}

// StateView is the full render state returned by every operation: the
// thread list (newest first), the active thread id and its messages, and
// whether a completion call is outstanding.
type StateView struct {
	Threads        []ThreadSummary  `json:"threads"`
	ActiveThreadID string           `json:"activeThreadId"`
	Messages       []domain.Message `json:"messages"`
	Busy           bool             `json:"busy"`
}

// Store is the single session state owner. One instance per process.
type Store struct {
	mu       sync.Mutex
	threads  []*domain.Thread
	activeID string
	busy     bool

	repo      store.Repository
	completer Completer
	listener  Listener
}

// NewStore hydrates a store from the repository. Absent or corrupted
// persisted state yields an empty session, which is immediately repaired
// by creating one empty active thread: the store never holds zero threads.
func NewStore(ctx context.Context, repo store.Repository, completer Completer) (*Store, error) {
	s := &Store{repo: repo, completer: completer}

	snap, err := repo.LoadState(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Info("No persisted session state, starting empty")
	case err != nil:
		slog.Warn("Persisted session state unreadable, starting empty", "error", err)
	default:
		s.threads = snap.Threads
		s.activeID = snap.ActiveThreadID
	}

	s.mu.Lock()
	if !s.activeThreadExistsLocked() {
		s.activeID = ""
		if len(s.threads) > 0 {
			s.activeID = s.threads[0].ID
		}
	}
	if len(s.threads) == 0 {
		s.createThreadLocked()
	}
	if err := s.persistLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persist initial state: %w", err)
	}
	s.mu.Unlock()

	return s, nil
}

// SetListener registers the mutation listener. Must be called before the
// store is shared across goroutines.
func (s *Store) SetListener(l Listener) {
	s.listener = l
}

// State returns the current render state.
func (s *Store) State() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// CreateThread inserts a new empty thread at the front of the list and
// makes it active.
func (s *Store) CreateThread(ctx context.Context) StateView {
	s.mu.Lock()
	s.createThreadLocked()
	s.logPersistLocked(ctx, "create thread")
	view := s.viewLocked()
	s.mu.Unlock()

	s.notify(view)
	return view
}

// SelectThread makes the thread with the given id active. An unknown id
// is silently ignored.
func (s *Store) SelectThread(ctx context.Context, id string) StateView {
	s.mu.Lock()
	if s.threadLocked(id) == nil {
		view := s.viewLocked()
		s.mu.Unlock()
		return view
	}
	s.activeID = id
	s.logPersistLocked(ctx, "select thread")
	view := s.viewLocked()
	s.mu.Unlock()

	s.notify(view)
	return view
}

// DeleteThread removes the thread with the given id. When the active
// thread is removed, the first remaining thread becomes active; when no
// threads remain, a new empty thread is created so the session never
// holds zero threads.
func (s *Store) DeleteThread(ctx context.Context, id string) StateView {
	s.mu.Lock()
	idx := -1
	for i, t := range s.threads {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		view := s.viewLocked()
		s.mu.Unlock()
		return view
	}

	s.threads = append(s.threads[:idx], s.threads[idx+1:]...)
	if s.activeID == id {
		if len(s.threads) > 0 {
			s.activeID = s.threads[0].ID
		} else {
			s.createThreadLocked()
		}
	}
	s.logPersistLocked(ctx, "delete thread")
	view := s.viewLocked()
	s.mu.Unlock()

	s.notify(view)
	return view
}

// SendMessage appends the user's text to the active thread, asks the
// completer for a reply, and appends exactly one assistant message in
// response (a synthetic error description when the provider fails). Blank
// text and a missing active thread are no-ops. A send while another is in
// flight returns ErrBusy.
//
// The user message is visible (and persisted) before the completion call
// resolves; the mutex is released for the duration of the call, with the
// busy flag holding off further sends.
func (s *Store) SendMessage(ctx context.Context, text string) (StateView, error) {
	s.mu.Lock()
	if strings.TrimSpace(text) == "" || s.activeID == "" {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, nil
	}
	if s.busy {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, ErrBusy
	}
	thread := s.threadLocked(s.activeID)
	if thread == nil {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, nil
	}

	// Optimistic update: the user turn lands before the reply is known.
	firstMessage := len(thread.Messages) == 0
	thread.Append(domain.NewUserMessage(text))
	if firstMessage {
		thread.Title = domain.TitleFrom(text)
	}
	s.busy = true
	threadID := thread.ID
	history := make([]domain.Message, len(thread.Messages))
	copy(history, thread.Messages)
	s.logPersistLocked(ctx, "send message")
	view := s.viewLocked()
	s.mu.Unlock()
	s.notify(view)

	reply, err := s.completer.Complete(ctx, history)
	if err != nil {
		reply = assistantErrorText(err)
	}

	s.mu.Lock()
	s.busy = false
	if t := s.threadLocked(threadID); t != nil {
		t.Append(domain.NewAssistantMessage(reply))
	} else {
		slog.Warn("Thread removed while reply was in flight, dropping reply", "thread_id", threadID)
	}
	s.logPersistLocked(ctx, "append reply")
	view = s.viewLocked()
	s.mu.Unlock()

	s.notify(view)
	return view, nil
}

// assistantErrorText turns a completion failure into the assistant-visible
// message for the thread. Gateway errors already carry user-safe text.
func assistantErrorText(err error) string {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return fmt.Sprintf("An error occurred: %v", err)
}

func (s *Store) createThreadLocked() {
	t := domain.NewThread()
	s.threads = append([]*domain.Thread{t}, s.threads...)
	s.activeID = t.ID
}

func (s *Store) threadLocked(id string) *domain.Thread {
	for _, t := range s.threads {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Store) activeThreadExistsLocked() bool {
	return s.activeID != "" && s.threadLocked(s.activeID) != nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	return s.repo.SaveState(ctx, domain.Snapshot{
		Threads:        s.threads,
		ActiveThreadID: s.activeID,
	})
}

// logPersistLocked flushes the snapshot and logs persistence failures
// instead of failing the mutation: the in-memory state already changed
// and stays authoritative for the rest of the runtime.
func (s *Store) logPersistLocked(ctx context.Context, op string) {
	if err := s.persistLocked(ctx); err != nil {
		slog.Error("Failed to persist session state", "op", op, "error", err)
	}
}

func (s *Store) viewLocked() StateView {
	summaries := make([]ThreadSummary, 0, len(s.threads))
	for _, t := range s.threads {
		summaries = append(summaries, ThreadSummary{
			ID:           t.ID,
			Title:        t.Title,
			CreatedAt:    t.CreatedAt,
			MessageCount: len(t.Messages),
		})
	}

	var messages []domain.Message
	if t := s.threadLocked(s.activeID); t != nil {
		messages = make([]domain.Message, len(t.Messages))
		copy(messages, t.Messages)
	}

	return StateView{
		Threads:        summaries,
		ActiveThreadID: s.activeID,
		Messages:       messages,
		Busy:           s.busy,
	}
}

func (s *Store) notify(view StateView) {
	if s.listener != nil {
		s.listener(view)
	}
}
