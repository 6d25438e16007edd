package services

import (
	"context"
	"sync"
	"time"

	"inspectra/internal/client/models"
	"inspectra/internal/client/repositories/drafts"
	"inspectra/internal/logging"
)

// DraftStore makes in-progress, not-yet-submitted work survive reloads and
// crashes. Writes are debounced on the trailing edge so the persisted draft
// always reflects the last state at the time the debounce fires. Draft
// recovery is a convenience, never a correctness requirement: persistence
// failures are logged and swallowed, they never block the primary flow.
type DraftStore struct {
	repo     drafts.Repository
	log      logging.Logger
	debounce time.Duration

	now func() time.Time

	mu      sync.Mutex
	pending *models.Draft
	timer   *time.Timer

	prompt *models.Draft
	loaded map[string]bool
}

func NewDraftStore(repo drafts.Repository, debounce time.Duration, log logging.Logger) *DraftStore {
	return &DraftStore{
		repo:     repo,
		debounce: debounce,
		log:      log.With("component", "draft_store"),
		now:      time.Now,
		loaded:   make(map[string]bool),
	}
}

// Save schedules a debounced write of the draft. Drafts with no meaningful
// dirty state are never written, so untouched sessions cannot produce
// phantom resume prompts. Each call restarts the quiet period; the write
// that eventually fires persists the draft passed last. The draft is
// snapshotted here, so the caller may keep mutating it while the timer
// goroutine serializes the snapshot.
func (s *DraftStore) Save(draft *models.Draft) {
	if draft == nil || !draft.Dirty() {
		return
	}
	snapshot := draft.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = snapshot
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushPending)
		return
	}
	s.timer.Reset(s.debounce)
}

func (s *DraftStore) flushPending() {
	s.mu.Lock()
	draft := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if draft == nil {
		return
	}
	s.persist(context.Background(), draft)
}

// Flush writes any pending debounced draft immediately. Called at shutdown
// so quiet-period work is not lost to process exit.
func (s *DraftStore) Flush(ctx context.Context) {
	s.mu.Lock()
	draft := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if draft == nil {
		return
	}
	s.persist(ctx, draft)
}

func (s *DraftStore) persist(ctx context.Context, draft *models.Draft) {
	draft.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, draft); err != nil {
		s.log.Error(ctx, "failed to persist draft", "account_id", draft.AccountID, "error", err)
	}
}

// Load fetches the stored draft for the account, at most once per account
// per application run. A found draft is not auto-applied: it is held as a
// pending recovery prompt until Resolve is called.
func (s *DraftStore) Load(ctx context.Context, accountID string) *models.Draft {
	s.mu.Lock()
	if s.loaded[accountID] {
		s.mu.Unlock()
		return nil
	}
	s.loaded[accountID] = true
	s.mu.Unlock()

	draft, err := s.repo.Get(ctx, accountID)
	if err != nil {
		s.log.Error(ctx, "failed to load draft", "account_id", accountID, "error", err)
		return nil
	}
	if draft == nil {
		return nil
	}

	s.mu.Lock()
	s.prompt = draft
	s.mu.Unlock()
	return draft
}

// PendingPrompt returns the draft awaiting a resume/discard decision, or nil.
func (s *DraftStore) PendingPrompt() *models.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// Resolve settles the recovery prompt. On accept the restored draft is
// returned for the caller to apply; on reject the persisted draft is
// deleted. Either way the prompt is cleared so it is shown at most once per
// load.
func (s *DraftStore) Resolve(ctx context.Context, accept bool) *models.Draft {
	s.mu.Lock()
	draft := s.prompt
	s.prompt = nil
	s.mu.Unlock()

	if draft == nil {
		return nil
	}
	if accept {
		return draft
	}

	if err := s.repo.Delete(ctx, draft.AccountID); err != nil {
		s.log.Error(ctx, "failed to discard draft", "account_id", draft.AccountID, "error", err)
	}
	return nil
}

// Clear deletes the persisted draft and drops any pending debounced write
// for the account. Called after successful submission, explicit discard,
// and logout cleanup.
func (s *DraftStore) Clear(ctx context.Context, accountID string) {
	s.mu.Lock()
	if s.pending != nil && s.pending.AccountID == accountID {
		s.pending = nil
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
	if s.prompt != nil && s.prompt.AccountID == accountID {
		s.prompt = nil
	}
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, accountID); err != nil {
		s.log.Error(ctx, "failed to clear draft", "account_id", accountID, "error", err)
	}
}
