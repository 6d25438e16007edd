package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"inspectra/internal/client/models"
	"inspectra/internal/client/remote"
	"inspectra/internal/common"
	"inspectra/internal/logging"
)

// SubmissionGuard prevents a second commit of the same batch while one is
// in flight. The flag is set synchronously the instant a commit is
// requested, before any asynchronous work starts, so a rapid double
// trigger is rejected even before the first upload step yields. Admission
// is strictly first-come-first-served: test and set happen under one lock.
type SubmissionGuard struct {
	mu       sync.Mutex
	inFlight bool
	progress string
}

// TryAcquire claims the in-flight flag. Returns false when a commit is
// already running.
func (g *SubmissionGuard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return false
	}
	g.inFlight = true
	g.progress = ""
	return true
}

// Release clears the flag. Callers must invoke it from a deferred cleanup
// path so it runs after the commit fully settles: success, abort, or panic.
func (g *SubmissionGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
	g.progress = ""
}

// InFlight reports whether a commit is currently running, so the commit
// action can be disabled in the UI.
func (g *SubmissionGuard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// SetProgress stores live progress text shown next to the disabled action.
func (g *SubmissionGuard) SetProgress(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.progress = text
}

// Progress returns the live progress text of the running commit.
func (g *SubmissionGuard) Progress() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress
}

// BatchError reports a batch that was aborted because some uploads failed.
// No record was written and the local draft is preserved for retry.
type BatchError struct {
	Failures []UploadFailure
}

func (e *BatchError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, fmt.Sprintf("%s/%s", f.Item, f.Filename))
	}
	return fmt.Sprintf("%d attachment(s) failed to upload: %s", len(e.Failures), strings.Join(names, ", "))
}

// CommitWriteError reports a domain-record write rejected by the remote
// store after all uploads succeeded. The write is a single row operation:
// no partial record was stored.
type CommitWriteError struct {
	Err error
}

func (e *CommitWriteError) Error() string {
	return fmt.Sprintf("record write rejected (no partial data was saved): %v", e.Err)
}

func (e *CommitWriteError) Unwrap() error {
	return e.Err
}

// Submitter drives one batch commit: reentrancy admission, the upload
// pipeline, the single domain-record write, and draft cleanup.
type Submitter struct {
	guard       *SubmissionGuard
	pipeline    *UploadPipeline
	store       remote.Store
	drafts      *DraftStore
	concurrency int
	log         logging.Logger

	now func() time.Time
}

func NewSubmitter(guard *SubmissionGuard, pipeline *UploadPipeline, store remote.Store, drafts *DraftStore, concurrency int, log logging.Logger) *Submitter {
	return &Submitter{
		guard:       guard,
		pipeline:    pipeline,
		store:       store,
		drafts:      drafts,
		concurrency: concurrency,
		log:         log.With("component", "submitter"),
		now:         time.Now,
	}
}

// Commit runs the whole batch to settlement. edit selects update-in-place
// of an existing record instead of inserting a new one; either way the
// domain write is one atomic row operation performed only after every
// upload succeeded. On any upload failure the batch is aborted with
// BatchError, nothing is written and the draft stays available for retry.
func (s *Submitter) Commit(ctx context.Context, draft *models.Draft, spec BatchSpec, itemOrder []string, edit bool, progress ProgressFunc) error {
	if !s.guard.TryAcquire() {
		return common.ErrCommitInFlight
	}
	defer s.guard.Release()

	tasks := BuildTasks(draft, itemOrder)

	report := func(completed, total int) {
		s.guard.SetProgress(fmt.Sprintf("%d/%d", completed, total))
		if progress != nil {
			progress(completed, total)
		}
	}

	results := s.pipeline.Run(ctx, spec, tasks, s.concurrency, report)

	if failures := Failures(results); len(failures) > 0 {
		s.log.Warn(ctx, "batch aborted", "record_id", spec.RecordID, "failed", len(failures))
		return &BatchError{Failures: failures}
	}

	fields, err := recordFields(draft, spec, results, s.now())
	if err != nil {
		return &CommitWriteError{Err: err}
	}

	if edit {
		err = s.store.UpdateRow(ctx, common.TableRecords, spec.RecordID, fields)
	} else {
		fields["id"] = spec.RecordID
		err = s.store.InsertRow(ctx, common.TableRecords, fields)
	}
	if err != nil {
		s.log.Error(ctx, "record write rejected", "record_id", spec.RecordID, "error", err)
		return &CommitWriteError{Err: err}
	}

	s.log.Info(ctx, "batch committed", "record_id", spec.RecordID, "tasks", len(tasks))
	s.drafts.Clear(ctx, draft.AccountID)
	return nil
}

// recordFields assembles the single row written for the record: the scalar
// form fields plus the item->paths mapping, with the not-applicable
// sentinel standing in for deliberately skipped items.
func recordFields(draft *models.Draft, spec BatchSpec, results []UploadResult, now time.Time) (map[string]any, error) {
	items := make(map[string][]string)
	for _, r := range results {
		if r.Task.NotApplicable {
			items[r.Task.Item] = []string{common.PathNotApplicable}
			continue
		}
		items[r.Task.Item] = append(items[r.Task.Item], r.Path)
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal item paths: %w", err)
	}
	fieldsJSON, err := json.Marshal(draft.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal form fields: %w", err)
	}

	return map[string]any{
		"account_id":    draft.AccountID,
		"process_code":  spec.ProcessCode,
		"product_model": spec.ProductModel,
		"serial":        spec.Serial,
		"items":         string(itemsJSON),
		"fields":        string(fieldsJSON),
		"updated_at":    now.UTC(),
	}, nil
}
