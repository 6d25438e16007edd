// Package cli implements the interactive capture client: sign-in, evidence
// capture against a process checklist, batch submission, and record review.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"inspectra/internal/client/config"
	"inspectra/internal/client/localdb"
	"inspectra/internal/client/models"
	"inspectra/internal/client/remote"
	"inspectra/internal/client/repositories/drafts"
	"inspectra/internal/client/services"
	"inspectra/internal/logging"
)

type App struct {
	cfg *config.Config
	log logging.Logger

	db      *sql.DB
	store   remote.Store
	objects remote.ObjectStore

	guard     *services.SessionGuard
	drafts    *services.DraftStore
	subGuard  *services.SubmissionGuard
	submitter *services.Submitter

	fileLock *flock.Flock

	reader *bufio.Reader
	out    io.Writer

	// draft is the working draft of the signed-in account, nil when none.
	draft *models.Draft
}

// NewApp wires the client together. The data directory is guarded with a
// lock file: the local draft database is single-writer by convention, so a
// second instance on the same machine is refused instead of silently
// corrupting drafts.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o770); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fileLock := flock.New(filepath.Join(cfg.DataDir, "inspectra.lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another capture client is already running against %s", cfg.DataDir)
	}

	db, err := localdb.Open(ctx, filepath.Join(cfg.DataDir, "drafts.db"))
	if err != nil {
		_ = fileLock.Unlock()
		return nil, fmt.Errorf("open draft database: %w", err)
	}

	store, err := remote.NewPostgres(ctx, cfg.RemoteDSN, []byte(cfg.TokenSecret), cfg.TokenTTL)
	if err != nil {
		_ = db.Close()
		_ = fileLock.Unlock()
		return nil, fmt.Errorf("connect remote store: %w", err)
	}

	objects := remote.NewS3Store(remote.S3Config{
		BaseEndpoint: cfg.S3BaseEndpoint,
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	})

	guard := services.NewSessionGuard(store, services.SessionGuardConfig{
		PollInterval:  cfg.LockPollInterval,
		GraceWindow:   cfg.LockGraceWindow,
		IdleThreshold: cfg.IdleThreshold,
	}, log)

	draftStore := services.NewDraftStore(drafts.NewSQLiteRepository(db), cfg.SaveDebounce, log)

	subGuard := &services.SubmissionGuard{}
	pipeline := services.NewUploadPipeline(objects, cfg.MaxImageEdge, cfg.JPEGQuality, log)
	submitter := services.NewSubmitter(subGuard, pipeline, store, draftStore, cfg.UploadConcurrency, log)

	app := &App{
		cfg:       cfg,
		log:       log,
		db:        db,
		store:     store,
		objects:   objects,
		guard:     guard,
		drafts:    draftStore,
		subGuard:  subGuard,
		submitter: submitter,
		fileLock:  fileLock,
		reader:    bufio.NewReader(os.Stdin),
		out:       os.Stdout,
	}

	guard.OnForcedLogout(app.handleForcedLogout)

	return app, nil
}

// handleForcedLogout clears the account's persisted draft and surfaces a
// reason-specific notice distinguishing supersession from inactivity. It
// runs on the session guard's poll goroutine, so it must not touch
// a.draft; the command loop owns that pointer and drops it via dropDraft
// once it observes the ended session.
func (a *App) handleForcedLogout(reason services.LogoutReason, accountID string) {
	a.drafts.Clear(context.Background(), accountID)

	switch reason {
	case services.ReasonSuperseded:
		fmt.Fprintln(a.out, "\nYou have been signed out: this account signed in on another device.")
	case services.ReasonIdle:
		fmt.Fprintln(a.out, "\nYou have been signed out after a period of inactivity.")
	}
}

// Run starts the session guard and enters the command loop.
func (a *App) Run(ctx context.Context) {
	go a.guard.Run(ctx)
	a.root(ctx)
}

// Close flushes pending draft writes and releases resources.
func (a *App) Close(ctx context.Context) {
	a.drafts.Flush(ctx)
	a.store.Close()
	if err := a.db.Close(); err != nil {
		a.log.Warn(ctx, "failed to close draft database", "error", err)
	}
	if err := a.fileLock.Unlock(); err != nil {
		a.log.Warn(ctx, "failed to release data dir lock", "error", err)
	}
}
