package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inspectra/internal/client/models"
	"inspectra/internal/client/remote"
	"inspectra/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.DiscardHandler))
}

// tinyJPEG returns a small valid JPEG payload for pipeline tests.
func tinyJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 20), B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

// ---- fake remote.Store ----

type upsertCall struct {
	Table  string
	Key    string
	Fields map[string]any
}

type fakeStore struct {
	mu sync.Mutex

	auth      *remote.Auth
	signInErr error

	rows map[string]map[string]map[string]any

	selectErr error
	upsertErr error
	insertErr error
	updateErr error

	upserts      []upsertCall
	inserts      []map[string]any
	updates      []upsertCall
	signOutCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		auth: &remote.Auth{AccountID: "acc1", AccessToken: "jwt", Admin: false},
		rows: make(map[string]map[string]map[string]any),
	}
}

func (f *fakeStore) setRow(table, key string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[table] == nil {
		f.rows[table] = make(map[string]map[string]any)
	}
	f.rows[table][key] = fields
}

func (f *fakeStore) row(table, key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[table][key]
}

func (f *fakeStore) SignIn(ctx context.Context, identity string, secret []byte) (*remote.Auth, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.auth, nil
}

func (f *fakeStore) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return nil
}

func (f *fakeStore) UpsertRow(ctx context.Context, table, key string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, upsertCall{Table: table, Key: key, Fields: fields})
	if f.rows[table] == nil {
		f.rows[table] = make(map[string]map[string]any)
	}
	f.rows[table][key] = fields
	return nil
}

func (f *fakeStore) SelectRow(ctx context.Context, table, key string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return f.rows[table][key], nil
}

func (f *fakeStore) InsertRow(ctx context.Context, table string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, fields)
	return nil
}

func (f *fakeStore) UpdateRow(ctx context.Context, table, key string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, upsertCall{Table: table, Key: key, Fields: fields})
	return nil
}

func (f *fakeStore) Close() {}

// ---- fake remote.ObjectStore ----

type fakeObjects struct {
	mu sync.Mutex

	paths   []string
	failing map[string]error // object path -> error
	delay   time.Duration

	inFlight    int
	maxInFlight int
	putSignal   chan struct{} // closed by tests that gate Put manually
	putStarted  chan struct{} // receives one signal per Put entry
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{failing: make(map[string]error)}
}

func (f *fakeObjects) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	started := f.putStarted
	gate := f.putSignal
	delay := f.delay
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err, ok := f.failing[path]; ok {
		return "", err
	}
	f.paths = append(f.paths, path)
	return path, nil
}

func (f *fakeObjects) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.local/%s?ttl=%ds", path, int(ttl.Seconds())), nil
}

func (f *fakeObjects) stored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// ---- in-memory drafts.Repository ----

type memDraftRepo struct {
	mu sync.Mutex

	byAccount map[string]*models.Draft
	saveErr   error
	deleteErr error
	saves     int
	deletes   int
}

func newMemDraftRepo() *memDraftRepo {
	return &memDraftRepo{byAccount: make(map[string]*models.Draft)}
}

func (r *memDraftRepo) Save(ctx context.Context, draft *models.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	// Walk the draft the way the sqlite repository does when serializing,
	// so unsynchronized caller edits surface under the race detector.
	if _, err := json.Marshal(draft.Fields); err != nil {
		return err
	}
	for _, st := range draft.Items {
		for _, a := range st.Attachments {
			_ = a.Filename
		}
	}
	r.saves++
	r.byAccount[draft.AccountID] = draft
	return nil
}

func (r *memDraftRepo) Get(ctx context.Context, accountID string) (*models.Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAccount[accountID], nil
}

func (r *memDraftRepo) Delete(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deletes++
	delete(r.byAccount, accountID)
	return nil
}

func (r *memDraftRepo) saved(accountID string) *models.Draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAccount[accountID]
}

func (r *memDraftRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
