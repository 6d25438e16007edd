package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inspectra/internal/client/models"
)

const testDebounce = 30 * time.Millisecond

func waitForSaves(t *testing.T, repo *memDraftRepo, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if repo.saveCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, repo.saveCount(), want, "debounced save did not fire")
}

func TestDraftStore_DebouncedSaveKeepsLastState(t *testing.T) {
	repo := newMemDraftRepo()
	s := NewDraftStore(repo, testDebounce, testLogger())

	d := models.NewDraft("acc1", models.PageCreation)
	d.SetField("serial", "SN-1")
	s.Save(d)

	d.SetField("serial", "SN-2")
	s.Save(d)

	d.SetField("serial", "SN-3")
	s.Save(d)

	waitForSaves(t, repo, 1)
	time.Sleep(2 * testDebounce) // no trailing extra writes

	require.Equal(t, 1, repo.saveCount(), "rapid edits inside the quiet period collapse to one write")
	require.Equal(t, "SN-3", repo.saved("acc1").Fields["serial"])
}

func TestDraftStore_SaveSnapshotsStateAtCall(t *testing.T) {
	repo := newMemDraftRepo()
	s := NewDraftStore(repo, testDebounce, testLogger())

	d := models.NewDraft("acc1", models.PageCreation)
	d.SetField("serial", "SN-1")
	s.Save(d)

	// Edits after Save without a follow-up Save must not leak into the
	// write that eventually fires.
	d.SetField("serial", "SN-2")
	d.AddAttachment("A", models.Attachment{Bytes: []byte{1}, Filename: "a.jpg"})

	waitForSaves(t, repo, 1)
	got := repo.saved("acc1")
	require.Equal(t, "SN-1", got.Fields["serial"])
	require.Zero(t, got.AttachmentCount())
}

func TestDraftStore_CallerKeepsEditingWhileFlushesFire(t *testing.T) {
	repo := newMemDraftRepo()
	s := NewDraftStore(repo, time.Millisecond, testLogger())

	// Edits from the caller goroutine interleave with debounced flushes on
	// the timer goroutine. Run under -race this fails if the flush ever
	// serializes the live draft instead of a snapshot.
	d := models.NewDraft("acc1", models.PageCreation)
	for i := 0; i < 200; i++ {
		d.SetField("serial", fmt.Sprintf("SN-%d", i))
		d.AddAttachment("A", models.Attachment{Bytes: []byte{byte(i)}, Filename: "a.jpg"})
		d.RemoveAttachment("A", 0)
		d.AddAttachment("A", models.Attachment{Bytes: []byte{byte(i)}, Filename: "a.jpg"})
		s.Save(d)
	}
	s.Flush(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := repo.saved("acc1"); got != nil && got.Fields["serial"] == "SN-199" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, "SN-199", repo.saved("acc1").Fields["serial"])
}

func TestDraftStore_NoDirtyNoDraft(t *testing.T) {
	repo := newMemDraftRepo()
	s := NewDraftStore(repo, testDebounce, testLogger())

	// Browsing the review page creates a draft object but never dirties it.
	d := models.NewDraft("acc1", models.PageReview)
	s.Save(d)
	s.Flush(context.Background())

	require.Equal(t, 0, repo.saveCount())
	require.Nil(t, repo.saved("acc1"))
}

func TestDraftStore_FlushForcesPendingWrite(t *testing.T) {
	repo := newMemDraftRepo()
	s := NewDraftStore(repo, time.Hour, testLogger()) // debounce would never fire on its own

	d := models.NewDraft("acc1", models.PageCreation)
	d.AddAttachment("A", models.Attachment{Bytes: []byte{1, 2}, Filename: "a.jpg", MimeType: "image/jpeg", CapturedAt: time.Now()})
	s.Save(d)

	s.Flush(context.Background())
	require.Equal(t, 1, repo.saveCount())
	require.NotNil(t, repo.saved("acc1"))
}

func TestDraftStore_LoadOncePerAccount(t *testing.T) {
	repo := newMemDraftRepo()
	stored := models.NewDraft("acc1", models.PageCreation)
	stored.SetField("serial", "SN-9")
	repo.byAccount["acc1"] = stored

	s := NewDraftStore(repo, testDebounce, testLogger())
	ctx := context.Background()

	first := s.Load(ctx, "acc1")
	require.NotNil(t, first)
	require.Equal(t, first, s.PendingPrompt())

	second := s.Load(ctx, "acc1")
	require.Nil(t, second, "the recovery prompt is offered at most once per load")
}

func TestDraftStore_ResolveAccept(t *testing.T) {
	repo := newMemDraftRepo()
	stored := models.NewDraft("acc1", models.PageCreation)
	stored.SetField("serial", "SN-9")
	repo.byAccount["acc1"] = stored

	s := NewDraftStore(repo, testDebounce, testLogger())
	ctx := context.Background()

	require.NotNil(t, s.Load(ctx, "acc1"))

	restored := s.Resolve(ctx, true)
	require.NotNil(t, restored)
	require.Equal(t, "SN-9", restored.Fields["serial"])
	require.Nil(t, s.PendingPrompt(), "resolving clears the prompt")
	require.NotNil(t, repo.saved("acc1"), "accepting keeps the stored draft")

	require.Nil(t, s.Resolve(ctx, true), "a second resolve is a no-op")
}

func TestDraftStore_ResolveReject(t *testing.T) {
	repo := newMemDraftRepo()
	repo.byAccount["acc1"] = models.NewDraft("acc1", models.PageCreation)

	s := NewDraftStore(repo, testDebounce, testLogger())
	ctx := context.Background()

	require.NotNil(t, s.Load(ctx, "acc1"))
	require.Nil(t, s.Resolve(ctx, false))
	require.Nil(t, s.PendingPrompt())
	require.Nil(t, repo.saved("acc1"), "rejecting deletes the stored draft")
}

func TestDraftStore_ClearDropsPendingDebounce(t *testing.T) {
	repo := newMemDraftRepo()
	s := NewDraftStore(repo, testDebounce, testLogger())

	d := models.NewDraft("acc1", models.PageCreation)
	d.SetField("serial", "SN-1")
	s.Save(d)

	s.Clear(context.Background(), "acc1")
	time.Sleep(3 * testDebounce)

	require.Equal(t, 0, repo.saveCount(), "a cleared draft must not be resurrected by a pending write")
	require.Nil(t, repo.saved("acc1"))
}

func TestDraftStore_PersistenceErrorsAreSwallowed(t *testing.T) {
	repo := newMemDraftRepo()
	repo.saveErr = errNetworkDown
	s := NewDraftStore(repo, testDebounce, testLogger())

	d := models.NewDraft("acc1", models.PageCreation)
	d.SetField("serial", "SN-1")
	s.Save(d)
	s.Flush(context.Background()) // must not panic or surface the error

	repo.deleteErr = errNetworkDown
	s.Clear(context.Background(), "acc1")
}

func TestDraftStore_RoundTripThroughRepo(t *testing.T) {
	repo := newMemDraftRepo()
	s := NewDraftStore(repo, testDebounce, testLogger())
	ctx := context.Background()

	captured := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	d := models.NewDraft("acc1", models.PageCreation)
	d.SetField("process_code", "PC-1")
	d.SetField("serial", "SN-7")
	d.AddAttachment("A", models.Attachment{Bytes: []byte{9, 9, 9}, Filename: "evidence.jpg", MimeType: "image/jpeg", CapturedAt: captured})
	s.Save(d)
	s.Flush(ctx)

	restored := s.Load(ctx, "acc1")
	require.NotNil(t, restored)
	applied := s.Resolve(ctx, true)
	require.Equal(t, "PC-1", applied.Fields["process_code"])
	require.Equal(t, "SN-7", applied.Fields["serial"])
	require.Equal(t, []byte{9, 9, 9}, applied.Items["A"].Attachments[0].Bytes)
	require.Equal(t, "evidence.jpg", applied.Items["A"].Attachments[0].Filename)
}
