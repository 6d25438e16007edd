package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"inspectra/internal/client/models"
	"inspectra/internal/client/services"
	"inspectra/internal/common"
)

// capture runs the evidence capture sub-loop. Every edit goes through the
// draft store so a crash at any point loses at most the debounce window.
func (a *App) capture(ctx context.Context) {
	if !a.requireSession() {
		return
	}
	session := a.guard.Session()
	if session == nil {
		return
	}

	if a.draft == nil {
		a.draft = models.NewDraft(session.AccountID, models.PageCreation)
	}

	fmt.Fprintln(a.out, "capture: set <field> <value> | attach <item> <file> | remove <item> <n> | na <item> | clear-na <item> | show | discard | back")

	for {
		line, err := GetSimpleText(a.reader, "", a.out)
		if err != nil {
			return
		}
		a.guard.Touch()
		if !a.guard.IsSignedIn() {
			a.dropDraft()
			return
		}

		verb, rest, _ := strings.Cut(line, " ")
		switch verb {
		case "set":
			name, value, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Fprintln(a.out, "usage: set <field> <value>")
				continue
			}
			a.draft.SetField(name, strings.TrimSpace(value))
		case "attach":
			item, path, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Fprintln(a.out, "usage: attach <item> <file>")
				continue
			}
			a.attach(item, strings.TrimSpace(path))
		case "remove":
			item, idxText, ok := strings.Cut(rest, " ")
			idx, convErr := strconv.Atoi(strings.TrimSpace(idxText))
			if !ok || convErr != nil {
				fmt.Fprintln(a.out, "usage: remove <item> <n>")
				continue
			}
			a.draft.RemoveAttachment(item, idx-1)
		case "na":
			a.draft.MarkNotApplicable(strings.TrimSpace(rest))
		case "clear-na":
			a.draft.ClearNotApplicable(strings.TrimSpace(rest))
		case "show":
			a.showDraft()
			continue
		case "discard":
			sure, confirmErr := GetYesNo(a.reader, "Discard the draft? This cannot be undone", a.out)
			if confirmErr != nil || !sure {
				continue
			}
			a.guard.Touch()
			a.drafts.Clear(ctx, session.AccountID)
			a.draft = nil
			fmt.Fprintln(a.out, "draft discarded")
			return
		case "back", "":
			return
		default:
			fmt.Fprintf(a.out, "unknown capture command %q\n", verb)
			continue
		}
		a.drafts.Save(a.draft)
	}
}

// attach reads a photo from disk into the draft. The file stays untouched;
// the draft carries its own copy of the bytes.
func (a *App) attach(item, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.out, "cannot read %s: %v\n", path, err)
		return
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	a.draft.AddAttachment(item, models.Attachment{
		Bytes:      data,
		Filename:   filepath.Base(path),
		MimeType:   mimeType,
		CapturedAt: time.Now(),
	})
	fmt.Fprintf(a.out, "attached %s to %s\n", filepath.Base(path), item)
}

func (a *App) showDraft() {
	for name, value := range a.draft.Fields {
		fmt.Fprintf(a.out, "  %s = %s\n", name, value)
	}
	for item, st := range a.draft.Items {
		if st.NotApplicable {
			fmt.Fprintf(a.out, "  %s: not applicable\n", item)
			continue
		}
		for i, att := range st.Attachments {
			fmt.Fprintf(a.out, "  %s[%d]: %s (%d bytes)\n", item, i+1, att.Filename, len(att.Bytes))
		}
	}
}

// save submits the working draft as a new inspection record.
func (a *App) save(ctx context.Context) {
	if !a.requireSession() {
		return
	}
	if a.draft == nil {
		fmt.Fprintln(a.out, "nothing to submit")
		return
	}

	spec, err := a.batchSpec(uuid.NewString())
	if err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return
	}
	a.commit(ctx, spec, false)
}

// commit drives the submitter and reports the outcome. The draft survives
// every failure mode and is dropped only after a confirmed record write.
func (a *App) commit(ctx context.Context, spec services.BatchSpec, edit bool) {
	itemOrder, err := a.checklistItems(ctx, spec.ProcessCode)
	if err != nil {
		fmt.Fprintf(a.out, "cannot load checklist %s: %v\n", spec.ProcessCode, err)
		return
	}

	err = a.submitter.Commit(ctx, a.draft, spec, itemOrder, edit, func(completed, total int) {
		fmt.Fprintf(a.out, "uploading %d/%d\n", completed, total)
	})
	if err != nil {
		var batchErr *services.BatchError
		switch {
		case errors.Is(err, common.ErrCommitInFlight):
			fmt.Fprintln(a.out, "a submission is already running")
		case errors.As(err, &batchErr):
			fmt.Fprintf(a.out, "submission aborted, nothing was saved: %v\n", batchErr)
		default:
			fmt.Fprintf(a.out, "submission failed: %v\n", err)
		}
		return
	}

	fmt.Fprintf(a.out, "record %s saved\n", spec.RecordID)
	a.draft = nil
}

// batchSpec derives the submission coordinates from the draft's scalar
// fields. All three are required because they form the object path prefix.
func (a *App) batchSpec(recordID string) (services.BatchSpec, error) {
	spec := services.BatchSpec{
		ProcessCode:  a.draft.Fields["process_code"],
		ProductModel: a.draft.Fields["product_model"],
		Serial:       a.draft.Fields["serial"],
		RecordID:     recordID,
	}
	if spec.ProcessCode == "" || spec.ProductModel == "" || spec.Serial == "" {
		return services.BatchSpec{}, fmt.Errorf("process_code, product_model and serial must be set before submitting")
	}
	return spec, nil
}

// checklistItems loads the ordered item list for a process code. A missing
// checklist is an error: submissions are always made against a known
// process.
func (a *App) checklistItems(ctx context.Context, processCode string) ([]string, error) {
	row, err := a.store.SelectRow(ctx, common.TableChecklists, processCode)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, common.ErrorNotFound
	}

	raw, ok := row["items"].(string)
	if !ok {
		if b, isBytes := row["items"].([]byte); isBytes {
			raw = string(b)
		} else {
			return nil, fmt.Errorf("checklist %s has no item list", processCode)
		}
	}

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode checklist %s: %w", processCode, err)
	}
	return items, nil
}
