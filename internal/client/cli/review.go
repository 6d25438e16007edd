package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inspectra/internal/common"
)

const signedURLTTL = 15 * time.Minute

// review looks up a submitted record and prints it, with time-limited
// download links for the stored photos. Browsing never touches the working
// draft; only an explicit amend re-submits it.
func (a *App) review(ctx context.Context) {
	if !a.requireSession() {
		return
	}

	recordID, err := GetSimpleText(a.reader, "Record id", a.out)
	if err != nil || recordID == "" {
		return
	}
	a.guard.Touch()

	row, err := a.store.SelectRow(ctx, common.TableRecords, recordID)
	if err != nil {
		fmt.Fprintf(a.out, "lookup failed: %v\n", err)
		return
	}
	if row == nil {
		fmt.Fprintf(a.out, "record %s not found\n", recordID)
		return
	}

	a.printRecord(ctx, recordID, row)

	if a.draft == nil {
		return
	}
	amend, err := GetYesNo(a.reader, "Amend this record with the current draft?", a.out)
	if err != nil || !amend {
		return
	}
	a.guard.Touch()
	a.amend(ctx, recordID)
}

func (a *App) printRecord(ctx context.Context, recordID string, row map[string]any) {
	fmt.Fprintf(a.out, "record %s\n", recordID)
	for _, col := range []string{"process_code", "product_model", "serial", "updated_at"} {
		if v, ok := row[col]; ok {
			fmt.Fprintf(a.out, "  %s: %v\n", col, v)
		}
	}

	items, err := decodeItemPaths(row["items"])
	if err != nil {
		fmt.Fprintf(a.out, "  cannot decode items: %v\n", err)
		return
	}
	for item, paths := range items {
		fmt.Fprintf(a.out, "  %s:\n", item)
		for _, path := range paths {
			if path == common.PathNotApplicable {
				fmt.Fprintln(a.out, "    not applicable")
				continue
			}
			url, err := a.objects.SignedURL(ctx, path, signedURLTTL)
			if err != nil {
				fmt.Fprintf(a.out, "    %s (no link: %v)\n", path, err)
				continue
			}
			fmt.Fprintf(a.out, "    %s\n", url)
		}
	}
}

// amend re-submits the working draft against an existing record. The
// record row is updated in place; the draft is cleared only on success,
// same as a first submission.
func (a *App) amend(ctx context.Context, recordID string) {
	spec, err := a.batchSpec(recordID)
	if err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return
	}
	a.commit(ctx, spec, true)
}

func decodeItemPaths(raw any) (map[string][]string, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case nil:
		return nil, errors.New("missing item list")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = encoded
	}

	var items map[string][]string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
