package models

import "time"

// Page identifies which screen a draft belongs to. A draft is keyed by
// account, not by page: starting work on a different page with dirty state
// must first resolve the previous draft.
type Page string

const (
	PageCreation       Page = "creation"
	PageReview         Page = "review"
	PageAdministration Page = "administration"
)

// Attachment is one captured photo: raw bytes plus the metadata needed to
// re-present it as a freshly picked file after a reload.
type Attachment struct {
	Bytes      []byte
	Filename   string
	MimeType   string
	CapturedAt time.Time
}

// ItemState holds the evidence state of one checklist item: untouched,
// holding attachments, or deliberately marked not applicable. Attachments
// and the NA marker are mutually exclusive.
type ItemState struct {
	NotApplicable bool
	Attachments   []Attachment
}

// Touched reports whether the operator did anything with the item.
func (s *ItemState) Touched() bool {
	return s != nil && (s.NotApplicable || len(s.Attachments) > 0)
}

// Draft is the locally persisted, not-yet-submitted form state of one page,
// including binary attachments. At most one draft exists per account.
type Draft struct {
	AccountID string
	Page      Page
	UpdatedAt time.Time

	// Fields holds the page-specific scalar inputs (process code, product
	// model, serial, remarks, ...).
	Fields map[string]string

	// Items maps checklist item name to its evidence state.
	Items map[string]*ItemState

	dirty bool
}

// NewDraft returns an empty, clean draft for the given account and page.
func NewDraft(accountID string, page Page) *Draft {
	return &Draft{
		AccountID: accountID,
		Page:      page,
		Fields:    make(map[string]string),
		Items:     make(map[string]*ItemState),
	}
}

// SetField records a scalar input and marks the draft dirty.
func (d *Draft) SetField(name, value string) {
	if d.Fields == nil {
		d.Fields = make(map[string]string)
	}
	if d.Fields[name] == value {
		return
	}
	d.Fields[name] = value
	d.dirty = true
}

// AddAttachment appends a photo to an item. Adding evidence clears a
// previously set not-applicable marker.
func (d *Draft) AddAttachment(item string, a Attachment) {
	st := d.item(item)
	st.NotApplicable = false
	st.Attachments = append(st.Attachments, a)
	d.dirty = true
}

// RemoveAttachment deletes the idx-th photo of an item. Out-of-range
// indices are ignored.
func (d *Draft) RemoveAttachment(item string, idx int) {
	st, ok := d.Items[item]
	if !ok || idx < 0 || idx >= len(st.Attachments) {
		return
	}
	st.Attachments = append(st.Attachments[:idx], st.Attachments[idx+1:]...)
	d.dirty = true
}

// MarkNotApplicable records the deliberate-skip sentinel for an item,
// discarding any attachments it held.
func (d *Draft) MarkNotApplicable(item string) {
	st := d.item(item)
	st.Attachments = nil
	st.NotApplicable = true
	d.dirty = true
}

// ClearNotApplicable removes the skip marker, returning the item to the
// untouched state.
func (d *Draft) ClearNotApplicable(item string) {
	st, ok := d.Items[item]
	if !ok || !st.NotApplicable {
		return
	}
	st.NotApplicable = false
	d.dirty = true
}

func (d *Draft) item(name string) *ItemState {
	if d.Items == nil {
		d.Items = make(map[string]*ItemState)
	}
	st, ok := d.Items[name]
	if !ok {
		st = &ItemState{}
		d.Items[name] = st
	}
	return st
}

// Dirty reports whether the draft holds meaningful unsaved work. Merely
// browsing or filtering never dirties a draft; only edits and attachment
// changes do.
func (d *Draft) Dirty() bool {
	return d.dirty
}

// MarkClean resets the dirty marker, e.g. after the draft has been applied
// from storage or submitted.
func (d *Draft) MarkClean() {
	d.dirty = false
}

// MarkDirty forces the dirty marker; used when a restored draft is edited
// through means other than the mutators above.
func (d *Draft) MarkDirty() {
	d.dirty = true
}

// Clone returns an independent copy of the draft. Field and item
// containers are copied so the clone is unaffected by later mutations of
// the original; attachment bytes are shared, they are never modified after
// capture.
func (d *Draft) Clone() *Draft {
	c := &Draft{
		AccountID: d.AccountID,
		Page:      d.Page,
		UpdatedAt: d.UpdatedAt,
		Fields:    make(map[string]string, len(d.Fields)),
		Items:     make(map[string]*ItemState, len(d.Items)),
		dirty:     d.dirty,
	}
	for name, value := range d.Fields {
		c.Fields[name] = value
	}
	for item, st := range d.Items {
		c.Items[item] = &ItemState{
			NotApplicable: st.NotApplicable,
			Attachments:   append([]Attachment(nil), st.Attachments...),
		}
	}
	return c
}

// AttachmentCount returns the total number of photos across all items.
func (d *Draft) AttachmentCount() int {
	n := 0
	for _, st := range d.Items {
		n += len(st.Attachments)
	}
	return n
}
