package common

// Remote table names consumed through the row-store contract.
const (
	TableSessionLocks = "session_locks"
	TableRecords      = "inspection_records"
	TableChecklists   = "process_checklists"
)

// PathNotApplicable is the distinguished sentinel stored in a record's
// item->paths mapping for an item the operator deliberately skipped.
// It is distinct from an empty list, which means "not yet photographed".
const PathNotApplicable = "N/A"
