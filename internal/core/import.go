package core

// import.go implements the import job state machine:
//
//	Upload -> Preview -> ColumnMapping -> Confirm -> Completed | Failed
//
// Cancel returns any idle job to Upload and discards parsed state. Retry is
// only possible from Failed and re-runs the whole batch. A job lives only
// for one upload-to-confirm cycle and is never persisted.

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ImportState is a step of the import state machine.
type ImportState string

const (
	StateUpload    ImportState = "upload"
	StatePreview   ImportState = "preview"
	StateMapping   ImportState = "column_mapping"
	StateConfirm   ImportState = "confirm"
	StateCompleted ImportState = "completed"
	StateFailed    ImportState = "failed"
)

// DefaultPreviewRows is how many rows Preview shows.
const DefaultPreviewRows = 10

// FailedRow describes one row that was not written.
type FailedRow struct {
	Line   int    `json:"line"` // 1-based line in the file; the header is line 1
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason"`
}

// ImportResult summarizes a confirmed import.
type ImportResult struct {
	TotalRows   int           `json:"total_rows"`
	SuccessRows int           `json:"success_rows"`
	FailedRows  int           `json:"failed_rows"`
	Inserted    int           `json:"inserted"`
	Updated     int           `json:"updated"`
	Unchanged   int           `json:"unchanged"`
	Failures    []FailedRow   `json:"failures,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
}

// ErrInvalidTransition is wrapped by every rejected state change.
var ErrInvalidTransition = fmt.Errorf("invalid import state transition: %w", ErrValidation)

func transitionError(from ImportState, action string) error {
	return fmt.Errorf("%s not allowed in state %s: %w", action, from, ErrInvalidTransition)
}

// ImportJob is one upload-to-confirm cycle against a single target table.
type ImportJob struct {
	ID     string
	UserID string
	Target TableDefinition

	mu        sync.Mutex
	state     ImportState
	fileName  string
	headers   []string
	rows      [][]string
	mapping   ColumnMapping
	running   bool
	attempts  int
	result    *ImportResult
	lastErr   error
	createdAt time.Time
	touchedAt time.Time
}

// NewImportJob creates a job in the Upload state. Targets that are not
// writable source collections are a ConfigurationError.
func NewImportJob(id, userID string, target TableDefinition) (*ImportJob, error) {
	if !target.Writable() {
		return nil, NewConfigurationError("import",
			fmt.Sprintf("table %q is not an import target", target.Info.Key))
	}
	now := time.Now()
	return &ImportJob{
		ID:        id,
		UserID:    userID,
		Target:    target,
		state:     StateUpload,
		createdAt: now,
		touchedAt: now,
	}, nil
}

func (j *ImportJob) touch() {
	j.touchedAt = time.Now()
}

// State returns the current state.
func (j *ImportJob) State() ImportState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// IdleSince returns when the job was last changed.
func (j *ImportJob) IdleSince() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.touchedAt
}

// Running reports whether a confirm is in progress.
func (j *ImportJob) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Load stores a parsed upload and moves to Preview.
func (j *ImportJob) Load(fileName string, t *Tabular) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateUpload {
		return transitionError(j.state, "upload")
	}
	if t == nil || len(t.Headers) == 0 {
		return ErrEmptyFile
	}
	j.fileName = fileName
	j.headers = append([]string(nil), t.Headers...)
	j.rows = t.Rows
	j.state = StatePreview
	j.touch()
	return nil
}

// Cancel discards parsed state and returns to Upload. A running confirm
// cannot be cancelled.
func (j *ImportJob) Cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return transitionError(j.state, "cancel")
	}
	j.reset()
	j.state = StateUpload
	j.touch()
	return nil
}

func (j *ImportJob) reset() {
	j.fileName = ""
	j.headers = nil
	j.rows = nil
	j.mapping = nil
	j.attempts = 0
	j.lastErr = nil
}

// BeginMapping moves from Preview to ColumnMapping with a suggested mapping.
func (j *ImportJob) BeginMapping(templates []MappingTemplate) (ColumnMapping, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePreview && j.state != StateMapping {
		return nil, transitionError(j.state, "column mapping")
	}
	if j.state == StatePreview || j.mapping == nil {
		j.mapping = SuggestMapping(j.Target, j.headers, templates)
	}
	j.state = StateMapping
	j.touch()
	return copyMapping(j.mapping), nil
}

// SetMapping replaces the mapping. Headers missing from m are ignored.
func (j *ImportJob) SetMapping(m ColumnMapping) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateMapping {
		return transitionError(j.state, "set mapping")
	}
	if err := ValidateMapping(j.Target, j.headers, m); err != nil {
		return err
	}

	next := make(ColumnMapping, len(j.headers))
	for _, h := range j.headers {
		target, ok := m[h]
		if !ok || target == "" {
			target = Ignore
		}
		if spec, ok := j.Target.Field(target); ok {
			target = spec.Name
		}
		next[h] = target
	}
	j.mapping = next
	j.touch()
	return nil
}

// AdvanceToConfirm moves from ColumnMapping to Confirm. At least one header
// must be mapped to a field.
func (j *ImportJob) AdvanceToConfirm() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateMapping {
		return transitionError(j.state, "confirm")
	}
	if len(j.mapping.Targets()) == 0 {
		return NewValidationError("mapping", nil, "map at least one column before confirming")
	}
	j.state = StateConfirm
	j.touch()
	return nil
}

// importBatch is the immutable input of one confirm run.
type importBatch struct {
	target   TableDefinition
	fileName string
	headers  []string
	rows     [][]string
	mapping  ColumnMapping
	attempt  int
}

// beginRun claims the job for a confirm run.
func (j *ImportJob) beginRun() (importBatch, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateConfirm || j.running {
		return importBatch{}, transitionError(j.state, "run import")
	}
	j.running = true
	j.attempts++
	j.touch()
	return importBatch{
		target:   j.Target,
		fileName: j.fileName,
		headers:  j.headers,
		rows:     j.rows,
		mapping:  copyMapping(j.mapping),
		attempt:  j.attempts,
	}, nil
}

// snapshot returns the job's current input without claiming it. Only jobs
// with a mapping can be analyzed.
func (j *ImportJob) snapshot() (importBatch, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateMapping && j.state != StateConfirm {
		return importBatch{}, transitionError(j.state, "analyze")
	}
	j.touch()
	return importBatch{
		target:   j.Target,
		fileName: j.fileName,
		headers:  j.headers,
		rows:     j.rows,
		mapping:  copyMapping(j.mapping),
		attempt:  j.attempts,
	}, nil
}

// abortRun releases the job without a state change, for runs that never
// reached the store.
func (j *ImportJob) abortRun() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.attempts--
	j.touch()
}

// finishRun records the outcome. Success clears all transient state and
// keeps only the result; failure keeps everything for Retry.
func (j *ImportJob) finishRun(result *ImportResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.result = result
	j.lastErr = err
	if err != nil {
		j.state = StateFailed
	} else {
		j.state = StateCompleted
		j.fileName = ""
		j.headers = nil
		j.rows = nil
		j.mapping = nil
	}
	j.touch()
}

// Retry moves a Failed job back to Confirm so the whole batch runs again.
func (j *ImportJob) Retry() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateFailed {
		return transitionError(j.state, "retry")
	}
	j.state = StateConfirm
	j.lastErr = nil
	j.touch()
	return nil
}

// Result returns the last run's result, nil before any run.
func (j *ImportJob) Result() *ImportResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

func sortFailures(f []FailedRow) {
	sort.SliceStable(f, func(i, j int) bool { return f[i].Line < f[j].Line })
}

// ImportJobView is the JSON shape of a job.
type ImportJobView struct {
	ID        string        `json:"id"`
	State     ImportState   `json:"state"`
	Table     string        `json:"table"`
	FileName  string        `json:"file_name,omitempty"`
	Headers   []string      `json:"headers,omitempty"`
	Preview   [][]string    `json:"preview,omitempty"`
	RowCount  int           `json:"row_count"`
	Mapping   ColumnMapping `json:"mapping,omitempty"`
	Running   bool          `json:"running"`
	Attempts  int           `json:"attempts"`
	Result    *ImportResult `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// View returns a snapshot with up to previewRows rows.
func (j *ImportJob) View(previewRows int) ImportJobView {
	j.mu.Lock()
	defer j.mu.Unlock()

	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	n := min(previewRows, len(j.rows))
	preview := make([][]string, n)
	for i := 0; i < n; i++ {
		preview[i] = append([]string(nil), j.rows[i]...)
	}

	v := ImportJobView{
		ID:        j.ID,
		State:     j.state,
		Table:     j.Target.Info.Key,
		FileName:  j.fileName,
		Headers:   append([]string(nil), j.headers...),
		Preview:   preview,
		RowCount:  len(j.rows),
		Mapping:   copyMapping(j.mapping),
		Running:   j.running,
		Attempts:  j.attempts,
		Result:    j.result,
		CreatedAt: j.createdAt,
	}
	if j.lastErr != nil {
		v.Error = j.lastErr.Error()
	}
	return v
}

func copyMapping(m ColumnMapping) ColumnMapping {
	if m == nil {
		return nil
	}
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ContactUpsert is one validated row ready for upsert-by-email. Fields
// hold only mapped, non-empty cells keyed by the target's column names;
// columns absent from Fields keep their stored values.
type ContactUpsert struct {
	Line   int
	Email  string
	Fields map[string]any
}

// BuildRecords converts mapped rows into upserts. Rows with a missing or
// invalid email, or a cell that fails type conversion, are returned as
// failures and never reach the store.
func BuildRecords(def TableDefinition, headers []string, rows [][]string, mapping ColumnMapping) ([]ContactUpsert, []FailedRow) {
	type column struct {
		idx  int
		spec FieldSpec
	}
	var cols []column
	emailIdx := -1
	for i, h := range headers {
		target, ok := mapping[h]
		if !ok || target == Ignore || target == "" {
			continue
		}
		spec, ok := def.Field(target)
		if !ok {
			continue
		}
		if spec.Name == FieldEmail {
			emailIdx = i
			continue
		}
		cols = append(cols, column{idx: i, spec: spec})
	}

	records := make([]ContactUpsert, 0, len(rows))
	var failures []FailedRow

rows:
	for n, row := range rows {
		line := n + 2

		raw := ""
		if emailIdx >= 0 && emailIdx < len(row) {
			raw = row[emailIdx]
		}
		email := NormalizeEmail(CleanCell(raw))
		if email == "" {
			failures = append(failures, FailedRow{Line: line, Reason: "missing email"})
			continue
		}
		if !ValidEmail(email) {
			failures = append(failures, FailedRow{Line: line, Email: email, Reason: "invalid email"})
			continue
		}

		fields := make(map[string]any, len(cols)+1)
		fields[FieldEmail] = email
		for _, c := range cols {
			if c.idx >= len(row) {
				continue
			}
			v, err := ConvertCell(row[c.idx], c.spec)
			if err != nil {
				failures = append(failures, FailedRow{Line: line, Email: email, Reason: err.Error()})
				continue rows
			}
			if v == nil {
				continue
			}
			fields[c.spec.Name] = v
		}

		records = append(records, ContactUpsert{Line: line, Email: email, Fields: fields})
	}

	return records, failures
}
