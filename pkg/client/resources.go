package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/bauplanlabs/bauplan-go/pkg/refs"
	"github.com/google/uuid"
)

// Tag is a named, fixed catalog commit.
type Tag struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Ref returns the tag as a pinned catalog ref.
func (t Tag) Ref() refs.CatalogRef { return refs.NewTag(t.Name, t.Hash) }

// Branch is a writable line of catalog commits.
type Branch struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Ref returns the branch head as a pinned catalog ref.
func (b Branch) Ref() refs.CatalogRef { return refs.NewBranch(b.Name, b.Hash) }

// Actor is a commit author, committer or sign-off.
type Actor struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Commit is one entry of a ref's history.
type Commit struct {
	Ref           refs.CatalogRef   `json:"ref"`
	Message       string            `json:"message,omitempty"`
	Authors       []Actor           `json:"authors"`
	AuthoredDate  time.Time         `json:"authored_date"`
	Committer     Actor             `json:"committer"`
	CommittedDate time.Time         `json:"committed_date"`
	ParentRef     refs.CatalogRef   `json:"parent_ref"`
	ParentHashes  []string          `json:"parent_hashes"`
	Properties    map[string]string `json:"properties,omitempty"`
	SignedOffBy   []Actor           `json:"signed_off_by,omitempty"`
}

// Hash returns the commit hash.
func (c Commit) Hash() string { return c.Ref.Hash }

// Author returns the first author, if any.
func (c Commit) Author() (Actor, bool) {
	if len(c.Authors) == 0 {
		return Actor{}, false
	}
	return c.Authors[0], true
}

// Subject returns the first line of the message.
func (c Commit) Subject() string {
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(subject)
}

// Body returns the message after the subject line.
func (c Commit) Body() string {
	_, body, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(body)
}

// ParentMergeRef returns the merged-in parent of a merge commit on a branch.
func (c Commit) ParentMergeRef() (Branch, bool) {
	if len(c.ParentHashes) < 2 || c.ParentRef.Kind != refs.Branch {
		return Branch{}, false
	}
	return Branch{Name: c.ParentRef.Name, Hash: c.ParentHashes[1]}, true
}

// Namespace groups tables within a ref.
type Namespace struct {
	Name string `json:"name"`
}

// TableKind distinguishes managed tables from external ones.
type TableKind string

const (
	TableKindTable    TableKind = "TABLE"
	TableKindExternal TableKind = "EXTERNAL_TABLE"
)

// TableField is one column of a table schema.
type TableField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Type     string `json:"type"`
}

// Table is a table in the lake.
type Table struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Namespace string       `json:"namespace"`
	Kind      TableKind    `json:"kind"`
	Records   *uint64      `json:"records,omitempty"`
	Size      *uint64      `json:"size,omitempty"`
	Fields    []TableField `json:"fields"`
	Snapshots *uint32      `json:"snapshots,omitempty"`

	// LastUpdatedAt is sent as epoch milliseconds.
	LastUpdatedAt time.Time `json:"-"`
}

// FQN returns namespace.name.
func (t Table) FQN() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

type tableWire struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	Namespace     string       `json:"namespace"`
	Kind          TableKind    `json:"kind"`
	Records       *uint64      `json:"records,omitempty"`
	Size          *uint64      `json:"size,omitempty"`
	LastUpdatedAt *int64       `json:"last_updated_at,omitempty"`
	LastUpdatedMs *int64       `json:"last_updated_ms,omitempty"`
	Fields        []TableField `json:"fields"`
	Snapshots     *uint32      `json:"snapshots,omitempty"`
}

// UnmarshalJSON decodes the epoch-millisecond timestamp, which the API sends
// as either last_updated_at or last_updated_ms.
func (t *Table) UnmarshalJSON(data []byte) error {
	var w tableWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Table{
		ID:        w.ID,
		Name:      w.Name,
		Namespace: w.Namespace,
		Kind:      w.Kind,
		Records:   w.Records,
		Size:      w.Size,
		Fields:    w.Fields,
		Snapshots: w.Snapshots,
	}
	if t.Kind == "" {
		t.Kind = TableKindTable
	}
	switch {
	case w.LastUpdatedAt != nil:
		t.LastUpdatedAt = time.UnixMilli(*w.LastUpdatedAt).UTC()
	case w.LastUpdatedMs != nil:
		t.LastUpdatedAt = time.UnixMilli(*w.LastUpdatedMs).UTC()
	}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (t Table) MarshalJSON() ([]byte, error) {
	w := tableWire{
		ID:        t.ID,
		Name:      t.Name,
		Namespace: t.Namespace,
		Kind:      t.Kind,
		Records:   t.Records,
		Size:      t.Size,
		Fields:    t.Fields,
		Snapshots: t.Snapshots,
	}
	if !t.LastUpdatedAt.IsZero() {
		ms := t.LastUpdatedAt.UnixMilli()
		w.LastUpdatedAt = &ms
	}
	return json.Marshal(w)
}

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobStateUnspecified JobState = "Unspecified"
	JobStateNotStarted  JobState = "Not Started"
	JobStateRunning     JobState = "Running"
	JobStateComplete    JobState = "Complete"
	JobStateAbort       JobState = "Abort"
	JobStateFail        JobState = "Fail"
	JobStateOther       JobState = "Other"
)

var jobStates = []JobState{
	JobStateUnspecified, JobStateNotStarted, JobStateRunning, JobStateComplete,
	JobStateAbort, JobStateFail, JobStateOther,
}

// ParseJobState accepts the display form ("Not Started") or the constant
// form ("NOT_STARTED"), case-insensitively.
func ParseJobState(s string) (JobState, error) {
	norm := normalizeEnum(s)
	for _, st := range jobStates {
		if normalizeEnum(string(st)) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid job state: %q", s)
}

// Terminal reports whether the job will not change state again.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateComplete, JobStateAbort, JobStateFail:
		return true
	default:
		return false
	}
}

// JobKind is the type of work a job performs.
type JobKind string

const (
	JobKindUnspecified          JobKind = "Unknown"
	JobKindRun                  JobKind = "Run"
	JobKindQuery                JobKind = "Query"
	JobKindImportPlanCreate     JobKind = "ImportPlanCreate"
	JobKindImportPlanApply      JobKind = "ImportPlanApply"
	JobKindTablePlanCreate      JobKind = "TablePlanCreate"
	JobKindTablePlanCreateApply JobKind = "TablePlanCreateApply"
	JobKindTableImport          JobKind = "TableImport"
)

var jobKinds = []JobKind{
	JobKindUnspecified, JobKindRun, JobKindQuery, JobKindImportPlanCreate,
	JobKindImportPlanApply, JobKindTablePlanCreate, JobKindTablePlanCreateApply,
	JobKindTableImport,
}

// ParseJobKind accepts any JobKind value case-insensitively, plus the
// "CodeSnapshotRun" alias for Run.
func ParseJobKind(s string) (JobKind, error) {
	norm := normalizeEnum(s)
	if norm == "codesnapshotrun" {
		return JobKindRun, nil
	}
	for _, k := range jobKinds {
		if normalizeEnum(string(k)) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid job kind: %q", s)
}

func normalizeEnum(s string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(s))
}

// Job is a unit of work such as a query, run, or import.
type Job struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Kind       string     `json:"kind"`
	StatusType JobState   `json:"status_type"`
	KindType   JobKind    `json:"kind_type"`
	User       string     `json:"user"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Runner     string     `json:"runner"`
}

// Duration returns how long the job ran, or 0 if it has not finished.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}
