package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPlanPollInterval is how often plan jobs are polled for completion.
const DefaultPlanPollInterval = 1 * time.Second

// TablePlanRequest asks the service to infer a table schema from files.
type TablePlanRequest struct {
	Table string `json:"table_name"`

	// SearchURI selects the source files, e.g. "s3://bucket/path/*.parquet".
	SearchURI string `json:"search_string"`

	Branch        string `json:"branch_name,omitempty"`
	Namespace     string `json:"namespace,omitempty"`
	PartitionedBy string `json:"table_partitioned_by,omitempty"`
	Replace       bool   `json:"table_replace"`

	// Args are passed through to the backend.
	Args map[string]string `json:"args,omitempty"`

	// Priority ranges from 1 to 10, 10 being highest. 0 leaves the default.
	Priority int `json:"priority,omitempty"`
}

// PlanOptions tunes how plan jobs are awaited.
type PlanOptions struct {
	// PollInterval defaults to DefaultPlanPollInterval.
	PollInterval time.Duration

	// Timeout bounds the wait for the job. Zero waits until ctx is done.
	Timeout time.Duration
}

// PlanContext echoes the resolved plan request.
type PlanContext struct {
	BranchName         string `json:"branch_name"`
	TableName          string `json:"table_name"`
	TableReplace       bool   `json:"table_replace"`
	TablePartitionedBy string `json:"table_partitioned_by,omitempty"`
	Namespace          string `json:"namespace"`
	SearchString       string `json:"search_string"`
}

// PlanState is the outcome of a table-creation plan job.
type PlanState struct {
	JobID     string      `json:"job_id"`
	Ctx       PlanContext `json:"ctx"`
	JobStatus string      `json:"job_status"`
	Error     string      `json:"error,omitempty"`

	// Plan is the YAML plan document.
	Plan string `json:"plan,omitempty"`

	CanAutoApply      bool     `json:"can_auto_apply"`
	FilesToBeImported []string `json:"files_to_be_imported"`
}

// PlanApplyState is the outcome of a plan application job.
type PlanApplyState struct {
	JobID     string `json:"job_id"`
	JobStatus string `json:"job_status"`
	Error     string `json:"error,omitempty"`
}

type jobStatus interface {
	status() string
}

func (s *PlanState) status() string      { return s.JobStatus }
func (s *PlanApplyState) status() string { return s.JobStatus }

// CreateTablePlan starts a plan job and waits for it to finish. When the job
// fails, or the plan has conflicts that prevent automatic application, the
// state is returned together with a *PlanError of class
// ErrTableCreatePlanStatus.
func (c *Client) CreateTablePlan(ctx context.Context, req TablePlanRequest, opts PlanOptions) (*PlanState, error) {
	op := Operation{
		Name:      OpCreateTablePlan,
		Branch:    req.Branch,
		Ref:       req.Branch,
		Namespace: req.Namespace,
		Table:     req.Table,
	}

	env, err := c.Do(ctx, Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   jobsPrefix + "/table-plans",
		Body:   req,
	})
	if err != nil {
		return nil, err
	}

	var started PlanState
	if err := decodeData(env, &started); err != nil {
		return nil, err
	}
	if started.JobID == "" {
		return nil, &PlanError{Class: ErrTableCreatePlan, Message: "response missing job ID"}
	}
	op.JobID = started.JobID

	c.logger.Info().
		Str("job_id", started.JobID).
		Str("table", req.Table).
		Msg("Table plan job started")

	state := &PlanState{}
	path := jobsPrefix + "/table-plans/" + url.PathEscape(started.JobID)
	if err := c.awaitJob(ctx, op, path, opts, state); err != nil {
		return nil, err
	}
	if state.JobID == "" {
		state.JobID = started.JobID
	}
	if state.Ctx == (PlanContext{}) {
		state.Ctx = started.Ctx
	}

	if state.Error == "" && !jobSucceeded(state.JobStatus) {
		state.Error = fmt.Sprintf("plan job finished with status %s", state.JobStatus)
	}
	if state.Error == "" && !state.CanAutoApply && state.Plan != "" {
		state.Error = "table plan created but has conflicts"
	}
	if state.Error != "" {
		return state, &PlanError{
			Class:   ErrTableCreatePlanStatus,
			Type:    PlanStatus{}.Type(),
			Message: state.Error,
			Kind:    PlanStatus{JobID: state.JobID, Status: state.JobStatus, ErrorMessage: state.Error},
			JobID:   state.JobID,
		}
	}

	return state, nil
}

// ApplyTablePlan applies a plan document, typically one returned by
// CreateTablePlan and edited to resolve conflicts. planYAML must parse as
// YAML; otherwise ErrInvalidPlan is returned without contacting the API.
func (c *Client) ApplyTablePlan(ctx context.Context, planYAML string, opts PlanOptions) (*PlanApplyState, error) {
	if err := ValidatePlan(planYAML); err != nil {
		return nil, err
	}

	op := Operation{Name: OpApplyTablePlan}
	env, err := c.Do(ctx, Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   jobsPrefix + "/table-plan-applies",
		Body:   map[string]string{"plan_yaml": planYAML},
	})
	if err != nil {
		return nil, err
	}

	var started PlanApplyState
	if err := decodeData(env, &started); err != nil {
		return nil, err
	}
	if started.JobID == "" {
		return nil, &PlanError{Class: ErrTableCreatePlanApplyStatus, Message: "response missing job ID"}
	}
	op.JobID = started.JobID

	state := &PlanApplyState{}
	path := jobsPrefix + "/table-plan-applies/" + url.PathEscape(started.JobID)
	if err := c.awaitJob(ctx, op, path, opts, state); err != nil {
		return nil, err
	}
	if state.JobID == "" {
		state.JobID = started.JobID
	}

	if state.Error == "" && !jobSucceeded(state.JobStatus) {
		state.Error = fmt.Sprintf("plan apply job finished with status %s", state.JobStatus)
	}
	if state.Error != "" {
		return state, &PlanError{
			Class:   ErrTableCreatePlanApplyStatus,
			Type:    PlanApplyStatus{}.Type(),
			Message: state.Error,
			Kind:    PlanApplyStatus{JobID: state.JobID, Status: state.JobStatus, ErrorMessage: state.Error},
			JobID:   state.JobID,
		}
	}

	return state, nil
}

// CreateTable plans the table, applies the plan when it has no conflicts, and
// returns the created table. A plan with conflicts fails with the plan's
// *PlanError; resolve it with CreateTablePlan and ApplyTablePlan instead.
func (c *Client) CreateTable(ctx context.Context, req TablePlanRequest, opts PlanOptions) (*Table, error) {
	plan, err := c.CreateTablePlan(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if plan.Plan == "" {
		return nil, &PlanError{
			Class:   ErrTableCreatePlan,
			Message: "plan completed without producing a plan",
			JobID:   plan.JobID,
		}
	}

	if _, err := c.ApplyTablePlan(ctx, plan.Plan, opts); err != nil {
		return nil, err
	}

	branch := plan.Ctx.BranchName
	if branch == "" {
		branch = req.Branch
	}
	table := plan.Ctx.TableName
	if table == "" {
		table = req.Table
	}
	return c.GetTable(ctx, branch, table, plan.Ctx.Namespace)
}

// ValidatePlan checks that planYAML is a non-empty YAML document.
func ValidatePlan(planYAML string) error {
	if strings.TrimSpace(planYAML) == "" {
		return fmt.Errorf("%w: empty plan", ErrInvalidPlan)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(planYAML), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%w: plan must be a YAML mapping", ErrInvalidPlan)
	}
	return nil
}

// awaitJob polls path until the job reports a terminal or unrecognized
// status. Callers treat anything but Complete as a failed job.
func (c *Client) awaitJob(ctx context.Context, op Operation, path string, opts PlanOptions, into jobStatus) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPlanPollInterval
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		env, err := c.Do(ctx, Request{Op: op, Method: http.MethodGet, Path: path})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: waiting for job %s: %v", ErrContextCancelled, op.JobID, ctx.Err())
			}
			return err
		}
		if err := decodeData(env, into); err != nil {
			return err
		}

		st, err := ParseJobState(into.status())
		if err != nil {
			// An unknown status will not turn into a known one by waiting.
			c.logger.Warn().
				Str("job_id", op.JobID).
				Str("status", into.status()).
				Msg("Unrecognized job status, stopping the wait")
			return nil
		}
		if st.Terminal() {
			return nil
		}

		c.logger.Debug().
			Str("job_id", op.JobID).
			Str("status", into.status()).
			Msg("Waiting for plan job")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for job %s: %v", ErrContextCancelled, op.JobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func jobSucceeded(status string) bool {
	st, err := ParseJobState(status)
	return err == nil && st == JobStateComplete
}
