package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bauplanlabs/bauplan-go/pkg/pagination"
)

const jobsPrefix = "/jobs/v0"

// JobsOptions filters GetJobs. Zero values mean no filter.
type JobsOptions struct {
	// AllUsers lists jobs from every user, not only the caller's.
	AllUsers bool

	IDs      []string
	Users    []string
	Kinds    []JobKind
	Statuses []JobState

	CreatedAfter  time.Time
	CreatedBefore time.Time

	Limit *int
}

func (o JobsOptions) query() url.Values {
	q := url.Values{}
	if o.AllUsers {
		q.Set("all_users", strconv.FormatBool(true))
	}
	for _, id := range o.IDs {
		q.Add("job_ids", id)
	}
	for _, u := range o.Users {
		q.Add("users", u)
	}
	for _, k := range o.Kinds {
		q.Add("kinds", string(k))
	}
	for _, s := range o.Statuses {
		q.Add("statuses", string(s))
	}
	if !o.CreatedAfter.IsZero() {
		q.Set("created_after", o.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if !o.CreatedBefore.IsZero() {
		q.Set("created_before", o.CreatedBefore.UTC().Format(time.RFC3339))
	}
	return q
}

// GetJobs lists jobs, newest first. Nothing is fetched until the paginator is
// read.
func (c *Client) GetJobs(opts JobsOptions) *pagination.Paginator[Job] {
	return paginate[Job](c, Operation{Name: OpGetJobs}, jobsPrefix+"/jobs", opts.query(), opts.Limit)
}

// GetJob fetches one job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpGetJob, JobID: id},
		Method: http.MethodGet,
		Path:   jobsPrefix + "/jobs/" + url.PathEscape(id),
	})
	if err != nil {
		return nil, err
	}
	var job Job
	if err := decodeData(env, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob asks the server to stop a job. Jobs that already finished are
// left as they are.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	_, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpCancelJob, JobID: id},
		Method: http.MethodPost,
		Path:   jobsPrefix + "/jobs/" + url.PathEscape(id) + "/cancel",
	})
	return err
}
