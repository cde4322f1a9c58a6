package cli

import (
	"fmt"
	"time"

	"github.com/bauplanlabs/bauplan-go/pkg/client"
	"github.com/spf13/cobra"
)

var jobColumns = []column[client.Job]{
	{"ID", func(j client.Job) any { return j.ID }},
	{"KIND", func(j client.Job) any { return j.Kind }},
	{"STATUS", func(j client.Job) any { return j.Status }},
	{"USER", func(j client.Job) any { return j.User }},
	{"CREATED", func(j client.Job) any { return formatTimePtr(j.CreatedAt) }},
	{"DURATION", func(j client.Job) any {
		if d := j.Duration(); d > 0 {
			return d.Round(time.Millisecond).String()
		}
		return "-"
	}},
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

type jobListOptions struct {
	allUsers      bool
	ids           []string
	users         []string
	kinds         []string
	statuses      []string
	createdAfter  string
	createdBefore string
}

func (o jobListOptions) build(limit *int) (client.JobsOptions, error) {
	opts := client.JobsOptions{
		AllUsers: o.allUsers,
		IDs:      o.ids,
		Users:    o.users,
		Limit:    limit,
	}
	for _, k := range o.kinds {
		kind, err := client.ParseJobKind(k)
		if err != nil {
			return opts, err
		}
		opts.Kinds = append(opts.Kinds, kind)
	}
	for _, s := range o.statuses {
		status, err := client.ParseJobState(s)
		if err != nil {
			return opts, err
		}
		opts.Statuses = append(opts.Statuses, status)
	}

	var err error
	if opts.CreatedAfter, err = parseTimeFlag("created-after", o.createdAfter); err != nil {
		return opts, err
	}
	if opts.CreatedBefore, err = parseTimeFlag("created-before", o.createdBefore); err != nil {
		return opts, err
	}
	return opts, nil
}

// parseTimeFlag accepts RFC 3339 timestamps or dates.
func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("--%s: cannot parse %q as a date or RFC 3339 timestamp", name, v)
}

func newJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}

	var o jobListOptions
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
	}
	flags := ls.Flags()
	flags.BoolVar(&o.allUsers, "all-users", false, "List jobs of every user")
	flags.StringSliceVar(&o.ids, "id", nil, "Only these job IDs")
	flags.StringSliceVar(&o.users, "user", nil, "Only jobs of these users")
	flags.StringSliceVar(&o.kinds, "kind", nil, "Only jobs of these kinds (run, query, table-plan-create, ...)")
	flags.StringSliceVar(&o.statuses, "status", nil, "Only jobs in these states (running, complete, fail, ...)")
	flags.StringVar(&o.createdAfter, "created-after", "", "Only jobs created after this time")
	flags.StringVar(&o.createdBefore, "created-before", "", "Only jobs created before this time")
	limit := limitFlag(flags)
	ls.RunE = func(cmd *cobra.Command, _ []string) error {
		opts, err := o.build(limit())
		if err != nil {
			return err
		}
		s := getSession(cmd.Context())
		return renderList(cmd.Context(), s.renderer, s.client.GetJobs(opts), jobColumns)
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := getSession(cmd.Context())
			job, err := s.client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderObject(s.renderer, *job, jobColumns)
		},
	}

	cmd.AddCommand(ls, get)
	return cmd
}
