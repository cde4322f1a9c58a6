package cli

import (
	"strings"
	"time"

	"github.com/bauplanlabs/bauplan-go/pkg/client"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// limitFlag registers --limit and returns a getter that yields nil unless the
// flag was set.
func limitFlag(flags *pflag.FlagSet) func() *int {
	limit := flags.Int("limit", 0, "Maximum number of records to list")
	return func() *int {
		if !flags.Changed("limit") {
			return nil
		}
		return limit
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

var tagColumns = []column[client.Tag]{
	{"NAME", func(t client.Tag) any { return t.Name }},
	{"HASH", func(t client.Tag) any { return shortHash(t.Hash) }},
}

var branchColumns = []column[client.Branch]{
	{"NAME", func(b client.Branch) any { return b.Name }},
	{"HASH", func(b client.Branch) any { return shortHash(b.Hash) }},
}

var namespaceColumns = []column[client.Namespace]{
	{"NAME", func(n client.Namespace) any { return n.Name }},
}

var tableColumns = []column[client.Table]{
	{"NAMESPACE", func(t client.Table) any { return t.Namespace }},
	{"NAME", func(t client.Table) any { return t.Name }},
	{"KIND", func(t client.Table) any { return t.Kind }},
	{"RECORDS", func(t client.Table) any { return optional(t.Records) }},
	{"SIZE", func(t client.Table) any { return optional(t.Size) }},
	{"UPDATED", func(t client.Table) any { return formatTime(t.LastUpdatedAt) }},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func newTagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Inspect tags",
	}

	var name string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List tags",
		Args:  cobra.NoArgs,
	}
	ls.Flags().StringVar(&name, "name", "", "Only tags whose name contains this")
	limit := limitFlag(ls.Flags())
	ls.RunE = func(cmd *cobra.Command, _ []string) error {
		s := getSession(cmd.Context())
		p := s.client.GetTags(client.TagsOptions{FilterByName: name, Limit: limit()})
		return renderList(cmd.Context(), s.renderer, p, tagColumns)
	}

	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Show a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := getSession(cmd.Context())
			tag, err := s.client.GetTag(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderObject(s.renderer, *tag, tagColumns)
		},
	}

	cmd.AddCommand(ls, get)
	return cmd
}

func newBranchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Inspect branches",
	}

	var name, user string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List branches",
		Args:  cobra.NoArgs,
	}
	ls.Flags().StringVar(&name, "name", "", "Only branches whose name contains this")
	ls.Flags().StringVar(&user, "user", "", "Only branches of this user")
	limit := limitFlag(ls.Flags())
	ls.RunE = func(cmd *cobra.Command, _ []string) error {
		s := getSession(cmd.Context())
		p := s.client.GetBranches(client.BranchesOptions{
			FilterByName: name,
			FilterByUser: user,
			Limit:        limit(),
		})
		return renderList(cmd.Context(), s.renderer, p, branchColumns)
	}

	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Show a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := getSession(cmd.Context())
			branch, err := s.client.GetBranch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderObject(s.renderer, *branch, branchColumns)
		},
	}

	cmd.AddCommand(ls, get)
	return cmd
}

func newNamespaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "namespace",
		Aliases: []string{"ns"},
		Short:   "Inspect namespaces",
	}

	var ref, name string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List namespaces",
		Args:  cobra.NoArgs,
	}
	ls.Flags().StringVar(&ref, "ref", "", "Ref to read from (default: the profile's active branch, or main)")
	ls.Flags().StringVar(&name, "name", "", "Only namespaces whose name contains this")
	limit := limitFlag(ls.Flags())
	ls.RunE = func(cmd *cobra.Command, _ []string) error {
		s := getSession(cmd.Context())
		p := s.client.GetNamespaces(s.refOrDefault(ref), client.NamespacesOptions{
			FilterByName: name,
			Limit:        limit(),
		})
		return renderList(cmd.Context(), s.renderer, p, namespaceColumns)
	}

	var getRef string
	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Show a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := getSession(cmd.Context())
			ns, err := s.client.GetNamespace(cmd.Context(), s.refOrDefault(getRef), args[0])
			if err != nil {
				return err
			}
			return renderObject(s.renderer, *ns, namespaceColumns)
		},
	}
	get.Flags().StringVar(&getRef, "ref", "", "Ref to read from")

	cmd.AddCommand(ls, get)
	return cmd
}

func newTableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect tables",
	}

	var ref, namespace, name string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List tables",
		Args:  cobra.NoArgs,
	}
	ls.Flags().StringVar(&ref, "ref", "", "Ref to read from (default: the profile's active branch, or main)")
	ls.Flags().StringVarP(&namespace, "namespace", "n", "", "Only tables in this namespace")
	ls.Flags().StringVar(&name, "name", "", "Only tables whose name contains this")
	limit := limitFlag(ls.Flags())
	ls.RunE = func(cmd *cobra.Command, _ []string) error {
		s := getSession(cmd.Context())
		p := s.client.GetTables(s.refOrDefault(ref), client.TablesOptions{
			FilterByName:      name,
			FilterByNamespace: namespace,
			Limit:             limit(),
		})
		return renderList(cmd.Context(), s.renderer, p, tableColumns)
	}

	var getRef, getNamespace string
	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Show a table and its schema",
		Long: `Show a table and its schema. NAME may be qualified with its namespace
("raw.titanic"), otherwise --namespace or the server default applies.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := getSession(cmd.Context())
			tableName, ns := args[0], getNamespace
			if i := strings.LastIndex(tableName, "."); i > 0 && ns == "" {
				ns, tableName = tableName[:i], tableName[i+1:]
			}

			t, err := s.client.GetTable(cmd.Context(), s.refOrDefault(getRef), tableName, ns)
			if err != nil {
				return err
			}
			if err := renderObject(s.renderer, *t, tableColumns); err != nil {
				return err
			}
			if s.renderer.format != FormatTable || len(t.Fields) == 0 {
				return nil
			}

			fields := s.renderer.newTable()
			fields.AppendHeader(table.Row{"FIELD", "TYPE", "REQUIRED"})
			for _, f := range t.Fields {
				fields.AppendRow(table.Row{f.Name, f.Type, f.Required})
			}
			fields.Render()
			return nil
		},
	}
	get.Flags().StringVar(&getRef, "ref", "", "Ref to read from")
	get.Flags().StringVarP(&getNamespace, "namespace", "n", "", "Namespace of the table")

	cmd.AddCommand(ls, get)
	return cmd
}
