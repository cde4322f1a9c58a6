// Package cli provides the bauplan command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bauplanlabs/bauplan-go/pkg/client"
	"github.com/bauplanlabs/bauplan-go/pkg/config"
	"github.com/bauplanlabs/bauplan-go/pkg/logging"
	"github.com/bauplanlabs/bauplan-go/pkg/metrics"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// annotationNoClient marks commands that run without a profile or client.
const annotationNoClient = "bauplan/no-client"

// defaultRef is used when neither --ref nor the profile's active branch is set.
const defaultRef = "main"

type globalOptions struct {
	profile   string
	output    string
	logLevel  string
	logPretty bool
	redisAddr string
	stats     bool

	// session is set by setup and released by teardown.
	session *session
}

// session is what a command needs to talk to the API.
type session struct {
	profile  *config.Profile
	client   *client.Client
	redis    *redis.Client
	renderer *Renderer
	logger   zerolog.Logger
}

type sessionKey struct{}

func getSession(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd, _ := newRootCmd()
	return rootCmd
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "bauplan",
		Short: "Bauplan - data catalog client",
		Long: `bauplan lists and inspects the branches, tags, namespaces, tables and jobs
of a Bauplan data catalog.

Credentials come from the profile in ~/.config/bauplan.yaml, or from the
BAUPLAN_API_KEY and BAUPLAN_API_ENDPOINT environment variables.`,
		Version:           config.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return opts.setup(cmd) },
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.profile, "profile", "p", "", "Profile to use (default: $BAUPLAN_PROFILE or \"default\")")
	flags.StringVarP(&opts.output, "output", "o", string(FormatTable), "Output format (table|json|yaml)")
	flags.StringVar(&opts.logLevel, "log-level", string(logging.LevelWarn), "Log level (debug|info|warn|error)")
	flags.BoolVar(&opts.logPretty, "log-pretty", false, "Human-readable logs instead of JSON")
	flags.StringVar(&opts.redisAddr, "redis", os.Getenv("BAUPLAN_REDIS_ADDR"), "Redis address for the shared response cache and back-off (e.g. localhost:6379)")
	flags.BoolVar(&opts.stats, "stats", false, "Print request metrics to stderr when done")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newTagCommand())
	rootCmd.AddCommand(newBranchCommand())
	rootCmd.AddCommand(newNamespaceCommand())
	rootCmd.AddCommand(newTableCommand())
	rootCmd.AddCommand(newJobCommand())
	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd, opts
}

// Execute runs the root command.
func Execute() error {
	rootCmd, opts := newRootCmd()
	if err := execute(rootCmd, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", describe(err))
		return err
	}
	return nil
}

// execute runs rootCmd and releases its session afterwards, also when the
// command failed. A command error takes precedence over a teardown error.
func execute(rootCmd *cobra.Command, opts *globalOptions) error {
	err := rootCmd.Execute()
	if terr := opts.teardown(rootCmd.ErrOrStderr()); err == nil {
		err = terr
	}
	return err
}

// describe adds the HTTP status to API errors.
func describe(err error) string {
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) && httpErr.Type != "" {
		return fmt.Sprintf("%v (%d %s)", err, httpErr.Code, httpErr.Type)
	}
	return err.Error()
}

func (o *globalOptions) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logger := logging.Setup(logging.Config{
		Level:  level,
		Pretty: o.logPretty,
		Output: cmd.ErrOrStderr(),
		Fields: map[string]string{"cli_version": config.Version},
	})

	format, err := ParseFormat(o.output)
	if err != nil {
		return err
	}

	s := &session{
		renderer: NewRenderer(cmd.OutOrStdout(), format),
		logger:   logger,
	}
	o.session = s
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, sessionKey{}, s))

	if !needsClient(cmd) {
		return nil
	}

	s.profile, err = config.Load(o.profile)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	logger.Info().
		Str("profile", s.profile.Name).
		Str("config", s.profile.ConfigPath).
		Msg("Using profile")

	cfg := s.profile.WithUserAgentProduct("bauplan-cli").ClientConfig()
	if o.redisAddr != "" {
		s.redis = connectRedis(cmd.Context(), o.redisAddr, logger)
		cfg.Redis = s.redis
	}

	s.client, err = client.New(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (o *globalOptions) teardown(stderr io.Writer) error {
	s := o.session
	if s == nil {
		return nil
	}
	o.session = nil
	if s.client != nil {
		s.client.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if o.stats {
		return printStats(stderr)
	}
	return nil
}

// connectRedis returns nil when Redis is unreachable; the CLI then runs
// without the shared cache.
func connectRedis(ctx context.Context, addr string, logger zerolog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("Redis unavailable, continuing without cache")
		rdb.Close()
		return nil
	}
	return rdb
}

func needsClient(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationNoClient] == "true" {
			return false
		}
	}
	switch cmd.Name() {
	case "help", "completion", "__complete":
		return false
	}
	return true
}

// refOrDefault resolves the ref a command reads from.
func (s *session) refOrDefault(ref string) string {
	if ref != "" {
		return ref
	}
	if s.profile != nil && s.profile.ActiveBranch != "" {
		return s.profile.ActiveBranch
	}
	return defaultRef
}

func printStats(w io.Writer) error {
	samples, err := metrics.Snapshot()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"METRIC", "LABELS", "VALUE"})
	for _, s := range samples {
		t.AppendRow(table.Row{s.Name, formatLabels(s.Labels), s.Value})
	}
	t.Render()
	return nil
}
