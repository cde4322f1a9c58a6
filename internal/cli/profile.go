package cli

import (
	"fmt"
	"os"

	"github.com/bauplanlabs/bauplan-go/pkg/config"
	"github.com/spf13/cobra"
)

// profileView is what the profile commands print; the API key is masked.
type profileView struct {
	Name         string `json:"name"`
	APIEndpoint  string `json:"api_endpoint"`
	APIKey       string `json:"api_key"`
	ActiveBranch string `json:"active_branch,omitempty"`
}

func viewOf(p *config.Profile) profileView {
	return profileView{
		Name:         p.Name,
		APIEndpoint:  p.APIEndpoint,
		APIKey:       maskKey(p.APIKey),
		ActiveBranch: p.ActiveBranch,
	}
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

var profileColumns = []column[profileView]{
	{"NAME", func(p profileView) any { return p.Name }},
	{"ENDPOINT", func(p profileView) any { return p.APIEndpoint }},
	{"API KEY", func(p profileView) any { return p.APIKey }},
	{"ACTIVE BRANCH", func(p profileView) any { return p.ActiveBranch }},
}

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "profile",
		Short:       "Inspect configuration profiles",
		Annotations: map[string]string{annotationNoClient: "true"},
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List the profiles in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path := config.FindConfig(home)
			profiles, err := config.LoadAll(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			views := make([]profileView, len(profiles))
			for i, p := range profiles {
				views[i] = viewOf(p)
			}
			return renderSlice(getSession(cmd.Context()).renderer, views, profileColumns)
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved profile, environment included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Root().PersistentFlags().GetString("profile")
			p, err := config.Load(name)
			if err != nil {
				return err
			}
			return renderObject(getSession(cmd.Context()).renderer, viewOf(p), profileColumns)
		},
	}

	cmd.AddCommand(ls, show)
	return cmd
}
