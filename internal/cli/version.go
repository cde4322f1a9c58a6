package cli

import (
	"fmt"
	"runtime"

	"github.com/bauplanlabs/bauplan-go/pkg/config"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoClient: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "bauplan %s (%s, %s/%s)\n",
				config.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
