package cli

import (
	"fmt"

	"github.com/fmueller/voxpipe/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print the version number",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "voxpipe v%s\n", version.Resolve())
			if details {
				fmt.Fprintln(cmd.OutOrStdout(), version.Details())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&details, "details", false, "Also print commit, build date and platform")
	return cmd
}
