package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"baseline/internal/profile"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <profile.yaml>...",
		Short: "Validate profile files",
		Long: `Validate parses each given profile file and checks it for structural
problems: unknown states, missing identities and duplicate units.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed bool
			for _, path := range args {
				p, err := loadProfileFile(path)
				if err != nil {
					failed = true
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d repositories, %d features, %d bundles)\n",
					path, len(p.Repositories), len(p.Features), len(p.Bundles))
			}
			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

func loadProfileFile(path string) (*profile.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return profile.Unmarshal(data)
}
