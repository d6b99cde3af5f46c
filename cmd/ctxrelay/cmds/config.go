package cmds

import (
	"github.com/spf13/cobra"
)

func NewConfigCommand(load SettingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			return settings.WriteYAML(cmd.OutOrStdout())
		},
	}
}
