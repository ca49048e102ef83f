package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/gameserver-deploy/internal/config"
	"github.com/oshokin/gameserver-deploy/internal/logger"
)

// initConfigCmd writes a settings file with default values for editing.
var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a settings file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFilename
		if len(args) > 0 {
			path = args[0]
		}

		if err := config.Save(path, config.Default()); err != nil {
			logger.ErrorKV(cmd.Context(), "Unable to write settings", "path", path, "error", err)

			return err
		}

		cmd.Printf("Settings written to %s\n", path)

		return nil
	},
}
