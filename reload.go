package main

import (
	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the running watch daemon re-read its config file",
		Long: `Sends SIGHUP to the process recorded in the daemon PID file next to the
state database. The daemon applies the new config from its next pass.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			path := daemonPIDPath(cc.Cfg)

			if err := sendSIGHUP(path); err != nil {
				return err
			}

			cc.Logger.Debug("sent reload signal", "pid_file", path)
			cc.Statusf("Reload requested.\n")

			return nil
		},
	}
}
