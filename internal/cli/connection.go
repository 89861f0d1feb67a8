package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/L1nMay/vulnorch/internal/scan"
)

func newTestConnectionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check that the scanning engine answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := scan.CheckEngine(cmd.Context(), newEngine(a.cfg, nil), a.cfg.PrecheckTimeout())
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Message, res.Details)
			if !res.OK {
				return errors.New("engine unreachable")
			}
			return nil
		},
	}
}
