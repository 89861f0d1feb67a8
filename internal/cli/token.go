package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/L1nMay/vulnorch/internal/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var user auth.User

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			authn, err := auth.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.TokenTTL())
			if err != nil {
				return err
			}
			token, err := authn.Mint(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&user.ID, "user", "", "user id (token subject)")
	f.StringVar(&user.OrgID, "org", "", "organization id")
	f.StringVar(&user.Role, "role", "user", "role; admin sees every scan")
	f.StringSliceVar(&user.Permissions, "perm", []string{auth.PermAssetAccess}, "granted permissions")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
