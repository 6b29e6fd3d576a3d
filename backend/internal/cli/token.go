package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picrelay/picrelay/backend/internal/setup"
	"github.com/picrelay/picrelay/shared/domain"
	"github.com/picrelay/picrelay/shared/jwt"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <slack-user-id>",
		Short: "Issue an API bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := setup.NewParamStore(cmd.Context(), cfg.Public.ParamStore)
			if err != nil {
				return err
			}
			key, err := setup.ResolveJwtKey(cmd.Context(), cfg, store)
			if err != nil {
				return err
			}
			token, err := jwt.New(key, cfg.JwtTTL()).NewToken(domain.User{Id: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
