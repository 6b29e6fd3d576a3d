package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/picrelay/picrelay/backend/internal/setup"
	"github.com/picrelay/picrelay/backend/internal/slackclient"
	"github.com/picrelay/picrelay/shared/paramstore"
)

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage Slack tokens in the param store",
	}

	var userID string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a Slack token read from stdin",
		Long:  "Stores the token for --user, or the shared development token when --user is empty.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := setup.NewParamStore(cmd.Context(), cfg.Public.ParamStore)
			if err != nil {
				return err
			}
			token, err := readToken(cmd.InOrStdin())
			if err != nil {
				return err
			}
			name, err := setCredential(cmd.Context(), store, cfg.Public.ParamStore.Prefix, userID, token)
			if err != nil {
				return err
			}
			if _, ok := store.(*paramstore.Env); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "env backend keeps values per process, export %s instead\n", paramstore.EnvName(name))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", name)
			return nil
		},
	}
	set.Flags().StringVar(&userID, "user", "", "Slack user id the token belongs to")

	cmd.AddCommand(set)
	return cmd
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// setCredential stores token under the name the credential provider reads it from.
func setCredential(ctx context.Context, store paramstore.Store, prefix, userID, token string) (string, error) {
	name := slackclient.DevTokenName(prefix)
	if userID != "" {
		name = slackclient.UserTokenName(prefix, userID)
	}
	if err := store.SetValue(ctx, name, token); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return name, nil
}
