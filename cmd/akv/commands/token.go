package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/akv/internal/auth"
	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/logging"
)

func NewTokenCommand(app *App) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Check that a Key Vault access token can be obtained",
		Long: `Obtain an access token with the configured auth method.

The token is redacted unless --show is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, def, err := app.Tokens()
			if err != nil {
				return err
			}

			resource := def.Auth.Resource
			if resource == "" {
				resource = auth.DefaultResource
			}

			header, err := tokens.Token(cmd.Context(), resource)
			if err != nil {
				return dserrors.ForUser(dserrors.Annotate("get token", "", "", err))
			}

			app.Logger().Info("Token obtained for %s", resource)
			if show {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), header)
			} else {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), logging.Secret(header))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print the token instead of redacting it")

	return cmd
}
