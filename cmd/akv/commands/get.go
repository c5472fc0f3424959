package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/pkg/vault"
)

func NewGetCommand(app *App) *cobra.Command {
	var (
		version    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Get a single secret value",
		Long: `Retrieve and display a single secret value.

The latest version is fetched unless --version is given. Values are cached
for one calendar month per secret name, so repeated calls do not reach the
vault. By default only the raw value is printed, making it suitable for
scripting.

Examples:
  # Get the latest value
  akv get db-password

  # Get a specific version with metadata in JSON format
  akv get api-key --version 5c1e0a7b --json

  # Use in scripts
  export DB_PASSWORD=$(akv get db-password)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := vault.ByName(args[0]).WithVersion(version)

			repo, release, err := app.Repository(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			secret, err := repo.GetSecret(cmd.Context(), ref)
			if err != nil {
				return dserrors.ForUser(err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), secret)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), secret.Value)
			return err
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Secret version (default: latest)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format with metadata")

	return cmd
}
