package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/pkg/vault"
)

func NewVersionsCommand(app *App) *cobra.Command {
	var (
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "versions NAME",
		Short: "List the versions of a secret",
		Long: `List the versions of a secret in the order the vault returns them.

Only the first page is shown unless --all is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, release, err := app.Repository(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			var versions []vault.SecretVersion
			if all {
				versions, err = repo.AllSecretVersions(cmd.Context(), args[0])
			} else {
				versions, err = repo.GetSecretVersions(cmd.Context(), args[0])
			}
			if err != nil {
				return dserrors.ForUser(err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), versions)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "VERSION\tENABLED\tCREATED\tUPDATED\tEXPIRES\n")
			_, _ = fmt.Fprintf(w, "-------\t-------\t-------\t-------\t-------\n")
			for _, v := range versions {
				_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", v.Version, v.Attributes.Enabled,
					formatTime(v.Attributes.Created), formatTime(v.Attributes.Updated), formatOptionalTime(v.Attributes.Expires))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Follow continuation links and list every version")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
