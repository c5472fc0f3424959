package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/pkg/vault"
)

func NewListCommand(app *App) *cobra.Command {
	var (
		next       string
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the secrets in the vault",
		Long: `List secret identifiers and attributes. Values are never listed.

One page is shown at a time. When the vault has more, the continuation link
is printed; pass it back with --next to get the following page, or use
--all to walk every page.

Examples:
  akv list
  akv list --next 'https://my-vault.vault.azure.net/secrets?api-version=7.4&$skiptoken=...'
  akv list --all --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && next != "" {
				return dserrors.UserError{
					Message:    "--all and --next cannot be combined",
					Suggestion: "Use --all to walk every page, or --next to fetch a single page",
				}
			}

			repo, release, err := app.Repository(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			var page vault.Page[vault.IDEntity]
			if all {
				page.Items, err = repo.AllSecrets(cmd.Context())
			} else {
				page, err = repo.GetSecrets(cmd.Context(), next)
			}
			if err != nil {
				return dserrors.ForUser(err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), page)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tENABLED\tCONTENT TYPE\tUPDATED\n")
			_, _ = fmt.Fprintf(w, "----\t-------\t------------\t-------\n")
			for _, e := range page.Items {
				contentType := "-"
				if e.ContentType != nil {
					contentType = *e.ContentType
				}
				_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", e.Name(), e.Attributes.Enabled, contentType, formatTime(e.Attributes.Updated))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if page.HasMore() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nMore secrets available. Next page:\n  akv list --next '%s'\n", page.NextLink)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&next, "next", "", "Continuation link from a previous page")
	cmd.Flags().BoolVar(&all, "all", false, "Follow continuation links and list every secret")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
