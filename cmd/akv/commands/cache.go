package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/akv/internal/cache"
	dserrors "github.com/systmms/akv/internal/errors"
)

func NewCacheCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the secret cache",
		Long: `Inspect entries of the configured cache backend.

Keys have the form NAME-CONTEXT, where CONTEXT is the configured context
discriminator (possibly empty, e.g. "db-password-").`,
	}

	cmd.AddCommand(newCacheGetCommand(app), newCacheDeleteCommand(app))
	return cmd
}

func newCacheGetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Show whether a cache entry is live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, release, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			entry, found, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return dserrors.UserError{
					Message:    fmt.Sprintf("Failed to read cache entry '%s'", args[0]),
					Details:    err.Error(),
					Suggestion: "Check the cache backend configuration",
					Err:        err,
				}
			}
			if !found {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: not cached\n", args[0])
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: cached until %s\n", args[0], formatTime(entry.ExpiresAt))
			return err
		},
	}
}

func newCacheDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Drop a cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, release, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			d, ok := store.(cache.Deleter)
			if !ok {
				return dserrors.UserError{
					Message:    "The configured cache backend does not support deletion",
					Suggestion: "Use the file, keyring or sql backend",
				}
			}
			if err := d.Delete(cmd.Context(), args[0]); err != nil {
				return dserrors.UserError{
					Message: fmt.Sprintf("Failed to delete cache entry '%s'", args[0]),
					Details: err.Error(),
					Err:     err,
				}
			}
			app.Logger().Info("Deleted %s", args[0])
			return nil
		},
	}
}
