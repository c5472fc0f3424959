package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/repository"
	"github.com/systmms/akv/pkg/vault"
)

func NewSetCommand(app *App) *cobra.Command {
	var (
		value       string
		contentType string
		tags        []string
		enabled     bool
		expires     string
		notBefore   string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Write a new version of a secret",
		Long: `Write a new version of a secret and print the version the vault assigned.

Content type, tags and attributes are only sent when given.

Examples:
  akv set db-password --value 'hunter2'
  akv set api-key --value "$KEY" --content-type text/plain --tag owner=platform --expires 2027-01-01T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("value") {
				return dserrors.UserError{
					Message:    "Secret value is required",
					Suggestion: "Use --value <value> to specify the new value",
				}
			}

			opts := &repository.SetSecretOptions{ContentType: contentType}

			var err error
			if opts.Tags, err = parseTags(tags); err != nil {
				return err
			}

			if cmd.Flags().Changed("enabled") || expires != "" || notBefore != "" {
				attrs := &vault.SecretAttributes{Enabled: enabled}
				if attrs.Expires, err = parseTime("expires", expires); err != nil {
					return err
				}
				if attrs.NotBefore, err = parseTime("not-before", notBefore); err != nil {
					return err
				}
				opts.Attributes = attrs
			}

			repo, release, err := app.Repository(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			secret, err := repo.SetSecret(cmd.Context(), args[0], value, opts)
			if err != nil {
				return dserrors.ForUser(err)
			}

			if jsonOutput {
				secret.Value = ""
				return writeJSON(cmd.OutOrStdout(), secret)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), secret.Version)
			return err
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Secret value (required)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type hint, e.g. text/plain")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag as key=value (repeatable)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Whether the new version is enabled")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry time (RFC 3339)")
	cmd.Flags().StringVar(&notBefore, "not-before", "", "Activation time (RFC 3339)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the stored version's metadata as JSON")

	return cmd
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, dserrors.UserError{
				Message:    fmt.Sprintf("Invalid tag '%s'", pair),
				Suggestion: "Use --tag key=value",
			}
		}
		tags[k] = v
	}
	return tags, nil
}

func parseTime(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, dserrors.UserError{
			Message:    fmt.Sprintf("Invalid --%s time '%s'", flag, s),
			Suggestion: "Use RFC 3339, e.g. 2027-01-01T00:00:00Z",
			Err:        err,
		}
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}
