package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-filestore/pkg/filestore"
	"github.com/tendant/simple-filestore/pkg/filestore/config"
	postgresrepo "github.com/tendant/simple-filestore/pkg/filestore/repo/postgres"
)

func (c *cli) newPurgeCmd() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Hard-delete soft-deleted files",
		Long: `Hard-delete every soft-deleted file last updated before --before and
reclaim blobs no other file references. Dates are RFC 3339, YYYY-MM-DD or
milliseconds since the epoch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff := time.Now()
			if before != "" {
				t, err := filestore.ParseDate(before)
				if err != nil {
					return err
				}
				cutoff = t
			}

			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())
			svc, metadata, err := cfg.BuildService(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer metadata.Close()

			n, err := svc.PurgeDeleted(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("purge stopped after %d files: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d files\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "purge tombstones last updated before this date (default: now)")
	return cmd
}

func (c *cli) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Report files whose content is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())
			svc, metadata, err := cfg.BuildService(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer metadata.Close()

			dangling, err := svc.Verify(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range dangling {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			if len(dangling) > 0 {
				return fmt.Errorf("%d files reference missing content", len(dangling))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func (c *cli) newTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch ID...",
		Short: "Mark files as updated so change-feed readers fetch them again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())
			svc, metadata, err := cfg.BuildService(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer metadata.Close()

			for _, id := range args {
				if err := svc.SetUpdated(cmd.Context(), id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "touched %d files\n", len(args))
			return nil
		},
	}
}

func (c *cli) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		Long: `Apply the Postgres schema migrations to the database named by METADATA_URL.
Other metadata backends create their schema when opened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			kind, err := cfg.MetadataBackend()
			if err != nil {
				return err
			}
			if kind != config.MetadataPostgres {
				fmt.Fprintf(cmd.OutOrStdout(), "nothing to migrate for %s metadata\n", kind)
				return nil
			}

			logger := cfg.NewLogger(cmd.ErrOrStderr())
			if err := postgresrepo.Migrate(cmd.Context(), cfg.MetadataURL, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", redactURL(cfg.MetadataURL))
			return nil
		},
	}
}

// redactURL hides the password of a connection string.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
