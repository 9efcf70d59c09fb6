package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	dryRun    bool
	userID    int64
	postID    int64
	tokenTTL  time.Duration
	userEmail string
	userName  string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Publish every scheduled publication that is due, once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := setup(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if dryRun {
			due, err := d.publisher.DueScheduled(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPOST\tPLATFORM\tSCHEDULED FOR")
			for _, p := range due {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", p.ID, p.PostID, p.Platform, p.ScheduledFor.Format(time.RFC3339))
			}
			tw.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%d publication(s) due\n", len(due))
			return nil
		}

		n, err := d.publisher.PublishScheduledPosts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d publication(s) published\n", n)
		return nil
	},
}

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Delete temporary public media copies older than STORAGE_TMP_TTL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := setup(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		n, err := d.resolver.SweepTemporary(cmd.Context(), time.Now().Add(-d.cfg.Storage.TmpTTL))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d temporary object(s) removed\n", n)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the credentials of every platform for a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := setup(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		return printJSON(cmd, d.publisher.TestConnections(cmd.Context(), userID))
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)

		if err := repository.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if userID <= 0 {
			return errors.New("--user is required")
		}
		token, err := utils.GenerateToken(cfg.SecretKey, strconv.FormatInt(userID, 10), tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user, or print the existing one with that email",
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := setup(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		user, err := service.NewUserService(d.users).CreateUser(cmd.Context(), userEmail, userName)
		if err != nil {
			return err
		}
		return printJSON(cmd, user)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the pending publications of a post now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPost(cmd, func(p service.PublisherService) publishFunc { return p.PublishPost })
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry the failed publications of a post",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPost(cmd, func(p service.PublisherService) publishFunc { return p.RetryFailedPublications })
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list due publications without publishing")

	checkCmd.Flags().Int64Var(&userID, "user", 0, "user id")
	checkCmd.MarkFlagRequired("user")

	tokenCmd.Flags().Int64Var(&userID, "user", 0, "user id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("user")

	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	userCreateCmd.MarkFlagRequired("email")
	userCmd.AddCommand(userCreateCmd)

	for _, c := range []*cobra.Command{publishCmd, retryCmd} {
		c.Flags().Int64Var(&postID, "post", 0, "post id")
		c.MarkFlagRequired("post")
	}
}

func setup(cmd *cobra.Command) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return build(cmd.Context(), cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type publishFunc = func(ctx context.Context, postID int64) (map[string]*platform.PublishResult, error)

func runPost(cmd *cobra.Command, pick func(service.PublisherService) publishFunc) error {
	d, err := setup(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	results, err := pick(d.publisher)(cmd.Context(), postID)
	if err != nil {
		return err
	}
	return printJSON(cmd, results)
}
