// Command tokenctl is the operator tool for capability tokens and orders.
// It talks to the same database as the bots, configured by the same
// environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/orders"
	"github.com/personapack/botsuite/internal/retention"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

func main() {
	cfg := config.Load()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	rootCmd := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Manage bot access tokens and orders",
		Version:       cfg.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.Database.Driver, "db-driver", cfg.Database.Driver, "Database driver (sqlite, pgx)")
	rootCmd.PersistentFlags().StringVar(&cfg.Database.URL, "db", cfg.Database.URL, "Database URL or SQLite path")

	rootCmd.AddCommand(issueCmd(cfg))
	rootCmd.AddCommand(checkCmd(cfg))
	rootCmd.AddCommand(purgeCmd(cfg))
	rootCmd.AddCommand(ordersCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func issueCmd(cfg *config.Config) *cobra.Command {
	var (
		user   int64
		target string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a single-use start token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			tok, err := access.NewService(s).Issue(ctx, user, target, ttl)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token:   %s\n", tok.Token)
			if tok.ExpiresAt != nil {
				fmt.Fprintf(out, "expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "expires: never")
			}
			// The link needs the bot directory; print it when the catalog is readable.
			if cat, err := orders.LoadCatalog(cfg.CatalogPath); err == nil {
				if link, err := cat.StartLink(target, tok.Token); err == nil {
					fmt.Fprintf(out, "link:    %s\n", link)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&user, "user", 0, "Telegram user id the token is bound to")
	cmd.Flags().StringVar(&target, "target", "", "Target bot identifier")
	cmd.Flags().DurationVar(&ttl, "ttl", cfg.Access.TokenTTL, "Token lifetime; 0 never expires")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func checkCmd(cfg *config.Config) *cobra.Command {
	var (
		user   int64
		target string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a user may use a target bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			gate := access.NewGate(s, access.NewService(s), cfg.Access.AdminIDs)
			ok, err := gate.IsAllowed(ctx, user, target)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%d may use %s\n", user, target)
				return nil
			}
			return fmt.Errorf("%d has no access to %s", user, target)
		},
	}
	cmd.Flags().Int64Var(&user, "user", 0, "Telegram user id")
	cmd.Flags().StringVar(&target, "target", "", "Target bot identifier")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func purgeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete tokens that expired unredeemed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			stats := retention.NewJanitor(access.NewService(s), cfg.JanitorInterval).RunOnce(ctx)
			if stats.Err != nil {
				return stats.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired tokens\n", stats.TokensPurged)
			return nil
		},
	}
}

func ordersCmd(cfg *config.Config) *cobra.Command {
	var (
		status string
		buyer  int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.OrderFilter{Status: models.OrderStatus(status), Buyer: buyer, Limit: limit}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.ListOrders(ctx, filter)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBUYER\tPRODUCT\tAMOUNT\tSTATUS\tCREATED")
			for _, o := range list {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
					o.ID, o.Buyer, o.ProductCode, o.Amount, o.Status, o.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, awaiting_payment, paid, rejected)")
	cmd.Flags().Int64Var(&buyer, "buyer", 0, "Filter by buyer user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}
