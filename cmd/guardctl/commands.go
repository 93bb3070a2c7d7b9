package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-repository-guard/config"
	"github.com/goliatone/go-repository-guard/kvstore"
	"github.com/goliatone/go-repository-guard/pkg/di"
)

type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "guardctl",
		Short:         "Inspect circuit, rate limit and cache state",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML configuration file")

	rootCmd.AddCommand(a.stateCmd())
	rootCmd.AddCommand(a.invalidateCmd())
	rootCmd.AddCommand(a.purgeCmd())
	rootCmd.AddCommand(a.configCmd())

	return rootCmd
}

func (a *app) container(ctx context.Context) (*di.Container, error) {
	return di.NewContainer(ctx, a.cfg, di.WithLogger(a.logger))
}

func (a *app) stateCmd() *cobra.Command {
	var circuit, limitKey string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the circuit breaker snapshot and the current rate limit window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if circuit == "" {
				circuit = a.cfg.Breaker.Circuit
			}
			if limitKey == "" {
				limitKey = circuit
			}

			b, err := c.Breaker(circuit)
			if err != nil {
				return err
			}
			snap, err := b.State(ctx)
			if err != nil {
				return err
			}
			res, err := c.Limiter().CheckLimit(ctx, limitKey)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Circuit %s\n", circuit)
			fmt.Fprintf(out, "  State:          %s\n", snap.State)
			fmt.Fprintf(out, "  Failures:       %d/%d\n", snap.FailureCount, a.cfg.Breaker.FailureThreshold)
			fmt.Fprintf(out, "  Last failure:   %s\n", formatTime(snap.LastFailureTime))
			fmt.Fprintf(out, "  Next retry:     %s\n", formatTime(snap.NextRetryTime))
			fmt.Fprintf(out, "Rate limit %s\n", limitKey)
			fmt.Fprintf(out, "  Allowed:        %t\n", res.Allowed)
			fmt.Fprintf(out, "  Remaining:      %d/%d\n", res.Remaining, a.cfg.RateLimit.MaxRequests)
			fmt.Fprintf(out, "  Resets at:      %s\n", res.ResetAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&circuit, "circuit", "", "Circuit key (defaults to breaker.circuit)")
	cmd.Flags().StringVar(&limitKey, "limit-key", "", "Rate limit key (defaults to the circuit key)")

	return cmd
}

func (a *app) invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <kind> <identifier>",
		Short: "Delete one cache entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			key, err := c.Keys().Key(args[0], args[1])
			if err != nil {
				return err
			}
			if err := c.Store().Delete(ctx, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %s\n", key)
			return nil
		},
	}
}

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired entries from a durable store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			purger, ok := c.Store().(kvstore.Purger)
			if !ok {
				return errors.WithContext(
					errors.New(errors.CodeNotImplemented, "store driver does not support purge"), "driver", a.cfg.Store.Driver)
			}
			n, err := purger.Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired entries\n", n)
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.Redacted().YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
