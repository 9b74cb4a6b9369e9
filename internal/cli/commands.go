package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/auth"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/config"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/db"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/service"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/migrations"

	"github.com/spf13/cobra"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireJWT(); err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              ":" + a.cfg.Port,
				Handler:           a.httpAPI(auth.NewManager(a.cfg.JWTSecret, a.cfg.ServiceKeyHash)).Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info("server listening", "port", a.cfg.Port, "store", a.cfg.Store)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server: %w", err)
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("server shutdown", "error", err)
			}
			return nil
		},
	}
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Applies the embedded SQL migrations, or the .sql files in MIGRATIONS_DIR
when set, recording each version in schema_migrations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.pool == nil {
				return fmt.Errorf("migrate needs STORE=%s", config.StorePostgres)
			}
			applied, err := db.RunMigrations(cmd.Context(), a.pool, db.MigrationsFS(a.cfg.MigrationsDir, migrations.FS))
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), rootOpts.Format, map[string][]string{"applied": applied}, func(w io.Writer) error {
				if len(applied) == 0 {
					_, err := fmt.Fprintln(w, "schema up to date")
					return err
				}
				for _, v := range applied {
					if _, err := fmt.Fprintf(w, "applied %s\n", v); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	var date string
	var users []string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute daily scores and apply interventions",
		Long: `Runs the daily batch for the given users, or every known user when none
are given, and records the job run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var day time.Time
			if date != "" {
				var err error
				if day, err = models.ParseDate(date); err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
			}
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.jobs.Run(cmd.Context(), day, users...)
			if err != nil {
				return err
			}
			if err := output(cmd.OutOrStdout(), rootOpts.Format, res, func(w io.Writer) error {
				return writeBatch(w, day, res)
			}); err != nil {
				return err
			}
			if res.Processed > 0 && res.Failed == res.Processed {
				return fmt.Errorf("all %d users failed", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to score (YYYY-MM-DD, default each user's local today)")
	cmd.Flags().StringSliceVar(&users, "user", nil, "user id to score (repeatable)")
	return cmd
}

func writeBatch(w io.Writer, day time.Time, res service.BatchResult) error {
	label := "local today"
	if !day.IsZero() {
		label = day.Format(models.DateLayout)
	}
	if _, err := fmt.Fprintf(w, "%s: %d processed, %d successful, %d failed\n",
		label, res.Processed, res.Successful, res.Failed); err != nil {
		return err
	}
	for _, r := range res.Results {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		if _, err := fmt.Fprintf(w, "  %s %s\n", r.UserID, status); err != nil {
			return err
		}
	}
	return nil
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a user JWT for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if err := cfg.RequireJWT(); err != nil {
				return err
			}
			token, err := auth.NewManager(cfg.JWTSecret, "").GenerateToken(args[0], ttl)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), rootOpts.Format, map[string]string{"token": token}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, token)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func NewHashKeyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the bcrypt hash of a service key for SERVICE_KEY_HASH",
		Long:  `Hashes the key given as argument, or the first line of stdin.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return errors.New("empty key")
			}
			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), rootOpts.Format, map[string]string{"hash": hash}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, hash)
				return err
			})
		},
	}
}
