// Command eventcal runs the community calendar: an HTTP server with
// feeds, a one-shot recurrence resync, and a demo fixtures loader.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/dukop/eventcal/calendar"
	"github.com/dukop/eventcal/calendar/recurrence"
	"github.com/dukop/eventcal/calendar/storage/postgres"
	"github.com/dukop/eventcal/calendar/times"
	"github.com/dukop/eventcal/internal/config"
	"github.com/dukop/eventcal/server"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := &cobra.Command{
		Use:           "eventcal",
		Short:         "Community event calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(log), resyncCmd(log), fixturesCmd(log))

	if err := root.Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app bundles the wired application pieces.
type app struct {
	cfg   *config.Config
	store *postgres.Store
	svc   *calendar.Service
	clock times.Clock
}

func setup(ctx context.Context, log *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	clock := times.NewSystemClock(loc, cfg.RewindDays)
	engine := recurrence.NewEngine(recurrence.Config{
		Clock:              clock,
		Location:           loc,
		DefaultHorizonDays: cfg.HorizonDays,
	})
	return &app{
		cfg:   cfg,
		store: store,
		svc:   calendar.NewService(store, engine, clock, log),
		clock: clock,
	}, nil
}

func serveCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer a.store.Close()

			scheduler := cron.New()
			_, err = scheduler.AddFunc(a.cfg.ResyncSchedule, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				defer cancel()
				if err := a.svc.ResyncAll(ctx, false); err != nil {
					log.Error("scheduled resync failed", "error", err)
				}
			})
			if err != nil {
				return fmt.Errorf("schedule resync %q: %w", a.cfg.ResyncSchedule, err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			log.Info("serving", "addr", a.cfg.ListenAddr, "base_url", a.cfg.BaseURL)
			srv := server.New(a.svc, a.clock, log, a.cfg.BaseURL)
			return srv.Start(a.cfg.ListenAddr)
		},
	}
}

func resyncCmd(log *slog.Logger) *cobra.Command {
	var backfill bool
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Re-expand every recurrence rule once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer a.store.Close()
			return a.svc.ResyncAll(cmd.Context(), backfill)
		},
	}
	cmd.Flags().BoolVar(&backfill, "backfill", false,
		"expand from each rule's anchor instead of from now, creating past occurrences")
	return cmd
}

func fixturesCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "fixtures",
		Short: "Seed a demo event with a weekly recurrence",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer a.store.Close()

			start := times.AddDays(a.clock.Now(), 14)
			end := start.Add(2 * time.Hour)
			event, anchor, err := a.svc.CreateEvent(cmd.Context(), calendar.NewEvent{
				Name:        "Test event",
				Description: "A longer description",
				VenueName:   "The Place",
				Start:       start,
				End:         &end,
			})
			if err != nil {
				return err
			}
			if err := a.svc.PublishEvent(cmd.Context(), event.ID); err != nil {
				return err
			}
			rule, err := a.svc.CreateRuleAndSync(cmd.Context(), calendar.NewRule{
				EventID:  event.ID,
				AnchorID: anchor.ID,
				Kinds:    []recurrence.Kind{recurrence.EveryWeek},
			})
			if err != nil {
				return err
			}
			log.Info("fixtures created", "event", event.Slug, "rule", rule.ID)
			return nil
		},
	}
}
