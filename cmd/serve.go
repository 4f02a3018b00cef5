package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"checkin/internal/server"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the check-in API over HTTP.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Listen address. Overrides server.listen."},
			&cli.StringFlag{Name: "cleanup-cron", Usage: "Schedule for clearing demo events. Overrides cleanup.cron."},
		},
		Action: func(c *cli.Context) error {
			d, err := newDeps(c)
			if err != nil {
				return err
			}
			addr := d.cfg.Server.Listen
			if c.IsSet("listen") {
				addr = c.String("listen")
			}
			schedule := d.cfg.Cleanup.Cron
			if c.IsSet("cleanup-cron") {
				schedule = c.String("cleanup-cron")
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if schedule != "" {
				sched := cron.New()
				_, err := sched.AddFunc(schedule, func() {
					summary, err := d.svc.DeleteAllDemo(ctx)
					if err != nil {
						d.logger.Error("Scheduled demo cleanup failed", "error", err)
						return
					}
					d.logger.Info("Scheduled demo cleanup finished.", "deleted", summary.Deleted, "errors", summary.Errors)
				})
				if err != nil {
					return fmt.Errorf("invalid cleanup cron %q: %w", schedule, err)
				}
				sched.Start()
				defer sched.Stop()
				d.logger.Info("Scheduled demo cleanup.", "cron", schedule)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(d.logger, d.svc).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				d.logger.Info("Listening.", "addr", addr, "demoMode", d.svc.DemoMode())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			d.logger.Info("Shutting down.")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			return nil
		},
	}
}
