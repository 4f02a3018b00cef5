package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"checkin/internal/cleanup"
	"checkin/internal/google"
	"checkin/internal/models"
	"checkin/internal/planner"
	"checkin/internal/service"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "checkin",
		Usage: "Create idempotent participant check-in events on a remote calendar.",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			authCommand(),
			createCommand(),
			deleteCommand(),
			importCommand(),
			previewCommand(),
			clearDemoCommand(),
			deleteRecentCommand(),
			listCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		if errors.Is(err, models.ErrAuthRequired) {
			slog.Error("Calendar authorization required, run the auth command first", "error", err)
		} else {
			slog.Error("Application failed", "error", err)
		}
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account and save the API token.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger.Info("Starting Google authentication flow.")

			config, err := google.OAuthConfig(googleOptions(cfg))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, config, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}
			if err := google.SaveToken(cfg.Google.TokenPath, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", cfg.Google.TokenPath)
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create the 1, 10 and 45 day check-ins for one base date.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "Base date (MM/DD/YYYY).", Required: true},
			&cli.StringFlag{Name: "title", Usage: "Participant or event title.", Required: true},
			&cli.StringFlag{Name: "email", Usage: "Attendee email.", Required: true},
			&cli.StringFlag{Name: "time", Usage: "Event time (HH:MM). Defaults to default_time."},
			&cli.StringFlag{Name: "calendar", Usage: "Calendar id override."},
			&cli.BoolFlag{Name: "demo", Usage: "Flag the created events as demo events."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be created without creating it."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newDeps(c)
			if err != nil {
				return err
			}
			summary, err := rt.svc.PlanAndReconcile(c.Context, planner.ManualRequest{
				BaseDate:      c.String("date"),
				Title:         c.String("title"),
				Time:          c.String("time"),
				AttendeeEmail: c.String("email"),
				Demo:          c.Bool("demo"),
				DryRun:        c.Bool("dry-run"),
				CalendarID:    c.String("calendar"),
			})
			if summary != nil {
				rt.logger.Info("Check-ins reconciled.", "created", summary.Created, "skipped", summary.Skipped, "errors", summary.Errors, "dryRun", summary.DryRun)
			}
			if err != nil {
				return printPartial(summary, fmt.Errorf("failed to create check-ins: %w", err))
			}
			return printJSON(summary)
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the check-ins created for one base date, title and attendee.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "Base date (MM/DD/YYYY).", Required: true},
			&cli.StringFlag{Name: "title", Usage: "Participant or event title.", Required: true},
			&cli.StringFlag{Name: "email", Usage: "Attendee email.", Required: true},
			&cli.StringFlag{Name: "calendar", Usage: "Only search this calendar."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newDeps(c)
			if err != nil {
				return err
			}
			summary, err := rt.svc.DeleteByMatch(c.Context, cleanup.MatchCriteria{
				BaseDate:      c.String("date"),
				Title:         c.String("title"),
				AttendeeEmail: c.String("email"),
				CalendarID:    c.String("calendar"),
			})
			if err != nil {
				return printPartial(summary, fmt.Errorf("failed to delete check-ins: %w", err))
			}
			return printJSON(summary)
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Create reminder and retention events from a study CSV export.",
		ArgsUsage: "<file.csv>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "time", Usage: "Event time (HH:MM). Defaults to default_time."},
			&cli.BoolFlag{Name: "demo", Usage: "Flag the created events as demo events."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be created without creating it."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newDeps(c)
			if err != nil {
				return err
			}
			rows, err := readCSV(rt.svc, c.Args().First())
			if err != nil {
				return err
			}
			summary, err := rt.svc.PlanAndReconcileBatch(c.Context, rows, service.ImportOptions{
				Time:   c.String("time"),
				Demo:   c.Bool("demo"),
				DryRun: c.Bool("dry-run"),
			})
			if summary != nil {
				rt.logger.Info("CSV import reconciled.", "created", summary.Created, "skipped", summary.Skipped, "errors", summary.Errors, "invalidRows", len(summary.InvalidRows))
			}
			if err != nil {
				return printPartial(summary, fmt.Errorf("failed to import csv: %w", err))
			}
			return printJSON(summary)
		},
	}
}

func previewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Show the events a CSV import would create, without calling the calendar.",
		ArgsUsage: "<file.csv>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "time", Usage: "Event time (HH:MM). Defaults to default_time."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			// Preview never touches the store.
			svc, err := buildService(logger, cfg, service.Unavailable(models.ErrAuthRequired), true)
			if err != nil {
				return err
			}
			rows, err := readCSV(svc, c.Args().First())
			if err != nil {
				return err
			}
			preview, err := svc.Preview(rows, service.ImportOptions{Time: c.String("time")})
			if err != nil {
				return fmt.Errorf("failed to preview csv: %w", err)
			}
			return printJSON(preview)
		},
	}
}

func clearDemoCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-demo",
		Usage: "Delete every event flagged as demo.",
		Action: func(c *cli.Context) error {
			rt, err := newDeps(c)
			if err != nil {
				return err
			}
			summary, err := rt.svc.DeleteAllDemo(c.Context)
			if err != nil {
				return printPartial(summary, fmt.Errorf("failed to clear demo events: %w", err))
			}
			return printJSON(summary)
		},
	}
}

func deleteRecentCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-recent",
		Usage: "Delete tagged events starting within the last N hours.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "hours", Value: 24, Usage: "Window size in hours."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newDeps(c)
			if err != nil {
				return err
			}
			summary, err := rt.svc.DeleteRecent(c.Context, c.Int("hours"))
			if err != nil {
				return printPartial(summary, fmt.Errorf("failed to delete recent events: %w", err))
			}
			return printJSON(summary)
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the tagged events of the configured calendars.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "demo-only", Usage: "Only list demo events."},
			&cli.BoolFlag{Name: "calendars", Usage: "List the Google calendars of the account instead."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newDeps(c)
			if err != nil {
				return err
			}
			if c.Bool("calendars") {
				gc, ok := rt.store.(*google.CalendarClient)
				if !ok {
					return fmt.Errorf("--calendars requires the google backend")
				}
				entries, err := gc.ListCalendars(c.Context)
				if err != nil {
					return fmt.Errorf("failed to list calendars: %w", err)
				}
				for _, e := range entries {
					fmt.Printf("%s\t%s\n", e.Id, e.Summary)
				}
				return nil
			}
			events, err := rt.svc.List(c.Context, c.Bool("demo-only"))
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}
			return printJSON(events)
		},
	}
}

func readCSV(svc *service.Service, path string) ([]planner.Row, error) {
	if path == "" {
		return nil, fmt.Errorf("a csv file argument is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()
	rows, err := svc.ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return rows, nil
}

// printPartial prints the summary of an aborted run, when there is one, and
// returns err.
func printPartial[T any](summary *T, err error) error {
	if summary != nil {
		if perr := printJSON(summary); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
