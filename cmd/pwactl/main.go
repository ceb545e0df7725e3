// main.go - Admin control tool for PocketWebAnalytics
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"pocketwebanalytics/internal"
	"pocketwebanalytics/internal/aggregation"
	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/jobs"
	"pocketwebanalytics/internal/seeder"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/users"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&CreateUserCommand{},
	&ChangePasswordCommand{},
	&CreateSiteCommand{},
	&AggregateCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	_ = godotenv.Load()
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	if _, ok := cmd.(*HelpCommand); ok {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// CreateUserCommand creates a user, by default an admin.
type CreateUserCommand struct{}

func (c *CreateUserCommand) Name() string { return "create-user" }
func (c *CreateUserCommand) Description() string {
	return "Creates a user: <email> <password> [role] [site-code]"
}

func (c *CreateUserCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <email> <password> [role] [site-code]", c.Name())
	}
	email, password := args[0], args[1]
	role := users.RoleAdmin
	if len(args) >= 3 {
		role = args[2]
	}

	db := app.DBManager.GetConnection()

	var siteID *uint
	if len(args) >= 4 {
		site, err := sites.GetActiveByCode(db, args[3])
		if err != nil {
			return err
		}
		siteID = &site.ID
	}

	user, err := users.Create(db, slog.Default(), email, password, role, siteID)
	if err != nil {
		if errors.Is(err, users.ErrUserExists) {
			log.Printf("User %s already exists", email)
			return nil
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("Created %s user %s (id %d)", user.Role, user.Email, user.ID)
	return nil
}

// ChangePasswordCommand updates the password of an existing user
type ChangePasswordCommand struct{}

func (c *ChangePasswordCommand) Name() string { return "change-password" }
func (c *ChangePasswordCommand) Description() string {
	return "Changes the password of an existing user: <email>"
}

func (c *ChangePasswordCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	var email string
	if len(args) >= 1 {
		email = args[0]
	} else {
		fmt.Print("Enter email: ")
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		email = strings.TrimSpace(input)
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	db := app.DBManager.GetConnection()
	if _, err := users.FindByEmail(db, email); err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}

	if err := users.ChangePassword(db, email, password); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Println("Password updated successfully")
	return nil
}

// readNewPassword prompts twice without echoing.
func readNewPassword() (string, error) {
	fmt.Print("Enter new password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm new password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	password := strings.TrimSpace(string(first))
	if password != strings.TrimSpace(string(second)) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	return password, nil
}

// CreateSiteCommand registers a site
type CreateSiteCommand struct{}

func (c *CreateSiteCommand) Name() string        { return "create-site" }
func (c *CreateSiteCommand) Description() string { return "Creates a site: <code> [collect...]" }

func (c *CreateSiteCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <code> [location] [language]", c.Name())
	}

	site := &sites.Site{Code: args[0], Settings: sites.Settings{Collect: args[1:]}}
	if err := sites.Create(app.DBManager.GetConnection(), slog.Default(), site); err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	log.Printf("Created site %s (id %d)", site.Code, site.ID)
	return nil
}

// AggregateCommand runs the rollup jobs once
type AggregateCommand struct{}

func (c *AggregateCommand) Name() string { return "aggregate" }
func (c *AggregateCommand) Description() string {
	return "Runs aggregation: [-mode incremental|daily|full] [-site id]"
}

func (c *AggregateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	modeName := fs.String("mode", string(aggregation.ModeIncremental), "incremental, daily or full")
	siteID := fs.Uint("site", 0, "restrict to one site id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mode, err := aggregation.ParseMode(*modeName)
	if err != nil {
		return err
	}

	cfg := config.GetConfig()
	reportLog := aggregation.NewReportLog(cfg)
	defer reportLog.Close()

	report, err := aggregation.New(app.DBManager.GetConnection(), slog.Default(), cfg).
		WithReportLog(reportLog).
		Run(ctx, aggregation.Options{Mode: mode, SiteID: *siteID})
	if err != nil {
		return err
	}

	for _, s := range report.Sites {
		line := fmt.Sprintf("%-20s %-7s records=%d groups=%d failed=%d",
			s.Code, s.Job, s.RecordsProcessed, s.GroupsAttempted, s.GroupsFailed)
		if s.Error != "" {
			line += " error=" + s.Error
		}
		fmt.Println(line)
	}
	if report.GroupsFailed() > 0 {
		return fmt.Errorf("%d groups failed", report.GroupsFailed())
	}
	return nil
}

// SeedCommand populates the DB with sample traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample hits" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	count := fs.Int("hits", 5000, "number of hits to generate")
	days := fs.Int("days", 30, "spread hits over this many past days")
	site := fs.String("site", "", "seed one existing site code (seeds the demo sites if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), *count)
	se.Days = *days

	if *site != "" {
		stored, err := se.SeedSite(ctx, *site)
		if err != nil {
			return err
		}
		log.Printf("Stored %d hits for %s", stored, *site)
		return nil
	}
	return se.Run(ctx)
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()
	cfg := config.GetConfig()

	var userCount, siteCount, hitCount int64
	if err := db.Model(&users.User{}).Count(&userCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	db.Model(&sites.Site{}).Where("state = ?", sites.StateActive).Count(&siteCount)
	db.Table("hits").Count(&hitCount)

	log.Println("System Status:")
	log.Printf("- Version: %s (%s)", config.Version, cfg.Environment)
	log.Println("- Database: Connected")
	log.Printf("- Users: %d", userCount)
	log.Printf("- Active sites: %d", siteCount)
	log.Printf("- Hits: %d", hitCount)

	configured, dbExists, lastUpdate := jobs.GeoLiteStatus(app.DBManager, cfg)
	geo := "not configured"
	if configured {
		geo = "configured"
	}
	if dbExists {
		geo += ", database present"
	}
	if !lastUpdate.IsZero() {
		geo += ", updated " + lastUpdate.Format(time.RFC3339)
	}
	log.Printf("- GeoLite2: %s", geo)

	marks, err := aggregation.Watermarks(db, 0)
	if err != nil {
		return err
	}
	for _, m := range marks {
		log.Printf("- Watermark site=%d job=%s last_hit=%s", m.SiteID, m.Job, m.LastHitAt.Format(time.RFC3339))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	log.Printf("- Open Connections: %d (in use %d, idle %d)",
		sqlDB.Stats().OpenConnections, sqlDB.Stats().InUse, sqlDB.Stats().Idle)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: pwactl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
