// Command migrate applies goose migrations and, outside production, seeds
// demo data and prints bearer tokens for local testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/tableserve-backend/pkg/auth"
	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/migrate"
)

type options struct {
	cmd, dir, name, version string
	role, subject           string
	table                   int
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|create|validate|seed|token")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.StringVar(&opts.role, "role", string(enums.ActorRoleStaff), "actor role for -cmd=token")
	flag.StringVar(&opts.subject, "subject", "", "subject id for -cmd=token, random when empty")
	flag.IntVar(&opts.table, "table", 0, "table number for guest tokens")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "migrate"}).Error(ctx, "config", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{"cmd": opts.cmd, "dir": opts.dir})

	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("-name is required for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		logg.Info(ctx, "migrations valid")
		return nil
	case "token":
		if cfg.App.IsProd() {
			return fmt.Errorf("token is disabled in production")
		}
		return printToken(cfg.JWT, opts)
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer client.Close()

	if opts.cmd == "seed" {
		if cfg.App.IsProd() {
			return fmt.Errorf("seed is disabled in production")
		}
		return seed(ctx, client, logg)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, opts.dir, logg)
	if err != nil {
		return fmt.Errorf("goose: %w", err)
	}

	switch opts.cmd {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "status":
		err = runner.Status(ctx)
	case "version":
		if opts.version == "" {
			return fmt.Errorf("-version is required for version")
		}
		err = runner.MigrateTo(ctx, opts.version)
	default:
		return fmt.Errorf("unknown -cmd %q", opts.cmd)
	}
	if err != nil {
		return err
	}
	logg.Info(ctx, "migrate finished")
	return nil
}

func printToken(cfg config.JWTConfig, opts options) error {
	role, err := enums.ParseActorRole(opts.role)
	if err != nil {
		return err
	}
	id := auth.Identity{SubjectID: uuid.New(), Role: role}
	if opts.subject != "" {
		if id.SubjectID, err = uuid.Parse(opts.subject); err != nil {
			return fmt.Errorf("-subject: %w", err)
		}
	}
	if opts.table > 0 {
		id.TableNumber = &opts.table
	}
	token, err := auth.Issue(cfg, time.Now(), id)
	if err != nil {
		return err
	}
	fmt.Printf("subject=%s role=%s table=%s\n%s\n", id.SubjectID, role, tableLabel(id.TableNumber), token)
	return nil
}

func tableLabel(table *int) string {
	if table == nil {
		return "-"
	}
	return strconv.Itoa(*table)
}
