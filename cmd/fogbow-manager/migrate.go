package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/config"
	"github.com/fgan1/fogbow-manager/internal/migration"
)

// =============================================================================
// 🗄️ 记账库迁移命令
// =============================================================================

// runMigrate 处理 migrate 命令及其子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]
	ctx := context.Background()

	switch subcommand {
	case "up":
		withSchemaConsole("up", subargs, nil, func(c *migration.SchemaConsole, m migration.Migrator) error {
			return c.Apply(ctx, "upgrade", m.Up)
		})
	case "down":
		var all bool
		withSchemaConsole("down", subargs,
			func(fs *flag.FlagSet) { fs.BoolVar(&all, "all", false, "Rollback all migrations") },
			func(c *migration.SchemaConsole, m migration.Migrator) error {
				if all {
					return c.Apply(ctx, "rollback all", m.DownAll)
				}
				return c.Apply(ctx, "rollback", m.Down)
			})
	case "status":
		withSchemaConsole("status", subargs, nil, func(c *migration.SchemaConsole, _ migration.Migrator) error {
			return c.PrintStatus(ctx)
		})
	case "version":
		withSchemaConsole("version", subargs, nil, func(c *migration.SchemaConsole, _ migration.Migrator) error {
			return c.PrintVersion(ctx)
		})
	case "goto":
		version := parseVersionArg("goto", subargs)
		withSchemaConsole("goto", subargs[1:], nil, func(c *migration.SchemaConsole, m migration.Migrator) error {
			return c.Apply(ctx, fmt.Sprintf("move to version %d", version), func(ctx context.Context) error {
				return m.Goto(ctx, uint(version))
			})
		})
	case "force":
		version := parseVersionArg("force", subargs)
		withSchemaConsole("force", subargs[1:], nil, func(c *migration.SchemaConsole, m migration.Migrator) error {
			return c.Apply(ctx, fmt.Sprintf("force version %d", version), func(ctx context.Context) error {
				return m.Force(ctx, int(version))
			})
		})
	case "reset":
		withSchemaConsole("reset", subargs, nil, func(c *migration.SchemaConsole, m migration.Migrator) error {
			return c.Apply(ctx, "rollback all", m.DownAll)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// printMigrateUsage 打印 migrate 用法
func printMigrateUsage() {
	fmt.Println(`Usage-database migrations

Usage:
  fogbow-manager migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all to rollback everything)
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)

Examples:
  fogbow-manager migrate up
  fogbow-manager migrate up --config /etc/fogbow/manager.yaml
  fogbow-manager migrate down
  fogbow-manager migrate goto 1
  fogbow-manager migrate force 0`)
}

func parseVersionArg(cmd string, args []string) int64 {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: fogbow-manager migrate %s <version>\n", cmd)
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || version < 0 {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}
	return version
}

// withSchemaConsole 解析公共参数、创建迁移器并执行 run；失败时退出进程
func withSchemaConsole(name string, args []string, extra func(*flag.FlagSet), run func(*migration.SchemaConsole, migration.Migrator) error) {
	fs := flag.NewFlagSet("migrate "+name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	migrator, err := createMigrator(*configPath, *dbType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := run(migration.NewSchemaConsole(migrator, os.Stdout), migrator); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", name, err)
		os.Exit(1)
	}
}

// createMigrator 从配置文件（可被 --db-type 覆盖）创建迁移器
func createMigrator(configPath, dbType string) (*migration.DefaultMigrator, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database, zap.NewNop())
}
