package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// =============================================================================
// 🖥️ usage_records schema 终端输出
// =============================================================================

// SchemaConsole 在终端上驱动记账库 schema 的迁移并报告其状态
type SchemaConsole struct {
	migrator Migrator
	out      io.Writer
}

// NewSchemaConsole 创建 SchemaConsole，out 为空时写到 stdout
func NewSchemaConsole(migrator Migrator, out io.Writer) *SchemaConsole {
	if out == nil {
		out = os.Stdout
	}
	return &SchemaConsole{migrator: migrator, out: out}
}

// Apply runs one schema change and prints where the usage schema ended up.
func (c *SchemaConsole) Apply(ctx context.Context, action string, change func(context.Context) error) error {
	fmt.Fprintf(c.out, "usage schema: %s\n", action)
	if err := change(ctx); err != nil {
		return fmt.Errorf("usage schema %s: %w", action, err)
	}
	return c.PrintVersion(ctx)
}

// PrintVersion reports the last applied usage_records migration.
func (c *SchemaConsole) PrintVersion(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("usage schema status: %w", err)
	}
	current, ok := lastApplied(statuses)
	if !ok {
		fmt.Fprintln(c.out, "usage schema is empty, usage_records does not exist yet")
		return nil
	}
	fmt.Fprintf(c.out, "usage schema at %06d_%s", current.Version, current.Name)
	if current.Dirty {
		fmt.Fprint(c.out, " (dirty, fix the table by hand then force the version)")
	}
	fmt.Fprintln(c.out)
	return nil
}

// PrintStatus lists every embedded usage_records migration and whether the
// database has it.
func (c *SchemaConsole) PrintStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("usage schema status: %w", err)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tMIGRATION\tSTATE")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "usage_records: %d of %d migrations applied\n", applied, len(statuses))
	return nil
}

func lastApplied(statuses []MigrationStatus) (MigrationStatus, bool) {
	var last MigrationStatus
	found := false
	for _, s := range statuses {
		if s.Applied {
			last, found = s, true
		}
	}
	return last, found
}
