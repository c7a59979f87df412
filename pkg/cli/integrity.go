package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/storage"
)

func newIntegrityCommand() *Command {
	cmd := &Command{
		Name:        "integrity",
		Description: "Check applied migrations against a module's files",
		Flags:       flag.NewFlagSet("integrity", flag.ExitOnError),
		Run:         runIntegrity,
	}

	cmd.Flags.String("dir", ".", "Module directory")
	cmd.Flags.String("driver", "sqlite3", "Database driver (postgres, sqlite3)")
	cmd.Flags.String("dsn", "", "Database connection string")
	cmd.Flags.Bool("json", false, "Print findings as JSON")

	return cmd
}

func runIntegrity(args []string) error {
	flags := flag.NewFlagSet("integrity", flag.ContinueOnError)
	dir := flags.String("dir", ".", "Module directory")
	driver := flags.String("driver", getEnv("MODHOST_DB_DRIVER", string(storage.DialectSQLite)), "Database driver (postgres, sqlite3)")
	dsn := flags.String("dsn", getEnv("MODHOST_DB_DSN", ""), "Database connection string")
	asJSON := flags.Bool("json", false, "Print findings as JSON")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("--dsn or MODHOST_DB_DSN is required")
	}

	doc, err := manifest.LoadDir(*dir)
	if err != nil {
		return err
	}
	if doc.Manifest == nil {
		return fmt.Errorf("manifest invalid: %w", doc.Result.Err())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := storage.Open(ctx, storage.ConnectionConfig{Driver: *driver, DSN: *dsn, MaxConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.EnsureSchema(ctx, db.DB, db.Dialect); err != nil {
		return err
	}

	issues, err := checkIntegrity(ctx, db, doc.Manifest, *dir)
	if err != nil {
		return err
	}

	if *asJSON {
		if issues == nil {
			issues = []migrations.IntegrityError{}
		}
		enc := json.NewEncoder(output)
		enc.SetIndent("", "  ")
		if err := enc.Encode(issues); err != nil {
			return err
		}
	} else if len(issues) == 0 {
		fmt.Fprintf(output, "ok      %s: applied migrations match their files\n", doc.Manifest.Name)
	} else {
		for _, issue := range issues {
			fmt.Fprintf(output, "%-7s %s\n", issue.Kind, issue.Error())
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("%d migration integrity issue(s) in %s", len(issues), doc.Manifest.Name)
	}
	return nil
}

// checkIntegrity verifies m's history in db without applying anything
func checkIntegrity(ctx context.Context, db *storage.DB, m *manifest.Manifest, dir string) ([]migrations.IntegrityError, error) {
	runner := migrations.NewRunner(storage.NewSQLExecutor(db.DB), storage.NewMigrationStore(db.DB, db.Dialect))
	return runner.VerifyMigrationIntegrity(ctx, m.Name, filepath.Join(dir, m.MigrationsDir()))
}
