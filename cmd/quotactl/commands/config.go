package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"gorm.io/gorm"

	"github.com/pxl8/controlplane/internal/config"
	"github.com/pxl8/controlplane/internal/database"
)

var (
	db         *gorm.DB
	outputJSON bool
)

// SetOutputJSON sets the output format preference
func SetOutputJSON(json bool) {
	outputJSON = json
}

// openDB connects to the ledger database using the same configuration
// chain as the server (config file plus DATABASE_URL). The connection
// is cached for the lifetime of the process.
func openDB() (*gorm.DB, error) {
	if db != nil {
		return db, nil
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("no database configured, set DATABASE_URL or database.url")
	}

	db, err = database.Connect(&database.Config{
		DSN:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}
