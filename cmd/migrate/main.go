package main

import (
	"errors"
	"os"
	"strconv"

	"github.com/hackgods/telederm-scheduling/internal/config"
	"github.com/hackgods/telederm-scheduling/internal/db"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

// usage: migrate [up|down|version|force <version>]
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "migrate")

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Error("create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		applied, err := m.Up()
		if err != nil {
			fail(logger, m, err)
		}
		if !applied {
			logger.Info("schema already up to date")
		}
	case "down":
		if err := m.Down(); err != nil {
			fail(logger, m, err)
		}
	case "force":
		if len(os.Args) < 3 {
			fail(logger, m, errUsage)
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fail(logger, m, err)
		}
		if err := m.Force(version); err != nil {
			fail(logger, m, err)
		}
	case "version":
	default:
		fail(logger, m, errUsage)
	}

	version, dirty, err := m.Version()
	if err != nil {
		fail(logger, m, err)
	}
	logger.Info("migrations complete", "command", cmd, "version", version, "dirty", dirty)
}

var errUsage = errors.New("usage: migrate [up|down|version|force <version>]")

func fail(logger *logging.Logger, m *db.Migrator, err error) {
	logger.Error("migrate failed", "error", err)
	m.Close()
	os.Exit(1)
}
