package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/framesnap/framesnap/internal/config"
	"github.com/framesnap/framesnap/internal/db"
	"github.com/framesnap/framesnap/internal/job"
	"github.com/framesnap/framesnap/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			c.configErr = fmt.Errorf("create data dir: %w", err)
			return
		}
		level := cfg.LogLevel
		if cfg.Debug {
			level = "debug"
		}
		c.config = cfg
		c.logger = logging.New(os.Stderr, level)
	})
	return c.config, c.configErr
}

// acquireLock takes the data directory lock. The server and the foreground
// commands share frame and job storage, so only one of them may run at a time.
func acquireLock(cfg *config.Config) (*flock.Flock, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another framesnap instance is using " + cfg.DataDir)
	}
	return lock, nil
}

// openJobStore returns the configured job store and a function releasing it.
// With persistence enabled, jobs left unfinished by a previous process are
// marked failed.
func openJobStore(cfg *config.Config, logger *slog.Logger) (job.JobStore, func(), error) {
	if !cfg.PersistJobs {
		return job.NewStore(), func() {}, nil
	}

	dbStore, err := db.NewStore(cfg.DBDir())
	if err != nil {
		return nil, nil, fmt.Errorf("open job database: %w", err)
	}

	jobs := job.NewPersistentStore(dbStore)
	n, err := jobs.RecoverInterrupted()
	if err != nil {
		dbStore.Close()
		return nil, nil, fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", n)
	}

	return jobs, func() {
		if err := dbStore.Close(); err != nil {
			logger.Warn("close job database", logging.Err(err))
		}
	}, nil
}
