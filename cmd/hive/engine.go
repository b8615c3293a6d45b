package main

import (
	"fmt"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/coordinator"
	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/supervisor"
)

// buildEngine assembles the coordinator and its collaborators from a
// validated config. The returned cleanup closes what Shutdown does not own
// (the run-history database handle is shared with the journal and closed by
// the store).
func buildEngine(cfg *config.Config, runner supervisor.TaskRunner) (*coordinator.Coordinator, error) {
	opts := memory.Options{}
	var history coordinator.History

	if cfg.Memory.Encryption {
		sealer, err := memory.NewSealer(cfg.Memory.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("memory encryption: %w", err)
		}
		opts.Sealer = sealer
	}

	if cfg.Memory.Persistence {
		db, err := state.Open(cfg.MemoryDBPath())
		if err != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate state db: %w", err)
		}
		opts.Journal = state.NewMemoryJournal(db)
		history = state.NewRunStore(db)
	}

	if cfg.Memory.ReplicationURL != "" {
		replica, err := memory.NewRedisReplica(cfg.Memory.ReplicationURL, cfg.Memory.Namespace)
		if err != nil {
			return nil, fmt.Errorf("memory replication: %w", err)
		}
		opts.Replica = replica
	}

	store, err := memory.NewStore(opts)
	if err != nil {
		return nil, err
	}

	logger, err := coordinator.NewDebugLogger(cfg.DebugLog)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("debug log: %w", err)
	}

	coord, err := coordinator.New(cfg, coordinator.Options{
		Runner:  runner,
		Store:   store,
		History: history,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}
	return coord, nil
}
