package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/internal/state"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage persisted swarm memory",
}

var memoryExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the persisted memory store to a zstd snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryExport,
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a zstd snapshot into the persisted memory store",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryImport,
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print statistics for the persisted memory store",
	RunE:  runMemoryStats,
}

func init() {
	memoryCmd.AddCommand(memoryExportCmd)
	memoryCmd.AddCommand(memoryImportCmd)
	memoryCmd.AddCommand(memoryStatsCmd)
}

// openPersistedStore loads the journal-backed store regardless of the
// persistence flag; the memory commands only make sense against the
// persisted database.
func openPersistedStore(cfg *config.Config) (*memory.Store, error) {
	db, err := state.Open(cfg.MemoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}

	opts := memory.Options{Journal: state.NewMemoryJournal(db)}
	if cfg.Memory.Encryption {
		sealer, err := memory.NewSealer(cfg.Memory.EncryptionKey)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts.Sealer = sealer
	}
	return memory.NewStore(opts)
}

func runMemoryExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openPersistedStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := store.Export(f); err != nil {
		return err
	}
	st := store.Stats()
	fmt.Printf("Exported %d entries (%d tombstones) to %s\n", st.Entries, st.Tombstones, args[0])
	return nil
}

func runMemoryImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openPersistedStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	applied, err := store.Import(f)
	if err != nil {
		return err
	}
	if err := store.Flush(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Imported %d records from %s\n", applied, args[0])
	return nil
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openPersistedStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	st := store.Stats()
	fmt.Printf("namespaces: %d\nentries:    %d\ntombstones: %d\nbytes:      %d\n",
		st.Namespaces, st.Entries, st.Tombstones, st.Bytes)
	return nil
}
