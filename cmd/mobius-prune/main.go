package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	dataDir    = flag.String("data-dir", "./mobius-data", "Mobius data directory")
	keep       = flag.Duration("keep", 30*24*time.Hour, "Retention window; older records are pruned")
	dryRun     = flag.Bool("dry-run", false, "Show what would be pruned without making changes")
	backupPath = flag.String("backup", "", "Path to backup the database before pruning (default: <data-dir>/mobius.db.backup)")
)

// Buckets with zero-padded nanosecond timestamp keys, prunable by key
// comparison alone.
var timeKeyedBuckets = [][]byte{
	[]byte("audit_events"),
	[]byte("recovery_attempts"),
}

var deploymentsBucket = []byte("deployments")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Mobius Retention Pruning Tool")
	log.Println("=============================")

	dbPath := filepath.Join(*dataDir, "mobius.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	cutoff := time.Now().Add(-*keep)
	log.Printf("Database: %s", dbPath)
	log.Printf("Cutoff: %s (keeping %s)", cutoff.Format(time.RFC3339), *keep)
	log.Printf("Dry run: %v", *dryRun)

	// Create backup unless in dry-run mode
	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := pruneExpired(db, cutoff, *dryRun); err != nil {
		log.Fatalf("Pruning failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to prune.")
	} else {
		log.Println("\n✓ Pruning completed successfully!")
		log.Println("Budget configuration and spend records are never pruned.")
	}
}

func pruneExpired(db *bolt.DB, cutoff time.Time, dryRun bool) error {
	cutoffKey := []byte(fmt.Sprintf("%020d", cutoff.UnixNano()))

	// First, inspect what exists
	expired := make(map[string][][]byte)
	err := db.View(func(tx *bolt.Tx) error {
		for _, name := range timeKeyedBuckets {
			b := tx.Bucket(name)
			if b == nil {
				continue
			}
			c := b.Cursor()
			for k, _ := c.First(); k != nil && bytes.Compare(k, cutoffKey) < 0; k, _ = c.Next() {
				expired[string(name)] = append(expired[string(name)], append([]byte(nil), k...))
			}
		}

		b := tx.Bucket(deploymentsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var record struct {
				StartedAt time.Time `json:"started_at"`
			}
			if err := json.Unmarshal(v, &record); err != nil {
				log.Printf("⚠ Warning: Skipping invalid JSON for key %s: %v", k, err)
				return nil
			}
			if record.StartedAt.Before(cutoff) {
				expired[string(deploymentsBucket)] = append(expired[string(deploymentsBucket)], append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	total := 0
	for name, keys := range expired {
		log.Printf("Found %d expired records in %s", len(keys), name)
		total += len(keys)
	}
	if total == 0 {
		log.Println("✓ No expired records found")
		return nil
	}

	if dryRun {
		log.Printf("\n[DRY RUN] Would delete %d records across %d buckets", total, len(expired))
		return nil
	}

	// Perform pruning
	log.Println("\nPruning expired records...")
	deleted := 0
	err = db.Update(func(tx *bolt.Tx) error {
		for name, keys := range expired {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return fmt.Errorf("failed to delete %s from %s: %w", k, name, err)
				}
				deleted++
				if deleted%100 == 0 {
					log.Printf("  Pruned %d/%d...", deleted, total)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("✓ Pruned %d/%d expired records", deleted, total)
	return nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
