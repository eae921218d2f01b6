package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

var (
	// Bucket names
	bucketDeployments  = []byte("deployments")
	bucketAuditEvents  = []byte("audit_events")
	bucketRecovery     = []byte("recovery_attempts")
	bucketBudgetConfig = []byte("budget_configs")
	bucketBudgetSpend  = []byte("budget_spend")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir and
// ensures all buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "mobius.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDeployments,
			bucketAuditEvents,
			bucketRecovery,
			bucketBudgetConfig,
			bucketBudgetSpend,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Deployment operations

func (s *BoltStore) SaveDeployment(result *types.DeploymentResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put([]byte(result.ID), data)
	})
}

func (s *BoltStore) GetDeployment(id string) (*types.DeploymentResult, error) {
	var result types.DeploymentResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDeployments returns the workspace's deployments, newest first.
// An empty workspaceID returns everything.
func (s *BoltStore) ListDeployments(workspaceID string) ([]*types.DeploymentResult, error) {
	var results []*types.DeploymentResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var result types.DeploymentResult
			if err := json.Unmarshal(v, &result); err != nil {
				return err
			}
			if workspaceID != "" && result.WorkspaceID != workspaceID {
				return nil
			}
			results = append(results, &result)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	return results, nil
}

func (s *BoltStore) LatestDeployment(workspaceID string) (*types.DeploymentResult, error) {
	results, err := s.ListDeployments(workspaceID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no deployments for workspace %s: %w", workspaceID, ErrNotFound)
	}
	return results[0], nil
}

// Audit operations
//
// Keys are zero-padded nanosecond timestamps plus the event ID, so a
// cursor walks the trail in emission order.

func auditKey(event *events.Event) []byte {
	return []byte(fmt.Sprintf("%020d/%s", event.Timestamp.UnixNano(), event.ID))
}

func (s *BoltStore) AppendAuditEvent(event *events.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuditEvents)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(auditKey(event), data)
	})
}

// ListAuditEvents returns events at or after since, oldest first.
// A limit <= 0 means no cap.
func (s *BoltStore) ListAuditEvents(since time.Time, limit int) ([]*events.Event, error) {
	var list []*events.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAuditEvents).Cursor()
		k, v := c.First()
		if !since.IsZero() {
			k, v = c.Seek([]byte(fmt.Sprintf("%020d", since.UnixNano())))
		}
		for ; k != nil; k, v = c.Next() {
			var event events.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			list = append(list, &event)
			if limit > 0 && len(list) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Recovery operations

func (s *BoltStore) SaveRecoveryAttempt(attempt types.RecoveryAttemptResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecovery)
		data, err := json.Marshal(attempt)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d/%s/%s", attempt.StartedAt.UnixNano(), attempt.Component, attempt.Action)
		return b.Put([]byte(key), data)
	})
}

// ListRecoveryAttempts returns attempts newest first, optionally
// filtered by component. A limit <= 0 means no cap.
func (s *BoltStore) ListRecoveryAttempts(component string, limit int) ([]types.RecoveryAttemptResult, error) {
	var list []types.RecoveryAttemptResult
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecovery).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var attempt types.RecoveryAttemptResult
			if err := json.Unmarshal(v, &attempt); err != nil {
				return err
			}
			if component != "" && attempt.Component != component {
				continue
			}
			list = append(list, attempt)
			if limit > 0 && len(list) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Budget operations

func (s *BoltStore) SaveBudgetConfig(workspaceID string, cfg types.BudgetConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBudgetConfig)
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(workspaceID), data)
	})
}

func (s *BoltStore) GetBudgetConfig(workspaceID string) (*types.BudgetConfig, error) {
	var cfg types.BudgetConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBudgetConfig)
		data := b.Get([]byte(workspaceID))
		if data == nil {
			return fmt.Errorf("budget config for workspace %s: %w", workspaceID, ErrNotFound)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func spendKey(workspaceID, month string) []byte {
	return []byte(strings.Join([]string{workspaceID, month}, "/"))
}

// AddSpend accumulates amount onto the workspace's monthly total inside
// one transaction and returns the new total.
func (s *BoltStore) AddSpend(workspaceID, month string, amount float64) (float64, error) {
	var total float64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBudgetSpend)
		key := spendKey(workspaceID, month)
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &total); err != nil {
				return err
			}
		}
		total += amount
		data, err := json.Marshal(total)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetSpend returns the workspace's accumulated total for the month.
// A month with no recorded spend is 0, not an error.
func (s *BoltStore) GetSpend(workspaceID, month string) (float64, error) {
	var total float64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBudgetSpend)
		data := b.Get(spendKey(workspaceID, month))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &total)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
