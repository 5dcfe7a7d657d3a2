package receipt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	batchBucketName = "batches"
	usageBucketName = "usage"
)

// DB defines the interface for database operations
type DB interface {
	// SaveBatch stores a processed batch
	SaveBatch(batch *BatchResult) error

	// GetBatch retrieves a batch by ID, or ErrBatchNotFound
	GetBatch(id string) (*BatchResult, error)

	// ListBatches returns the client's batches, newest first
	ListBatches(clientID string) ([]*BatchResult, error)

	// IncrementUsage atomically adds one tax lookup to the client's count for
	// day and returns the new count
	IncrementUsage(day, clientID string) (int, error)

	// GetUsage returns the client's lookup count for day
	GetUsage(day, clientID string) (int, error)

	// DailyUsage returns the lookup count of all clients for day
	DailyUsage(day string) (int, error)

	// Close closes the database connection
	Close() error
}

// storedBatch keeps the fields BatchResult hides from API responses.
type storedBatch struct {
	*BatchResult
	ClientID string        `json:"client_id"`
	Paths    []storedPaths `json:"paths"`
}

type storedPaths struct {
	Renamed    string `json:"renamed,omitempty"`
	Visualized string `json:"visualized,omitempty"`
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(batchBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(usageBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveBatch saves a batch to the database
func (b *BoltDB) SaveBatch(batch *BatchResult) error {
	stored := storedBatch{BatchResult: batch, ClientID: batch.ClientID}
	for _, o := range batch.Outcomes {
		stored.Paths = append(stored.Paths, storedPaths{Renamed: o.RenamedPath, Visualized: o.VisualizedPath})
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling batch: %w", err)
		}
		return bucket.Put([]byte(batch.ID), data)
	})
}

// GetBatch retrieves a batch by ID
func (b *BoltDB) GetBatch(id string) (*BatchResult, error) {
	var batch *BatchResult
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		var err error
		batch, err = decodeBatch(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// ListBatches returns all batches of one client
func (b *BoltDB) ListBatches(clientID string) ([]*BatchResult, error) {
	batches := make([]*BatchResult, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			batch, err := decodeBatch(v)
			if err != nil {
				return err
			}
			if batch.ClientID == clientID {
				batches = append(batches, batch)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})
	return batches, nil
}

func decodeBatch(data []byte) (*BatchResult, error) {
	stored := storedBatch{BatchResult: &BatchResult{}}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshaling batch: %w", err)
	}
	batch := stored.BatchResult
	batch.ClientID = stored.ClientID
	for i := range batch.Outcomes {
		if i < len(stored.Paths) {
			batch.Outcomes[i].RenamedPath = stored.Paths[i].Renamed
			batch.Outcomes[i].VisualizedPath = stored.Paths[i].Visualized
		}
	}
	return batch, nil
}

// IncrementUsage bumps the per-day, per-client counter inside one write
// transaction; bbolt serializes writers, so concurrent increments never lose counts.
func (b *BoltDB) IncrementUsage(day, clientID string) (int, error) {
	var count uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		dayBucket, err := tx.Bucket([]byte(usageBucketName)).CreateBucketIfNotExists([]byte(day))
		if err != nil {
			return fmt.Errorf("creating usage bucket: %w", err)
		}
		count = decodeCount(dayBucket.Get([]byte(clientID))) + 1
		return dayBucket.Put([]byte(clientID), encodeCount(count))
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetUsage returns one client's count for day
func (b *BoltDB) GetUsage(day, clientID string) (int, error) {
	var count uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		dayBucket := tx.Bucket([]byte(usageBucketName)).Bucket([]byte(day))
		if dayBucket != nil {
			count = decodeCount(dayBucket.Get([]byte(clientID)))
		}
		return nil
	})
	return int(count), err
}

// DailyUsage returns the total count for day
func (b *BoltDB) DailyUsage(day string) (int, error) {
	var total uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		dayBucket := tx.Bucket([]byte(usageBucketName)).Bucket([]byte(day))
		if dayBucket == nil {
			return nil
		}
		return dayBucket.ForEach(func(k, v []byte) error {
			total += decodeCount(v)
			return nil
		})
	})
	return int(total), err
}

func encodeCount(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeCount(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
