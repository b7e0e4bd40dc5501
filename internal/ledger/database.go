package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	historyBucket  = "history"
	categoryBucket = "categories"
	settingsBucket = "settings"
)

// DB defines the persistence operations the application needs.
type DB interface {
	// AppendEntry appends a history entry, evicting the oldest entries
	// beyond the ledger cap.
	AppendEntry(entry *Entry) error

	// ListEntries returns all history entries, newest first.
	ListEntries() ([]*Entry, error)

	// GetEntry retrieves a history entry by ID.
	GetEntry(id string) (*Entry, error)

	// Categories returns the category set, sorted ascending.
	Categories() ([]string, error)

	// AddCategory inserts a category unless one differing only in case
	// already exists. Reports whether the set changed.
	AddCategory(name string) (bool, error)

	// DeleteCategory removes a category. Existing history entries keep
	// their category value.
	DeleteCategory(name string) error

	// RenameCategory renames a category and cascades the rename into
	// every history entry carrying the old name.
	RenameCategory(oldName, newName string) error

	// Setting reads a named settings slot; missing slots return "".
	Setting(key string) (string, error)

	// PutSetting writes a named settings slot.
	PutSetting(key, value string) error

	// Close closes the database.
	Close() error
}

// BoltDB implements DB on bbolt. History entries are keyed by an
// ascending sequence number so bucket order is insertion order;
// categories are keyed by their lowercased name so bucket order is the
// required case-insensitive sort and dedupe comes for free.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (creating if needed) a bolt database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{historyBucket, categoryBucket, settingsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// AppendEntry appends a history entry and evicts beyond the cap.
func (b *BoltDB) AppendEntry(entry *Entry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		if err := bucket.Put(itob(seq), data); err != nil {
			return err
		}

		// Evict oldest entries beyond the cap.
		cursor := bucket.Cursor()
		count := 0
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			count++
		}
		for count > MaxEntries {
			k, _ := bucket.Cursor().First()
			if k == nil {
				break
			}
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

// ListEntries returns all history entries, newest first.
func (b *BoltDB) ListEntries() ([]*Entry, error) {
	entries := make([]*Entry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(historyBucket)).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry: %w", err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetEntry retrieves a history entry by ID.
func (b *BoltDB) GetEntry(id string) (*Entry, error) {
	var found *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(historyBucket)).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry: %w", err)
			}
			if entry.ID == id {
				found = &entry
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("entry not found: %s", id)
	}
	return found, nil
}

// Categories returns the category set, sorted ascending.
func (b *BoltDB) Categories() ([]string, error) {
	categories := make([]string, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(categoryBucket)).ForEach(func(k, v []byte) error {
			categories = append(categories, string(v))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// AddCategory inserts a category, deduplicating case-insensitively.
func (b *BoltDB) AddCategory(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("category name is required")
	}

	added := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(categoryBucket))
		key := categoryKey(name)
		if bucket.Get(key) != nil {
			return nil
		}
		added = true
		return bucket.Put(key, []byte(name))
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// DeleteCategory removes a category from the set.
func (b *BoltDB) DeleteCategory(name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(categoryBucket)).Delete(categoryKey(name))
	})
}

// RenameCategory renames a category and rewrites matching history
// entries in place.
func (b *BoltDB) RenameCategory(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("category name is required")
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		categories := tx.Bucket([]byte(categoryBucket))

		oldKey := categoryKey(oldName)
		stored := categories.Get(oldKey)
		if stored == nil {
			return fmt.Errorf("category not found: %s", oldName)
		}
		newKey := categoryKey(newName)
		if !strings.EqualFold(oldName, newName) && categories.Get(newKey) != nil {
			return fmt.Errorf("category already exists: %s", newName)
		}
		if err := categories.Delete(oldKey); err != nil {
			return err
		}
		if err := categories.Put(newKey, []byte(newName)); err != nil {
			return err
		}

		// Cascade into history entries carrying the old name.
		history := tx.Bucket([]byte(historyBucket))
		cursor := history.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry: %w", err)
			}
			if !strings.EqualFold(entry.Category, oldName) {
				continue
			}
			entry.Category = newName
			data, err := json.Marshal(&entry)
			if err != nil {
				return fmt.Errorf("marshaling entry: %w", err)
			}
			if err := history.Put(k, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Setting reads a settings slot.
func (b *BoltDB) Setting(key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bbolt.Tx) error {
		value = string(tx.Bucket([]byte(settingsBucket)).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// PutSetting writes a settings slot.
func (b *BoltDB) PutSetting(key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(key), []byte(value))
	})
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func categoryKey(name string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(name)))
}

// itob returns an 8-byte big-endian representation of v, so sequence
// keys sort in insertion order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
