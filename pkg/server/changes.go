package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atomicdeploy/dbf-export/pkg/converter"
)

// FieldChange is the old and new value of one field of a modified record.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Modification is a record whose key survived a change with different content.
type Modification struct {
	Key    string                 `json:"key"`
	Record converter.Row          `json:"record"`
	Fields map[string]FieldChange `json:"fields"`
}

// ChangeSet represents incremental changes to the table
type ChangeSet struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  string          `json:"timestamp"`
	Added      []converter.Row `json:"added,omitempty"`
	Modified   []Modification  `json:"modified,omitempty"`
	Deleted    []string        `json:"deleted,omitempty"`
	TotalCount int             `json:"total_count"`
}

// Empty reports whether the change set carries no changes.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

func newChangeSet(kind string, total int) ChangeSet {
	return ChangeSet{
		ID:         uuid.NewString(),
		Type:       kind,
		Timestamp:  time.Now().Format(time.RFC3339),
		TotalCount: total,
	}
}

// InitialChangeSet reports every record as added.
func InitialChangeSet(records []converter.Row) ChangeSet {
	cs := newChangeSet("initial", len(records))
	cs.Added = records
	if cs.Added == nil {
		cs.Added = []converter.Row{}
	}
	return cs
}

// ComputeChanges computes the difference between old and new records. Records
// are matched by the value of keyField; without a key field, or for records
// lacking it, the whole record is the key, so an edit shows up as a deletion
// plus an addition. Added and modified records keep the order of newRecords,
// deleted keys the order of oldRecords.
func ComputeChanges(keyField string, oldRecords, newRecords []converter.Row) ChangeSet {
	changes := newChangeSet("update", len(newRecords))

	oldMap := make(map[string]converter.Row, len(oldRecords))
	for _, record := range oldRecords {
		oldMap[recordKey(keyField, record)] = record
	}
	newMap := make(map[string]converter.Row, len(newRecords))
	for _, record := range newRecords {
		newMap[recordKey(keyField, record)] = record
	}

	seen := make(map[string]bool, len(newRecords))
	for _, record := range newRecords {
		key := recordKey(keyField, record)
		if seen[key] {
			continue
		}
		seen[key] = true

		old, exists := oldMap[key]
		if !exists {
			changes.Added = append(changes.Added, newMap[key])
			continue
		}
		if fields := diffFields(keyField, old, newMap[key]); len(fields) > 0 {
			changes.Modified = append(changes.Modified, Modification{Key: key, Record: newMap[key], Fields: fields})
		}
	}

	gone := make(map[string]bool)
	for _, record := range oldRecords {
		key := recordKey(keyField, record)
		if _, exists := newMap[key]; !exists && !gone[key] {
			gone[key] = true
			changes.Deleted = append(changes.Deleted, key)
		}
	}

	return changes
}

// recordKey identifies a record by its key field value, or by a content
// fingerprint.
func recordKey(keyField string, record converter.Row) string {
	if keyField != "" {
		if v, ok := record.Get(keyField); ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
	}
	return fingerprint(record)
}

func fingerprint(record converter.Row) string {
	data, err := record.MarshalJSON()
	if err != nil {
		data = []byte(fmt.Sprintf("%v", record))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// diffFields lists the fields whose values differ between two versions of a record.
func diffFields(keyField string, oldRecord, newRecord converter.Row) map[string]FieldChange {
	changes := make(map[string]FieldChange)

	for _, f := range newRecord {
		if f.Name == keyField {
			continue
		}
		oldVal, _ := oldRecord.Get(f.Name)
		if fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", f.Value) {
			changes[f.Name] = FieldChange{Old: oldVal, New: f.Value}
		}
	}
	// Fields that existed in old but not in new
	for _, f := range oldRecord {
		if f.Name == keyField {
			continue
		}
		if _, exists := newRecord.Get(f.Name); !exists {
			changes[f.Name] = FieldChange{Old: f.Value, New: nil}
		}
	}

	return changes
}
