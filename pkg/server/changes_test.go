package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicdeploy/dbf-export/pkg/converter"
)

func rec(code, name string) converter.Row {
	return converter.Row{{Name: "Code", Value: code}, {Name: "Name", Value: name}}
}

func TestComputeChanges(t *testing.T) {
	first := []converter.Row{rec("101", "Record 1"), rec("102", "Record 2")}

	t.Run("No previous records", func(t *testing.T) {
		changes := ComputeChanges("Code", nil, first)
		assert.Equal(t, "update", changes.Type)
		assert.Equal(t, first, changes.Added)
		assert.Empty(t, changes.Deleted)
		assert.Equal(t, 2, changes.TotalCount)
	})

	t.Run("Added record", func(t *testing.T) {
		next := append(append([]converter.Row{}, first...), rec("103", "Record 3"))
		changes := ComputeChanges("Code", first, next)
		require.Len(t, changes.Added, 1)
		code, _ := changes.Added[0].Get("Code")
		assert.Equal(t, "103", code)
		assert.Empty(t, changes.Modified)
	})

	t.Run("Deleted record", func(t *testing.T) {
		changes := ComputeChanges("Code", first, first[:1])
		assert.Equal(t, []string{"102"}, changes.Deleted)
		assert.Equal(t, 1, changes.TotalCount)
	})

	t.Run("Modified record", func(t *testing.T) {
		next := []converter.Row{rec("101", "Record 1"), rec("102", "Changed")}
		changes := ComputeChanges("Code", first, next)
		require.Len(t, changes.Modified, 1)
		m := changes.Modified[0]
		assert.Equal(t, "102", m.Key)
		assert.Equal(t, map[string]FieldChange{"Name": {Old: "Record 2", New: "Changed"}}, m.Fields)
		assert.Equal(t, next[1], m.Record)
	})

	t.Run("Dropped field", func(t *testing.T) {
		next := []converter.Row{rec("101", "Record 1"), {{Name: "Code", Value: "102"}}}
		changes := ComputeChanges("Code", first, next)
		require.Len(t, changes.Modified, 1)
		assert.Equal(t, FieldChange{Old: "Record 2", New: nil}, changes.Modified[0].Fields["Name"])
	})

	t.Run("Unchanged", func(t *testing.T) {
		changes := ComputeChanges("Code", first, first)
		assert.True(t, changes.Empty())
	})

	t.Run("Without key field", func(t *testing.T) {
		next := []converter.Row{rec("101", "Record 1"), rec("102", "Changed")}
		changes := ComputeChanges("", first, next)
		assert.Empty(t, changes.Modified)
		require.Len(t, changes.Added, 1)
		require.Len(t, changes.Deleted, 1)
		assert.Equal(t, fingerprint(first[1]), changes.Deleted[0])
	})

	t.Run("Record without key uses its fingerprint", func(t *testing.T) {
		keyless := converter.Row{{Name: "Name", Value: "orphan"}}
		changes := ComputeChanges("Code", first, append(append([]converter.Row{}, first...), keyless))
		require.Len(t, changes.Added, 1)
		assert.Equal(t, keyless, changes.Added[0])
	})
}

func TestChangeSetIDs(t *testing.T) {
	a := InitialChangeSet(nil)
	b := ComputeChanges("", nil, nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "initial", a.Type)
	assert.NotNil(t, a.Added)
	assert.True(t, b.Empty())
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, fingerprint(rec("1", "a")), fingerprint(rec("1", "a")))
	assert.NotEqual(t, fingerprint(rec("1", "a")), fingerprint(rec("1", "b")))
	assert.Len(t, fingerprint(rec("1", "a")), 16)
}
