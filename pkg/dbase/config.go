package dbase

// DefaultMaxMemoSize bounds a single memo payload and the 0x1A 0x1A terminator scan.
const DefaultMaxMemoSize = 4 << 20

// FieldErrorPolicy decides what Rows.Next does when a field fails to decode.
type FieldErrorPolicy int

const (
	// FailRecord returns the first field or memo error instead of the record.
	// Iteration can continue with the next record.
	FailRecord FieldErrorPolicy = iota
	// MarkInvalid returns the record with KindInvalid values in the failing
	// fields; the errors are available from Record.Errors.
	MarkInvalid
)

// Config controls how a table is opened and decoded. The zero value is the
// default configuration.
type Config struct {
	SkipDeleted         bool             // Skip records flagged deleted instead of surfacing them.
	AllowDuplicateNames bool             // Accept duplicate field names; lookup by name returns the last one.
	PassThroughUnknown  bool             // Decode unknown field types as raw bytes instead of failing to open.
	FieldErrors         FieldErrorPolicy // Field decode failure handling.
	MaxMemoSize         int              // Bound for one memo payload; 0 means DefaultMaxMemoSize.
	MemoCacheSize       int              // Number of memo blocks kept in an LRU cache; 0 disables caching.
	MemoPath            string           // Explicit memo file for OpenWithConfig; empty means look next to the table.
}

// DefaultConfig returns the default configuration: deleted records surfaced,
// duplicate names and unknown types rejected, field errors failing the record.
func DefaultConfig() Config {
	return Config{MaxMemoSize: DefaultMaxMemoSize}
}

func (c Config) withDefaults() Config {
	if c.MaxMemoSize <= 0 {
		c.MaxMemoSize = DefaultMaxMemoSize
	}
	return c
}
