package dbase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// File is a seekable, randomly readable byte source such as *os.File or
// *bytes.Reader.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Table is an open dbf table and its optional memo file.
type Table struct {
	data       File
	memo       *memoFile
	header     Header
	schema     *schema
	dialect    MemoDialect
	decoder    *recordDecoder
	cfg        Config
	closers    []io.Closer
	memoPath   string
	rowsIssued bool
	closed     bool
}

// Open opens the table at path with the default configuration, attaching the
// sibling .dbt/.fpt memo file when the table expects one.
func Open(path string) (*Table, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig opens the table at path. When the table expects a memo file
// and none is found, the table still opens; memo fields with content then
// fail with ErrMemoFileMissing.
func OpenWithConfig(path string, cfg Config) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}

	t, err := NewTable(file, nil, cfg)
	if err != nil {
		file.Close()
		return nil, err
	}
	t.closers = append(t.closers, file)

	if t.dialect == MemoNone {
		return t, nil
	}
	memoPath := cfg.MemoPath
	if memoPath == "" {
		var ok bool
		if memoPath, ok = FindMemoFile(path, t.dialect); !ok {
			return t, nil
		}
	}
	memo, err := os.Open(memoPath)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to open memo file: %w", err)
	}
	t.closers = append(t.closers, memo)
	if err := t.attachMemo(memo); err != nil {
		t.Close()
		return nil, err
	}
	t.memoPath = memoPath
	return t, nil
}

// NewTable decodes the header and field descriptors of data. memo may be nil.
// The table reads data sequentially from the end of the header; it does not
// close the sources unless they were opened by OpenWithConfig.
func NewTable(data File, memo File, cfg Config) (*Table, error) {
	cfg = cfg.withDefaults()
	if _, err := data.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek table: %w", err)
	}
	h, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	region := make([]byte, int(h.HeaderLength)-headerSize)
	if _, err := io.ReadFull(data, region); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &StructuralError{Offset: headerSize, Err: fmt.Errorf("%w: header length %d", ErrShortHeader, h.HeaderLength)}
		}
		return nil, fmt.Errorf("failed to read field descriptors: %w", err)
	}
	s, err := parseDescriptors(region, h, cfg)
	if err != nil {
		return nil, err
	}

	t := &Table{
		data:    data,
		header:  h,
		schema:  s,
		dialect: effectiveDialect(h, s),
		cfg:     cfg,
	}
	t.decoder = &recordDecoder{schema: s, version: h.Version, policy: cfg.FieldErrors}

	if memo != nil && t.dialect != MemoNone {
		if err := t.attachMemo(memo); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// effectiveDialect is the header's memo dialect, or a guess from the version
// family when memo fields exist but the header does not flag a memo file.
func effectiveDialect(h Header, s *schema) MemoDialect {
	if h.Memo != MemoNone {
		return h.Memo
	}
	for _, f := range s.fields {
		if f.IsMemo(h.Version) {
			if h.Version.FoxPro() {
				return MemoFoxPro
			}
			return MemoDBase
		}
	}
	return MemoNone
}

func (t *Table) attachMemo(memo File) error {
	size, err := memo.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to size memo file: %w", err)
	}
	m, err := openMemo(memo, size, t.dialect, t.header.Version, t.cfg.MaxMemoSize)
	if err != nil {
		return err
	}
	t.memo = m
	t.decoder.memo = m
	if t.cfg.MemoCacheSize > 0 {
		cached, err := newCachedMemo(m, t.cfg.MemoCacheSize)
		if err != nil {
			return err
		}
		t.decoder.memo = cached
	}
	return nil
}

// FindMemoFile looks for the memo file belonging to the table at path, trying
// the dialect's extension in either case before a case-insensitive directory scan.
func FindMemoFile(path string, dialect MemoDialect) (string, bool) {
	ext := dialect.Extension()
	if ext == "" {
		return "", false
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return "", false
	}
	want := filepath.Base(base) + ext
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), want) {
			return filepath.Join(filepath.Dir(path), e.Name()), true
		}
	}
	return "", false
}

// Header returns the decoded table header.
func (t *Table) Header() Header { return t.header }

// Schema returns the field descriptors in record order.
func (t *Table) Schema() []FieldDescriptor { return slices.Clone(t.schema.fields) }

// Field looks up a descriptor by name, exactly first and then ignoring case.
func (t *Table) Field(name string) (FieldDescriptor, bool) {
	i, ok := t.schema.lookup(name)
	if !ok {
		return FieldDescriptor{}, false
	}
	return t.schema.fields[i], true
}

// NumRecords returns the record count declared by the header.
func (t *Table) NumRecords() int { return int(t.header.RecordCount) }

// NumFields returns the number of field descriptors.
func (t *Table) NumFields() int { return len(t.schema.fields) }

// MemoDialect returns the memo layout the table's memo fields are read with.
func (t *Table) MemoDialect() MemoDialect { return t.dialect }

// MemoHeader returns the memo file header, or false when no memo file is attached.
func (t *Table) MemoHeader() (MemoHeader, bool) {
	if t.memo == nil {
		return MemoHeader{}, false
	}
	return t.memo.header, true
}

// MemoPath returns the path of the memo file opened by OpenWithConfig, if any.
func (t *Table) MemoPath() string { return t.memoPath }

// Rows returns the record iterator. It can be obtained once per table.
func (t *Table) Rows() (*Rows, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if t.rowsIssued {
		return nil, ErrRowsInUse
	}
	if _, err := t.data.Seek(int64(t.header.HeaderLength), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to first record: %w", err)
	}
	t.rowsIssued = true
	return &Rows{t: t, buf: make([]byte, t.header.RecordLength)}, nil
}

// Close releases the files opened by OpenWithConfig. It is safe to call more than once.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var errs []error
	for _, c := range t.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}
