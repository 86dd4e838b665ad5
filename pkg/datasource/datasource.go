package datasource

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/atomicdeploy/dbf-export/pkg/converter"
	"github.com/atomicdeploy/dbf-export/pkg/dbase"
	"github.com/atomicdeploy/dbf-export/pkg/filecopy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DataSource represents an abstract data source that can be either a dbf table or JSON file
type DataSource interface {
	// GetRecords returns all records from the data source
	GetRecords() ([]converter.Row, error)
	// GetPath returns the file path of the data source
	GetPath() string
	// WatchPaths returns the files whose changes change the records
	WatchPaths() []string
	// Close closes the data source
	Close() error
}

// Info describes a table for the info endpoint and command.
type Info struct {
	File       string      `json:"file"`
	Version    string      `json:"version"`
	LastUpdate string      `json:"last_update,omitempty"`
	NumRecords int         `json:"num_records"`
	NumFields  int         `json:"num_fields"`
	RecordLen  int         `json:"record_length"`
	HeaderLen  int         `json:"header_length"`
	CodePage   string      `json:"code_page,omitempty"`
	MemoFile   string      `json:"memo_file,omitempty"`
	MemoType   string      `json:"memo_type"`
	Fields     []FieldInfo `json:"fields"`
}

// FieldInfo is the JSON form of a field descriptor.
type FieldInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	TypeName string `json:"type_name"`
	Length   int    `json:"length"`
	Decimals int    `json:"decimals"`
	Offset   int    `json:"offset"`
}

// Describer is implemented by sources that can report table metadata.
type Describer interface {
	Describe() (*Info, error)
}

// DbfDataSource represents a dBASE/FoxPro table and its memo file
type DbfDataSource struct {
	path     string
	cfg      dbase.Config
	exporter *converter.Exporter
	snapshot bool
}

// JSONDataSource represents a JSON file written by the convert command
type JSONDataSource struct {
	path string
}

// Options configures NewDataSource.
type Options struct {
	Table    dbase.Config
	Export   converter.Options
	Snapshot bool // read tables through a private copy
}

// NewDataSource creates a new data source based on the file extension
func NewDataSource(path string, opts Options) (DataSource, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		return &JSONDataSource{path: path}, nil
	case ".dbf":
		return &DbfDataSource{
			path:     path,
			cfg:      opts.Table,
			exporter: converter.NewExporter(opts.Export),
			snapshot: opts.Snapshot,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s (expected .dbf or .json)", ext)
	}
}

// Open opens the table, from a snapshot when configured. The returned cleanup
// closes the table and removes the snapshot.
func (d *DbfDataSource) Open() (*dbase.Table, func(), error) {
	path, cfg := d.path, d.cfg
	var snap *filecopy.Snapshot
	if d.snapshot {
		var err error
		snap, err = filecopy.SnapshotTable(d.path, d.memoPath())
		if err != nil {
			return nil, nil, err
		}
		path = snap.TablePath
		if snap.MemoPath != "" {
			cfg.MemoPath = snap.MemoPath
		}
	}

	tbl, err := dbase.OpenWithConfig(path, cfg)
	if err != nil {
		snap.Cleanup()
		return nil, nil, fmt.Errorf("failed to open table: %w", err)
	}
	return tbl, func() {
		tbl.Close()
		snap.Cleanup()
	}, nil
}

// memoPath finds the memo file of the table by probing both extensions.
func (d *DbfDataSource) memoPath() string {
	if d.cfg.MemoPath != "" {
		return d.cfg.MemoPath
	}
	for _, dialect := range []dbase.MemoDialect{dbase.MemoDBase, dbase.MemoFoxPro} {
		if p, ok := dbase.FindMemoFile(d.path, dialect); ok {
			return p
		}
	}
	return ""
}

// expectedMemoPath is where the memo file of a table with memo fields would
// be, whether or not it exists yet.
func (d *DbfDataSource) expectedMemoPath() string {
	if p := d.memoPath(); p != "" {
		return p
	}
	tbl, err := dbase.OpenWithConfig(d.path, d.cfg)
	if err != nil {
		return ""
	}
	defer tbl.Close()
	ext := tbl.MemoDialect().Extension()
	if ext == "" {
		return ""
	}
	return strings.TrimSuffix(d.path, filepath.Ext(d.path)) + ext
}

// GetRecords implements DataSource for DbfDataSource
func (d *DbfDataSource) GetRecords() ([]converter.Row, error) {
	tbl, done, err := d.Open()
	if err != nil {
		return nil, err
	}
	defer done()

	rows, err := tbl.Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	records, _, err := d.exporter.Collect(rows)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Describe implements Describer
func (d *DbfDataSource) Describe() (*Info, error) {
	tbl, done, err := d.Open()
	if err != nil {
		return nil, err
	}
	defer done()
	return Describe(tbl, d.path), nil
}

// Describe collects the metadata of an open table. path is reported as the file name.
func Describe(tbl *dbase.Table, path string) *Info {
	h := tbl.Header()
	info := &Info{
		File:       filepath.Base(path),
		Version:    h.Version.String(),
		NumRecords: tbl.NumRecords(),
		NumFields:  tbl.NumFields(),
		RecordLen:  int(h.RecordLength),
		HeaderLen:  int(h.HeaderLength),
		CodePage:   h.CodePageName(),
		MemoType:   tbl.MemoDialect().String(),
	}
	for _, f := range tbl.Schema() {
		info.Fields = append(info.Fields, FieldInfo{
			Name:     f.Name,
			Type:     string(rune(f.Type)),
			TypeName: f.Type.String(),
			Length:   f.Length,
			Decimals: f.Decimals,
			Offset:   f.Offset,
		})
	}
	if t, ok := h.LastUpdate(); ok {
		info.LastUpdate = t.Format("2006-01-02")
	}
	if p := tbl.MemoPath(); p != "" {
		info.MemoFile = filepath.Base(p)
	}
	return info
}

// Exporter returns the exporter records are shaped with.
func (d *DbfDataSource) Exporter() *converter.Exporter { return d.exporter }

// GetPath implements DataSource for DbfDataSource
func (d *DbfDataSource) GetPath() string {
	return d.path
}

// WatchPaths implements DataSource for DbfDataSource. The memo path is
// reported even before the file exists.
func (d *DbfDataSource) WatchPaths() []string {
	if p := d.expectedMemoPath(); p != "" {
		return []string{d.path, p}
	}
	return []string{d.path}
}

// Close implements DataSource for DbfDataSource
func (d *DbfDataSource) Close() error {
	return nil
}

// GetRecords implements DataSource for JSONDataSource. The file holds either
// an array of records or an object of records keyed by a field value.
func (j *JSONDataSource) GetRecords() ([]converter.Row, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []converter.Row
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		if records == nil {
			records = []converter.Row{}
		}
		return records, nil
	}

	var keyed map[string]converter.Row
	if err := json.Unmarshal(data, &keyed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	keys := make([]string, 0, len(keyed))
	for key := range keyed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	records := make([]converter.Row, 0, len(keyed))
	for _, key := range keys {
		records = append(records, keyed[key])
	}
	return records, nil
}

// GetPath implements DataSource for JSONDataSource
func (j *JSONDataSource) GetPath() string {
	return j.path
}

// WatchPaths implements DataSource for JSONDataSource
func (j *JSONDataSource) WatchPaths() []string {
	return []string{j.path}
}

// Close implements DataSource for JSONDataSource
func (j *JSONDataSource) Close() error {
	return nil
}
