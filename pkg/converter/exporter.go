package converter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/atomicdeploy/dbf-export/pkg/dbase"
)

// ExportFormat represents the export format type
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(s)); f {
	case FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format: %s (supported: json, csv)", s)
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Options shapes exported records.
type Options struct {
	// KeyField keys JSON output by this field's value instead of writing an array.
	KeyField string
	// SkipPrefixes drops fields whose name starts with any of these.
	SkipPrefixes []string
	// GroupNumbered folds numbered fields BASE1..BASEn into one BASE array.
	GroupNumbered []string
	// IncludeDeleted exports records carrying the deletion flag.
	IncludeDeleted bool
	// ContinueOnError skips records whose fields fail to decode instead of
	// aborting. Truncation and I/O errors always abort.
	ContinueOnError bool
	// OnSkip is called for every record skipped under ContinueOnError.
	OnSkip func(err error)
}

// Stats counts what an export wrote and left out.
type Stats struct {
	Written int
	Deleted int
	Skipped int
}

// Exporter handles exporting dbf records
type Exporter struct {
	opts   Options
	groups []*regexp.Regexp
}

// NewExporter creates a new exporter
func NewExporter(opts Options) *Exporter {
	e := &Exporter{opts: opts}
	for _, base := range opts.GroupNumbered {
		e.groups = append(e.groups, regexp.MustCompile(`^`+regexp.QuoteMeta(base)+`([1-9]\d*)$`))
	}
	return e
}

// Options returns the exporter's options.
func (e *Exporter) Options() Options { return e.opts }

// ExportToJSON exports the remaining rows to a JSON file
func (e *Exporter) ExportToJSON(rows *dbase.Rows, outputPath string) (Stats, error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	stats, err := e.ExportToJSONWriter(rows, file)
	if err != nil {
		return stats, err
	}
	return stats, file.Close()
}

// ExportToJSONWriter streams rows as JSON, one record per line. Records keep
// the table's field order. With a KeyField the output is an object keyed by
// that field, otherwise an array.
func (e *Exporter) ExportToJSONWriter(rows *dbase.Rows, w io.Writer) (Stats, error) {
	stream := jsonAPI.BorrowStream(w)
	defer jsonAPI.ReturnStream(stream)

	keyed := e.opts.KeyField != ""
	if keyed {
		stream.WriteRaw("{")
	} else {
		stream.WriteRaw("[")
	}

	first := true
	stats, err := e.each(rows, func(row Row) error {
		if !first {
			stream.WriteRaw(",")
		}
		first = false
		stream.WriteRaw("\n  ")
		if keyed {
			key, err := e.key(row)
			if err != nil {
				return err
			}
			stream.WriteObjectField(key)
		}
		writeRow(stream, row)
		if stream.Buffered() > 64*1024 {
			return flush(stream)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if !first {
		stream.WriteRaw("\n")
	}
	if keyed {
		stream.WriteRaw("}\n")
	} else {
		stream.WriteRaw("]\n")
	}
	return stats, flush(stream)
}

func flush(stream *jsoniter.Stream) error {
	if stream.Error != nil {
		return fmt.Errorf("failed to write JSON: %w", stream.Error)
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

func writeRow(stream *jsoniter.Stream, row Row) {
	stream.WriteObjectStart()
	for i, f := range row {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(f.Name)
		stream.WriteVal(f.Value)
	}
	stream.WriteObjectEnd()
}

func (e *Exporter) key(row Row) (string, error) {
	v, ok := row.Get(e.opts.KeyField)
	if !ok {
		return "", fmt.Errorf("key field %q not found", e.opts.KeyField)
	}
	return fmt.Sprint(v), nil
}

// ExportToCSV exports the remaining rows to a CSV file
func (e *Exporter) ExportToCSV(rows *dbase.Rows, fields []dbase.FieldDescriptor, outputPath string) (Stats, error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	stats, err := e.ExportToCSVWriter(rows, fields, file)
	if err != nil {
		return stats, err
	}
	return stats, file.Close()
}

// ExportToCSVWriter writes a header row and one row per record. Fields matching
// SkipPrefixes are left out; numbered fields are not grouped.
func (e *Exporter) ExportToCSVWriter(rows *dbase.Rows, fields []dbase.FieldDescriptor, w io.Writer) (Stats, error) {
	writer := csv.NewWriter(w)

	var columns []int
	var header []string
	for i, f := range fields {
		if e.skipped(f.Name) {
			continue
		}
		columns = append(columns, i)
		header = append(header, f.Name)
	}
	if err := writer.Write(header); err != nil {
		return Stats{}, fmt.Errorf("failed to write CSV header: %w", err)
	}

	line := make([]string, len(columns))
	stats, err := e.eachRecord(rows, func(rec *dbase.Record) error {
		for j, i := range columns {
			line[j] = FormatValue(rec.Value(i))
		}
		if err := writer.Write(line); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return stats, fmt.Errorf("failed to write CSV: %w", err)
	}
	return stats, nil
}

// Collect reads the remaining rows into memory, transformed.
func (e *Exporter) Collect(rows *dbase.Rows) ([]Row, Stats, error) {
	var out []Row
	stats, err := e.each(rows, func(row Row) error {
		out = append(out, row)
		return nil
	})
	return out, stats, err
}

// CollectKeyed reads the remaining rows into a map keyed by KeyField. Later
// records replace earlier ones with the same key.
func (e *Exporter) CollectKeyed(rows *dbase.Rows) (map[string]Row, Stats, error) {
	if e.opts.KeyField == "" {
		return nil, Stats{}, errors.New("no key field configured")
	}
	out := make(map[string]Row)
	stats, err := e.each(rows, func(row Row) error {
		key, err := e.key(row)
		if err != nil {
			return err
		}
		out[key] = row
		return nil
	})
	return out, stats, err
}

func (e *Exporter) each(rows *dbase.Rows, fn func(Row) error) (Stats, error) {
	return e.eachRecord(rows, func(rec *dbase.Record) error {
		return fn(e.TransformRecord(rec))
	})
}

// eachRecord drives rows, applying the deleted-record and error policies.
func (e *Exporter) eachRecord(rows *dbase.Rows, fn func(*dbase.Record) error) (Stats, error) {
	var stats Stats
	for {
		rec, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			if e.opts.ContinueOnError && recoverable(err) {
				stats.Skipped++
				if e.opts.OnSkip != nil {
					e.opts.OnSkip(err)
				}
				continue
			}
			return stats, fmt.Errorf("failed to read records: %w", err)
		}
		if rec.Deleted() && !e.opts.IncludeDeleted {
			stats.Deleted++
			continue
		}
		if err := fn(rec); err != nil {
			return stats, err
		}
		stats.Written++
	}
}

// recoverable reports whether iteration can go on after err.
func recoverable(err error) bool {
	var fe *dbase.FieldError
	var me *dbase.MemoError
	return errors.As(err, &fe) || errors.As(err, &me)
}

func (e *Exporter) skipped(name string) bool {
	for _, p := range e.opts.SkipPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// TransformRecord converts a record to an output row and applies Transform.
func (e *Exporter) TransformRecord(rec *dbase.Record) Row {
	return e.Transform(RecordToRow(rec))
}

// Transform applies the skip and grouping options:
//   - fields starting with a SkipPrefixes entry are dropped
//   - numbered fields BASE1..BASEn become one BASE array, placed where the
//     first of them appeared; gaps are filled with nil
//
// Numbers with leading zeros are not members, and a member whose number is
// already taken keeps its own name. When the highest number exceeds
// maxGroupSpan the array holds only the members, in number order.
func (e *Exporter) Transform(row Row) Row {
	if len(e.opts.SkipPrefixes) == 0 && len(e.groups) == 0 {
		return row
	}

	out := make(Row, 0, len(row))
	groupAt := make(map[int]int)         // group -> index in out
	members := make(map[int]map[int]any) // group -> number -> value
	for _, f := range row {
		if e.skipped(f.Name) {
			continue
		}
		g, num := e.groupOf(f.Name)
		if g < 0 {
			out = append(out, f)
			continue
		}
		if _, ok := groupAt[g]; !ok {
			groupAt[g] = len(out)
			members[g] = make(map[int]any)
			out = append(out, Field{Name: e.opts.GroupNumbered[g]})
		}
		if _, taken := members[g][num]; taken {
			out = append(out, f)
			continue
		}
		members[g][num] = f.Value
	}

	for g, at := range groupAt {
		out[at].Value = groupValues(members[g])
	}
	return out
}

// maxGroupSpan bounds the nil-padded layout of a numbered group.
const maxGroupSpan = 1024

// groupValues lays members out by number, or compacts them when the
// numbering runs past maxGroupSpan.
func groupValues(members map[int]any) []any {
	nums := make([]int, 0, len(members))
	for num := range members {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	if nums[len(nums)-1] > maxGroupSpan {
		values := make([]any, len(nums))
		for i, num := range nums {
			values[i] = members[num]
		}
		return values
	}
	values := make([]any, nums[len(nums)-1])
	for _, num := range nums {
		values[num-1] = members[num]
	}
	return values
}

func (e *Exporter) groupOf(name string) (int, int) {
	for g, re := range e.groups {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if num, err := strconv.Atoi(m[1]); err == nil && num > 0 {
			return g, num
		}
	}
	return -1, 0
}

// SortedKeys returns the keys of a keyed collection in ascending order.
func SortedKeys(m map[string]Row) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
