package dbase

import (
	"errors"
	"fmt"
	"io"
	"iter"
)

// Rows reads records one at a time. Only the current record buffer is held in
// memory. Rows is not safe for concurrent use.
type Rows struct {
	t     *Table
	buf   []byte
	index int
	err   error
}

// Next returns the next record, or io.EOF once the declared record count is
// reached. A *FieldError or *MemoError affects only the current record and
// iteration may continue; a *TruncationError or I/O error is returned again
// by every later call.
func (r *Rows) Next() (*Record, error) {
	for {
		if r.err != nil {
			return nil, r.err
		}
		if r.t.closed {
			return nil, ErrClosed
		}
		if r.index >= int(r.t.header.RecordCount) {
			return nil, io.EOF
		}

		index := r.index
		n, err := io.ReadFull(r.t.data, r.buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				r.err = &TruncationError{
					Record: index,
					Offset: int64(r.t.header.HeaderLength) + int64(index)*int64(len(r.buf)),
					Want:   len(r.buf),
					Got:    n,
				}
			} else {
				r.err = fmt.Errorf("failed to read record %d: %w", index, err)
			}
			return nil, r.err
		}
		r.index++

		if r.t.cfg.SkipDeleted && r.buf[0] == flagDeleted {
			continue
		}
		return r.t.decoder.decode(r.buf, index)
	}
}

// Index returns the number of records read so far, skipped ones included.
func (r *Rows) Index() int { return r.index }

// Err returns the terminal error, if iteration stopped on one.
func (r *Rows) Err() error { return r.err }

// All returns an iterator over the remaining records. Per-record errors are
// yielded alongside a nil record; iteration ends at the end of the table or
// after a terminal error.
func (r *Rows) All() iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(rec, err) {
				return
			}
			if r.err != nil || errors.Is(err, ErrClosed) {
				return
			}
		}
	}
}
