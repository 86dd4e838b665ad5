package dbase

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMemoBlockSize = 512
	memoScanChunk        = 512

	// dBASE IV memo blocks may start with this marker followed by a length.
	dbase4BlockMarker = 0x0008FFFF

	// FoxPro block types other than text (0 picture, 2 object) are binary.
	foxBlockText = 1
)

var memoTerminator = []byte{0x1A, 0x1A}

// MemoHeader is the decoded header of a .dbt or .fpt file.
type MemoHeader struct {
	Dialect   MemoDialect
	NextFree  uint32
	BlockSize uint16
}

// memoBlock is the payload of one resolved memo.
type memoBlock struct {
	data []byte
	text bool
}

// memoResolver maps a block pointer to its content.
type memoResolver interface {
	resolve(block uint32) (memoBlock, error)
}

// memoFile resolves block pointers against an open memo stream. The dialect
// field selects which layout resolve decodes.
type memoFile struct {
	r       io.ReaderAt
	size    int64
	header  MemoHeader
	maxSize int
}

// openMemo reads the memo header. size is the physical length of the stream.
func openMemo(r io.ReaderAt, size int64, dialect MemoDialect, v Version, maxSize int) (*memoFile, error) {
	var buf [24]byte
	n, err := r.ReadAt(buf[:], 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read memo header: %w", err)
	}
	m := &memoFile{r: r, size: size, maxSize: maxSize}
	m.header.Dialect = dialect

	switch dialect {
	case MemoDBase:
		if n < 4 {
			return nil, &StructuralError{Offset: int64(n), Err: ErrMemoHeader}
		}
		m.header.NextFree = binary.LittleEndian.Uint32(buf[0:4])
		m.header.BlockSize = defaultMemoBlockSize
		if v.DBase4() && n >= 22 {
			if bs := binary.LittleEndian.Uint16(buf[20:22]); bs != 0 {
				m.header.BlockSize = bs
			}
		}
	case MemoFoxPro:
		if n < 8 {
			return nil, &StructuralError{Offset: int64(n), Err: ErrMemoHeader}
		}
		m.header.NextFree = binary.BigEndian.Uint32(buf[0:4])
		m.header.BlockSize = binary.BigEndian.Uint16(buf[6:8])
		if m.header.BlockSize == 0 {
			return nil, &StructuralError{Offset: 6, Err: fmt.Errorf("%w: zero block size", ErrMemoHeader)}
		}
	default:
		return nil, &StructuralError{Err: fmt.Errorf("%w: no memo dialect", ErrMemoHeader)}
	}
	return m, nil
}

func (m *memoFile) resolve(block uint32) (memoBlock, error) {
	if block >= m.header.NextFree {
		return memoBlock{}, fmt.Errorf("%w: next free block is %d", ErrMemoOutOfRange, m.header.NextFree)
	}
	start := int64(block) * int64(m.header.BlockSize)
	if start >= m.size {
		return memoBlock{}, fmt.Errorf("%w: offset %d past end of file (%d bytes)", ErrMemoOutOfRange, start, m.size)
	}
	switch m.header.Dialect {
	case MemoDBase:
		return m.readDBase(start)
	case MemoFoxPro:
		return m.readFoxPro(start)
	}
	return memoBlock{}, ErrMemoHeader
}

// readDBase decodes a .dbt block: either a dBASE IV length-prefixed block or
// text running to the 0x1A 0x1A terminator.
func (m *memoFile) readDBase(start int64) (memoBlock, error) {
	var prefix [8]byte
	n, err := m.r.ReadAt(prefix[:], start)
	if err != nil && err != io.EOF {
		return memoBlock{}, err
	}
	if n == len(prefix) && binary.LittleEndian.Uint32(prefix[0:4]) == dbase4BlockMarker {
		length := int64(binary.LittleEndian.Uint32(prefix[4:8]))
		if length < int64(len(prefix)) {
			return memoBlock{}, fmt.Errorf("%w: declared length %d", ErrMemoTruncated, length)
		}
		data, err := m.readPayload(start+int64(len(prefix)), length-int64(len(prefix)))
		if err != nil {
			return memoBlock{}, err
		}
		return memoBlock{data: data, text: true}, nil
	}

	var out []byte
	chunk := make([]byte, memoScanChunk)
	pos := start
	for {
		n, err := m.r.ReadAt(chunk, pos)
		if n > 0 {
			// Keep one byte of the previous chunk so a terminator split across
			// chunks is still found.
			from := len(out) - 1
			if from < 0 {
				from = 0
			}
			out = append(out, chunk[:n]...)
			if i := bytes.Index(out[from:], memoTerminator); i >= 0 {
				return memoBlock{data: out[:from+i], text: true}, nil
			}
			if len(out) > m.maxSize {
				return memoBlock{}, fmt.Errorf("%w: scanned %d bytes", ErrMemoUnterminated, m.maxSize)
			}
			pos += int64(n)
		}
		if err == io.EOF || (err == nil && n == 0) {
			return memoBlock{}, fmt.Errorf("%w: end of file before terminator", ErrMemoTruncated)
		}
		if err != nil {
			return memoBlock{}, err
		}
	}
}

// readFoxPro decodes an .fpt block: big-endian type and length followed by
// the payload, which may run over several blocks.
func (m *memoFile) readFoxPro(start int64) (memoBlock, error) {
	var prefix [8]byte
	n, err := m.r.ReadAt(prefix[:], start)
	if n < len(prefix) {
		if err == nil || err == io.EOF {
			return memoBlock{}, fmt.Errorf("%w: block header", ErrMemoTruncated)
		}
		return memoBlock{}, err
	}
	kind := binary.BigEndian.Uint32(prefix[0:4])
	length := int64(binary.BigEndian.Uint32(prefix[4:8]))
	data, err := m.readPayload(start+int64(len(prefix)), length)
	if err != nil {
		return memoBlock{}, err
	}
	return memoBlock{data: data, text: kind == foxBlockText}, nil
}

func (m *memoFile) readPayload(at, length int64) ([]byte, error) {
	if length > int64(m.maxSize) {
		return nil, fmt.Errorf("%w: %d bytes declared", ErrMemoTooLarge, length)
	}
	if at+length > m.size {
		return nil, fmt.Errorf("%w: %d bytes declared, %d available", ErrMemoTruncated, length, m.size-at)
	}
	data := make([]byte, length)
	n, err := m.r.ReadAt(data, at)
	if n < len(data) {
		if err == nil || err == io.EOF {
			return nil, fmt.Errorf("%w: short read", ErrMemoTruncated)
		}
		return nil, err
	}
	return data, nil
}

// cachedMemo keeps recently resolved blocks in a bounded LRU keyed by block index.
type cachedMemo struct {
	next  memoResolver
	cache *lru.Cache[uint32, memoBlock]
}

func newCachedMemo(next memoResolver, size int) (*cachedMemo, error) {
	c, err := lru.New[uint32, memoBlock](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memo cache: %w", err)
	}
	return &cachedMemo{next: next, cache: c}, nil
}

func (c *cachedMemo) resolve(block uint32) (memoBlock, error) {
	if b, ok := c.cache.Get(block); ok {
		return memoBlock{data: bytes.Clone(b.data), text: b.text}, nil
	}
	b, err := c.next.resolve(block)
	if err != nil {
		return memoBlock{}, err
	}
	c.cache.Add(block, memoBlock{data: bytes.Clone(b.data), text: b.text})
	return b, nil
}
