package filecopy

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	// ChunkSize defines the size of chunks for file copying (10MB)
	ChunkSize = 10 * 1024 * 1024

	// snapshotAttempts bounds how often a snapshot is retried while the
	// source keeps changing underneath the copy.
	snapshotAttempts = 3
)

// TempRoot is the directory all copies are placed under.
var TempRoot = filepath.Join(os.TempDir(), "dbf-export")

// ErrUnstable is returned when a file kept changing during every snapshot attempt.
var ErrUnstable = errors.New("file changed while copying")

// FileInfo contains information about a file copy operation
type FileInfo struct {
	SourcePath string
	TempPath   string
	Hash       string
	Size       int64
	ModTime    time.Time
}

// CalculateHash calculates the CRC32 hash of a file
func CalculateHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer file.Close()

	hash := crc32.NewIEEE()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}

	return fmt.Sprintf("%08x", hash.Sum32()), nil
}

// CalculateGroupHash combines the hashes of several files. Empty paths and
// files that do not exist contribute a fixed marker, so a memo file appearing
// or disappearing changes the result.
func CalculateGroupHash(paths ...string) (string, error) {
	hash := crc32.NewIEEE()
	for _, p := range paths {
		if p == "" {
			io.WriteString(hash, "-;")
			continue
		}
		h, err := CalculateHash(p)
		if errors.Is(err, os.ErrNotExist) {
			io.WriteString(hash, "missing;")
			continue
		}
		if err != nil {
			return "", err
		}
		io.WriteString(hash, h+";")
	}
	return fmt.Sprintf("%08x", hash.Sum32()), nil
}

// CopyToTemp copies a file under TempRoot, naming it after the source file and
// a hash of its absolute path, and preserves the modification time.
func CopyToTemp(sourcePath string) (*FileInfo, error) {
	if err := os.MkdirAll(TempRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	absPath, err := filepath.Abs(sourcePath)
	if err != nil {
		absPath = sourcePath
	}
	tempName := fmt.Sprintf("%s.%08x", filepath.Base(sourcePath), crc32.ChecksumIEEE([]byte(absPath)))
	return copyFile(sourcePath, filepath.Join(TempRoot, tempName))
}

// copyFile copies sourcePath to destPath in chunks and records the hash the
// source had before the copy started.
func copyFile(sourcePath, destPath string) (*FileInfo, error) {
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	hash, err := CalculateHash(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer dest.Close()

	if _, err := io.CopyBuffer(dest, source, make([]byte, ChunkSize)); err != nil {
		return nil, fmt.Errorf("failed to copy to temp file: %w", err)
	}
	if err := dest.Close(); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	modTime := sourceInfo.ModTime()
	if err := os.Chtimes(destPath, time.Now(), modTime); err != nil {
		return nil, fmt.Errorf("failed to set modification time: %w", err)
	}

	return &FileInfo{
		SourcePath: sourcePath,
		TempPath:   destPath,
		Hash:       hash,
		Size:       sourceInfo.Size(),
		ModTime:    modTime,
	}, nil
}

// CleanupTemp removes a temporary file if it exists
func CleanupTemp(tempPath string) error {
	if tempPath == "" {
		return nil
	}

	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}

	return nil
}

// Snapshot is a private copy of a table and its memo file.
type Snapshot struct {
	Dir       string
	TablePath string
	MemoPath  string // empty when the table has no memo file
	Table     *FileInfo
	Memo      *FileInfo
}

// SnapshotTable copies a table and its optional memo file into a fresh
// directory under TempRoot, keeping their base names so the memo is found next
// to the copied table. A pair that changes while being copied is copied again.
func SnapshotTable(tablePath, memoPath string) (*Snapshot, error) {
	dir := filepath.Join(TempRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	for range snapshotAttempts {
		snap, stable, err := snapshotOnce(dir, tablePath, memoPath)
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		if stable {
			return snap, nil
		}
	}
	os.RemoveAll(dir)
	return nil, fmt.Errorf("failed to snapshot %s: %w", tablePath, ErrUnstable)
}

func snapshotOnce(dir, tablePath, memoPath string) (*Snapshot, bool, error) {
	snap := &Snapshot{Dir: dir}

	table, err := copyFile(tablePath, filepath.Join(dir, filepath.Base(tablePath)))
	if err != nil {
		return nil, false, err
	}
	snap.Table, snap.TablePath = table, table.TempPath

	if memoPath != "" {
		memo, err := copyFile(memoPath, filepath.Join(dir, filepath.Base(memoPath)))
		if err != nil {
			return nil, false, err
		}
		snap.Memo, snap.MemoPath = memo, memo.TempPath
	}

	// The copy is consistent when neither source changed since it was hashed.
	for _, fi := range []*FileInfo{snap.Table, snap.Memo} {
		if fi == nil {
			continue
		}
		now, err := CalculateHash(fi.SourcePath)
		if err != nil {
			return nil, false, err
		}
		if now != fi.Hash {
			return nil, false, nil
		}
	}
	return snap, true, nil
}

// Cleanup removes the snapshot directory.
func (s *Snapshot) Cleanup() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return nil
}
