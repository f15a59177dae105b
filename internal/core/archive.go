package core

// archive.go assembles rendered documents into a single ZIP.
//
// Entries are streamed to a scratch file as they are appended so that only
// one rendered document is held in memory at a time. The finished archive is
// read back on Close; the scratch file never outlives the Archive.

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	scratchPrefix = "letters-"
	scratchSuffix = ".zip.part"
)

// Archive is an open ZIP being assembled. Not safe for concurrent use.
type Archive struct {
	file    *os.File
	zw      *zip.Writer
	names   map[string]struct{}
	entries []string
	done    bool
}

// OpenArchive creates an empty archive backed by a temp file in scratchDir.
// An empty scratchDir uses the system temp directory.
func OpenArchive(scratchDir string) (*Archive, error) {
	if scratchDir != "" {
		if err := os.MkdirAll(scratchDir, 0o755); err != nil {
			return nil, newBatchError(KindArchiveWrite, NoRow, err, "create scratch dir")
		}
	}

	f, err := os.CreateTemp(scratchDir, scratchPrefix+"*"+scratchSuffix)
	if err != nil {
		return nil, newBatchError(KindArchiveWrite, NoRow, err, "create scratch file")
	}

	return &Archive{
		file:  f,
		zw:    zip.NewWriter(f),
		names: make(map[string]struct{}),
	}, nil
}

// Append writes one Deflate-compressed entry. Entries keep append order.
func (a *Archive) Append(name string, content []byte) error {
	if a.done {
		return newBatchError(KindArchiveWrite, NoRow, nil, "archive already closed")
	}
	if _, dup := a.names[name]; dup {
		return newBatchError(KindArchiveWrite, NoRow, nil, "duplicate entry %q", name)
	}

	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return newBatchError(KindArchiveWrite, NoRow, err, "add entry %q", name)
	}
	if _, err := w.Write(content); err != nil {
		return newBatchError(KindArchiveWrite, NoRow, err, "write entry %q", name)
	}

	a.names[name] = struct{}{}
	a.entries = append(a.entries, name)
	return nil
}

// Entries returns entry names in append order.
func (a *Archive) Entries() []string {
	out := make([]string, len(a.entries))
	copy(out, a.entries)
	return out
}

// Close finalizes the ZIP, returns its bytes and removes the scratch file.
func (a *Archive) Close() ([]byte, error) {
	if a.done {
		return nil, newBatchError(KindArchiveWrite, NoRow, nil, "archive already closed")
	}
	defer a.Discard()

	if err := a.zw.Close(); err != nil {
		return nil, newBatchError(KindArchiveWrite, NoRow, err, "finalize archive")
	}
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return nil, newBatchError(KindArchiveWrite, NoRow, err, "rewind archive")
	}
	data, err := io.ReadAll(a.file)
	if err != nil {
		return nil, newBatchError(KindArchiveWrite, NoRow, err, "read archive")
	}
	return data, nil
}

// Discard releases the scratch file. Safe to call more than once and after Close.
func (a *Archive) Discard() {
	if a.file == nil {
		a.done = true
		return
	}
	name := a.file.Name()
	a.file.Close()
	os.Remove(name)
	a.file = nil
	a.done = true
}

// ScratchPath returns the scratch file path, or "" once released.
func (a *Archive) ScratchPath() string {
	if a.file == nil {
		return ""
	}
	return a.file.Name()
}

// isScratchFile reports whether name was created by OpenArchive.
func isScratchFile(name string) bool {
	base := filepath.Base(name)
	return len(base) > len(scratchPrefix)+len(scratchSuffix) &&
		base[:len(scratchPrefix)] == scratchPrefix &&
		base[len(base)-len(scratchSuffix):] == scratchSuffix
}

// ArchiveName returns the download name for a batch archive.
func ArchiveName(batchID string) string {
	return fmt.Sprintf("letters_%s.zip", batchID)
}
