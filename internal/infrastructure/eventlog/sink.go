package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/fleetshift/deployctl/internal/domain"
)

// FileSink writes every event as a line to an open file, per spec.md
// section 6 ("one structured event per line on a dedicated channel (file,
// pipe, or network sink)"). Emit never returns an error to the caller
// (EventSink's contract is fire-and-forget); write failures are recorded
// and surfaced via Err().
type FileSink struct {
	mu  sync.Mutex
	w   *bufio.Writer
	f   *os.File
	err error
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &FileSink{w: bufio.NewWriter(f), f: f}, nil
}

func (s *FileSink) Emit(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if _, err := s.w.WriteString(Encode(e)); err != nil {
		s.err = err
	}
}

func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

var _ domain.EventSink = (*FileSink)(nil)

// Archive gzips a completed deployment's event log into archiveDir and
// removes the plaintext source, so long-running operators can keep a full
// per-apply event history without unbounded disk growth (SPEC_FULL.md
// domain stack: klauspost/compress, from bureau-foundation-bureau).
func Archive(sourcePath, archiveDir string) (archivedPath string, err error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("eventlog: create archive dir: %w", err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("eventlog: open source: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(archiveDir, filepath.Base(sourcePath)+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("eventlog: create archive: %w", err)
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	buf := make([]byte, 64*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := gw.Write(buf[:n]); writeErr != nil {
				gw.Close()
				return "", fmt.Errorf("eventlog: compress archive: %w", writeErr)
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				gw.Close()
				return "", fmt.Errorf("eventlog: read archive source: %w", readErr)
			}
			break
		}
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("eventlog: finalize archive: %w", err)
	}

	if err := os.Remove(sourcePath); err != nil {
		return "", fmt.Errorf("eventlog: remove source after archive: %w", err)
	}
	return dstPath, nil
}
