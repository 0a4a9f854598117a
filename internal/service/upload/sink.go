package upload

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

const sinkBufferSize = 64 << 10

// ErrSinkClosed is returned by Append after Close.
var ErrSinkClosed = errors.New("sink closed")

// Sink is a single recording file opened for exclusive sequential writes.
type Sink struct {
	path    string
	file    *os.File
	w       *bufio.Writer
	written int64
	closed  bool
}

// OpenSink creates or truncates the file at path. The parent directory must
// already exist.
func OpenSink(path string) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	return &Sink{
		path: path,
		file: file,
		w:    bufio.NewWriterSize(file, sinkBufferSize),
	}, nil
}

// Append writes p after everything written so far.
func (s *Sink) Append(p []byte) error {
	if s.closed {
		return ErrSinkClosed
	}
	n, err := s.w.Write(p)
	s.written += int64(n)
	if err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

// Close flushes buffered bytes, syncs and closes the file. Safe to call more
// than once; only the first call does any work.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush %s: %w", s.path, err))
	}
	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync %s: %w", s.path, err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.path, err))
	}
	return errors.Join(errs...)
}

// Path returns the destination file path.
func (s *Sink) Path() string {
	return s.path
}

// Written returns the number of bytes accepted by Append.
func (s *Sink) Written() int64 {
	return s.written
}
