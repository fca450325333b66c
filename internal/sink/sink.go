// Package sink forwards serialized result records to the downstream
// log pipeline.
package sink

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Sink receives rendered JSON lines for one execution.
type Sink interface {
	Write(ctx context.Context, lines []string) error
	Close() error
}

// FileSink appends JSON lines to a results log file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFile opens (appending) the results log file.
func NewFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening results log: %w", err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(_ context.Context, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		if _, err := s.file.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("writing results log: %w", err)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	return s.file.Close()
}

// StdoutSink writes JSON lines to standard output, for development.
type StdoutSink struct {
	mu sync.Mutex
}

func NewStdout() *StdoutSink {
	return &StdoutSink{}
}

func (s *StdoutSink) Write(_ context.Context, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		if _, err := fmt.Println(line); err != nil {
			return err
		}
	}
	return nil
}

func (s *StdoutSink) Close() error {
	return nil
}
