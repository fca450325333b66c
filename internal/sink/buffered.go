package sink

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BufferedSink decouples recording from sink latency: batches are
// queued on a bounded channel and written by a background goroutine
// with retry. A full buffer drops the batch rather than blocking the
// scheduler.
type BufferedSink struct {
	inner Sink
	ch    chan []string
	wg    sync.WaitGroup
	done  chan struct{}
}

// NewBuffered wraps inner with an async buffer of bufferSize batches.
func NewBuffered(inner Sink, bufferSize int) *BufferedSink {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	return &BufferedSink{
		inner: inner,
		ch:    make(chan []string, bufferSize),
		done:  make(chan struct{}),
	}
}

// Start launches the background writer.
func (s *BufferedSink) Start() {
	s.wg.Add(1)
	go s.processLoop()
}

func (s *BufferedSink) Write(_ context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	select {
	case s.ch <- lines:
	default:
		log.Warn().Int("lines", len(lines)).Msg("sink buffer full, dropping records")
	}
	return nil
}

// Flush stops the writer, draining queued batches up to the timeout.
func (s *BufferedSink) Flush(timeout time.Duration) {
	close(s.done)

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("sink buffer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("sink buffer flush timed out")
	}
}

func (s *BufferedSink) Close() error {
	return s.inner.Close()
}

func (s *BufferedSink) processLoop() {
	defer s.wg.Done()

	for {
		select {
		case lines := <-s.ch:
			s.writeWithRetry(lines)
		case <-s.done:
			// Drain remaining batches
			for {
				select {
				case lines := <-s.ch:
					s.writeWithRetry(lines)
				default:
					return
				}
			}
		}
	}
}

func (s *BufferedSink) writeWithRetry(lines []string) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.inner.Write(ctx, lines)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Int("lines", len(lines)).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("sink write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Int("lines", len(lines)).
				Msg("sink write failed permanently after retries")
		}
	}
}
