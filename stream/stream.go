// Package stream serves a jsonrpc.Server over a newline-delimited byte
// stream such as stdin/stdout or a socket.
//
// Every input line is one JSON-RPC body (a request, a notification or a
// batch). Every reply is written as one line. Lines made only of
// notifications produce no output. Blank lines are ignored.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
)

// DefaultMaxLine is the longest accepted input line.
const DefaultMaxLine = 1 << 20

type config struct {
	logger      *slog.Logger
	maxLine     int
	concurrency int
}

// Option configures Serve.
type Option func(*config)

// WithLogger sets the logger for connection events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxLine sets the longest accepted input line in bytes.
func WithMaxLine(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxLine = n
		}
	}
}

// WithConcurrency lets up to n lines be dispatched at once. Replies are then
// written in completion order. The default of 1 keeps replies in input
// order.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Serve reads lines from r until EOF, dispatches each to srv and writes the
// replies to w.
//
// It returns nil at EOF once every dispatched line has been answered, the
// first write error, a read error (including a line longer than the
// limit), or ctx.Err() when ctx ends. Serve does not close r; a reader
// blocked in Read keeps its goroutine until the read returns.
func Serve(ctx context.Context, srv *jsonrpc.Server, r io.Reader, w io.Writer, opts ...Option) error {
	cfg := config{logger: slog.Default(), maxLine: DefaultMaxLine, concurrency: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines, readErr := readLines(readCtx, r, cfg.maxLine)

	out := &lineWriter{w: w}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)

	cfg.logger.DebugContext(ctx, "stream: serving")
	for {
		select {
		case <-gctx.Done():
			stopReading()
			if err := g.Wait(); err != nil {
				return err
			}
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				if err := g.Wait(); err != nil {
					return err
				}
				if err := <-readErr; err != nil {
					return fmt.Errorf("stream: read: %w", err)
				}
				cfg.logger.DebugContext(ctx, "stream: end of input")
				return nil
			}
			g.Go(func() error {
				reply, err := srv.Handle(gctx, line)
				if err != nil || reply == nil {
					return nil
				}
				if err := out.writeLine(reply); err != nil {
					return fmt.Errorf("stream: write: %w", err)
				}
				return nil
			})
		}
	}
}

// readLines scans r in a goroutine. The lines channel is closed at EOF, on
// a read error, or when ctx ends; readErr then yields the scan error, if
// any.
func readLines(ctx context.Context, r io.Reader, maxLine int) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		defer close(readErr)

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- bytes.Clone(line):
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			readErr <- err
		}
	}()
	return lines, readErr
}

type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) writeLine(b []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(append(b, '\n'))
	return err
}
