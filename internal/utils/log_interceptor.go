// Package utils holds small helpers shared by the treesync binary and its
// packages.
package utils

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogInterceptor prefixes every complete line written through it with a
// sequence number and a timestamp. A trailing partial line is held until its
// newline arrives or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending bytes.Buffer
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target, now: time.Now}
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	prefix := slog.Uint64("line", i.seq).String() + " " +
		slog.String("time", i.now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(i.target, prefix); err != nil {
		return err
	}
	if _, err := i.target.Write(line); err != nil {
		return err
	}
	_, err := io.WriteString(i.target, "\n")
	return err
}

// Write reports len(p) on success, as io.Writer requires, even though the
// prefixed output is longer.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := bytes.TrimSuffix(i.pending.Next(idx+1)[:idx], []byte("\r"))
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
	}
}

// Close flushes a trailing partial line and closes the target when it is an
// io.Closer.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var err error
	if i.pending.Len() > 0 {
		line := append([]byte(nil), i.pending.Bytes()...)
		i.pending.Reset()
		err = i.writeLine(line)
	}
	if c, ok := i.target.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
