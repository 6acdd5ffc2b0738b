// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// AsyncLogger decouples log writers from a slow or rotating sink (a
// lumberjack.Logger, typically) by handing writes off to a single
// background goroutine over a bounded channel. A full buffer drops the
// message rather than blocking the caller.
type AsyncLogger struct {
	w       io.Writer
	msgs    chan []byte
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewAsyncLogger starts the background writer goroutine, buffering up
// to bufferSize pending writes to w.
func NewAsyncLogger(w io.Writer, bufferSize int) *AsyncLogger {
	l := &AsyncLogger{
		w:    w,
		msgs: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AsyncLogger) run() {
	defer close(l.done)
	for msg := range l.msgs {
		l.w.Write(msg)
	}
}

// Write copies p and enqueues it for the background goroutine. It never
// blocks: if the buffer is full, the message is dropped and a warning
// is printed to stderr.
func (l *AsyncLogger) Write(p []byte) (int, error) {
	msg := make([]byte, len(p))
	copy(msg, p)

	select {
	case l.msgs <- msg:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains the buffer, waits for the background goroutine to finish
// writing it, and closes w if it implements io.Closer.
func (l *AsyncLogger) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	l.closeMu.Unlock()

	close(l.msgs)
	<-l.done

	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
