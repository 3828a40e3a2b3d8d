// Package transport is the broker's networking edge (C9): a TCPServer
// and an optional WebSocketServer, each feeding decoded packets to a
// *broker.Director. Neither the packet codec nor the broker core ever
// imports net; this package is the only place that does.
package transport

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/riftmq/broker/internal/broker"
)

// writeBufferSize bounds how much a channel buffers before Writable
// reports false, telling the publisher to enqueue instead of blocking on
// a slow reader (spec.md §5's "channel writable" hint).
const writeBufferSize = 64 * 1024

// rawConn is the minimal surface frameChannel needs from either a plain
// net.Conn or the wsConn WebSocket adapter.
type rawConn interface {
	io.Reader
	io.Writer
	Close() error
	RemoteAddr() net.Addr
}

// frameChannel implements broker.Channel over any rawConn, buffering
// writes and flushing them on an auto-flush ticker (spec.md §4.11's
// "auto-flush handler", owned per-channel).
type frameChannel struct {
	mu          sync.Mutex
	conn        rawConn
	writer      *bufio.Writer
	closed      bool
	flushTicker *time.Ticker
	done        chan struct{}
}

func newFrameChannel(conn rawConn) *frameChannel {
	c := &frameChannel{
		conn:        conn,
		writer:      bufio.NewWriterSize(conn, writeBufferSize),
		flushTicker: time.NewTicker(broker.AutoFlushInterval),
		done:        make(chan struct{}),
	}
	go c.autoFlush()
	return c
}

func (c *frameChannel) autoFlush() {
	for {
		select {
		case <-c.flushTicker.C:
			c.mu.Lock()
			if !c.closed {
				_ = c.writer.Flush()
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Write implements broker.Channel.
func (c *frameChannel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	if c.writer.Buffered() >= writeBufferSize/2 {
		return c.writer.Flush()
	}
	return nil
}

// Writable implements broker.Channel.
func (c *frameChannel) Writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.writer.Buffered() < writeBufferSize
}

// Abort implements broker.Channel.
func (c *frameChannel) Abort() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	_ = c.writer.Flush()
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.flushTicker.Stop()
	_ = c.conn.Close()
}

// RemoteAddr implements broker.Channel.
func (c *frameChannel) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
