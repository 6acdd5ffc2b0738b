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

// Package client implements the MFS client stub (spec §5): it encodes
// each operation as a request datagram, sends it, and retries on a
// fixed receive-window timeout until a response arrives, turning an
// unreliable datagram channel into an at-least-once RPC.
package client

import (
	"errors"
	"net"
	"time"

	"github.com/clarkzinzow/mfs/clock"
	"github.com/clarkzinzow/mfs/internal/layout"
	"github.com/clarkzinzow/mfs/internal/logger"
	"github.com/clarkzinzow/mfs/internal/transport"
	"github.com/clarkzinzow/mfs/internal/wire"
)

// DefaultTimeout is the receive-window duration before a request is
// resent, per spec §5.
const DefaultTimeout = 5 * time.Second

// Client is a connection to one MFS server, bound to one UDP socket.
type Client struct {
	conn    *transport.Conn
	addr    net.Addr
	clock   clock.Clock
	timeout time.Duration
}

// Dial opens a socket and resolves serverAddr ("host:port") for later
// calls. It does not send anything until the first operation.
func Dial(serverAddr string) (*Client, error) {
	conn, addr, err := transport.Dial(serverAddr)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		addr:    addr,
		clock:   clock.RealClock{},
		timeout: DefaultTimeout,
	}, nil
}

// Close releases the client's socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends req and retries on every receive-window timeout,
// indefinitely, until a response arrives or a non-timeout transport
// error occurs. Every request is therefore idempotent from the caller's
// point of view only if the underlying operation is idempotent under
// duplicate delivery (spec §5's retransmission contract).
func (c *Client) roundTrip(req wire.Request) (wire.Response, error) {
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return wire.Response{}, err
	}

	respBuf := make([]byte, wire.ResponseSize)
	attempt := 0
	for {
		attempt++
		sentAt := c.clock.Now()
		if err := c.conn.Send(payload, c.addr); err != nil {
			return wire.Response{}, err
		}

		n, _, err := c.conn.ReceiveWithTimeout(respBuf, c.timeout)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Debugf("client: %s timed out after attempt %d (sent at %s), retransmitting",
					req.Cmd, attempt, sentAt.Format(time.RFC3339))
				continue
			}
			return wire.Response{}, err
		}

		return wire.DecodeResponse(respBuf[:n])
	}
}

// Lookup returns the inode number bound to name in directory pinum, or
// -1 if absent.
func (c *Client) Lookup(pinum int32, name string) (int32, error) {
	resp, err := c.roundTrip(wire.Request{Cmd: wire.CmdLookup, Inum: pinum, Name: name})
	if err != nil {
		return 0, err
	}
	return int32(resp.RC), nil
}

// Stat populates type and size for inum.
func (c *Client) Stat(inum int32) (typ layout.InodeType, size uint32, rc int32, err error) {
	resp, err := c.roundTrip(wire.Request{Cmd: wire.CmdStat, Inum: inum})
	if err != nil {
		return 0, 0, 0, err
	}
	return layout.InodeType(resp.Type), resp.Size, int32(resp.RC), nil
}

// Read fetches block `block` of inum into a freshly allocated buffer.
func (c *Client) Read(inum, block int32) (data [layout.BSIZE]byte, rc int32, err error) {
	resp, err := c.roundTrip(wire.Request{Cmd: wire.CmdRead, Inum: inum, Blocknum: block})
	if err != nil {
		return data, 0, err
	}
	return resp.Block, int32(resp.RC), nil
}

// Write stores data as block `block` of inum.
func (c *Client) Write(inum, block int32, data [layout.BSIZE]byte) (int32, error) {
	resp, err := c.roundTrip(wire.Request{Cmd: wire.CmdWrite, Inum: inum, Blocknum: block, Block: data})
	if err != nil {
		return 0, err
	}
	return int32(resp.RC), nil
}

// Create makes a file or directory of the given type named name inside
// directory pinum, returning its inode number, or -1 on failure.
func (c *Client) Create(pinum int32, typ layout.InodeType, name string) (int32, error) {
	resp, err := c.roundTrip(wire.Request{Cmd: wire.CmdCreate, Inum: pinum, Type: int32(typ), Name: name})
	if err != nil {
		return 0, err
	}
	return int32(resp.RC), nil
}

// Unlink removes name from directory pinum.
func (c *Client) Unlink(pinum int32, name string) (int32, error) {
	resp, err := c.roundTrip(wire.Request{Cmd: wire.CmdUnlink, Inum: pinum, Name: name})
	if err != nil {
		return 0, err
	}
	return int32(resp.RC), nil
}

// Shutdown asks the server to flush, close its image, and exit. Per
// spec §5's Design Notes, the server may exit before its reply is
// delivered, so a final receive-window timeout is treated as terminal
// success rather than triggering another retransmission.
func (c *Client) Shutdown() error {
	payload, err := wire.EncodeRequest(wire.Request{Cmd: wire.CmdShutdown})
	if err != nil {
		return err
	}
	if err := c.conn.Send(payload, c.addr); err != nil {
		return err
	}

	respBuf := make([]byte, wire.ResponseSize)
	_, _, err = c.conn.ReceiveWithTimeout(respBuf, c.timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			logger.Debugf("client: shutdown reply timed out, treating as terminal success")
			return nil
		}
		return err
	}
	return nil
}
