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

// Package transport is the thin, unreliable datagram adapter the rest
// of MFS is built on: bind, send a fixed-size buffer to an address,
// receive a fixed-size buffer returning the sender, close. The datagram
// transport itself is explicitly out of scope for the protocol and
// metadata design (spec §1); this package exists only to give the
// server and client loops a concrete net.PacketConn to call through.
package transport

import (
	"fmt"
	"net"
	"time"
)

// Conn wraps a UDP socket.
type Conn struct {
	pc net.PacketConn
}

// Listen binds a UDP socket on the given port (all interfaces).
func Listen(port int) (*Conn, error) {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen on port %d: %w", port, err)
	}
	return &Conn{pc: pc}, nil
}

// Dial resolves addr (host:port) for later Send/Receive calls from an
// ephemeral local port.
func Dial(addr string) (*Conn, net.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &Conn{pc: pc}, raddr, nil
}

// Send transmits buf to addr.
func (c *Conn) Send(buf []byte, addr net.Addr) error {
	_, err := c.pc.WriteTo(buf, addr)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive blocks until a datagram of at most len(buf) bytes arrives,
// returning the number of bytes read and the sender's address.
func (c *Conn) Receive(buf []byte) (int, net.Addr, error) {
	n, addr, err := c.pc.ReadFrom(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: receive: %w", err)
	}
	return n, addr, nil
}

// ReceiveWithTimeout is Receive bounded by a read deadline, used by the
// client's retransmission loop (§5). A timeout is reported via the
// standard net.Error.Timeout() contract.
func (c *Conn) ReceiveWithTimeout(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	if err := c.pc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, fmt.Errorf("transport: set deadline: %w", err)
	}
	return c.Receive(buf)
}

// Close releases the socket.
func (c *Conn) Close() error {
	return c.pc.Close()
}

// LocalAddr returns the socket's bound local address, useful when Listen
// was given port 0 and the kernel chose an ephemeral port.
func (c *Conn) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}
