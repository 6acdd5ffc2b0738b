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

// Package server implements the single-threaded receive/dispatch/reply
// cycle described in spec §4.3: read one datagram, dispatch on its
// command tag to the metadata engine, populate a response, and send it
// back to the requester before looping to receive the next datagram.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/clarkzinzow/mfs/internal/diskimage"
	"github.com/clarkzinzow/mfs/internal/layout"
	"github.com/clarkzinzow/mfs/internal/logger"
	"github.com/clarkzinzow/mfs/internal/metadata"
	"github.com/clarkzinzow/mfs/internal/metrics"
	"github.com/clarkzinzow/mfs/internal/transport"
	"github.com/clarkzinzow/mfs/internal/wire"
)

// Server owns one on-disk image and the metadata engine bound to it,
// and answers requests received on a transport.Conn.
type Server struct {
	conn    *transport.Conn
	img     *diskimage.Image
	engine  *metadata.Engine
	metrics metrics.Handle
}

// New binds a listener on port and opens (or creates) the image at
// imagePath with the given params, ready for Serve.
func New(port int, imagePath string, params diskimage.Params, m metrics.Handle) (*Server, error) {
	conn, err := transport.Listen(port)
	if err != nil {
		return nil, err
	}
	img, err := diskimage.OpenOrCreate(imagePath, params)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("server: opening image: %w", err)
	}
	if m == nil {
		m = metrics.NewNoopHandle()
	}
	return &Server{
		conn:    conn,
		img:     img,
		engine:  metadata.NewEngine(img),
		metrics: m,
	}, nil
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Serve runs the receive/dispatch/reply loop until a shutdown request is
// handled or ctx is cancelled. It always closes the image and the
// listening socket before returning; a shutdown reply is sent before
// either is closed.
func (s *Server) Serve(ctx context.Context) error {
	defer s.conn.Close()
	defer s.img.Close()

	// Closing the socket on cancellation unblocks a pending Receive, so
	// the loop reaches the ctx check below.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, wire.RequestSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, addr, err := s.conn.Receive(buf)
		if err != nil {
			logger.Warnf("server: receive failed: %v", err)
			continue
		}
		if n != wire.RequestSize {
			logger.Warnf("server: dropping malformed datagram of %d bytes from %s", n, addr)
			continue
		}

		req, err := wire.DecodeRequest(buf[:n])
		if err != nil {
			logger.Warnf("server: decode failed from %s: %v", addr, err)
			continue
		}

		reqID := uuid.NewString()
		logger.Tracef("server: [%s] %s from %s", reqID, req.Cmd, addr)

		resp, shutdown := s.handle(req)

		logger.Tracef("server: [%s] %s -> rc=%d", reqID, req.Cmd, resp.RC)

		if err := s.conn.Send(wire.EncodeResponse(resp), addr); err != nil {
			logger.Warnf("server: send failed to %s: %v", addr, err)
		}

		if shutdown {
			logger.Infof("server: shutdown requested, exiting")
			return nil
		}
	}
}

// handle dispatches one decoded request, recording op metrics, and
// reports whether the server should stop serving after replying.
func (s *Server) handle(req wire.Request) (wire.Response, bool) {
	start := time.Now()
	op := req.Cmd
	defer func() {
		s.metrics.OpsCount(context.Background(), 1, op)
		s.metrics.OpsLatency(context.Background(), time.Since(start), op)
	}()

	switch req.Cmd {
	case wire.CmdLookup:
		rc := s.engine.Lookup(req.Inum, req.Name)
		return s.maybeError(op, wire.Response{RC: wire.RC(rc)}), false

	case wire.CmdStat:
		st, rc := s.engine.Stat(req.Inum)
		if rc != metadata.Success {
			return s.maybeError(op, wire.Response{RC: wire.RCFailure}), false
		}
		return wire.Response{RC: wire.RC(rc), Type: int32(st.Type), Size: st.Size}, false

	case wire.CmdRead:
		var block [layout.BSIZE]byte
		rc := s.engine.Read(req.Inum, req.Blocknum, block[:])
		if rc != metadata.Success {
			return s.maybeError(op, wire.Response{RC: wire.RCFailure}), false
		}
		return wire.Response{RC: wire.RC(rc), Block: block}, false

	case wire.CmdWrite:
		rc := s.engine.Write(req.Inum, req.Blocknum, req.Block[:])
		return s.maybeError(op, wire.Response{RC: wire.RC(rc)}), false

	case wire.CmdCreate:
		inum := s.engine.Create(req.Inum, layout.InodeType(req.Type), req.Name)
		return s.maybeError(op, wire.Response{RC: wire.RC(inum)}), false

	case wire.CmdUnlink:
		rc := s.engine.Unlink(req.Inum, req.Name)
		return s.maybeError(op, wire.Response{RC: wire.RC(rc)}), false

	case wire.CmdShutdown:
		return wire.Response{RC: wire.RC(metadata.Success)}, true

	default:
		logger.Warnf("server: unknown command %q", req.Cmd)
		return wire.Response{RC: wire.RCFailure}, false
	}
}

func (s *Server) maybeError(op string, resp wire.Response) wire.Response {
	if resp.RC == wire.RCFailure {
		s.metrics.OpsErrorCount(context.Background(), 1, op)
	}
	return resp
}
