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

// Package wire defines the explicit, fixed-size byte encoding of MFS
// request and response datagrams. Every field is encoded at a known
// offset and width; nothing here relies on Go's in-memory struct layout,
// per the Design Notes' warning against transmitting host-memory layouts
// over the wire.
package wire

import (
	"bytes"
	"fmt"

	"github.com/clarkzinzow/mfs/internal/layout"
)

// Command tags. Every request carries exactly one of these, NUL-padded
// into the cmd field.
const (
	CmdInit     = "init"
	CmdLookup   = "lookup"
	CmdStat     = "stat"
	CmdWrite    = "write"
	CmdRead     = "read"
	CmdCreate   = "create"
	CmdUnlink   = "unlink"
	CmdShutdown = "shutdown"
)

const (
	cmdFieldLen  = 24
	nameFieldLen = 64
	statFieldLen = 8
)

// RC is the response status code: 0 or a positive inode number on
// success, -1 on failure.
type RC int32

const RCFailure RC = -1

// Request is the decoded form of a request datagram.
type Request struct {
	Cmd      string
	Inum     int32
	Type     int32
	Blocknum int32
	Name     string
	Block    [layout.BSIZE]byte
}

// Response is the decoded form of a response datagram.
type Response struct {
	RC    RC
	Type  int32
	Size  uint32
	Block [layout.BSIZE]byte
}

// RequestSize and ResponseSize are the exact wire sizes of an encoded
// Request and Response, in bytes.
const (
	RequestSize  = cmdFieldLen + 4 + 4 + 4 + nameFieldLen + layout.BSIZE
	ResponseSize = 4 + statFieldLen + layout.BSIZE
)

func putFixedString(dst []byte, s string) error {
	if len(s) > len(dst)-1 {
		return fmt.Errorf("wire: string %q exceeds field width %d", s, len(dst)-1)
	}
	n := copy(dst, s)
	dst[n] = 0
	for i := n + 1; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func getFixedString(src []byte) string {
	n := bytes.IndexByte(src, 0)
	if n < 0 {
		n = len(src)
	}
	return string(src[:n])
}

// EncodeRequest serializes req into its fixed-size wire form.
func EncodeRequest(req Request) ([]byte, error) {
	buf := make([]byte, RequestSize)
	off := 0

	if err := putFixedString(buf[off:off+cmdFieldLen], req.Cmd); err != nil {
		return nil, err
	}
	off += cmdFieldLen

	layout.Encoding.PutUint32(buf[off:], uint32(req.Inum))
	off += 4
	layout.Encoding.PutUint32(buf[off:], uint32(req.Type))
	off += 4
	layout.Encoding.PutUint32(buf[off:], uint32(req.Blocknum))
	off += 4

	if err := putFixedString(buf[off:off+nameFieldLen], req.Name); err != nil {
		return nil, err
	}
	off += nameFieldLen

	copy(buf[off:], req.Block[:])
	off += layout.BSIZE

	return buf, nil
}

// DecodeRequest parses a fixed-size request datagram.
func DecodeRequest(buf []byte) (Request, error) {
	if len(buf) != RequestSize {
		return Request{}, fmt.Errorf("wire: request must be %d bytes, got %d", RequestSize, len(buf))
	}

	var req Request
	off := 0

	req.Cmd = getFixedString(buf[off : off+cmdFieldLen])
	off += cmdFieldLen

	req.Inum = int32(layout.Encoding.Uint32(buf[off:]))
	off += 4
	req.Type = int32(layout.Encoding.Uint32(buf[off:]))
	off += 4
	req.Blocknum = int32(layout.Encoding.Uint32(buf[off:]))
	off += 4

	req.Name = getFixedString(buf[off : off+nameFieldLen])
	off += nameFieldLen

	copy(req.Block[:], buf[off:])
	off += layout.BSIZE

	return req, nil
}

// EncodeResponse serializes resp into its fixed-size wire form.
func EncodeResponse(resp Response) []byte {
	buf := make([]byte, ResponseSize)
	off := 0

	layout.Encoding.PutUint32(buf[off:], uint32(int32(resp.RC)))
	off += 4

	layout.Encoding.PutUint32(buf[off:], uint32(resp.Type))
	off += 4
	layout.Encoding.PutUint32(buf[off:], resp.Size)
	off += 4

	copy(buf[off:], resp.Block[:])
	off += layout.BSIZE

	return buf
}

// DecodeResponse parses a fixed-size response datagram.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) != ResponseSize {
		return Response{}, fmt.Errorf("wire: response must be %d bytes, got %d", ResponseSize, len(buf))
	}

	var resp Response
	off := 0

	resp.RC = RC(int32(layout.Encoding.Uint32(buf[off:])))
	off += 4

	resp.Type = int32(layout.Encoding.Uint32(buf[off:]))
	off += 4
	resp.Size = layout.Encoding.Uint32(buf[off:])
	off += 4

	copy(resp.Block[:], buf[off:])
	off += layout.BSIZE

	return resp, nil
}
