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

package wire_test

import (
	"testing"

	"github.com/clarkzinzow/mfs/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	var block [4096]byte
	copy(block[:], "payload")

	req := wire.Request{
		Cmd:      wire.CmdWrite,
		Inum:     7,
		Type:     0,
		Blocknum: 3,
		Name:     "some-file",
		Block:    block,
	}

	buf, err := wire.EncodeRequest(req)
	require.NoError(t, err)
	assert.Len(t, buf, wire.RequestSize)

	got, err := wire.DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestResponseRoundTrip(t *testing.T) {
	var block [4096]byte
	copy(block[:], "hello")

	resp := wire.Response{
		RC:    2,
		Type:  1,
		Size:  4096,
		Block: block,
	}

	buf := wire.EncodeResponse(resp)
	assert.Len(t, buf, wire.ResponseSize)

	got, err := wire.DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestEncodeRequestRejectsOverlongName(t *testing.T) {
	name := make([]byte, 64)
	for i := range name {
		name[i] = 'a'
	}
	_, err := wire.EncodeRequest(wire.Request{Cmd: wire.CmdCreate, Name: string(name)})
	assert.Error(t, err)
}

func TestDecodeRequestRejectsWrongSize(t *testing.T) {
	_, err := wire.DecodeRequest([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFailureRCIsNegativeOne(t *testing.T) {
	assert.EqualValues(t, -1, wire.RCFailure)
}
