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

package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/clarkzinzow/mfs/internal/layout"
)

// decodeDirents reads DirentsPerBlock fixed-width directory entries out
// of a raw data block. The engine never interprets a non-directory
// block this way; the caller is responsible for checking inode type
// before calling.
func decodeDirents(block []byte, out *[layout.DirentsPerBlock]layout.Dirent) error {
	if len(block) != layout.BSIZE {
		return fmt.Errorf("metadata: directory block must be %d bytes, got %d", layout.BSIZE, len(block))
	}
	r := bytes.NewReader(block)
	for i := range out {
		if err := binary.Read(r, layout.Encoding, &out[i]); err != nil {
			return fmt.Errorf("metadata: decoding dirent %d: %w", i, err)
		}
	}
	return nil
}

// encodeDirents serializes DirentsPerBlock entries into a zero-padded
// BSIZE-byte block.
func encodeDirents(in *[layout.DirentsPerBlock]layout.Dirent) ([]byte, error) {
	var buf bytes.Buffer
	for i := range in {
		if err := binary.Write(&buf, layout.Encoding, &in[i]); err != nil {
			return nil, fmt.Errorf("metadata: encoding dirent %d: %w", i, err)
		}
	}
	block := make([]byte, layout.BSIZE)
	copy(block, buf.Bytes())
	return block, nil
}
