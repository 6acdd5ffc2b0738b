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

//go:build !linux

package diskimage

import "os"

// preallocate reserves size bytes for f. Platforms without fallocate(2)
// fall back to a plain truncate, which is sparse but still gives the
// image its final, addressable size.
func preallocate(f *os.File, size int64) error {
	return f.Truncate(size)
}
