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

// Package clock abstracts the current time behind an interface, so that
// code which timestamps events (notably the client's retransmission
// logging) takes a Clock rather than calling time.Now directly.
package clock

import "time"

// Clock knows the current time and can notify after a delay.
// RealClock is the only implementation; production code takes a Clock
// rather than calling time.Now directly so the seam exists if a test
// ever needs to substitute one.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time
}

var _ Clock = RealClock{}
