/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package algo

// Reach tracks whether a peer is reachable using an 8-bit shift register.
// The register is shifted left by one bit on every poll sent and the
// rightmost bit set to zero; a valid response sets the rightmost bit back
// to one. The peer is reachable as long as the register is nonzero, i.e. a
// response arrived within the last 8 polls.
type Reach uint8

// IsReachable reports whether any of the last 8 polls got a response.
func (r Reach) IsReachable() bool {
	return r != 0
}

// Poll records that a poll was sent with no response seen yet.
func (r *Reach) Poll() {
	*r <<= 1
}

// ReceivedPacket records that a valid response just arrived.
func (r *Reach) ReceivedPacket() {
	*r |= 1
}
