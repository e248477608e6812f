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

package ntp

// kissRateCode is the RFC 5905 S7.4 kiss code instructing the client to
// reduce its polling rate.
const kissRateCode = "RATE"

// IsKiss reports whether p is any kind of kiss-of-death packet: stratum 0
// carries an ASCII control code in ReferenceID rather than a real stratum.
func (p Packet) IsKiss() bool {
	return p.Stratum == 0
}

// IsKissRate reports whether p is specifically a rate-limiting kiss,
// instructing the client to raise its minimum poll interval.
func (p Packet) IsKissRate() bool {
	return p.IsKiss() && p.ReferenceID.ascii() == kissRateCode
}
