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

// Package ntp holds the decoded NTP wire values the synchronization core
// reads: timestamps, durations, the leap indicator, and the packet fields
// consulted by peer acceptance and kiss-of-death handling. It is not a wire
// codec - decoding/encoding the 48-byte NTP packet is left to the daemon's
// socket layer.
package ntp

import "time"

// NTPEpochNanosecond is the difference between the NTP and Unix epochs, in nanoseconds.
const NTPEpochNanosecond = int64(2208988800000000000)

// fixedPointScale is 2^32, the denominator of a Q32.32 fixed-point second.
const fixedPointScale = float64(1 << 32)

// Timestamp is an NTP era-0 time point, represented as a Q32.32 fixed-point
// number of seconds since the NTP epoch (1900-01-01). Subtracting two
// Timestamps yields a Duration.
type Timestamp int64

// Duration is a signed Q32.32 fixed-point number of seconds.
type Duration int64

// ZeroDuration is the additive identity.
const ZeroDuration Duration = 0

// MinDispersion is the floor applied to root delay + delay, before halving,
// in root distance calculations.
const MinDispersion Duration = Duration(0.000010 * fixedPointScale) // 10 microseconds, per RFC 5905 MINDISP

// OneSecond is exactly one second.
const OneSecond Duration = Duration(fixedPointScale)

// FromSeconds converts a float64 number of seconds into a Duration.
func FromSeconds(seconds float64) Duration {
	return Duration(seconds * fixedPointScale)
}

// ToSeconds converts a Duration into a float64 number of seconds.
func (d Duration) ToSeconds() float64 {
	return float64(d) / fixedPointScale
}

// Abs returns the absolute value of d.
func (d Duration) Abs() Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Sign returns -1, 0 or 1 according to the sign of d.
func (d Duration) Sign() float64 {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// Add returns d + other.
func (d Duration) Add(other Duration) Duration {
	return d + other
}

// Sub returns d - other.
func (d Duration) Sub(other Duration) Duration {
	return d - other
}

// TimestampFromSeconds builds a Timestamp from a float64 number of seconds
// since the NTP epoch.
func TimestampFromSeconds(seconds float64) Timestamp {
	return Timestamp(seconds * fixedPointScale)
}

// FromTime converts a time.Time into a Timestamp relative to the NTP epoch.
func FromTime(t time.Time) Timestamp {
	nsec := t.UnixNano() + NTPEpochNanosecond
	return Timestamp(float64(nsec) / float64(time.Second) * fixedPointScale)
}

// ToTime converts a Timestamp back into a time.Time.
func (t Timestamp) ToTime() time.Time {
	nsec := float64(t) / fixedPointScale * float64(time.Second)
	return time.Unix(0, int64(nsec)-NTPEpochNanosecond)
}

// Sub returns the Duration t - other.
func (t Timestamp) Sub(other Timestamp) Duration {
	return Duration(t - other)
}

// Add returns t shifted by d.
func (t Timestamp) Add(d Duration) Timestamp {
	return Timestamp(int64(t) + int64(d))
}

// Before reports whether t is strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// After reports whether t is strictly after other.
func (t Timestamp) After(other Timestamp) bool {
	return t > other
}
