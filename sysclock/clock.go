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

// Package sysclock defines the abstract system clock the synchronization
// controller steers, plus a production adapter (clock_adjtime-backed) and a
// deterministic fake for tests.
package sysclock

import (
	"github.com/kalmantime/ntpd/protocol/ntp"
)

// Clock is the capability the controller needs from the system clock. Any
// call that returns an error is treated as fatal by the controller - a
// clock that cannot be disciplined is not a clock this controller can use.
type Clock interface {
	// Now returns the clock's current time.
	Now() (ntp.Timestamp, error)
	// SetFrequency sets the clock's multiplicative frequency correction.
	SetFrequency(freq float64) error
	// StepClock instantaneously shifts the clock by delta.
	StepClock(delta ntp.Duration) error
	// ErrorEstimateUpdate reports the current dispersion/delay estimate.
	ErrorEstimateUpdate(dispersion, delay ntp.Duration) error
	// StatusUpdate reports the current leap indicator.
	StatusUpdate(leap ntp.LeapIndicator) error
	// DisableNTPAlgorithm ensures no kernel NTP discipline contends with
	// this controller's own steering.
	DisableNTPAlgorithm() error
}
