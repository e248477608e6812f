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

import "github.com/kalmantime/ntpd/protocol/ntp"

// Measurement is the caller-supplied observation for a single incoming
// response: the local arrival time, the measured clock offset and the
// measured round-trip delay. Deriving these from the four NTP exchange
// timestamps is the responsibility of the surrounding daemon.
type Measurement struct {
	LocalTime ntp.Timestamp
	Offset    ntp.Duration
	Delay     ntp.Duration
}

// TimeSnapshot is the observable state the controller maintains about the
// disciplined clock as a whole.
type TimeSnapshot struct {
	RootDelay        ntp.Duration
	RootDispersion   ntp.Duration
	PollInterval     int8
	AccumulatedSteps ntp.Duration
	LeapIndicator    ntp.LeapIndicator
}

// ObservablePeerTimedata is the read-only view of a single peer's filter
// state exposed to monitoring and the CLI.
type ObservablePeerTimedata struct {
	Offset            ntp.Duration
	Uncertainty       ntp.Duration
	Delay             ntp.Duration
	RemoteDelay       ntp.Duration
	RemoteUncertainty ntp.Duration
	LastUpdate        ntp.Timestamp
}

// StateUpdate reports what a controller event did: which peers contributed
// to the latest consensus (if any), the resulting time snapshot, and the
// timestamp at which the caller should invoke TimeUpdate next.
type StateUpdate[P comparable] struct {
	UsedPeers    []P
	TimeSnapshot *TimeSnapshot
	NextUpdate   *ntp.Timestamp
}
