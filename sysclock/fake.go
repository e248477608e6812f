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

package sysclock

import "github.com/kalmantime/ntpd/protocol/ntp"

// StepCall records a single StepClock invocation.
type StepCall struct {
	Delta ntp.Duration
}

// ErrorEstimateCall records a single ErrorEstimateUpdate invocation.
type ErrorEstimateCall struct {
	Dispersion, Delay ntp.Duration
}

// Fake is a deterministic, in-memory Clock for tests. It never blocks, never
// touches the OS, and records every call so tests can assert on the exact
// sequence of steering decisions the controller made.
type Fake struct {
	Time ntp.Timestamp

	Frequency float64
	Leap      ntp.LeapIndicator
	NTPDisabled bool

	FrequencyCalls     []float64
	Steps              []StepCall
	ErrorEstimateCalls []ErrorEstimateCall
	StatusCalls        []ntp.LeapIndicator

	// FailNext, if set, is returned (and cleared) by the next call to any
	// Clock method below (not Advance) - used to exercise the controller's
	// fatal-on-clock-error path.
	FailNext error
}

// NewFake builds a Fake clock starting at the given time.
func NewFake(start ntp.Timestamp) *Fake {
	return &Fake{Time: start, Leap: ntp.Unknown}
}

func (f *Fake) takeFailure() error {
	err := f.FailNext
	f.FailNext = nil
	return err
}

// Now returns the fake's current time.
func (f *Fake) Now() (ntp.Timestamp, error) {
	if err := f.takeFailure(); err != nil {
		return 0, err
	}
	return f.Time, nil
}

// Advance moves the fake clock forward by exactly d; the recorded frequency
// correction is not applied.
func (f *Fake) Advance(d ntp.Duration) {
	f.Time = f.Time.Add(d)
}

// SetFrequency records the requested frequency.
func (f *Fake) SetFrequency(freq float64) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.Frequency = freq
	f.FrequencyCalls = append(f.FrequencyCalls, freq)
	return nil
}

// StepClock instantaneously shifts the fake's time by delta.
func (f *Fake) StepClock(delta ntp.Duration) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.Time = f.Time.Add(delta)
	f.Steps = append(f.Steps, StepCall{Delta: delta})
	return nil
}

// ErrorEstimateUpdate records the reported dispersion/delay.
func (f *Fake) ErrorEstimateUpdate(dispersion, delay ntp.Duration) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.ErrorEstimateCalls = append(f.ErrorEstimateCalls, ErrorEstimateCall{Dispersion: dispersion, Delay: delay})
	return nil
}

// StatusUpdate records the reported leap indicator.
func (f *Fake) StatusUpdate(leap ntp.LeapIndicator) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.Leap = leap
	f.StatusCalls = append(f.StatusCalls, leap)
	return nil
}

// DisableNTPAlgorithm records that kernel discipline was disabled.
func (f *Fake) DisableNTPAlgorithm() error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.NTPDisabled = true
	return nil
}
