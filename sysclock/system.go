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

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/kalmantime/ntpd/clock"
	"github.com/kalmantime/ntpd/protocol/ntp"
)

// System is a Clock backed by the CLOCK_REALTIME clock_adjtime(2) kernel
// interface, through the syscall wrapper in the clock package.
type System struct {
	clockID int32
}

// NewSystem builds a System clock over CLOCK_REALTIME.
func NewSystem() *System {
	return &System{clockID: unix.CLOCK_REALTIME}
}

// Now returns the current wall clock time.
func (s *System) Now() (ntp.Timestamp, error) {
	return ntp.FromTime(time.Now()), nil
}

// SetFrequency sets the clock's frequency correction, expressed as a
// dimensionless residual (1+f is the true rate ratio), converted to the
// kernel's parts-per-billion representation.
func (s *System) SetFrequency(freq float64) error {
	_, err := clock.AdjFreqPPB(s.clockID, freq*1e9)
	return err
}

// StepClock instantaneously shifts the clock by delta.
func (s *System) StepClock(delta ntp.Duration) error {
	_, err := clock.Step(s.clockID, time.Duration(delta.ToSeconds()*float64(time.Second)))
	return err
}

// ErrorEstimateUpdate reports dispersion/delay to the kernel's maxerror/esterror fields.
func (s *System) ErrorEstimateUpdate(dispersion, delay ntp.Duration) error {
	tx := &unix.Timex{}
	tx.Modes = clock.AdjMaxError | clock.AdjEstError
	tx.Maxerror = int64(dispersion.ToSeconds() * 1e6)
	tx.Esterror = int64(delay.ToSeconds() * 1e6)
	_, err := clock.Adjtime(s.clockID, tx)
	return err
}

// StatusUpdate pushes the current leap indicator to the kernel clock status.
func (s *System) StatusUpdate(leap ntp.LeapIndicator) error {
	return clock.SetLeapStatus(s.clockID, leap == ntp.Leap61, leap == ntp.Leap59)
}

// DisableNTPAlgorithm sets STA_UNSYNC so the kernel's own PLL/FLL stops
// contending with this controller's steering.
func (s *System) DisableNTPAlgorithm() error {
	return clock.DisableKernelDiscipline(s.clockID)
}
