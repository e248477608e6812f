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

package clock

import "golang.org/x/sys/unix"

// Linux kernel clock status bits, from linux/timex.h. STAUnsync is what we
// set to keep the kernel's own NTP/PLL discipline from contending with a
// userspace-driven steering loop; STAInsert/STADelete announce a pending leap
// second the way the kernel expects to see it ahead of the event.
const (
	STAPLL      uint32 = 0x0001
	STAInsert   uint32 = 0x0010
	STADelete   uint32 = 0x0020
	STAUnsync   uint32 = 0x0040
	STAFreqHold uint32 = 0x0080
)

// DisableKernelDiscipline sets STA_UNSYNC on the given clock, so the kernel
// stops applying its own PLL/FLL correction and leaves frequency/offset
// steering entirely to the caller.
func DisableKernelDiscipline(clockid int32) error {
	tx := &unix.Timex{}
	tx.Modes = AdjStatus
	tx.Status = int32(STAUnsync)
	_, err := Adjtime(clockid, tx)
	return err
}

// SetLeapStatus pushes a pending leap-second announcement (or clears one) to
// the kernel clock status bits.
func SetLeapStatus(clockid int32, insert, delete bool) error {
	tx := &unix.Timex{}
	tx.Modes = AdjStatus
	status := int32(0)
	if insert {
		status |= int32(STAInsert)
	}
	if delete {
		status |= int32(STADelete)
	}
	tx.Status = status
	_, err := Adjtime(clockid, tx)
	return err
}
