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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalmantime/ntpd/protocol/ntp"
	"github.com/kalmantime/ntpd/sysclock"
)

func newTestController(t *testing.T) (*Controller[string], *sysclock.Fake) {
	t.Helper()
	fake := sysclock.NewFake(ntp.TimestampFromSeconds(1000))
	sysCfg := DefaultSystemConfig()
	algoCfg := DefaultAlgorithmConfig()
	algoCfg.JumpThreshold = ntp.FromSeconds(0.128)
	algoCfg.SlewMaxFrequencyOffset = 200e-6
	algoCfg.SlewMinDuration = ntp.FromSeconds(100)
	c := New[string](fake, ntp.ReferenceID(7), sysCfg, algoCfg)
	return c, fake
}

func acceptPacket(stratum uint8, leap ntp.LeapIndicator) ntp.Packet {
	return ntp.Packet{
		Mode:           ntp.ModeServer,
		Leap:           leap,
		Stratum:        stratum,
		RootDelay:      ntp.FromSeconds(0.001),
		RootDispersion: ntp.FromSeconds(0.0005),
	}
}

// feed drives one peer through n measurements, each reporting the same
// targetOffset, returning every resulting StateUpdate. Kalman uncertainty
// shrinks monotonically across calls, so steering may fire partway through
// the sequence rather than on the final call.
func feed(c *Controller[string], id string, t0 ntp.Timestamp, targetOffset float64, n int) []StateUpdate[string] {
	updates := make([]StateUpdate[string], 0, n)
	for i := 0; i < n; i++ {
		tm := t0.Add(ntp.FromSeconds(float64(i) * 10))
		origin := tm
		pkt := acceptPacket(1, ntp.NoWarning)
		pkt.OriginTimestamp = origin
		c.peers[id].filter.nextExpectedOrigin = &origin
		m := Measurement{LocalTime: tm, Offset: ntp.FromSeconds(targetOffset), Delay: ntp.FromSeconds(0.02)}
		updates = append(updates, c.PeerMeasurement(id, m, pkt))
	}
	return updates
}

func TestPeerAddRemoveRoundTrip(t *testing.T) {
	c, _ := newTestController(t)
	c.PeerAdd("a", ntp.ReferenceID(1))
	require.Contains(t, c.peers, "a")
	c.PeerRemove("a")
	require.NotContains(t, c.peers, "a")
}

func TestPeerUpdateIdempotent(t *testing.T) {
	c, _ := newTestController(t)
	c.PeerAdd("a", ntp.ReferenceID(1))
	c.PeerUpdate("a", true)
	c.PeerUpdate("a", true)
	require.True(t, c.peers["a"].usable)
}

func TestMeasurementBeforeIgnoreBeforeIsDropped(t *testing.T) {
	c, fake := newTestController(t)
	c.PeerAdd("a", ntp.ReferenceID(1))
	c.PeerUpdate("a", true)

	past := fake.Time.Add(ntp.FromSeconds(-10))
	origin := past
	c.peers["a"].filter.nextExpectedOrigin = &origin
	update := c.PeerMeasurement("a", Measurement{LocalTime: past, Offset: ntp.FromSeconds(1), Delay: ntp.FromSeconds(0.01)}, func() ntp.Packet {
		p := acceptPacket(1, ntp.NoWarning)
		p.OriginTimestamp = origin
		return p
	}())

	require.Nil(t, update.UsedPeers)
	require.False(t, c.peers["a"].filter.HasData())
}

func TestJumpOnLargeConsensusOffset(t *testing.T) {
	c, fake := newTestController(t)
	c.PeerAdd("a", ntp.ReferenceID(1))
	c.PeerUpdate("a", true)

	// A single measurement already carries an overwhelming consensus offset
	// relative to the filter's wide starting uncertainty, so one sample is
	// enough to force a decision without a second sample re-triggering it
	// against the now-corrected clock.
	updates := feed(c, "a", fake.Time, 1.0, 1)

	require.Len(t, fake.Steps, 1)
	require.Nil(t, updates[0].NextUpdate)
	require.InDelta(t, 1.0, fake.Steps[0].Delta.ToSeconds(), 0.05)
}

func TestSlewOnSmallConsensusOffset(t *testing.T) {
	c, fake := newTestController(t)
	c.PeerAdd("a", ntp.ReferenceID(1))
	c.PeerUpdate("a", true)

	// A small consensus offset needs several rounds for the filter's
	// uncertainty to shrink below the steering threshold; once the slew
	// fires, desired_freq gates off any further offset steer, so later
	// rounds in this sequence are expected to report a nil NextUpdate.
	updates := feed(c, "a", fake.Time, 0.010, 15)

	var sawNextUpdate bool
	for _, u := range updates {
		if u.NextUpdate != nil {
			sawNextUpdate = true
		}
	}

	require.Empty(t, fake.Steps)
	require.True(t, sawNextUpdate, "expected a slew to be scheduled at some point in the sequence")
	require.InDelta(t, -100e-6, c.desiredFreq, 50e-6)
}

func TestTimeUpdateEndsSlewAndClearsDesiredFreq(t *testing.T) {
	c, _ := newTestController(t)
	c.desiredFreq = -100e-6
	c.TimeUpdate()
	require.Equal(t, 0.0, c.desiredFreq)
}

func TestSteerFrequencyComposesMultiplicatively(t *testing.T) {
	c, _ := newTestController(t)
	c.freqOffset = 100e-6
	c.steerFrequency(50e-6)
	expected := (1+100e-6)*(1+50e-6) - 1
	require.InDelta(t, expected, c.freqOffset, 1e-12)
}

// TestUpdateClockExcludesUnsynchronizablePeers feeds a stratum-16 peer
// and a healthy stratum-1 peer identical small offsets, and asserts the
// stratum-16 peer never reaches selection/combination: updateClock must
// gate candidates on AcceptSynchronization, not just usable+HasData.
func TestUpdateClockExcludesUnsynchronizablePeers(t *testing.T) {
	c, fake := newTestController(t)
	c.PeerAdd("bad", ntp.ReferenceID(1))
	c.PeerUpdate("bad", true)
	c.PeerAdd("good", ntp.ReferenceID(2))
	c.PeerUpdate("good", true)

	badOrigin := fake.Time
	badPkt := acceptPacket(16, ntp.NoWarning)
	badPkt.OriginTimestamp = badOrigin
	c.peers["bad"].filter.nextExpectedOrigin = &badOrigin
	update := c.PeerMeasurement("bad", Measurement{LocalTime: fake.Time, Offset: ntp.FromSeconds(0.010), Delay: ntp.FromSeconds(0.02)}, badPkt)
	require.Nil(t, update.UsedPeers, "a lone stratum-16 peer must never form a consensus")

	goodTime := fake.Time.Add(ntp.FromSeconds(10))
	goodOrigin := goodTime
	goodPkt := acceptPacket(1, ntp.NoWarning)
	goodPkt.OriginTimestamp = goodOrigin
	c.peers["good"].filter.nextExpectedOrigin = &goodOrigin
	update = c.PeerMeasurement("good", Measurement{LocalTime: goodTime, Offset: ntp.FromSeconds(0.010), Delay: ntp.FromSeconds(0.02)}, goodPkt)

	require.Equal(t, []string{"good"}, update.UsedPeers)
	require.NotContains(t, update.UsedPeers, "bad")
}

func TestPanicThresholdTerminatesProcess(t *testing.T) {
	c, fake := newTestController(t)
	c.sysConfig.PanicThreshold = ntp.FromSeconds(1)
	c.inStartup = false

	var exitCode int
	var exited bool
	prevExit := exitFunc
	exitFunc = func(code int) {
		exitCode = code
		exited = true
		panic("fatal-exit")
	}
	defer func() { exitFunc = prevExit }()

	c.PeerAdd("a", ntp.ReferenceID(1))
	c.PeerUpdate("a", true)

	require.Panics(t, func() {
		feed(c, "a", fake.Time, 10.0, 1)
	})
	require.True(t, exited)
	require.Equal(t, exitCodeFatal, exitCode)
}
