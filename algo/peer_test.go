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

	"github.com/kalmantime/ntpd/algo/matrix"
	"github.com/kalmantime/ntpd/protocol/ntp"
)

// testPeer builds a PeerFilter with zeroed statistics, mirroring the
// canonical test fixture a fresh peer would have before any root-distance
// contribution from its own Kalman uncertainty.
func testPeer() *PeerFilter {
	p := NewPeerFilter(0, 0, 0)
	p.uncertainty = matrix.Diag(0, 0)
	p.leap = ntp.NoWarning
	return p
}

func TestAcceptSynchronizationMatrix(t *testing.T) {
	local := ntp.Timestamp(0)
	systemPoll := ntp.ZeroDuration

	p := testPeer()

	// by default, our_id == peer's reference_id == 0: a loop.
	require.Equal(t, AcceptLoop, p.AcceptSynchronization(local, systemPoll))

	p.ourID = 42
	require.Equal(t, AcceptServerUnreachable, p.AcceptSynchronization(local, systemPoll))

	p.reach.ReceivedPacket()
	require.Equal(t, AcceptOK, p.AcceptSynchronization(local, systemPoll))

	p.leap = ntp.Unknown
	require.Equal(t, AcceptStratum, p.AcceptSynchronization(local, systemPoll))

	p.leap = ntp.NoWarning
	p.stratum = 42
	require.Equal(t, AcceptStratum, p.AcceptSynchronization(local, systemPoll))

	p.stratum = 0
	p.rootDispersion = ntp.OneSecond * 2
	require.Equal(t, AcceptDistance, p.AcceptSynchronization(local, systemPoll))
}

func TestRootDistanceMonotonic(t *testing.T) {
	oneSecond := ntp.OneSecond
	twoSeconds := ntp.OneSecond * 2

	reference := testPeer()
	reference.rootDelay = oneSecond
	reference.rootDispersion = oneSecond
	reference.delay = oneSecond.ToSeconds()
	reference.lastUpdate = ntp.TimestampFromSeconds(1)

	atOne := reference.RootDistance(ntp.TimestampFromSeconds(1))
	atTwo := reference.RootDistance(ntp.TimestampFromSeconds(2))
	require.Less(t, int64(atOne), int64(atTwo), "distance must grow with local_time - last_update")

	biggerDelay := testPeer()
	biggerDelay.rootDelay = oneSecond
	biggerDelay.rootDispersion = oneSecond
	biggerDelay.delay = twoSeconds.ToSeconds()
	biggerDelay.lastUpdate = ntp.TimestampFromSeconds(1)
	require.Less(t, int64(atOne), int64(biggerDelay.RootDistance(ntp.TimestampFromSeconds(1))))

	biggerRootDispersion := testPeer()
	biggerRootDispersion.rootDelay = oneSecond
	biggerRootDispersion.rootDispersion = twoSeconds
	biggerRootDispersion.delay = oneSecond.ToSeconds()
	biggerRootDispersion.lastUpdate = ntp.TimestampFromSeconds(1)
	require.Less(t, int64(atOne), int64(biggerRootDispersion.RootDistance(ntp.TimestampFromSeconds(1))))

	biggerRootDelay := testPeer()
	biggerRootDelay.rootDelay = twoSeconds
	biggerRootDelay.rootDispersion = oneSecond
	biggerRootDelay.delay = oneSecond.ToSeconds()
	biggerRootDelay.lastUpdate = ntp.TimestampFromSeconds(1)
	require.Less(t, int64(atOne), int64(biggerRootDelay.RootDistance(ntp.TimestampFromSeconds(1))))

	// identical parameters produce identical distances
	same := testPeer()
	same.rootDelay = oneSecond
	same.rootDispersion = oneSecond
	same.delay = oneSecond.ToSeconds()
	same.lastUpdate = ntp.TimestampFromSeconds(1)
	require.Equal(t, reference.RootDistance(ntp.TimestampFromSeconds(1)), same.RootDistance(ntp.TimestampFromSeconds(1)))
}

func TestStateProjectionDriftsOffsetByFrequency(t *testing.T) {
	p := testPeer()
	p.state = matrix.NewVector(0, 1e-6)
	p.lastUpdate = ntp.TimestampFromSeconds(0)

	p.ProgressFiltertime(DefaultAlgorithmConfig(), ntp.TimestampFromSeconds(100))

	require.InDelta(t, 100*1e-6, p.state.Entry(0), 1e-9)
	require.True(t, p.uncertainty.IsPositiveSemidefinite())
}

func TestUpdateRejectsWrongMode(t *testing.T) {
	p := testPeer()
	origin := ntp.TimestampFromSeconds(1)
	p.nextExpectedOrigin = &origin

	pkt := ntp.Packet{Mode: ntp.ModeClient, OriginTimestamp: origin, Leap: ntp.NoWarning}
	accepted, reason := p.Update(DefaultAlgorithmConfig(), Measurement{LocalTime: ntp.TimestampFromSeconds(1)}, pkt)
	require.False(t, accepted)
	require.Equal(t, IgnoreInvalidMode, reason)
}

func TestUpdateRejectsMismatchedOrigin(t *testing.T) {
	p := testPeer()
	origin := ntp.TimestampFromSeconds(1)
	p.nextExpectedOrigin = &origin

	pkt := ntp.Packet{Mode: ntp.ModeServer, OriginTimestamp: ntp.TimestampFromSeconds(2), Leap: ntp.NoWarning}
	accepted, reason := p.Update(DefaultAlgorithmConfig(), Measurement{LocalTime: ntp.TimestampFromSeconds(1)}, pkt)
	require.False(t, accepted)
	require.Equal(t, IgnoreInvalidPacketTime, reason)
}

func TestUpdateAcceptsValidResponse(t *testing.T) {
	p := testPeer()
	origin := ntp.TimestampFromSeconds(1)
	p.nextExpectedOrigin = &origin

	pkt := ntp.Packet{
		Mode:            ntp.ModeServer,
		OriginTimestamp: origin,
		Leap:            ntp.NoWarning,
		Stratum:         1,
		RootDelay:       ntp.FromSeconds(0.01),
		RootDispersion:  ntp.FromSeconds(0.001),
	}
	m := Measurement{LocalTime: ntp.TimestampFromSeconds(1), Offset: ntp.FromSeconds(0.02), Delay: ntp.FromSeconds(0.03)}

	accepted, reason := p.Update(DefaultAlgorithmConfig(), m, pkt)
	require.True(t, accepted)
	require.Equal(t, IgnoreNone, reason)
	require.True(t, p.HasData())
	require.True(t, p.reach.IsReachable())
	require.Nil(t, p.nextExpectedOrigin)
	require.True(t, p.uncertainty.IsPositiveSemidefinite())
}

func TestKissRateRatchetsPollFloor(t *testing.T) {
	p := testPeer()
	origin := ntp.TimestampFromSeconds(1)
	p.nextExpectedOrigin = &origin
	p.lastPollInterval = 6

	pkt := ntp.Packet{
		Mode:            ntp.ModeServer,
		OriginTimestamp: origin,
		Stratum:         0,
		ReferenceID:     referenceIDFromASCII("RATE"),
	}
	accepted, reason := p.Update(DefaultAlgorithmConfig(), Measurement{LocalTime: origin}, pkt)
	require.False(t, accepted)
	require.Equal(t, IgnoreKiss, reason)
	require.Equal(t, int8(6), p.remoteMinPollInterval)
	require.False(t, p.HasData())
}

func referenceIDFromASCII(s string) ntp.ReferenceID {
	var b [4]byte
	copy(b[:], s)
	return ntp.ReferenceID(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
