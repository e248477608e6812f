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
	"math"

	"github.com/eclesh/welford"

	"github.com/kalmantime/ntpd/algo/matrix"
	"github.com/kalmantime/ntpd/protocol/ntp"
)

const (
	maxStratum = 16
	phi        = 15e-6 // assumed frequency tolerance, s/s

	minMeasurementVariance = 1e-10
)

var maxDistance = ntp.OneSecond

func multiplyByPhi(d ntp.Duration) ntp.Duration {
	return ntp.FromSeconds(d.ToSeconds() * phi)
}

// PeerFilter tracks one remote peer's 2-D Kalman state (offset, frequency),
// its reachability register and acceptance-relevant fields, and its poll
// interval bookkeeping. One PeerFilter exists per entry in a Controller's
// peer table.
type PeerFilter struct {
	ourID  ntp.ReferenceID
	peerID ntp.ReferenceID

	state       matrix.Vector
	uncertainty matrix.Matrix
	lastUpdate  ntp.Timestamp
	hasData     bool

	delay  float64
	jitter *welford.Stats

	leap           ntp.LeapIndicator
	stratum        uint8
	referenceID    ntp.ReferenceID
	rootDelay      ntp.Duration
	rootDispersion ntp.Duration

	remoteDelay      ntp.Duration
	remoteDispersion ntp.Duration

	reach                 Reach
	lastPollInterval      int8
	nextPollInterval      int8
	remoteMinPollInterval int8
	nextExpectedOrigin    *ntp.Timestamp
}

// NewPeerFilter creates a fresh filter state anchored at now, with a wide
// initial uncertainty reflecting that nothing has been observed yet.
func NewPeerFilter(ourID, peerID ntp.ReferenceID, now ntp.Timestamp) *PeerFilter {
	return &PeerFilter{
		ourID:                 ourID,
		peerID:                peerID,
		state:                 matrix.NewVector(0, 0),
		uncertainty:           matrix.Diag(1, 1e-8),
		lastUpdate:            now,
		leap:                  ntp.Unknown,
		jitter:                welford.New(),
		lastPollInterval:      2,
		nextPollInterval:      2,
		remoteMinPollInterval: 2,
	}
}

// HasData reports whether this filter has ever fused an accepted
// measurement.
func (p *PeerFilter) HasData() bool {
	return p.hasData
}

// LastUpdate returns the local time this filter's state was last projected
// or fused to.
func (p *PeerFilter) LastUpdate() ntp.Timestamp {
	return p.lastUpdate
}

// processNoise builds Q(Δt): a random-walk-frequency process noise matrix
// whose frequency-variance term grows linearly with Δt and whose
// offset-variance term grows with Δt³/3, consistent with offset being the
// time integral of frequency.
func processNoise(cfg AlgorithmConfig, dt float64) matrix.Matrix {
	sigma := cfg.FrequencyProcessNoise
	q00 := sigma * dt * dt * dt / 3
	q01 := sigma * dt * dt / 2
	q11 := sigma * dt
	return matrix.New(q00, q01, q01, q11)
}

// ProgressFiltertime advances the filter's mean and covariance from its
// current last_update to t without fusing a new measurement. It is a
// no-op if t does not lie strictly after last_update.
func (p *PeerFilter) ProgressFiltertime(cfg AlgorithmConfig, t ntp.Timestamp) {
	dt := t.Sub(p.lastUpdate).ToSeconds()
	if dt <= 0 {
		return
	}
	f := matrix.New(1, dt, 0, 1)
	p.state = f.MulVector(p.state)
	p.uncertainty = f.Mul(p.uncertainty).Mul(f.Transpose()).Add(processNoise(cfg, dt)).Symmetrize()
	p.lastUpdate = t
}

// fuse performs the measurement update step given observed offset z and
// measurement variance r, using the fixed observation matrix H = [1, 0].
func (p *PeerFilter) fuse(z, r float64) {
	s := p.uncertainty.Entry(0, 0) + r
	y := z - p.state.Entry(0)
	k0 := p.uncertainty.Entry(0, 0) / s
	k1 := p.uncertainty.Entry(1, 0) / s

	p.state = matrix.NewVector(p.state.Entry(0)+k0*y, p.state.Entry(1)+k1*y)

	ikh := matrix.New(1-k0, 0, -k1, 1)
	p.uncertainty = ikh.Mul(p.uncertainty).Symmetrize()
}

// measurementVariance estimates r from the observed delay and the running
// jitter of past offset samples: noisier recent history and longer round
// trips both widen the trusted band around a new sample.
func measurementVariance(delay float64, jitter *welford.Stats) float64 {
	r := (delay / 2) * (delay / 2)
	if r < minMeasurementVariance {
		r = minMeasurementVariance
	}
	if jitter.Count() > 1 {
		r += jitter.Variance()
	}
	return r
}

// GetInterval returns this peer's next poll interval given the
// controller-wide desired interval, ratcheting it up to whatever the peer
// has itself demanded via remote_min_poll_interval or backoff.
func (p *PeerFilter) GetInterval(systemPollInterval int8) int8 {
	interval := systemPollInterval
	if p.remoteMinPollInterval > interval {
		interval = p.remoteMinPollInterval
	}
	if p.nextPollInterval > interval {
		interval = p.nextPollInterval
	}
	p.lastPollInterval = interval
	p.nextPollInterval = interval + 1
	return p.lastPollInterval
}

// GetDesiredPoll returns this peer's own view of its ideal poll interval,
// clamped to limits. The controller combines these across all peers by
// taking the minimum.
func (p *PeerFilter) GetDesiredPoll(limits PollLimits) int8 {
	v := p.lastPollInterval
	if p.remoteMinPollInterval > v {
		v = p.remoteMinPollInterval
	}
	if v < limits.Min {
		v = limits.Min
	}
	if v > limits.Max {
		v = limits.Max
	}
	return v
}

// MarkPolled records that a poll was just sent, shifting the reachability
// register and recording the origin timestamp we expect the response to
// echo back.
func (p *PeerFilter) MarkPolled(transmitTimestamp ntp.Timestamp) {
	p.reach.Poll()
	origin := transmitTimestamp
	p.nextExpectedOrigin = &origin
}

// Update fuses one incoming packet/measurement pair into the filter. It
// returns whether the sample was accepted and, if not, why.
func (p *PeerFilter) Update(algoCfg AlgorithmConfig, m Measurement, pkt ntp.Packet) (bool, IgnoreReason) {
	if pkt.Mode != ntp.ModeServer {
		return false, IgnoreInvalidMode
	}
	if p.nextExpectedOrigin == nil || pkt.OriginTimestamp != *p.nextExpectedOrigin {
		return false, IgnoreInvalidPacketTime
	}
	if pkt.IsKissRate() {
		next := p.remoteMinPollInterval + 1
		if p.lastPollInterval > next {
			next = p.lastPollInterval
		}
		p.remoteMinPollInterval = next
		return false, IgnoreKiss
	}
	if pkt.IsKiss() {
		return false, IgnoreKiss
	}

	p.reach.ReceivedPacket()
	p.nextPollInterval = p.lastPollInterval
	p.nextExpectedOrigin = nil

	if m.LocalTime.Before(p.lastUpdate) {
		return false, IgnoreTooOld
	}

	p.ProgressFiltertime(algoCfg, m.LocalTime)

	z := m.Offset.ToSeconds()
	d := m.Delay.ToSeconds()
	if !p.hasData {
		p.delay = d
	} else {
		p.delay = p.delay*0.8 + d*0.2
	}
	p.jitter.Add(z)

	p.fuse(z, measurementVariance(d, p.jitter))

	p.leap = pkt.Leap
	p.stratum = pkt.Stratum
	p.referenceID = pkt.ReferenceID
	p.rootDelay = pkt.RootDelay
	p.rootDispersion = pkt.RootDispersion
	p.remoteDelay = pkt.RootDelay
	p.remoteDispersion = pkt.RootDispersion
	p.hasData = true

	return true, IgnoreNone
}

// rootDistanceWithoutTime is root_distance with the age-of-sample term
// omitted, so it can be combined with a caller-supplied local_clock_time.
func (p *PeerFilter) rootDistanceWithoutTime() ntp.Duration {
	halfRTT := p.rootDelay.Add(ntp.FromSeconds(p.delay))
	if halfRTT < ntp.MinDispersion {
		halfRTT = ntp.MinDispersion
	}
	dispersion := ntp.FromSeconds(math.Sqrt(p.uncertainty.Entry(0, 0)))
	jitter := ntp.ZeroDuration
	if p.jitter.Count() > 0 {
		jitter = ntp.FromSeconds(p.jitter.Stddev())
	}
	return ntp.FromSeconds(halfRTT.ToSeconds()/2) + p.rootDispersion + dispersion + jitter
}

// RootDistance is the maximum error due to all causes of the local clock
// relative to the primary reference, as of localTime.
func (p *PeerFilter) RootDistance(localTime ntp.Timestamp) ntp.Duration {
	return p.rootDistanceWithoutTime() + multiplyByPhi(localTime.Sub(p.lastUpdate))
}

// AcceptSynchronization tests whether this peer is currently eligible to
// participate in selection.
func (p *PeerFilter) AcceptSynchronization(localTime ntp.Timestamp, systemPoll ntp.Duration) AcceptSynchronizationError {
	if !p.leap.IsSynchronized() || p.stratum >= maxStratum {
		return AcceptStratum
	}
	if p.RootDistance(localTime) > maxDistance+multiplyByPhi(systemPoll) {
		return AcceptDistance
	}
	if p.stratum != 1 && p.referenceID == p.ourID {
		return AcceptLoop
	}
	if !p.reach.IsReachable() {
		return AcceptServerUnreachable
	}
	return AcceptOK
}

// ProcessOffsetSteering shifts this filter's offset estimate to absorb an
// instantaneous clock step of delta: the frame moved, but the uncertainty
// about the rate within that frame did not change.
func (p *PeerFilter) ProcessOffsetSteering(delta float64) {
	p.state = matrix.NewVector(p.state.Entry(0)-delta, p.state.Entry(1))
}

// ProcessFrequencySteering composes a frequency correction applied at
// freqUpdateTime into this filter's frequency estimate and re-anchors the
// filter's projection to that instant.
func (p *PeerFilter) ProcessFrequencySteering(freqUpdateTime ntp.Timestamp, change float64) {
	newFreq := (1+p.state.Entry(1))*(1-change) - 1
	p.state = matrix.NewVector(p.state.Entry(0), newFreq)
	p.lastUpdate = freqUpdateTime
}

// Snapshot returns an immutable projection of this peer's current state
// for use by the selector and combiner, or ok=false if nothing has been
// observed yet.
func (p *PeerFilter) Snapshot() (state matrix.Vector, uncertainty matrix.Matrix, delay float64, remoteDelay, remoteDispersion ntp.Duration, leap ntp.LeapIndicator, lastUpdate ntp.Timestamp, ok bool) {
	if !p.hasData {
		return matrix.Vector{}, matrix.Matrix{}, 0, 0, 0, ntp.Unknown, p.lastUpdate, false
	}
	return p.state, p.uncertainty, p.delay, p.remoteDelay, p.remoteDispersion, p.leap, p.lastUpdate, true
}

// Observe renders this filter's current state as the read-only view
// exposed to monitoring.
func (p *PeerFilter) Observe() ObservablePeerTimedata {
	return ObservablePeerTimedata{
		Offset:            ntp.FromSeconds(p.state.Entry(0)),
		Uncertainty:       ntp.FromSeconds(math.Sqrt(p.uncertainty.Entry(0, 0))),
		Delay:             ntp.FromSeconds(p.delay),
		RemoteDelay:       p.remoteDelay,
		RemoteUncertainty: p.remoteDispersion,
		LastUpdate:        p.lastUpdate,
	}
}
