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
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/kalmantime/ntpd/protocol/ntp"
	"github.com/kalmantime/ntpd/sysclock"
)

// exitCodeFatal is the dedicated process exit code used when a
// panic-threshold is breached or the clock interface fails: the contract
// requires the process to stop rather than risk stepping the clock by an
// implausible amount.
const exitCodeFatal = 2

// exitFunc is overridable so tests can exercise the panic-threshold path
// without killing the test binary.
var exitFunc = os.Exit

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

type peerEntry struct {
	filter *PeerFilter
	usable bool
}

// Controller owns the peer table, the abstract system clock, and the
// steering state machine. It is the sole owner of both and is driven
// entirely by its exported event methods; it is not internally
// synchronized, matching its single-threaded, non-overlapping-events
// contract.
type Controller[P comparable] struct {
	peers map[P]*peerEntry
	clock sysclock.Clock

	sysConfig  SystemConfig
	algoConfig AlgorithmConfig

	ourID ntp.ReferenceID

	ignoreBefore ntp.Timestamp
	freqOffset   float64
	desiredFreq  float64
	inStartup    bool
	timedata     TimeSnapshot

	log *log.Entry
}

// New constructs a Controller, disabling kernel NTP discipline on the
// given clock, setting its status to Unknown and its frequency to zero,
// and recording the current time as the ignore-before floor for
// measurements.
func New[P comparable](clock sysclock.Clock, ourID ntp.ReferenceID, sysConfig SystemConfig, algoConfig AlgorithmConfig) *Controller[P] {
	if err := clock.DisableNTPAlgorithm(); err != nil {
		log.WithError(err).Error("unable to disable kernel NTP discipline")
		exitFunc(exitCodeFatal)
	}
	if err := clock.StatusUpdate(ntp.Unknown); err != nil {
		log.WithError(err).Error("unable to update clock status")
		exitFunc(exitCodeFatal)
	}
	if err := clock.SetFrequency(0); err != nil {
		log.WithError(err).Error("unable to set clock frequency")
		exitFunc(exitCodeFatal)
	}
	now, err := clock.Now()
	if err != nil {
		log.WithError(err).Error("unable to read clock")
		exitFunc(exitCodeFatal)
	}

	return &Controller[P]{
		peers:        make(map[P]*peerEntry),
		clock:        clock,
		ourID:        ourID,
		sysConfig:    sysConfig,
		algoConfig:   algoConfig,
		ignoreBefore: now,
		// inStartup deliberately left at its zero value (false): the
		// source this control loop is modeled on initializes it to false
		// despite the field name, and that literal behavior is preserved
		// here rather than guessed at.
		timedata: TimeSnapshot{PollInterval: sysConfig.PollLimits.Max},
		log:          log.WithField("component", "controller"),
	}
}

// UpdateConfig replaces the system and algorithm configuration in effect.
func (c *Controller[P]) UpdateConfig(sysConfig SystemConfig, algoConfig AlgorithmConfig) {
	c.sysConfig = sysConfig
	c.algoConfig = algoConfig
}

// PeerAdd registers a new peer, identified to the caller by id, and stores
// peerRefID on its filter. Loop detection does not use peerRefID: it
// compares the reference ID carried in each accepted packet with our own.
// The peer starts unusable until PeerUpdate marks it otherwise.
func (c *Controller[P]) PeerAdd(id P, peerRefID ntp.ReferenceID) {
	now, err := c.clock.Now()
	if err != nil {
		c.fatal("clock failure while adding peer: %v", err)
		return
	}
	c.peers[id] = &peerEntry{filter: NewPeerFilter(c.ourID, peerRefID, now), usable: false}
}

// PeerRemove discards a peer's filter state entirely.
func (c *Controller[P]) PeerRemove(id P) {
	delete(c.peers, id)
}

// PeerUpdate marks a peer usable or unusable. Idempotent.
func (c *Controller[P]) PeerUpdate(id P, usable bool) {
	if e, ok := c.peers[id]; ok {
		e.usable = usable
	}
}

// PeerSnapshot returns the observable view of one peer's filter, or
// ok=false if the peer is unknown or has no data yet.
func (c *Controller[P]) PeerSnapshot(id P) (ObservablePeerTimedata, bool) {
	e, ok := c.peers[id]
	if !ok || !e.filter.HasData() {
		return ObservablePeerTimedata{}, false
	}
	return e.filter.Observe(), true
}

// PeerPoll records that a poll was just sent to a peer carrying
// transmitTimestamp, so the matching response's origin timestamp can be
// validated by PeerMeasurement. It is a no-op for unknown peers.
func (c *Controller[P]) PeerPoll(id P, transmitTimestamp ntp.Timestamp) {
	if e, ok := c.peers[id]; ok {
		e.filter.MarkPolled(transmitTimestamp)
	}
}

// PeerDesiredPoll returns the poll interval this peer would like, or
// ok=false if the peer is unknown.
func (c *Controller[P]) PeerDesiredPoll(id P) (interval int8, ok bool) {
	e, ok := c.peers[id]
	if !ok {
		return 0, false
	}
	return e.filter.GetDesiredPoll(c.sysConfig.PollLimits), true
}

func (c *Controller[P]) fatal(format string, args ...interface{}) {
	c.log.Errorf(format, args...)
	exitFunc(exitCodeFatal)
}

// updatePeer fuses a measurement into one peer's filter and reports
// whether the controller should now recompute clock steering.
func (c *Controller[P]) updatePeer(id P, m Measurement, pkt ntp.Packet) bool {
	if m.LocalTime.Sub(c.ignoreBefore) < 0 {
		return false
	}
	e, ok := c.peers[id]
	if !ok {
		return false
	}
	accepted, _ := e.filter.Update(c.algoConfig, m, pkt)
	return accepted && e.usable
}

func (c *Controller[P]) updateDesiredPoll() {
	best := c.sysConfig.PollLimits.Max
	has := false
	for _, e := range c.peers {
		d := e.filter.GetDesiredPoll(c.sysConfig.PollLimits)
		if !has || d < best {
			best = d
			has = true
		}
	}
	c.timedata.PollInterval = best
}

// PeerMeasurement fuses an incoming measurement into the named peer's
// filter, recomputes the desired poll interval, and - if the sample was
// accepted from a usable peer - reruns selection, combination and
// steering.
func (c *Controller[P]) PeerMeasurement(id P, m Measurement, pkt ntp.Packet) StateUpdate[P] {
	shouldUpdateClock := c.updatePeer(id, m, pkt)
	c.updateDesiredPoll()
	if shouldUpdateClock {
		return c.updateClock(m.LocalTime)
	}
	snap := c.timedata
	return StateUpdate[P]{TimeSnapshot: &snap}
}

func (c *Controller[P]) updateClock(now ntp.Timestamp) StateUpdate[P] {
	for _, e := range c.peers {
		if e.filter.HasData() && now.Sub(e.filter.LastUpdate()) < 0 {
			snap := c.timedata
			return StateUpdate[P]{TimeSnapshot: &snap}
		}
	}
	for _, e := range c.peers {
		e.filter.ProgressFiltertime(c.algoConfig, now)
	}

	systemPoll := ntp.FromSeconds(math.Ldexp(1, int(c.timedata.PollInterval)))
	var candidates []PeerSnapshot[P]
	for id, e := range c.peers {
		if !e.usable {
			continue
		}
		if e.filter.AcceptSynchronization(now, systemPoll) != AcceptOK {
			continue
		}
		state, uncertainty, delay, remoteDelay, remoteDispersion, leap, lastUpdate, ok := e.filter.Snapshot()
		if !ok {
			continue
		}
		candidates = append(candidates, PeerSnapshot[P]{
			Index:            id,
			State:            state,
			Uncertainty:      uncertainty,
			Delay:            delay,
			RemoteDelay:      remoteDelay,
			RemoteDispersion: remoteDispersion,
			LeapIndicator:    leap,
			LastUpdate:       lastUpdate,
		})
	}

	selection := Select(c.algoConfig, candidates)
	combined := Combine(selection)
	if combined == nil {
		c.log.Info("no consensus cluster found")
		snap := c.timedata
		return StateUpdate[P]{TimeSnapshot: &snap}
	}

	c.log.Debugf("offset=%.6fs+-%.6fs frequency=%.3eppm+-%.3eppm",
		combined.Estimate.Entry(0), math.Sqrt(combined.Uncertainty.Entry(0, 0)),
		combined.Estimate.Entry(1)*1e6, math.Sqrt(combined.Uncertainty.Entry(1, 1))*1e6)

	freqDelta := combined.Estimate.Entry(1) - c.desiredFreq
	freqUncertainty := math.Sqrt(combined.Uncertainty.Entry(1, 1))
	if math.Abs(freqDelta) > freqUncertainty*c.algoConfig.SteerFrequencyThreshold {
		c.steerFrequency(freqDelta - freqUncertainty*c.algoConfig.SteerFrequencyLeftover*sign(freqDelta))
	}

	offsetDelta := combined.Estimate.Entry(0)
	offsetUncertainty := math.Sqrt(combined.Uncertainty.Entry(0, 0))
	var nextUpdate *ntp.Timestamp
	if c.desiredFreq == 0 && math.Abs(offsetDelta) > offsetUncertainty*c.algoConfig.SteerOffsetThreshold {
		nextUpdate = c.steerOffset(offsetDelta - offsetUncertainty*c.algoConfig.SteerOffsetLeftover*sign(offsetDelta))
	}

	c.timedata.RootDelay = combined.Delay
	c.timedata.RootDispersion = ntp.FromSeconds(math.Sqrt(combined.Uncertainty.Entry(0, 0)))
	if err := c.clock.ErrorEstimateUpdate(c.timedata.RootDispersion, c.timedata.RootDelay); err != nil {
		c.fatal("clock rejected error estimate update: %v", err)
	}
	if combined.HasLeapIndicator {
		c.timedata.LeapIndicator = combined.LeapIndicator
		if err := c.clock.StatusUpdate(combined.LeapIndicator); err != nil {
			c.fatal("clock rejected status update: %v", err)
		}
	}

	c.inStartup = false

	snap := c.timedata
	return StateUpdate[P]{UsedPeers: combined.Peers, TimeSnapshot: &snap, NextUpdate: nextUpdate}
}

// checkOffsetSteer enforces the panic thresholds: an implausible offset
// during startup, or one exceeding the steady-state or accumulated
// thresholds post-startup, terminates the process rather than risk
// stepping the clock by a corrupt amount.
func (c *Controller[P]) checkOffsetSteer(change float64) {
	d := ntp.FromSeconds(change)
	if c.inStartup {
		if d.Abs() > c.sysConfig.StartupPanicThreshold {
			c.fatal("startup offset %.3fs exceeds startup panic threshold", change)
		}
		return
	}
	c.timedata.AccumulatedSteps += d.Abs()
	if d.Abs() > c.sysConfig.PanicThreshold {
		c.fatal("offset %.3fs exceeds panic threshold", change)
		return
	}
	if c.sysConfig.AccumulatedThreshold != nil && c.timedata.AccumulatedSteps > *c.sysConfig.AccumulatedThreshold {
		c.fatal("accumulated steps %.3fs exceed accumulated threshold", c.timedata.AccumulatedSteps.ToSeconds())
	}
}

// steerOffset decides between an instantaneous jump and a frequency-based
// slew and returns the timestamp at which TimeUpdate should be invoked to
// end a slew, or nil for a jump (which needs no follow-up).
func (c *Controller[P]) steerOffset(change float64) *ntp.Timestamp {
	c.checkOffsetSteer(change)

	if math.Abs(change) > c.algoConfig.JumpThreshold.ToSeconds() {
		if err := c.clock.StepClock(ntp.FromSeconds(change)); err != nil {
			c.fatal("clock rejected step: %v", err)
			return nil
		}
		for _, e := range c.peers {
			e.filter.ProcessOffsetSteering(change)
		}
		c.log.Infof("jumped offset by %.3fms", change*1e3)
		return nil
	}

	freq := math.Min(c.algoConfig.SlewMaxFrequencyOffset, math.Abs(change)/c.algoConfig.SlewMinDuration.ToSeconds())
	c.desiredFreq = -freq * sign(change)
	duration := math.Abs(change) / freq
	c.log.Infof("slewing by %.3fms over %.1fs", change*1e3, duration)

	end := c.steerFrequency(-c.desiredFreq).Add(ntp.FromSeconds(duration))
	return &end
}

// steerFrequency composes change into the cumulative frequency correction,
// pushes it to the clock, and informs every peer filter of the
// re-anchoring instant.
func (c *Controller[P]) steerFrequency(change float64) ntp.Timestamp {
	c.freqOffset = (1+c.freqOffset)*(1+change) - 1
	if err := c.clock.SetFrequency(c.freqOffset); err != nil {
		c.fatal("clock rejected frequency: %v", err)
	}
	now, err := c.clock.Now()
	if err != nil {
		c.fatal("clock failure reading frequency update time: %v", err)
	}
	for _, e := range c.peers {
		e.filter.ProcessFrequencySteering(now, change)
	}
	c.log.Infof("changed frequency, current steer %.3eppm, desired %.3eppm", c.freqOffset*1e6, c.desiredFreq*1e6)
	return now
}

// TimeUpdate is invoked by the caller when a previously scheduled slew end
// time arrives: it cancels the slew's residual frequency offset and
// returns the controller to idle.
func (c *Controller[P]) TimeUpdate() StateUpdate[P] {
	c.steerFrequency(c.desiredFreq)
	c.desiredFreq = 0
	return StateUpdate[P]{}
}
