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

// Package algo implements the time-synchronization control core: the
// per-peer Kalman filter, peer selection and combination, and the clock
// steering state machine that together turn a stream of NTP measurements
// into disciplined adjustments of the local clock.
package algo

import (
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/kalmantime/ntpd/protocol/ntp"
)

// PollLimits bounds the poll interval the controller will ever request,
// expressed as the NTP log2-seconds convention.
type PollLimits struct {
	Min int8 `yaml:"min"`
	Max int8 `yaml:"max"`
}

// SystemConfig carries the panic thresholds and poll bounds that are not
// specific to the steering algorithm itself.
type SystemConfig struct {
	PollLimits             PollLimits    `yaml:"poll_limits"`
	StartupPanicThreshold  ntp.Duration  `yaml:"startup_panic_threshold"`
	PanicThreshold         ntp.Duration  `yaml:"panic_threshold"`
	AccumulatedThreshold   *ntp.Duration `yaml:"accumulated_threshold"`
}

// AlgorithmConfig carries the steering thresholds that decide jump vs slew
// and the selector's confidence parameters.
type AlgorithmConfig struct {
	SteerFrequencyThreshold float64      `yaml:"steer_frequency_threshold"`
	SteerFrequencyLeftover  float64      `yaml:"steer_frequency_leftover"`
	SteerOffsetThreshold    float64      `yaml:"steer_offset_threshold"`
	SteerOffsetLeftover     float64      `yaml:"steer_offset_leftover"`
	JumpThreshold           ntp.Duration `yaml:"jump_threshold"`
	SlewMaxFrequencyOffset  float64      `yaml:"slew_max_frequency_offset"`
	SlewMinDuration         ntp.Duration `yaml:"slew_min_duration"`
	SelectionConfidenceK    float64      `yaml:"selection_confidence_k"`
	MinimumAgreeingPeers    int          `yaml:"minimum_agreeing_peers"`

	// FrequencyProcessNoise is the spectral density (s^-1) of the random-walk
	// frequency model driving Q(Δt): it inflates the frequency variance by
	// FrequencyProcessNoise*Δt and the offset variance by
	// FrequencyProcessNoise*Δt³/3 on every state projection.
	FrequencyProcessNoise float64 `yaml:"frequency_process_noise"`
}

// Config is the top-level configuration document recognized by the
// controller, combining the system and algorithm sections.
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Algorithm AlgorithmConfig `yaml:"algorithm"`
}

// DefaultAlgorithmConfig returns the steering thresholds used when a
// deployment does not override them, chosen to match a conservative
// chrony-like posture: slow slews, a 128 ms jump threshold.
func DefaultAlgorithmConfig() AlgorithmConfig {
	return AlgorithmConfig{
		SteerFrequencyThreshold: 3,
		SteerFrequencyLeftover:  0.4,
		SteerOffsetThreshold:    3,
		SteerOffsetLeftover:     0.4,
		JumpThreshold:           ntp.FromSeconds(0.128),
		SlewMaxFrequencyOffset:  200e-6,
		SlewMinDuration:         ntp.FromSeconds(100),
		SelectionConfidenceK:    1,
		MinimumAgreeingPeers:    1,
		FrequencyProcessNoise:   1e-12,
	}
}

// DefaultSystemConfig returns conservative panic thresholds suitable for a
// first deployment.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		PollLimits:            PollLimits{Min: 4, Max: 10},
		StartupPanicThreshold: ntp.FromSeconds(86400),
		PanicThreshold:        ntp.FromSeconds(1),
	}
}

// ReadConfig reads a Config from a YAML file, filling in defaults for any
// section left unset.
func ReadConfig(path string) (*Config, error) {
	c := &Config{
		System:    DefaultSystemConfig(),
		Algorithm: DefaultAlgorithmConfig(),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
