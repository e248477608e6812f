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

	"github.com/kalmantime/ntpd/algo/matrix"
	"github.com/kalmantime/ntpd/protocol/ntp"
)

// PeerSnapshot is an immutable projection of one peer's filter state at the
// instant selection runs, indexed by the caller's opaque peer identifier.
type PeerSnapshot[P comparable] struct {
	Index       P
	State       matrix.Vector
	Uncertainty matrix.Matrix
	Delay       float64

	RemoteDelay      ntp.Duration
	RemoteDispersion ntp.Duration
	LeapIndicator    ntp.LeapIndicator

	LastUpdate ntp.Timestamp
}

// Offset is this snapshot's estimated clock offset, in seconds.
func (s PeerSnapshot[P]) Offset() float64 {
	return s.State.Entry(0)
}

// OffsetUncertainty is the standard deviation of the offset estimate.
func (s PeerSnapshot[P]) OffsetUncertainty() float64 {
	return math.Sqrt(s.Uncertainty.Entry(0, 0))
}

// Observe renders this snapshot as the read-only view exposed to
// monitoring.
func (s PeerSnapshot[P]) Observe() ObservablePeerTimedata {
	return ObservablePeerTimedata{
		Offset:            ntp.FromSeconds(s.Offset()),
		Uncertainty:       ntp.FromSeconds(s.OffsetUncertainty()),
		Delay:             ntp.FromSeconds(s.Delay),
		RemoteDelay:       s.RemoteDelay,
		RemoteUncertainty: s.RemoteDispersion,
		LastUpdate:        s.LastUpdate,
	}
}

func interval[P comparable](cfg AlgorithmConfig, s PeerSnapshot[P]) (lo, hi float64) {
	sigma := s.OffsetUncertainty() + s.RemoteDispersion.ToSeconds()
	half := cfg.SelectionConfidenceK * sigma
	return s.Offset() - half, s.Offset() + half
}

// minimumAgreeingPeers computes the quorum a candidate subset must reach:
// the configured floor, raised (never lowered) to a strict majority once
// there are at least 3 candidates to pick from.
func minimumAgreeingPeers(cfg AlgorithmConfig, n int) int {
	required := cfg.MinimumAgreeingPeers
	if required < 1 {
		required = 1
	}
	if n >= 3 {
		quorum := (n + 1 + 1) / 2
		if quorum > required {
			required = quorum
		}
	}
	return required
}

// Select implements intersection-style consensus over the candidate
// snapshots: it finds the largest subset of peers whose confidence
// intervals around their offset estimates share a common point, breaking
// ties in favor of the subset with smaller total uncertainty. If the best
// subset is smaller than the configured quorum, it returns nil.
func Select[P comparable](cfg AlgorithmConfig, candidates []PeerSnapshot[P]) []PeerSnapshot[P] {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	los := make([]float64, n)
	his := make([]float64, n)
	for i, c := range candidates {
		los[i], his[i] = interval(cfg, c)
	}

	var best []int
	bestSum := math.Inf(1)
	for i := 0; i < n; i++ {
		anchor := los[i]
		var members []int
		sum := 0.0
		for j := 0; j < n; j++ {
			if los[j] <= anchor && anchor <= his[j] {
				members = append(members, j)
				sum += candidates[j].Uncertainty.Determinant()
			}
		}
		if len(members) > len(best) || (len(members) == len(best) && sum < bestSum) {
			best = members
			bestSum = sum
		}
	}

	if len(best) < minimumAgreeingPeers(cfg, n) {
		return nil
	}

	selected := make([]PeerSnapshot[P], 0, len(best))
	for _, idx := range best {
		selected = append(selected, candidates[idx])
	}
	return selected
}
