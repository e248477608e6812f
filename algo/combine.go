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
	"sort"

	"github.com/kalmantime/ntpd/algo/matrix"
	"github.com/kalmantime/ntpd/protocol/ntp"
)

func sqr(x float64) float64 {
	return x * x
}

// CombineResult is the consensus estimate produced by folding a selected
// set of peer snapshots together.
type CombineResult[P comparable] struct {
	Estimate    matrix.Vector
	Uncertainty matrix.Matrix
	Peers       []P
	Delay       ntp.Duration

	LeapIndicator    ntp.LeapIndicator
	HasLeapIndicator bool
}

// VoteLeap picks the leap indicator a strict majority of the selection
// agrees on, or reports no agreement. An Unknown leap indicator reaching
// this function is a contract violation and panics: the controller keeps
// unsynchronized peers out of selection by gating candidates on
// AcceptSynchronization before Select and Combine run.
func VoteLeap[P comparable](selection []PeerSnapshot[P]) (ntp.LeapIndicator, bool) {
	var votesNone, votes59, votes61 int
	for _, s := range selection {
		switch s.LeapIndicator {
		case ntp.NoWarning:
			votesNone++
		case ntp.Leap61:
			votes61++
		case ntp.Leap59:
			votes59++
		default:
			panic("unsynchronized peer selected for synchronization")
		}
	}
	n := len(selection)
	switch {
	case votesNone*2 > n:
		return ntp.NoWarning, true
	case votes59*2 > n:
		return ntp.Leap59, true
	case votes61*2 > n:
		return ntp.Leap61, true
	default:
		return ntp.Unknown, false
	}
}

// Combine merges a selected set of peer snapshots into one estimate,
// inflating each peer's uncertainty by its own reported dispersion before
// fusing, and reports the peers used ordered from most to least certain.
func Combine[P comparable](selection []PeerSnapshot[P]) *CombineResult[P] {
	if len(selection) == 0 {
		return nil
	}

	first := selection[0]
	estimate := first.State
	uncertainty := first.Uncertainty.Add(matrix.New(sqr(first.RemoteDispersion.ToSeconds()), 0, 0, 0))

	type usedPeer struct {
		index       P
		determinant float64
	}
	used := []usedPeer{{first.Index, uncertainty.Determinant()}}

	minDelay := ntp.FromSeconds(first.Delay) + first.RemoteDelay

	for _, snap := range selection[1:] {
		peerEstimate := snap.State
		peerUncertainty := snap.Uncertainty.Add(matrix.New(sqr(snap.RemoteDispersion.ToSeconds()), 0, 0, 0))

		used = append(used, usedPeer{snap.Index, peerUncertainty.Determinant()})

		mixer := uncertainty.Add(peerUncertainty).Inverse()
		estimate = estimate.Add(uncertainty.Mul(mixer).MulVector(peerEstimate.Sub(estimate)))
		uncertainty = uncertainty.Mul(mixer).Mul(peerUncertainty)

		if d := ntp.FromSeconds(snap.Delay) + snap.RemoteDelay; d < minDelay {
			minDelay = d
		}
	}

	sort.Slice(used, func(i, j int) bool { return used[i].determinant < used[j].determinant })
	peers := make([]P, len(used))
	for i, u := range used {
		peers[i] = u.index
	}

	leap, ok := VoteLeap(selection)
	return &CombineResult[P]{
		Estimate:         estimate,
		Uncertainty:      uncertainty.Symmetrize(),
		Peers:            peers,
		Delay:            minDelay,
		LeapIndicator:    leap,
		HasLeapIndicator: ok,
	}
}
