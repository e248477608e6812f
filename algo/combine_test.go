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

func leapSnapshot(idx int, leap ntp.LeapIndicator) PeerSnapshot[int] {
	return PeerSnapshot[int]{
		Index:         idx,
		State:         matrix.NewVector(0, 0),
		Uncertainty:   matrix.Diag(1e-6, 1e-12),
		LeapIndicator: leap,
	}
}

func TestVoteLeapStrictMajority(t *testing.T) {
	leap, ok := VoteLeap([]PeerSnapshot[int]{
		leapSnapshot(0, ntp.NoWarning),
		leapSnapshot(1, ntp.NoWarning),
		leapSnapshot(2, ntp.Leap61),
	})
	require.True(t, ok)
	require.Equal(t, ntp.NoWarning, leap)
}

func TestVoteLeapNoMajority(t *testing.T) {
	_, ok := VoteLeap([]PeerSnapshot[int]{
		leapSnapshot(0, ntp.NoWarning),
		leapSnapshot(1, ntp.Leap61),
		leapSnapshot(2, ntp.Leap59),
	})
	require.False(t, ok)
}

func TestVoteLeapPanicsOnUnknown(t *testing.T) {
	require.Panics(t, func() {
		VoteLeap([]PeerSnapshot[int]{leapSnapshot(0, ntp.Unknown)})
	})
}

func TestCombineSingletonPreservesMean(t *testing.T) {
	snap := PeerSnapshot[int]{
		Index:            7,
		State:            matrix.NewVector(0.01, 2e-6),
		Uncertainty:      matrix.Diag(1e-6, 1e-12),
		RemoteDispersion: ntp.FromSeconds(0.002),
		Delay:            0.02,
		RemoteDelay:      ntp.FromSeconds(0.01),
		LeapIndicator:    ntp.NoWarning,
	}

	result := Combine([]PeerSnapshot[int]{snap})
	require.NotNil(t, result)
	require.InDelta(t, 0.01, result.Estimate.Entry(0), 1e-12)
	require.InDelta(t, 2e-6, result.Estimate.Entry(1), 1e-12)
	require.Equal(t, []int{7}, result.Peers)
	require.True(t, result.Uncertainty.Entry(0, 0) >= 1e-6) // inflated by remote_dispersion^2
	require.True(t, result.HasLeapIndicator)
	require.Equal(t, ntp.NoWarning, result.LeapIndicator)
}

func TestCombineEmptySelection(t *testing.T) {
	require.Nil(t, Combine[int](nil))
}

func TestCombineSortsUsedPeersByCertainty(t *testing.T) {
	certain := PeerSnapshot[int]{Index: 1, State: matrix.NewVector(0, 0), Uncertainty: matrix.Diag(1e-8, 1e-12), LeapIndicator: ntp.NoWarning}
	uncertain := PeerSnapshot[int]{Index: 2, State: matrix.NewVector(0.001, 0), Uncertainty: matrix.Diag(1e-4, 1e-12), LeapIndicator: ntp.NoWarning}

	result := Combine([]PeerSnapshot[int]{uncertain, certain})
	require.NotNil(t, result)
	require.Equal(t, []int{1, 2}, result.Peers)
}
