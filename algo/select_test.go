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

func snapshotAt(idx int, offset, stddev float64) PeerSnapshot[int] {
	return PeerSnapshot[int]{
		Index:         idx,
		State:         matrix.NewVector(offset, 0),
		Uncertainty:   matrix.Diag(stddev*stddev, 1e-12),
		LeapIndicator: ntp.NoWarning,
	}
}

func TestSelectAgreeingMajoritySurvives(t *testing.T) {
	cfg := DefaultAlgorithmConfig()
	cfg.SelectionConfidenceK = 2

	candidates := []PeerSnapshot[int]{
		snapshotAt(0, 0.000, 0.001),
		snapshotAt(1, 0.0005, 0.001),
		snapshotAt(2, 1.0, 0.001), // outlier, far outside the other two's intervals
	}

	selected := Select(cfg, candidates)
	require.Len(t, selected, 2)
	indices := []int{selected[0].Index, selected[1].Index}
	require.ElementsMatch(t, []int{0, 1}, indices)
}

func TestSelectBelowQuorumReturnsNil(t *testing.T) {
	cfg := DefaultAlgorithmConfig()
	cfg.SelectionConfidenceK = 0.01
	cfg.MinimumAgreeingPeers = 2

	candidates := []PeerSnapshot[int]{
		snapshotAt(0, 0.0, 0.0001),
		snapshotAt(1, 1.0, 0.0001),
		snapshotAt(2, 2.0, 0.0001),
	}

	require.Nil(t, Select(cfg, candidates))
}

func TestSelectEmptyInput(t *testing.T) {
	require.Nil(t, Select[int](DefaultAlgorithmConfig(), nil))
}
