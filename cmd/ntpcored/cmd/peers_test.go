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

package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchPeerStatus(t *testing.T) {
	sampleResp := `[{"id": "ntp1.example.com", "offset_seconds": 0.001, "uncertainty_seconds": 0.0002, "reachable": true}]`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, sampleResp)
	}))
	defer ts.Close()

	peers, err := fetchPeerStatus(ts.URL)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "ntp1.example.com", peers[0].ID)
	require.InDelta(t, 0.001, peers[0].Offset, 1e-9)
	require.True(t, peers[0].Reachable)
}

func TestFetchPeerStatusRejectsUnreachableServer(t *testing.T) {
	_, err := fetchPeerStatus("http://127.0.0.1:1/peers")
	require.Error(t, err)
}
