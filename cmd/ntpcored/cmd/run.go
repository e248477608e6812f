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
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kalmantime/ntpd/algo"
	"github.com/kalmantime/ntpd/protocol/ntp"
	"github.com/kalmantime/ntpd/stats"
	"github.com/kalmantime/ntpd/sysclock"
)

var (
	runConfigFlag      string
	runOurIDFlag       uint32
	runMetricsPortFlag int
	runStatusPortFlag  int
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control core, reading decoded measurements from stdin",
		Long: `run wires a Controller to the system clock and drives it from a stream of
already-decoded NTP measurements read as newline-delimited JSON on stdin.
Receiving and parsing the NTP wire protocol itself, and associating
responses with the polls that triggered them, are the responsibility of
whatever produces that stream - this command does not open a UDP socket.`,
		RunE: runRunCmd,
	}
	cmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "path to a YAML config file (defaults used if empty)")
	cmd.Flags().Uint32Var(&runOurIDFlag, "ref-id", 0, "our own NTP reference ID, for loop detection")
	cmd.Flags().IntVar(&runMetricsPortFlag, "metrics-port", 9090, "Prometheus /metrics listen port")
	cmd.Flags().IntVar(&runStatusPortFlag, "status-port", 8081, "JSON peer status listen port, used by the peers subcommand")
	RootCmd.AddCommand(cmd)
}

// measurementLine is one line of the stdin protocol `run` consumes: an
// already-decoded NTP response, identified by an opaque peer id the caller
// chooses.
type measurementLine struct {
	Peer           string  `json:"peer"`
	RefID          uint32  `json:"ref_id"`
	LocalTime      float64 `json:"local_time"`
	Origin         float64 `json:"origin"`
	Offset         float64 `json:"offset"`
	Delay          float64 `json:"delay"`
	Leap           uint8   `json:"leap"`
	Stratum        uint8   `json:"stratum"`
	RootDelay      float64 `json:"root_delay"`
	RootDispersion float64 `json:"root_dispersion"`
}

type peerTable struct {
	mu    sync.Mutex
	byID  map[string]PeerStatus
	order []string
}

func newPeerTable() *peerTable {
	return &peerTable{byID: make(map[string]PeerStatus)}
}

func (t *peerTable) set(id string, s PeerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; !ok {
		t.order = append(t.order, id)
	}
	t.byID[id] = s
}

func (t *peerTable) snapshot() []PeerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerStatus, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

func (t *peerTable) serveHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(t.snapshot()); err != nil {
		log.Errorf("encoding peer status: %v", err)
	}
}

func runRunCmd(_ *cobra.Command, _ []string) error {
	ConfigureVerbosity()

	cfg := &algo.Config{System: algo.DefaultSystemConfig(), Algorithm: algo.DefaultAlgorithmConfig()}
	if runConfigFlag != "" {
		loaded, err := algo.ReadConfig(runConfigFlag)
		if err != nil {
			return fmt.Errorf("reading config from %q: %w", runConfigFlag, err)
		}
		cfg = loaded
	}

	clock := sysclock.NewSystem()
	controller := algo.New[string](clock, ntp.ReferenceID(runOurIDFlag), cfg.System, cfg.Algorithm)
	reporter := stats.NewReporter()
	table := newPeerTable()

	go reporter.Serve(runMetricsPortFlag)
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/peers", table.serveHTTP)
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", runStatusPortFlag), mux))
	}()

	known := make(map[string]bool)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var line measurementLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			log.Warningf("skipping malformed measurement line: %v", err)
			continue
		}

		origin := ntp.TimestampFromSeconds(line.Origin)
		if !known[line.Peer] {
			controller.PeerAdd(line.Peer, ntp.ReferenceID(line.RefID))
			controller.PeerUpdate(line.Peer, true)
			known[line.Peer] = true
		}
		controller.PeerPoll(line.Peer, origin)

		pkt := ntp.Packet{
			Mode:            ntp.ModeServer,
			Stratum:         line.Stratum,
			Leap:            ntp.LeapIndicator(line.Leap),
			ReferenceID:     ntp.ReferenceID(line.RefID),
			OriginTimestamp: origin,
			RootDelay:       ntp.FromSeconds(line.RootDelay),
			RootDispersion:  ntp.FromSeconds(line.RootDispersion),
		}
		m := algo.Measurement{
			LocalTime: ntp.TimestampFromSeconds(line.LocalTime),
			Offset:    ntp.FromSeconds(line.Offset),
			Delay:     ntp.FromSeconds(line.Delay),
		}

		update := controller.PeerMeasurement(line.Peer, m, pkt)

		if snap, ok := controller.PeerSnapshot(line.Peer); ok {
			reporter.ObservePeer(line.Peer, snap)
			desiredPoll, _ := controller.PeerDesiredPoll(line.Peer)
			table.set(line.Peer, PeerStatus{
				ID:                line.Peer,
				Offset:            snap.Offset.ToSeconds(),
				Uncertainty:       snap.Uncertainty.ToSeconds(),
				Delay:             snap.Delay.ToSeconds(),
				RemoteDelay:       snap.RemoteDelay.ToSeconds(),
				RemoteUncertainty: snap.RemoteUncertainty.ToSeconds(),
				LastUpdate:        snap.LastUpdate.Sub(0).ToSeconds(),
				Reachable:         true,
				DesiredPoll:       desiredPoll,
			})
		}
		if update.TimeSnapshot != nil {
			reporter.ObserveSystem(*update.TimeSnapshot)
		}
		if update.NextUpdate != nil {
			scheduleTimeUpdate(controller, clock, *update.NextUpdate)
		}
	}
	return scanner.Err()
}

// scheduleTimeUpdate arranges for TimeUpdate to fire once the clock reaches
// next, ending a slew in progress.
func scheduleTimeUpdate(controller *algo.Controller[string], clock sysclock.Clock, next ntp.Timestamp) {
	now, err := clock.Now()
	if err != nil {
		log.Errorf("reading clock to schedule time update: %v", err)
		return
	}
	delay := next.Sub(now).ToSeconds()
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(time.Duration(delay*float64(time.Second)), func() {
		controller.TimeUpdate()
	})
}
