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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var peersURLFlag string

func init() {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Print the status of every peer known to a running ntpcored run",
		RunE:  runPeersCmd,
	}
	cmd.Flags().StringVarP(&peersURLFlag, "url", "u", "http://localhost:8081/peers", "status endpoint of a running `ntpcored run`")
	RootCmd.AddCommand(cmd)
}

func fetchPeerStatus(url string) ([]PeerStatus, error) {
	c := http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var peers []PeerStatus
	if err := json.Unmarshal(b, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func runPeersCmd(_ *cobra.Command, _ []string) error {
	ConfigureVerbosity()

	peers, err := fetchPeerStatus(peersURLFlag)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(20)
	table.SetHeader([]string{"peer", "reachable", "offset(ms)", "uncertainty(ms)", "delay(ms)", "poll", "last update"})
	for _, p := range peers {
		reachable := color.RedString("no")
		if p.Reachable {
			reachable = color.GreenString("yes")
		}
		table.Append([]string{
			p.ID,
			reachable,
			fmt.Sprintf("%.3f", p.Offset*1e3),
			fmt.Sprintf("%.3f", p.Uncertainty*1e3),
			fmt.Sprintf("%.3f", p.Delay*1e3),
			fmt.Sprintf("%d", p.DesiredPoll),
			fmt.Sprintf("%.1f", p.LastUpdate),
		})
	}
	table.Render()
	return nil
}
