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

/*
Package stats exports the control core's observable state as Prometheus
gauges: one set of per-peer gauges labeled by peer ID, and one set of
system-wide gauges for the disciplined clock as a whole.
*/
package stats

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/kalmantime/ntpd/algo"
)

const namespace = "ntpcored"

// Reporter holds every gauge the control core publishes and the registry
// they're bound to.
type Reporter struct {
	registry *prometheus.Registry

	peerOffset            *prometheus.GaugeVec
	peerUncertainty       *prometheus.GaugeVec
	peerDelay             *prometheus.GaugeVec
	peerRemoteDelay       *prometheus.GaugeVec
	peerRemoteUncertainty *prometheus.GaugeVec
	peerLastUpdate        *prometheus.GaugeVec
	peerReachable         *prometheus.GaugeVec

	rootDelay        prometheus.Gauge
	rootDispersion   prometheus.Gauge
	pollInterval     prometheus.Gauge
	accumulatedSteps prometheus.Gauge
	leapIndicator    prometheus.Gauge
}

// NewReporter builds a Reporter with every gauge registered against a
// fresh registry.
func NewReporter() *Reporter {
	r := &Reporter{registry: prometheus.NewRegistry()}

	peerGauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      name,
			Help:      help,
		}, []string{"peer"})
		r.registry.MustRegister(g)
		return g
	}
	systemGauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      name,
			Help:      help,
		})
		r.registry.MustRegister(g)
		return g
	}

	r.peerOffset = peerGauge("offset_seconds", "measured offset of this peer's clock relative to ours")
	r.peerUncertainty = peerGauge("uncertainty_seconds", "one-sigma uncertainty of the offset estimate")
	r.peerDelay = peerGauge("delay_seconds", "smoothed round-trip delay to this peer")
	r.peerRemoteDelay = peerGauge("remote_delay_seconds", "root delay reported by this peer")
	r.peerRemoteUncertainty = peerGauge("remote_uncertainty_seconds", "root dispersion reported by this peer")
	r.peerLastUpdate = peerGauge("last_update_seconds", "NTP timestamp, in seconds, of this peer's last accepted measurement")
	r.peerReachable = peerGauge("reachable", "1 once the peer has any data; no series before that")

	r.rootDelay = systemGauge("root_delay_seconds", "combined root delay of the disciplined clock")
	r.rootDispersion = systemGauge("root_dispersion_seconds", "combined root dispersion of the disciplined clock")
	r.pollInterval = systemGauge("poll_interval_log2_seconds", "current poll interval, log2 seconds")
	r.accumulatedSteps = systemGauge("accumulated_steps_seconds", "cumulative absolute offset steered since startup")
	r.leapIndicator = systemGauge("leap_indicator", "current leap indicator (0=none,1=leap61,2=leap59,3=unknown)")

	return r
}

// ObservePeer records one peer's latest observable snapshot.
func (r *Reporter) ObservePeer(id string, d algo.ObservablePeerTimedata) {
	r.peerOffset.WithLabelValues(id).Set(d.Offset.ToSeconds())
	r.peerUncertainty.WithLabelValues(id).Set(d.Uncertainty.ToSeconds())
	r.peerDelay.WithLabelValues(id).Set(d.Delay.ToSeconds())
	r.peerRemoteDelay.WithLabelValues(id).Set(d.RemoteDelay.ToSeconds())
	r.peerRemoteUncertainty.WithLabelValues(id).Set(d.RemoteUncertainty.ToSeconds())
	r.peerLastUpdate.WithLabelValues(id).Set(d.LastUpdate.Sub(0).ToSeconds())
	r.peerReachable.WithLabelValues(id).Set(1)
}

// RemovePeer deletes every gauge series for a peer that has left the table.
func (r *Reporter) RemovePeer(id string) {
	r.peerOffset.DeleteLabelValues(id)
	r.peerUncertainty.DeleteLabelValues(id)
	r.peerDelay.DeleteLabelValues(id)
	r.peerRemoteDelay.DeleteLabelValues(id)
	r.peerRemoteUncertainty.DeleteLabelValues(id)
	r.peerLastUpdate.DeleteLabelValues(id)
	r.peerReachable.DeleteLabelValues(id)
}

// ObserveSystem records the controller's latest system-wide time snapshot.
func (r *Reporter) ObserveSystem(snap algo.TimeSnapshot) {
	r.rootDelay.Set(snap.RootDelay.ToSeconds())
	r.rootDispersion.Set(snap.RootDispersion.ToSeconds())
	r.pollInterval.Set(float64(snap.PollInterval))
	r.accumulatedSteps.Set(snap.AccumulatedSteps.ToSeconds())
	r.leapIndicator.Set(float64(snap.LeapIndicator))
}

// Serve starts the Prometheus HTTP handler on the given port. It blocks and
// never returns except on a listener error, which is fatal.
func (r *Reporter) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", port), mux))
}
