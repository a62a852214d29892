// Package metrics instruments the MAC engine with Prometheus counters and
// gauges, mirroring the shape of the teacher's internal "instrument"
// package (see server/internal/decoy/decoy.go: instrument.PacketsDropped(),
// instrument.PKIDocs(...)) built directly on prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MissedTimesyncs counts beacons that were not received in time.
	MissedTimesyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tdmh",
		Subsystem: "timesync",
		Name:      "missed_beacons_total",
		Help:      "Total number of timesync beacons not received by deadline.",
	})

	// Resyncs counts transitions into the IN_SYNC state.
	Resyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tdmh",
		Subsystem: "timesync",
		Name:      "resyncs_total",
		Help:      "Total number of transitions from DESYNCHRONIZED to IN_SYNC.",
	})

	// ScheduleRecomputations counts master schedule-computation runs.
	ScheduleRecomputations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tdmh",
		Subsystem: "schedule",
		Name:      "recomputations_total",
		Help:      "Total number of schedule recomputation runs on the master.",
	})

	// StreamsRejected counts streams that failed routing or slot assignment.
	StreamsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tdmh",
		Subsystem: "schedule",
		Name:      "streams_rejected_total",
		Help:      "Total number of streams rejected during schedule computation.",
	})

	// CurrentScheduleID reports the currently-applied schedule ID.
	CurrentScheduleID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tdmh",
		Subsystem: "schedule",
		Name:      "current_id",
		Help:      "ScheduleID currently applied by this node.",
	})

	// DataSlotMisses counts RECVSTREAM/RECVBUFFER slots that produced a miss.
	DataSlotMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tdmh",
		Subsystem: "dataphase",
		Name:      "slot_misses_total",
		Help:      "Total number of receive slots that missed a payload.",
	})

	// ActiveStreams reports the number of streams in ESTABLISHED state.
	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tdmh",
		Subsystem: "stream",
		Name:      "active",
		Help:      "Number of streams currently ESTABLISHED.",
	})
)

func init() {
	prometheus.MustRegister(
		MissedTimesyncs,
		Resyncs,
		ScheduleRecomputations,
		StreamsRejected,
		CurrentScheduleID,
		DataSlotMisses,
		ActiveStreams,
	)
}
