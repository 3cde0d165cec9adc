package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exabgp_session_state",
			Help: "Peer FSM state (0=idle 1=active 2=connect 3=opensent 4=openconfirm 5=established).",
		},
		[]string{"peer"},
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exabgp_messages_total",
			Help: "BGP messages by peer, direction and type.",
		},
		[]string{"peer", "direction", "type"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exabgp_parse_errors_total",
			Help: "Parse failures by stage.",
		},
		[]string{"stage", "reason"},
	)

	AdjRIBOutPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exabgp_adj_rib_out_pending",
			Help: "Changes awaiting transmission per peer.",
		},
		[]string{"peer"},
	)

	AdjRIBOutSent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exabgp_adj_rib_out_sent",
			Help: "Routes advertised per peer and family.",
		},
		[]string{"peer", "family"},
	)

	APICommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exabgp_api_commands_total",
			Help: "API commands by verb and outcome.",
		},
		[]string{"verb", "outcome"},
	)

	APIQueueBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exabgp_api_queue_bytes",
			Help: "Outgoing API queue backlog per process.",
		},
		[]string{"process"},
	)

	ProcessRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exabgp_process_restarts_total",
			Help: "API child process respawns.",
		},
		[]string{"process"},
	)

	EventsExportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exabgp_events_exported_total",
			Help: "Event envelopes published to the export sink.",
		},
		[]string{"outcome"},
	)
)

func Register() {
	prometheus.MustRegister(
		SessionState,
		MessagesTotal,
		ParseErrorsTotal,
		AdjRIBOutPending,
		AdjRIBOutSent,
		APICommandsTotal,
		APIQueueBytes,
		ProcessRestartsTotal,
		EventsExportedTotal,
	)
}
