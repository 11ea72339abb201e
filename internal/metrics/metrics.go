package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeStale     = "stale"
	OutcomeOK        = "ok"
	OutcomeError     = "error"
)

var (
	// ChangeEvents counts change-feed events seen by conversations.
	ChangeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classroomx_change_events_total",
			Help: "Change-feed events handled by open conversations, by table and outcome.",
		},
		[]string{"table", "outcome"},
	)

	// Conversations is the number of running conversation state machines.
	Conversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "classroomx_conversations_active",
			Help: "Conversation state machines currently running.",
		},
	)

	// Initializations counts conversation initializations by outcome.
	Initializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classroomx_conversation_initializations_total",
			Help: "Conversation initializations by outcome.",
		},
		[]string{"outcome"},
	)

	// Writes counts composer and overlay writes by operation and outcome.
	Writes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classroomx_writes_total",
			Help: "Message, upload, reaction and typing writes by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// SocketClients is the number of connected browser sockets.
	SocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "classroomx_socket_clients",
			Help: "Browser websocket clients currently connected.",
		},
	)
)

func init() {
	prometheus.MustRegister(ChangeEvents, Conversations, Initializations, Writes, SocketClients)
}

// Outcome maps an error to the ok/error label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
