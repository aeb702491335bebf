package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	v1 "convoy/shared/contracts/messaging/v1"
)

// Metrics holds the messaging counters. A nil *Metrics records nothing.
type Metrics struct {
	messagesAppended     *prometheus.CounterVec
	conversationsCreated prometheus.Counter
	createConflicts      prometheus.Counter
	readReceipts         prometheus.Counter
	notifications        *prometheus.CounterVec
}

// NewMetrics registers the messaging counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messagesAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Name:      "messages_appended_total",
			Help:      "Messages persisted, by message type.",
		}, []string{"type"}),
		conversationsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "convoy",
			Name:      "conversations_created_total",
			Help:      "Conversations created by first contact.",
		}),
		createConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "convoy",
			Name:      "conversation_create_conflicts_total",
			Help:      "Concurrent first contacts resolved by re-fetching the winner.",
		}),
		readReceipts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "convoy",
			Name:      "read_receipts_total",
			Help:      "Read receipts recorded.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Name:      "notifications_total",
			Help:      "Notification attempts, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) messageAppended(t v1.MessageType) {
	if m == nil {
		return
	}
	m.messagesAppended.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) conversationCreated() {
	if m == nil {
		return
	}
	m.conversationsCreated.Inc()
}

func (m *Metrics) createConflict() {
	if m == nil {
		return
	}
	m.createConflicts.Inc()
}

func (m *Metrics) receiptsRecorded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.readReceipts.Add(float64(n))
}

func (m *Metrics) notification(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.notifications.WithLabelValues(result).Inc()
}
