package convstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchat_messages_appended_total",
		Help: "Messages appended to the conversation store.",
	})
	duplicateAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchat_messages_duplicate_appends_total",
		Help: "Appends discarded because the message id already existed.",
	})
	messagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchat_messages_deleted_total",
		Help: "Messages removed from the conversation store.",
	})
	messagesMarkedRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchat_messages_marked_read_total",
		Help: "Messages flipped to read by mark-read operations.",
	})
)
