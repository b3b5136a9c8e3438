package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCampaignSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_campaign_steps_total",
			Help: "Campaign steps executed by the runner.",
		},
		[]string{
			"result", // sent, delayed, completed, error
		},
	)
	metricSendJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_send_jobs_total",
			Help: "Queued sends handled by the worker.",
		},
		[]string{
			"result", // completed, failed
		},
	)
	metricDelivery = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailflow_delivery_duration_seconds",
			Help:    "SMTP delivery of a single message.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 20, 30, 60},
		},
		[]string{
			"caller", // runner, worker
			"result", // ok, error
		},
	)
	metricSyncedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_synced_messages_total",
			Help: "Messages upserted by the inbound synchronizer.",
		},
		[]string{
			"folder",
		},
	)
)

func observeDelivery(caller string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricDelivery.WithLabelValues(caller, result).Observe(seconds)
}
