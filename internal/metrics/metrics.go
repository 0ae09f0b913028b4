// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dvr",
		Name:      "active_sessions",
		Help:      "Number of capture processes currently running.",
	})

	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dvr",
		Name:      "captures_total",
		Help:      "Finished capture stages by result.",
	}, []string{"result"})

	TranscodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dvr",
		Name:      "transcodes_total",
		Help:      "Finished transcode stages by result.",
	}, []string{"result"})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dvr",
		Name:      "uploads_total",
		Help:      "Finished upload stages by result.",
	}, []string{"result"})

	UploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dvr",
		Name:      "uploaded_bytes_total",
		Help:      "Bytes handed to object storage by successful uploads.",
	})
)

const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)
