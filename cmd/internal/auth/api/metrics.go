package authapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passage",
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Login attempts by method (password, google, github, facebook) and result.",
	}, []string{"method", "result"})

	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passage",
		Subsystem: "auth",
		Name:      "registrations_total",
		Help:      "Registration attempts by result.",
	}, []string{"result"})

	rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passage",
		Subsystem: "auth",
		Name:      "refresh_rotations_total",
		Help:      "Refresh rotation attempts by result.",
	}, []string{"result"})

	reuseDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "passage",
		Subsystem: "auth",
		Name:      "refresh_reuse_detected_total",
		Help:      "Retired refresh credentials presented again; each one triggered a cascade.",
	})
)
