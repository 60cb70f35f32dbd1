package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rewards_auth"

var (
	// OTPEvents counts challenge lifecycle outcomes by event name.
	OTPEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_events_total",
		Help:      "One-time password challenge events.",
	}, []string{"event"})

	// Logins counts login attempts by result.
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Password login attempts.",
	}, []string{"result"})

	// Registrations counts accounts created through completed registrations.
	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Completed registrations.",
	})

	// PointsAwarded sums loyalty points credited through the ledger.
	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_awarded_total",
		Help:      "Loyalty points credited.",
	})
)

// OTP increments the challenge event counter.
func OTP(event string) {
	OTPEvents.WithLabelValues(event).Inc()
}
