package points

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	awardOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kudos_award_outcomes_total",
		Help: "Award attempts by command and outcome.",
	}, []string{"command", "outcome"})
	queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kudos_points_queries_total",
		Help: "Points queries served by query type.",
	}, []string{"query_type"})
)

// RegisterMetrics adds the package collectors to reg. Registering twice is
// not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{awardOutcomes, queriesTotal} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
