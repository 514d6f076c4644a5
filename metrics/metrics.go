// Package metrics stellt die Prometheus-Zähler der Datenbank bereit.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics implementiert storage.Observer und services.ReconcileObserver.
type Metrics struct {
	Mutations         *prometheus.CounterVec
	StorageFailures   *prometheus.CounterVec
	Commits           prometheus.Counter
	Rollbacks         prometheus.Counter
	ReconciledEntries *prometheus.CounterVec
	FetchFailures     prometheus.Counter
	BatchItems        *prometheus.CounterVec
}

// New legt alle Zähler an und registriert sie bei reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physbib_mutations_total",
			Help: "Total number of successful mutating statements.",
		}, []string{"op"}),
		StorageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physbib_storage_failures_total",
			Help: "Total number of statements that failed and were rolled back to their savepoint.",
		}, []string{"op"}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physbib_commits_total",
			Help: "Total number of committed working transactions.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physbib_rollbacks_total",
			Help: "Total number of rolled back working transactions.",
		}),
		ReconciledEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physbib_reconciled_entries_total",
			Help: "Total number of reconciled entries, by whether anything changed.",
		}, []string{"changed"}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physbib_fetch_failures_total",
			Help: "Total number of failed requests to the external bibliographic service.",
		}),
		BatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physbib_batch_items_total",
			Help: "Total number of items handled by batch operations.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.Mutations, m.StorageFailures, m.Commits, m.Rollbacks, m.ReconciledEntries, m.FetchFailures, m.BatchItems)
	return m
}

func (m *Metrics) StatementExecuted(op string) { m.Mutations.WithLabelValues(op).Inc() }
func (m *Metrics) StatementFailed(op string)   { m.StorageFailures.WithLabelValues(op).Inc() }
func (m *Metrics) Committed()                  { m.Commits.Inc() }
func (m *Metrics) RolledBack()                 { m.Rollbacks.Inc() }
func (m *Metrics) FetchFailed()                { m.FetchFailures.Inc() }
func (m *Metrics) BatchItem(op string)         { m.BatchItems.WithLabelValues(op).Inc() }

func (m *Metrics) Reconciled(changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	m.ReconciledEntries.WithLabelValues(label).Inc()
}
