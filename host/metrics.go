package host

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics of a host Executor. They are always updated, and exported only if a prometheus.Registerer is
// given with WithRegisterer.
type metrics struct {
	streamsAllocated  prometheus.Counter
	streamsAlive      prometheus.Gauge
	operations        *prometheus.CounterVec
	operationFailures *prometheus.CounterVec
	memoryInUse       prometheus.Gauge
}

func newMetrics(platform string) *metrics {
	labels := prometheus.Labels{"platform": platform}
	return &metrics{
		streamsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "streamexecutor_host_streams_allocated_total",
			Help:        "Total number of streams allocated on the host platform",
			ConstLabels: labels,
		}),
		streamsAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "streamexecutor_host_streams_alive",
			Help:        "Number of streams currently allocated on the host platform",
			ConstLabels: labels,
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "streamexecutor_host_operations_total",
			Help:        "Total number of operations queued on host platform streams",
			ConstLabels: labels,
		}, []string{"op"}),
		operationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "streamexecutor_host_operation_failures_total",
			Help:        "Total number of operations that failed while executing on host platform streams",
			ConstLabels: labels,
		}, []string{"op"}),
		memoryInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "streamexecutor_host_memory_in_use_bytes",
			Help:        "Bytes of device memory currently allocated on the host platform",
			ConstLabels: labels,
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.streamsAllocated, m.streamsAlive, m.operations, m.operationFailures, m.memoryInUse}
}

// register all collectors in reg. If one fails, the ones already registered are unregistered.
func (m *metrics) register(reg prometheus.Registerer) error {
	collectors := m.collectors()
	for ii, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, registered := range collectors[:ii] {
				reg.Unregister(registered)
			}
			return err
		}
	}
	return nil
}
