package metrics

import "github.com/prometheus/client_golang/prometheus"

// LeadMetrics exposes counters/histograms for the Instagram lead flows.
type LeadMetrics struct {
	inboundTotal    *prometheus.CounterVec
	agentLatency    *prometheus.HistogramVec
	outboundTotal   *prometheus.CounterVec
	extractionTotal *prometheus.CounterVec
	leadsCreated    *prometheus.CounterVec
}

func NewLeadMetrics(reg prometheus.Registerer) *LeadMetrics {
	m := &LeadMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realestate",
			Subsystem: "inbound",
			Name:      "events_total",
			Help:      "Inbound Instagram events by classification and terminal outcome",
		}, []string{"kind", "outcome"}),
		agentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "realestate",
			Subsystem: "agent",
			Name:      "latency_seconds",
			Help:      "Latency of qualification agent calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realestate",
			Subsystem: "outbound",
			Name:      "sends_total",
			Help:      "Outbound Instagram sends",
		}, []string{"operation", "result"}),
		extractionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realestate",
			Subsystem: "extraction",
			Name:      "jobs_total",
			Help:      "Background extraction jobs by result",
		}, []string{"result"}),
		leadsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realestate",
			Subsystem: "leads",
			Name:      "created_total",
			Help:      "Leads created by source",
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.agentLatency, m.outboundTotal, m.extractionTotal, m.leadsCreated)
	return m
}

func (m *LeadMetrics) ObserveInbound(kind, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *LeadMetrics) ObserveAgentLatency(flow string, seconds float64) {
	if m == nil {
		return
	}
	m.agentLatency.WithLabelValues(flow).Observe(seconds)
}

func (m *LeadMetrics) ObserveOutbound(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.outboundTotal.WithLabelValues(operation, result).Inc()
}

func (m *LeadMetrics) ObserveExtraction(result string) {
	if m == nil {
		return
	}
	m.extractionTotal.WithLabelValues(result).Inc()
}

func (m *LeadMetrics) ObserveLeadCreated(source string) {
	if m == nil {
		return
	}
	m.leadsCreated.WithLabelValues(source).Inc()
}
