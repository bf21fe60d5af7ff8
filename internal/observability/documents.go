package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Result labels used by document counters.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// DocumentMetrics exposes collectors for document writes and the stock listing cache. A nil
// receiver is a no-op so services can run without instrumentation.
type DocumentMetrics struct {
	ops        *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	stockCache *prometheus.CounterVec
}

// NewDocumentMetrics registers the document collectors against registerer.
func NewDocumentMetrics(registerer prometheus.Registerer) *DocumentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clothstock_documents_total",
		Help: "Document operations partitioned by document type, operation and result.",
	}, []string{"doc", "op", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clothstock_document_duration_seconds",
		Help:    "Duration of document transactions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"doc", "op"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clothstock_rule_rejections_total",
		Help: "Document rejections partitioned by the rule that failed.",
	}, []string{"doc", "rule"})
	stockCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clothstock_stock_cache_total",
		Help: "Stock listing cache lookups partitioned by result.",
	}, []string{"result"})
	registerer.MustRegister(ops, duration, rejections, stockCache)
	return &DocumentMetrics{ops: ops, duration: duration, rejections: rejections, stockCache: stockCache}
}

// DocTracker instruments one document operation.
type DocTracker struct {
	metrics *DocumentMetrics
	doc     string
	op      string
	start   time.Time
}

// Track starts timing an operation.
func (m *DocumentMetrics) Track(doc, op string) *DocTracker {
	return &DocTracker{metrics: m, doc: doc, op: op, start: time.Now()}
}

// End records the outcome and returns err untouched.
func (t *DocTracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
		if re, ok := shared.AsRuleError(err); ok {
			result = ResultRejected
			t.metrics.rejections.WithLabelValues(t.doc, re.Rule).Inc()
		} else if errors.Is(err, shared.ErrNotFound) {
			result = ResultRejected
		}
	}
	t.metrics.ops.WithLabelValues(t.doc, t.op, result).Inc()
	t.metrics.duration.WithLabelValues(t.doc, t.op).Observe(time.Since(t.start).Seconds())
	return err
}

// StockCache counts a listing cache hit or miss.
func (m *DocumentMetrics) StockCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.stockCache.WithLabelValues("hit").Inc()
		return
	}
	m.stockCache.WithLabelValues("miss").Inc()
}
