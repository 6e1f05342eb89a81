package malloc

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure reasons reported by MetricsAllocator.
const (
	reasonInvalidSize = "invalid_size"
	reasonExhausted   = "exhausted"
	reasonInvalidAddr = "invalid_addr"
	reasonDoubleFree  = "double_free"
	reasonOther       = "other"
)

// MetricsAllocator counts the traffic going through an upstream Allocator.
// It is a prometheus.Collector and must be registered to be exported.
type MetricsAllocator struct {
	upstream Allocator

	allocateBytesCounter   prometheus.Counter
	inuseBytesGauge        prometheus.Gauge
	allocateObjectsCounter prometheus.Counter
	inuseObjectsGauge      prometheus.Gauge
	failuresCounter        *prometheus.CounterVec
}

var (
	_ Allocator            = (*MetricsAllocator)(nil)
	_ prometheus.Collector = (*MetricsAllocator)(nil)
)

// NewMetricsAllocator wraps upstream. The metric names are prefixed with namespace.
func NewMetricsAllocator(upstream Allocator, namespace string) *MetricsAllocator {
	return &MetricsAllocator{
		upstream: upstream,
		allocateBytesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buddy",
			Name:      "allocate_bytes_total",
			Help:      "Total bytes of blocks handed out.",
		}),
		inuseBytesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buddy",
			Name:      "inuse_bytes",
			Help:      "Bytes of live blocks.",
		}),
		allocateObjectsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buddy",
			Name:      "allocate_objects_total",
			Help:      "Total number of blocks handed out.",
		}),
		inuseObjectsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buddy",
			Name:      "inuse_objects",
			Help:      "Number of live blocks.",
		}),
		failuresCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buddy",
			Name:      "failures_total",
			Help:      "Failed alloc and free calls by reason.",
		}, []string{"reason"}),
	}
}

// sizedAllocator reports the block size together with the allocation,
// so a locked upstream needs one critical section for both.
type sizedAllocator interface {
	allocSized(size int) (Addr, int, error)
}

var (
	_ sizedAllocator = (*BuddyAllocator)(nil)
	_ sizedAllocator = (*SyncAllocator)(nil)
)

// Alloc allocates from upstream and counts the block handed out.
func (m *MetricsAllocator) Alloc(size int) (Addr, error) {
	addr, blockSize, err := m.allocSized(size)
	if err != nil {
		m.failuresCounter.WithLabelValues(failureReason(err)).Inc()
		return addr, err
	}
	m.allocateBytesCounter.Add(float64(blockSize))
	m.inuseBytesGauge.Add(float64(blockSize))
	m.allocateObjectsCounter.Inc()
	m.inuseObjectsGauge.Inc()
	return addr, nil
}

func (m *MetricsAllocator) allocSized(size int) (Addr, int, error) {
	if sa, ok := m.upstream.(sizedAllocator); ok {
		return sa.allocSized(size)
	}
	addr, err := m.upstream.Alloc(size)
	if err != nil {
		return addr, 0, err
	}
	blockSize, err := m.upstream.BlockSize(addr)
	if err != nil {
		// an uncounted block would never show up in the gauges, give it back
		_ = m.upstream.Free(addr)
		return NilAddr, 0, err
	}
	return addr, blockSize, nil
}

// Free releases addr to upstream. Failed frees only bump the failure counter.
func (m *MetricsAllocator) Free(addr Addr) error {
	blockSize, err := m.upstream.BlockSize(addr)
	if err == nil {
		err = m.upstream.Free(addr)
	}
	if err != nil {
		m.failuresCounter.WithLabelValues(failureReason(err)).Inc()
		return err
	}
	m.inuseBytesGauge.Sub(float64(blockSize))
	m.inuseObjectsGauge.Dec()
	return nil
}

// BlockSize is upstream's BlockSize.
func (m *MetricsAllocator) BlockSize(addr Addr) (int, error) {
	return m.upstream.BlockSize(addr)
}

// Reset resets upstream, if it can be reset, and zeroes the in-use gauges.
// The totals are counters and keep their values.
func (m *MetricsAllocator) Reset() {
	if r, ok := m.upstream.(interface{ Reset() }); ok {
		r.Reset()
	}
	m.inuseBytesGauge.Set(0)
	m.inuseObjectsGauge.Set(0)
}

// Describe implements prometheus.Collector.
func (m *MetricsAllocator) Describe(ch chan<- *prometheus.Desc) {
	m.allocateBytesCounter.Describe(ch)
	m.inuseBytesGauge.Describe(ch)
	m.allocateObjectsCounter.Describe(ch)
	m.inuseObjectsGauge.Describe(ch)
	m.failuresCounter.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *MetricsAllocator) Collect(ch chan<- prometheus.Metric) {
	m.allocateBytesCounter.Collect(ch)
	m.inuseBytesGauge.Collect(ch)
	m.allocateObjectsCounter.Collect(ch)
	m.inuseObjectsGauge.Collect(ch)
	m.failuresCounter.Collect(ch)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSize):
		return reasonInvalidSize
	case errors.Is(err, ErrExhausted):
		return reasonExhausted
	case errors.Is(err, ErrInvalidAddr):
		return reasonInvalidAddr
	case errors.Is(err, ErrDoubleFree):
		return reasonDoubleFree
	}
	return reasonOther
}

// FreeCounter is implemented by BuddyAllocator and SyncAllocator.
type FreeCounter interface {
	FreeCounts() []OrderCount
}

// FreeBlocksCollector exports the number of free blocks per order as a gauge.
type FreeBlocksCollector struct {
	src  FreeCounter
	desc *prometheus.Desc
}

var _ prometheus.Collector = (*FreeBlocksCollector)(nil)

// NewFreeBlocksCollector reports the free counts of src as <namespace>_buddy_free_blocks.
func NewFreeBlocksCollector(namespace string, src FreeCounter) *FreeBlocksCollector {
	return &FreeBlocksCollector{
		src: src,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "buddy", "free_blocks"),
			"Number of free blocks by order.",
			[]string{"order"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *FreeBlocksCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *FreeBlocksCollector) Collect(ch chan<- prometheus.Metric) {
	for _, oc := range c.src.FreeCounts() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue,
			float64(oc.Free), strconv.Itoa(oc.Order))
	}
}
