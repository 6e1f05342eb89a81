package malloc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAllocator(t *testing.T) {
	m := NewMetricsAllocator(newTestBuddyAllocator(t), "test")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m))

	b1, err := m.Alloc(5000)
	require.NoError(t, err)
	b2, err := m.Alloc(100)
	require.NoError(t, err)

	assert.Equal(t, float64(8192+4096), testutil.ToFloat64(m.allocateBytesCounter))
	assert.Equal(t, float64(8192+4096), testutil.ToFloat64(m.inuseBytesGauge))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.allocateObjectsCounter))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.inuseObjectsGauge))

	require.NoError(t, m.Free(b1))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.inuseBytesGauge))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inuseObjectsGauge))
	assert.Equal(t, float64(8192+4096), testutil.ToFloat64(m.allocateBytesCounter))

	_, err = m.Alloc(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = m.Alloc(1 << DefaultMaxOrder)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, m.Free(b1), ErrDoubleFree)
	assert.ErrorIs(t, m.Free(b2+1), ErrInvalidAddr)

	for _, reason := range []string{reasonInvalidSize, reasonExhausted, reasonDoubleFree, reasonInvalidAddr} {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.failuresCounter.WithLabelValues(reason)), reason)
	}
	// failed frees leave the gauges alone
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inuseObjectsGauge))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 5)
}

func TestFreeBlocksCollector(t *testing.T) {
	a := newTestBuddyAllocator(t)
	_, err := a.Alloc(5000)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewFreeBlocksCollector("test", a)))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "test_buddy_free_blocks", mfs[0].GetName())

	got := map[string]float64{}
	for _, metric := range mfs[0].GetMetric() {
		require.Len(t, metric.GetLabel(), 1)
		got[metric.GetLabel()[0].GetValue()] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"12": 0, "13": 1, "14": 1, "15": 1, "16": 1, "17": 1, "18": 1, "19": 1, "20": 0,
	}, got)
}

func TestMetricsAllocatorReset(t *testing.T) {
	tests := []struct {
		name     string
		upstream func(a *BuddyAllocator) Allocator
	}{
		{"plain", func(a *BuddyAllocator) Allocator { return a }},
		{"locked", func(a *BuddyAllocator) Allocator { return NewSyncAllocator(a) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestBuddyAllocator(t)
			m := NewMetricsAllocator(tt.upstream(a), "test")

			_, err := m.Alloc(4096)
			require.NoError(t, err)
			_, err = m.Alloc(5000)
			require.NoError(t, err)
			assert.Equal(t, float64(4096+8192), testutil.ToFloat64(m.inuseBytesGauge))

			m.Reset()
			assert.Equal(t, 0, a.InUse())
			assert.Equal(t, float64(0), testutil.ToFloat64(m.inuseBytesGauge))
			assert.Equal(t, float64(0), testutil.ToFloat64(m.inuseObjectsGauge))
			// totals survive a reset
			assert.Equal(t, float64(4096+8192), testutil.ToFloat64(m.allocateBytesCounter))
			assert.Equal(t, float64(2), testutil.ToFloat64(m.allocateObjectsCounter))

			addr, err := m.Alloc(100)
			require.NoError(t, err)
			require.NoError(t, m.Free(addr))
			assert.Equal(t, float64(0), testutil.ToFloat64(m.inuseBytesGauge))
		})
	}
}

// blindAllocator forwards to a BuddyAllocator but cannot report block sizes.
type blindAllocator struct {
	a     *BuddyAllocator
	frees int
}

func (b *blindAllocator) Alloc(size int) (Addr, error) { return b.a.Alloc(size) }

func (b *blindAllocator) Free(addr Addr) error {
	b.frees++
	return b.a.Free(addr)
}

func (b *blindAllocator) BlockSize(Addr) (int, error) {
	return 0, ErrInvalidAddr
}

func TestMetricsAllocatorBlockSizeFailure(t *testing.T) {
	a := newTestBuddyAllocator(t)
	up := &blindAllocator{a: a}
	m := NewMetricsAllocator(up, "test")

	addr, err := m.Alloc(5000)
	assert.ErrorIs(t, err, ErrInvalidAddr)
	assert.Equal(t, NilAddr, addr)

	// the block was handed back instead of leaking
	assert.Equal(t, 1, up.frees)
	assert.Equal(t, 0, a.Allocated())
	assert.Equal(t, 1<<DefaultMaxOrder, a.Available())
	assert.NoError(t, a.Verify())

	assert.Equal(t, float64(0), testutil.ToFloat64(m.inuseObjectsGauge))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failuresCounter.WithLabelValues(reasonInvalidAddr)))
}

func TestAllocSized(t *testing.T) {
	a := newTestBuddyAllocator(t)
	s := NewSyncAllocator(a)

	addr, size, err := s.allocSized(5000)
	require.NoError(t, err)
	assert.Equal(t, 8192, size)
	got, err := a.BlockSize(addr)
	require.NoError(t, err)
	assert.Equal(t, size, got)

	addr, size, err = s.allocSized(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.Equal(t, NilAddr, addr)
	assert.Zero(t, size)
}
