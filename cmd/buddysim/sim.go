package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/buddy/malloc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	errUnknownName = errors.New("unknown allocation name")
	errFailedSteps = errors.New("workload had failed steps")
)

// arena is what the simulator needs beyond alloc and free.
// Both malloc.BuddyAllocator and malloc.SyncAllocator provide it.
type arena interface {
	malloc.Allocator
	malloc.FreeCounter
	Dump() string
	Stats() string
	Verify() error
	Reset()
}

type simulator struct {
	arena arena
	alloc malloc.Allocator

	// metrics is set when the workload is counted, alloc is then the same wrapper.
	metrics *malloc.MetricsAllocator
	reg     *prometheus.Registry

	cfg   *Config
	out   io.Writer
	log   *zap.Logger
	names map[string]malloc.Addr

	failed int
}

func newSimulator(cfg *Config, out io.Writer, log *zap.Logger) (*simulator, error) {
	a, err := malloc.NewBuddyAllocatorWithOrder(cfg.MinOrder, cfg.MaxOrder)
	if err != nil {
		return nil, err
	}
	s := &simulator{
		cfg:   cfg,
		out:   out,
		log:   log,
		names: make(map[string]malloc.Addr),
	}
	if cfg.Locked {
		s.arena = malloc.NewSyncAllocator(a)
	} else {
		s.arena = a
	}
	s.alloc = s.arena
	if cfg.Metrics {
		m := malloc.NewMetricsAllocator(s.arena, "buddysim")
		s.reg = prometheus.NewRegistry()
		s.reg.MustRegister(m, malloc.NewFreeBlocksCollector("buddysim", s.arena))
		s.alloc = m
		s.metrics = m
	}
	return s, nil
}

// run replays the workload. Failed allocs and frees are reported and counted;
// with FailFast the first one ends the run.
func (s *simulator) run() error {
	for i, op := range s.cfg.Ops {
		if err := s.step(op); err != nil {
			if errors.Is(err, errUnknownName) {
				return fmt.Errorf("op %d: %w", i, err)
			}
			s.failed++
			s.log.Warn("step failed", zap.Int("op", i), zap.String("kind", op.Kind), zap.Error(err))
			if s.cfg.FailFast {
				return fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	if s.reg != nil {
		s.logMetrics()
	}
	if s.failed > 0 {
		return fmt.Errorf("%w: %d", errFailedSteps, s.failed)
	}
	return nil
}

func (s *simulator) step(op Op) error {
	switch op.Kind {
	case opAlloc:
		addr, err := s.alloc.Alloc(op.Size)
		if err != nil {
			fmt.Fprintf(s.out, "alloc %s %d: %v\n", op.Name, op.Size, err)
			return err
		}
		if op.Name != "" {
			s.names[op.Name] = addr
		}
		fmt.Fprintf(s.out, "alloc %s %d = %d\n", op.Name, op.Size, addr)
		s.log.Debug("alloc", zap.String("name", op.Name), zap.Int("size", op.Size), zap.Int("addr", int(addr)))
		s.dumpEach()
	case opFree:
		addr, ok := s.names[op.Name]
		if !ok {
			return fmt.Errorf("%w: %q", errUnknownName, op.Name)
		}
		if err := s.alloc.Free(addr); err != nil {
			fmt.Fprintf(s.out, "free %s %d: %v\n", op.Name, addr, err)
			return err
		}
		delete(s.names, op.Name)
		fmt.Fprintf(s.out, "free %s %d\n", op.Name, addr)
		s.log.Debug("free", zap.String("name", op.Name), zap.Int("addr", int(addr)))
		s.dumpEach()
	case opDump:
		io.WriteString(s.out, s.arena.Dump())
	case opStats:
		io.WriteString(s.out, s.arena.Stats())
	case opVerify:
		if err := s.arena.Verify(); err != nil {
			fmt.Fprintf(s.out, "verify: %v\n", err)
			return err
		}
		io.WriteString(s.out, "verify: ok\n")
	case opReset:
		if s.metrics != nil {
			s.metrics.Reset()
		} else {
			s.arena.Reset()
		}
		s.names = make(map[string]malloc.Addr)
		io.WriteString(s.out, "reset\n")
	}
	return nil
}

func (s *simulator) dumpEach() {
	if s.cfg.DumpEach {
		io.WriteString(s.out, s.arena.Dump())
	}
}

func (s *simulator) logMetrics() {
	mfs, err := s.reg.Gather()
	if err != nil {
		s.log.Error("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			fields := []zap.Field{zap.String("metric", mf.GetName())}
			for _, lp := range m.GetLabel() {
				fields = append(fields, zap.String(lp.GetName(), lp.GetValue()))
			}
			switch {
			case m.GetCounter() != nil:
				fields = append(fields, zap.Float64("value", m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				fields = append(fields, zap.Float64("value", m.GetGauge().GetValue()))
			}
			s.log.Info("metric", fields...)
		}
	}
}
