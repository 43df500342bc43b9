// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"context"
	"time"
)

// AggregatedStats is the result of StatsFor: summed packet/byte
// counters across whatever composed entries contributed to a flow's
// offload.
type AggregatedStats struct {
	Packets uint64
	Bytes   uint64
}

// StatsFor retrieves accumulated traffic counters for a flow, trying in
// order: an ingress composition sum, a tnlpop composition sum, then a
// direct driver query by the flow's own ufid. Single-reader, so totals
// are accumulated without atomics.
func (w *Worker) StatsFor(ctx context.Context, flow Flow, now time.Time) AggregatedStats {
	actions := flow.Actions()
	inputDev, _ := w.resolver.NetdevPortsGet(flow.InputPort(), w.class)

	if port, found := findTunnelPop(actions); found {
		if dev, ok := w.resolver.NetdevPortsGet(port, w.class); ok {
			if aux := dev.Aux(); aux != nil {
				if i, exists := aux.Ingress(flow.Ufid()); exists {
					return w.sumIngress(ctx, i, aux, now)
				}
			}
		}
	}

	if inputDev != nil && w.resolver.NetdevVportCast(inputDev) {
		if aux := inputDev.Aux(); aux != nil {
			if t, exists := aux.TnlPop(flow.Ufid()); exists {
				return w.sumTnlPop(ctx, t, aux, now)
			}
		}
	}

	stats, err := w.engine.drv.FlowGet(ctx, w.class, inputDev, flow.Ufid())
	if err != nil {
		return AggregatedStats{}
	}
	result := AggregatedStats{Packets: stats.Packets, Bytes: stats.Bytes}
	maybeAdvance(flow, result, now)
	w.recordStats(result)
	return result
}

// recordStats exports an aggregation result's totals to Prometheus.
func (w *Worker) recordStats(s AggregatedStats) {
	if w.metrics == nil {
		return
	}
	w.metrics.FlowPackets.Add(float64(s.Packets))
	w.metrics.FlowBytes.Add(float64(s.Bytes))
}

// sumIngress sums stats over every T composed with the single matching I.
func (w *Worker) sumIngress(ctx context.Context, i *IngressFlow, aux *CompositionAux, now time.Time) AggregatedStats {
	var total AggregatedStats
	for _, t := range aux.AllTnlPop() {
		composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
		s, err := w.engine.drv.FlowGet(ctx, w.class, i.IngressDev, composedUfid)
		if err != nil {
			continue
		}
		total.Packets += s.Packets
		total.Bytes += s.Bytes
	}
	maybeAdvance(i.Flow, total, now)
	w.recordStats(total)
	return total
}

// sumTnlPop sums stats across all I for the matching T.
func (w *Worker) sumTnlPop(ctx context.Context, t *TnlPopFlow, aux *CompositionAux, now time.Time) AggregatedStats {
	var total AggregatedStats
	for _, i := range aux.AllIngress() {
		composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
		s, err := w.engine.drv.FlowGet(ctx, w.class, i.IngressDev, composedUfid)
		if err != nil {
			continue
		}
		total.Packets += s.Packets
		total.Bytes += s.Bytes
	}
	maybeAdvance(t.Flow, total, now)
	w.recordStats(total)
	return total
}

// maybeAdvance advances the flow's activity timestamp when nonzero
// traffic was observed.
func maybeAdvance(flow Flow, s AggregatedStats, now time.Time) {
	if s.Packets != 0 || s.Bytes != 0 {
		if a, ok := flow.(interface{ UpdateActivity(time.Time) }); ok {
			a.UpdateActivity(now)
		}
	}
}
