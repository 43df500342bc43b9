// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"context"
	"fmt"

	"github.com/vswitchd/flowoffload/internal/ferrors"
	"github.com/vswitchd/flowoffload/internal/logging"
	"github.com/vswitchd/flowoffload/internal/metrics"
	"github.com/vswitchd/flowoffload/internal/netutil"
)

// Engine is the composition engine: it computes the cross-product
// program/delete for tunnel-decap flows against their Aux, with
// rollback on partial hardware failure.
type Engine struct {
	drv      Driver
	resolver PortResolver
	class    DriverClass
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// NewEngine constructs a composition engine bound to a driver and port
// resolver, its two external collaborators.
func NewEngine(drv Driver, resolver PortResolver, class DriverClass, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{drv: drv, resolver: resolver, class: class, log: log}
}

// WithMetrics attaches m so composition outcomes are exported as
// Prometheus counters; nil disables recording.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) recordProgrammed(status Status) {
	if e.metrics != nil {
		e.metrics.FlowsProgrammed.WithLabelValues(status.String()).Inc()
	}
}

func (e *Engine) recordFailed(path string) {
	if e.metrics != nil {
		e.metrics.FlowsFailed.WithLabelValues(path).Inc()
	}
}

func (e *Engine) recordRolledBack() {
	if e.metrics != nil {
		e.metrics.FlowsRolledBack.Inc()
	}
}

func (e *Engine) recordAnomaly() {
	if e.metrics != nil {
		e.metrics.ComposedAnomalies.Inc()
	}
}

func fieldString(m Match, key string) string {
	if v, ok := m.Fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func fieldPort(m Match, key string) uint16 {
	if v, ok := m.Fields[key]; ok {
		if p, ok := v.(uint16); ok {
			return p
		}
	}
	return 0
}

// fieldMAC reads a match field that may be stored either as a raw
// 6-byte hardware address or as an already-formatted string, returning
// the canonical colon-separated form either way.
func fieldMAC(m Match, key string) string {
	v, ok := m.Fields[key]
	if !ok {
		return ""
	}
	switch hw := v.(type) {
	case []byte:
		return netutil.FormatMAC(hw)
	case string:
		return hw
	default:
		return ""
	}
}

// composedMatch expands T's match with the outer-header constraints
// (destination IP, destination MAC, destination port) supplied by I's
// own match.
func composedMatch(i *IngressFlow, t *TnlPopFlow) Match {
	im := i.Flow.Match()
	return t.Flow.Match().WithOuterHeader(
		fieldString(im, "dst_ip"),
		fieldMAC(im, "dst_mac"),
		fieldPort(im, "dst_port"),
	)
}

// IngressAdd validates and installs a new ingress flow, composing it
// against every tunnel-pop entry already present on the tunnel vport.
func (e *Engine) IngressAdd(ctx context.Context, flow Flow, cls ClassifyResult) Status {
	dev, found := e.resolver.NetdevPortsGet(cls.TunnelPopPort, e.class)
	if !found {
		e.log.Warn("ingress add: tunnel vport not found", "ufid", flow.Ufid(), "port", cls.TunnelPopPort)
		e.recordFailed("ingress_add")
		return StatusFailed
	}
	aux := dev.Aux()
	if aux == nil {
		e.log.Warn("ingress add: tunnel vport has no composition aux", "ufid", flow.Ufid())
		e.recordFailed("ingress_add")
		return StatusFailed
	}

	if _, exists := aux.Ingress(flow.Ufid()); exists {
		// Same flow arriving from a second producer thread.
		e.recordFailed("ingress_add")
		return StatusFailed
	}

	ingressDev, found := e.resolver.NetdevPortsGet(flow.InputPort(), e.class)
	if !found {
		e.recordFailed("ingress_add")
		return StatusFailed
	}

	i := &IngressFlow{Flow: flow, IngressDev: ingressDev, ActionFlags: cls.Flags}

	// Validate: program the match-only form, then immediately delete it,
	// to reject the ingress early rather than after a partial cross-product.
	if _, err := e.drv.FlowPut(ctx, e.class, ingressDev, flow.Match(), nil, flow.Ufid(), true); err != nil {
		e.log.Warn("ingress add: validation rejected", "ufid", flow.Ufid(), "error", err)
		e.recordFailed("ingress_add")
		return StatusFailed
	}
	_ = e.drv.FlowDel(ctx, e.class, ingressDev, flow.Ufid())

	if !flow.Ref() {
		e.recordFailed("ingress_add")
		return StatusFailed
	}

	ok := e.composeAll(ctx, aux, i)
	if !ok {
		flow.Unref()
		e.recordFailed("ingress_add")
		return StatusFailed
	}

	aux.mu.Lock()
	aux.insertIngressLocked(i)
	aux.mu.Unlock()

	e.recordProgrammed(StatusFull)
	return StatusFull
}

// composeAll programs the composed entry for i against every T in aux.
// It returns false if any T's composition failed and the whole
// ingress-add must be rejected, after rolling back whatever succeeded.
func (e *Engine) composeAll(ctx context.Context, aux *CompositionAux, i *IngressFlow) bool {
	aux.mu.Lock()
	defer aux.mu.Unlock()

	for _, t := range aux.tnlpop {
		t.transient = transientNone
	}

	needRollback := false
	for _, t := range aux.tnlpop {
		composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
		_, err := e.drv.FlowPut(ctx, e.class, i.IngressDev, composedMatch(i, t), nil, composedUfid, false)
		if err != nil {
			t.transient = transientFailed
			needRollback = true
			continue
		}
		t.RefCount++
		t.transient = transientFull
	}

	if !needRollback {
		return true
	}

	for _, t := range aux.tnlpop {
		switch t.transient {
		case transientFailed:
			if t.RefCount == 0 {
				t.Flow.Status().ClearInProgress(StatusFailed)
				aux.removeTnlPopLocked(t.Flow.Ufid())
				t.Flow.Unref()
			} else {
				// Already composed with some prior ingress: an anomaly,
				// not expected in practice, but we log and continue
				// rather than tearing down a live composition.
				aux.AnomalyCount++
				err := ferrors.New(ferrors.KindAnomaly, fmt.Sprintf("tnlpop %s failed with nonzero refcount", t.Flow.Ufid()))
				e.log.Warn("tnlpop failed with nonzero refcount", "err", err, "ufid", t.Flow.Ufid(), "refcount", t.RefCount)
				e.recordAnomaly()
			}
		case transientFull:
			composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
			_ = e.drv.FlowDel(ctx, e.class, i.IngressDev, composedUfid)
			t.RefCount--
			e.recordRolledBack()
		}
	}
	return false
}

// TnlPopAdd installs a new tunnel-pop flow, composing it against every
// ingress flow already present on the tunnel vport.
func (e *Engine) TnlPopAdd(ctx context.Context, flow Flow, dev Netdev, aux *CompositionAux, cls ClassifyResult) Status {
	return e.tnlPopAddOrMod(ctx, flow, dev, aux, cls, false)
}

// TnlPopMod reprograms an existing tunnel-pop flow's composed entries.
func (e *Engine) TnlPopMod(ctx context.Context, flow Flow, dev Netdev, aux *CompositionAux, cls ClassifyResult) Status {
	return e.tnlPopAddOrMod(ctx, flow, dev, aux, cls, true)
}

func (e *Engine) tnlPopAddOrMod(ctx context.Context, flow Flow, dev Netdev, aux *CompositionAux, cls ClassifyResult, isMod bool) Status {
	aux.mu.Lock()

	t, existed := aux.tnlpop[flow.Ufid()]
	if existed {
		if t.Flow != flow {
			aux.mu.Unlock()
			return StatusFailed
		}
	} else {
		if !flow.Ref() {
			aux.mu.Unlock()
			return StatusFailed
		}
		t = &TnlPopFlow{Flow: flow, ActionFlags: cls.Flags}
	}

	for _, i := range aux.ingress {
		i.transient = transientNone
	}

	needRollback := false
	for _, i := range aux.ingress {
		composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
		_, err := e.drv.FlowPut(ctx, e.class, i.IngressDev, composedMatch(i, t), nil, composedUfid, false)
		if err != nil {
			i.transient = transientFailed
			needRollback = true
			break
		}
		t.RefCount++
		i.transient = transientFull
		i.Flow.Status().ClearInProgress(StatusFull)
	}

	if needRollback {
		for _, i := range aux.ingress {
			if i.transient == transientFull {
				composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
				_ = e.drv.FlowDel(ctx, e.class, i.IngressDev, composedUfid)
				t.RefCount--
				e.recordRolledBack()
			}
		}
		if existed {
			aux.removeTnlPopLocked(t.Flow.Ufid())
		}
		aux.mu.Unlock()
		if !existed {
			flow.Unref()
		} else if isMod {
			t.Flow.Unref()
		}
		e.recordFailed("tnlpop_add_mod")
		return StatusFailed
	}

	if !existed {
		aux.insertTnlPopLocked(t)
	}
	aux.mu.Unlock()
	e.recordProgrammed(StatusFull)
	return StatusFull
}

// IngressDel implements the ingress half of a flow delete. actions is
// the action list in effect when the delete was requested (live actions
// for a plain DEL, captured prior actions when driven from an ingress
// MOD's fallthrough, whether or not the new actions still pop a tunnel).
func (e *Engine) IngressDel(ctx context.Context, flow Flow, actions []Action) Status {
	port, found := findTunnelPop(actions)
	if !found {
		return StatusNone
	}
	dev, found := e.resolver.NetdevPortsGet(port, e.class)
	if !found {
		return StatusNone
	}
	aux := dev.Aux()
	if aux == nil {
		return StatusNone
	}

	i, found := aux.Ingress(flow.Ufid())
	if !found {
		return StatusNone
	}

	aux.mu.Lock()
	for _, t := range aux.tnlpop {
		composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
		_ = e.drv.FlowDel(ctx, e.class, i.IngressDev, composedUfid)
		if t.RefCount > 0 {
			t.RefCount--
		}
	}
	aux.removeIngressLocked(flow.Ufid())
	aux.mu.Unlock()

	i.Flow.Unref()
	return StatusNone
}

// TnlPopDel implements the tnlpop half of a flow delete.
func (e *Engine) TnlPopDel(ctx context.Context, flow Flow, aux *CompositionAux) Status {
	if aux == nil {
		return StatusNone
	}
	t, found := aux.TnlPop(flow.Ufid())
	if !found {
		return StatusNone
	}

	aux.mu.Lock()
	for _, i := range aux.ingress {
		composedUfid := i.Flow.Ufid().XOR(t.Flow.Ufid())
		_ = e.drv.FlowDel(ctx, e.class, i.IngressDev, composedUfid)
	}
	aux.removeTnlPopLocked(flow.Ufid())
	aux.mu.Unlock()

	t.Flow.Unref()
	return StatusNone
}
