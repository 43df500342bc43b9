// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import "sync"

// transientStatus is the per-entry scratch status used during a
// cross-product batch to track which entries succeeded before a later
// failure forces a rollback.
type transientStatus int

const (
	transientNone transientStatus = iota
	transientFull
	transientFailed
)

// IngressFlow is a software flow whose actions pop a tunnel.
type IngressFlow struct {
	Flow        Flow
	IngressDev  Netdev
	ActionFlags ActionFlags

	transient transientStatus
}

// TnlPopFlow is a flow whose match sits on a tunnel vport.
type TnlPopFlow struct {
	Flow        Flow
	ActionFlags ActionFlags
	RefCount    int

	transient transientStatus
}

// CompositionAux is the per-tunnel-port composition state: one instance
// per tunnel vport, holding the ingress and tnlpop tables and the lock
// that guards both.
type CompositionAux struct {
	mu sync.RWMutex

	ingress map[Ufid]*IngressFlow
	tnlpop  map[Ufid]*TnlPopFlow

	// AnomalyCount counts TnlPop-FAILED-with-nonzero-refcount events —
	// logged and left in place, surfaced here as a testable counter
	// rather than silently swallowed.
	AnomalyCount uint64
}

// NewCompositionAux allocates an empty Aux, as happens when a tunnel
// vport is plumbed into the dataplane.
func NewCompositionAux() *CompositionAux {
	return &CompositionAux{
		ingress: make(map[Ufid]*IngressFlow),
		tnlpop:  make(map[Ufid]*TnlPopFlow),
	}
}

// Ingress returns the IngressFlow for ufid, if present.
func (a *CompositionAux) Ingress(ufid Ufid) (*IngressFlow, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.ingress[ufid]
	return f, ok
}

// TnlPop returns the TnlPopFlow for ufid, if present.
func (a *CompositionAux) TnlPop(ufid Ufid) (*TnlPopFlow, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.tnlpop[ufid]
	return f, ok
}

// AllIngress returns a snapshot slice of all ingress entries.
func (a *CompositionAux) AllIngress() []*IngressFlow {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*IngressFlow, 0, len(a.ingress))
	for _, f := range a.ingress {
		out = append(out, f)
	}
	return out
}

// AllTnlPop returns a snapshot slice of all tnlpop entries.
func (a *CompositionAux) AllTnlPop() []*TnlPopFlow {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*TnlPopFlow, 0, len(a.tnlpop))
	for _, f := range a.tnlpop {
		out = append(out, f)
	}
	return out
}

// Flush releases every entry's flow/netdev references and empties both
// tables, as happens when the owning tunnel port is destroyed.
func (a *CompositionAux) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range a.ingress {
		f.Flow.Unref()
	}
	for _, f := range a.tnlpop {
		f.Flow.Unref()
	}
	a.ingress = make(map[Ufid]*IngressFlow)
	a.tnlpop = make(map[Ufid]*TnlPopFlow)
}

// insertIngress and friends below are called only from compose.go, which
// already holds the appropriate lock; they exist to keep aux.go the
// single place that touches the maps directly.

func (a *CompositionAux) insertIngressLocked(f *IngressFlow) {
	a.ingress[f.Flow.Ufid()] = f
}

func (a *CompositionAux) removeIngressLocked(ufid Ufid) {
	delete(a.ingress, ufid)
}

func (a *CompositionAux) insertTnlPopLocked(f *TnlPopFlow) {
	a.tnlpop[f.Flow.Ufid()] = f
}

func (a *CompositionAux) removeTnlPopLocked(ufid Ufid) {
	delete(a.tnlpop, ufid)
}
