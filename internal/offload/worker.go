// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vswitchd/flowoffload/internal/logging"
	"github.com/vswitchd/flowoffload/internal/metrics"
)

// Worker is the single-consumer offload worker: it drains Queue,
// classifies and dispatches each request, and updates the flow's status
// word on completion.
type Worker struct {
	q        *Queue
	engine   *Engine
	resolver PortResolver
	class    DriverClass
	classify *classifier
	log      *logging.Logger
	metrics  *metrics.Metrics
	capGate  CapabilityGate

	wg   sync.WaitGroup
	done atomic.Bool
}

// WithMetrics attaches m so worker dispatch outcomes and aggregated
// flow stats are exported as Prometheus metrics; nil disables
// recording.
func (w *Worker) WithMetrics(m *metrics.Metrics) *Worker {
	w.metrics = m
	return w
}

// CapabilityGate is consulted, when set, before the worker trusts the
// classifier's verdict on a netdev — the configuration surface's
// hardware auto-detect switch. Satisfied by hwdriver.CapabilityProbe.
type CapabilityGate interface {
	ProbeCapable(ifaceName string) bool
}

// WithCapabilityGate attaches gate; nil disables the hardware check and
// reverts to trusting the classifier alone.
func (w *Worker) WithCapabilityGate(gate CapabilityGate) *Worker {
	w.capGate = gate
	return w
}

// NewWorker constructs a Worker bound to q and the composition engine's
// collaborators. The worker is not started until Start is called.
func NewWorker(q *Queue, engine *Engine, resolver PortResolver, class DriverClass, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{
		q:        q,
		engine:   engine,
		resolver: resolver,
		class:    class,
		classify: newClassifier(resolver),
		log:      log,
	}
}

// Start spawns the worker goroutine. Restart calls Start again after a
// prior Join.
func (w *Worker) Start() {
	w.q.mu.Lock()
	w.q.exit = false
	w.q.mu.Unlock()
	w.done.Store(false)
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		item, drain := w.q.pop()
		if drain {
			w.drainAndExit()
			return
		}
		w.process(item)
	}
}

// process dispatches one item, applies the resulting status to the
// flow, and takes an extra hold on the flow the moment it transitions
// from not-offloaded to offloaded.
func (w *Worker) process(item *Item) {
	ctx := context.Background()
	flow := item.FlowRef

	var result Status
	if flow.Dead() {
		result = StatusNone
	} else {
		switch item.Op {
		case OpAdd, OpMod:
			result = w.dispatchAddMod(ctx, item)
		case OpDel:
			result = w.dispatchDel(ctx, flow)
		default:
			// Unreachable: callers only ever enqueue ADD, MOD, or DEL.
			result = StatusNone
		}
	}

	prevWasOffloaded := flow.Status().Value() == StatusFull || flow.Status().Value() == StatusMask
	flow.Status().ClearInProgress(result)
	nowOffloaded := result == StatusFull || result == StatusMask
	if !prevWasOffloaded && nowOffloaded {
		// Keep the programmed state alive until a matching DEL arrives.
		flow.Ref()
	} else if prevWasOffloaded && !nowOffloaded {
		// Release the hold taken on the earlier not-offloaded->offloaded
		// transition now that the flow has left the offloaded state.
		flow.Unref()
	}

	item.release()
}

// dispatchAddMod handles an ADD or MOD request: for a MOD whose prior
// actions held a tunnel pop and whose ingress entry exists, deletes that
// ingress composition first (whatever the new actions are) and falls
// through to a fresh classification, then routes to composition or the
// normal path.
func (w *Worker) dispatchAddMod(ctx context.Context, item *Item) Status {
	flow := item.FlowRef

	if item.Op == OpMod {
		if port, found := findTunnelPop(item.PriorActions); found {
			if dev, ok := w.resolver.NetdevPortsGet(port, w.class); ok {
				if aux := dev.Aux(); aux != nil {
					if _, exists := aux.Ingress(flow.Ufid()); exists {
						w.engine.IngressDel(ctx, flow, item.PriorActions)
						// Falls through to re-evaluation below, as if ADD.
					}
				}
			}
		}
	}

	actions := flow.Actions()
	inputDev, _ := w.resolver.NetdevPortsGet(flow.InputPort(), w.class)

	cls := w.classify.Classify(inputDev, actions)
	if !cls.Offloadable {
		if w.metrics != nil {
			w.metrics.FlowsFailed.WithLabelValues("not_offloadable").Inc()
		}
		return StatusFailed
	}

	if w.capGate != nil && inputDev != nil && !w.capGate.ProbeCapable(inputDev.Name()) {
		if w.metrics != nil {
			w.metrics.FlowsFailed.WithLabelValues("no_hardware_capability").Inc()
		}
		return StatusFailed
	}

	if cls.hasTunnelPop {
		return w.engine.IngressAdd(ctx, flow, cls)
	}

	if inputDev != nil && w.resolver.NetdevVportCast(inputDev) {
		if aux := inputDev.Aux(); aux != nil {
			if item.Op == OpMod {
				return w.engine.TnlPopMod(ctx, flow, inputDev, aux, cls)
			}
			return w.engine.TnlPopAdd(ctx, flow, inputDev, aux, cls)
		}
	}

	result := offloadNormal(ctx, w.engine.drv, w.class, inputDev, flow, actions)
	if w.metrics != nil {
		if result == StatusFailed {
			w.metrics.FlowsFailed.WithLabelValues("normal").Inc()
		} else {
			w.metrics.FlowsProgrammed.WithLabelValues(result.String()).Inc()
		}
	}
	return result
}

// dispatchDel handles a DEL request: a flow present in an Aux's ingress
// table goes to IngressDel, one present in its tnlpop table goes to
// TnlPopDel (both delete the composed entries), and any other flow gets
// a plain driver delete keyed by its own ufid (the normal path). The
// composition branches issue no delete under the flow's own ufid.
func (w *Worker) dispatchDel(ctx context.Context, flow Flow) Status {
	actions := flow.Actions()
	inputDev, _ := w.resolver.NetdevPortsGet(flow.InputPort(), w.class)

	if port, found := findTunnelPop(actions); found {
		if dev, ok := w.resolver.NetdevPortsGet(port, w.class); ok {
			if aux := dev.Aux(); aux != nil {
				if _, exists := aux.Ingress(flow.Ufid()); exists {
					return w.engine.IngressDel(ctx, flow, actions)
				}
			}
		}
	}

	if inputDev != nil && w.resolver.NetdevVportCast(inputDev) {
		if aux := inputDev.Aux(); aux != nil {
			if _, exists := aux.TnlPop(flow.Ufid()); exists {
				return w.engine.TnlPopDel(ctx, flow, aux)
			}
		}
	}

	_ = w.engine.drv.FlowDel(ctx, w.class, inputDev, flow.Ufid())
	return StatusNone
}

// drainAndExit pops all remaining items, resets each flow's status to
// NONE, and frees the items.
func (w *Worker) drainAndExit() {
	for _, item := range w.q.drain() {
		item.FlowRef.Status().ClearInProgress(StatusNone)
		item.release()
	}
	w.done.Store(true)
}

// Pause sets accepting to false, then spins until the worker is idle
// and the queue is empty, returning the previous value.
func (w *Worker) Pause() bool {
	w.q.mu.Lock()
	prev := w.q.accepting
	w.q.accepting = false
	w.q.mu.Unlock()

	for {
		w.q.mu.Lock()
		idle := !w.q.processing && w.q.items.Len() == 0
		if !idle {
			w.q.cond.Signal()
		}
		w.q.mu.Unlock()
		if idle {
			return prev
		}
	}
}

// Resume restores accepting to prev.
func (w *Worker) Resume(prev bool) {
	w.q.mu.Lock()
	w.q.accepting = prev
	w.q.mu.Unlock()
}

// Join sets exit, signals, and waits for the worker goroutine to finish
// draining and return.
func (w *Worker) Join() {
	w.q.mu.Lock()
	w.q.exit = true
	w.q.mu.Unlock()
	w.q.cond.Signal()
	w.wg.Wait()
}

// WaitDone blocks until the worker has drained after Join, for callers
// that only have access to the producer-side contract.
func (w *Worker) WaitDone() {
	w.wg.Wait()
}

// Restart clears exit and spawns a fresh worker goroutine, used after a
// controlled shutdown+reinit.
func (w *Worker) Restart() {
	w.Start()
}
