// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package offload implements the hardware flow-offload engine: a single
// worker thread that drains a request queue fed by many dataplane
// threads, classifies flows for offloadability, and programs them into
// NIC hardware through the Driver collaborator — composing
// tunnel-decapsulation flows with their carrier flows where needed.
package offload

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/google/uuid"
)

// Ufid is the flow's 128-bit unique identifier.
type Ufid [16]byte

// NewUfid generates a fresh random Ufid.
func NewUfid() Ufid {
	return Ufid(uuid.New())
}

// XOR returns the composed ufid for a (ingress, tnlpop) pair. Per spec
// this is commutative in its two operands.
func (u Ufid) XOR(o Ufid) Ufid {
	var out Ufid
	for i := range out {
		out[i] = u[i] ^ o[i]
	}
	return out
}

func (u Ufid) String() string {
	return uuid.UUID(u).String()
}

// hash64 folds the 128-bit ufid down to 64 bits by XORing its halves.
func (u Ufid) hash64() uint64 {
	return binary.BigEndian.Uint64(u[:8]) ^ binary.BigEndian.Uint64(u[8:])
}

// Status is the offload status word carried on a flow.
//
// IN_PROGRESS is modeled as a bit so it composes with any of the other
// values: a flow can be "NONE, in progress" or "FULL, in progress" (a
// MOD landed on an already-offloaded flow) without losing the prior
// terminal status while the worker works on it.
type Status uint32

const (
	StatusNone Status = iota
	StatusMask
	StatusFull
	StatusFailed

	statusValueMask = 0x0f
	// StatusInProgress is OR'd onto one of the above values.
	StatusInProgress Status = 0x10
)

// Value strips the IN_PROGRESS bit, returning the terminal status.
func (s Status) Value() Status { return s & statusValueMask }

// InProgress reports whether the IN_PROGRESS bit is set.
func (s Status) InProgress() bool { return s&StatusInProgress != 0 }

func (s Status) String() string {
	suffix := ""
	if s.InProgress() {
		suffix = "|IN_PROGRESS"
	}
	switch s.Value() {
	case StatusNone:
		return "NONE" + suffix
	case StatusMask:
		return "MASK" + suffix
	case StatusFull:
		return "FULL" + suffix
	case StatusFailed:
		return "FAILED" + suffix
	default:
		return "UNKNOWN" + suffix
	}
}

// StatusWord is an atomic Status, with acquire/release semantics:
// writers use release, readers use acquire.
type StatusWord struct {
	v atomic.Uint32
}

func (w *StatusWord) Load() Status       { return Status(w.v.Load()) }
func (w *StatusWord) Store(s Status)     { w.v.Store(uint32(s)) }
func (w *StatusWord) CAS(old, new Status) bool {
	return w.v.CompareAndSwap(uint32(old), uint32(new))
}

// SetInProgress sets the IN_PROGRESS bit, preserving whatever terminal
// value is already present, and reports whether it was already set
// (queue_put/queue_del use this to coalesce).
func (w *StatusWord) SetInProgress() (already bool) {
	for {
		cur := w.Load()
		if cur.InProgress() {
			return true
		}
		if w.CAS(cur, cur|StatusInProgress) {
			return false
		}
	}
}

// ClearInProgress clears the IN_PROGRESS bit and stores the given
// terminal value, atomically.
func (w *StatusWord) ClearInProgress(terminal Status) {
	w.Store(terminal.Value())
}

// Op identifies the kind of offload request.
type Op int

const (
	OpAdd Op = iota
	OpMod
	OpDel
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "ADD"
	case OpMod:
		return "MOD"
	case OpDel:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// ActionKind discriminates the action types the classifier cares about.
// The full attribute payload for OUTPUT/CLONE/etc. is owned by the
// classifier's caller (the dataplane); this module only needs enough of
// the shape to decide offloadability and derive feature flags.
type ActionKind int

const (
	ActionOutput ActionKind = iota
	ActionClone
	ActionTunnelPop
	ActionPushVLAN
	ActionOther
)

// Action is one entry of a flow's action list.
type Action struct {
	Kind ActionKind
	// Port is the output port id for ActionOutput, or the tunnel vport's
	// port id for ActionTunnelPop.
	Port uint32
	// Nested holds the inner action list for a well-formed ActionClone;
	// nil (not empty) signals a malformed clone per classifier rule 2.
	Nested []Action
}

// ActionFlags are the feature flags the classifier derives from a flow's
// action list.
type ActionFlags uint32

const (
	FlagHasOutput ActionFlags = 1 << iota
	FlagVXLANDecap
	FlagVLANPush
	FlagDrop
)

func (f ActionFlags) Has(bit ActionFlags) bool { return f&bit != 0 }

// Match is an opaque match descriptor. The composition engine only
// copies it and adds outer-header constraints; the only contents it
// reads are the ingress match's dst_ip, dst_mac and dst_port fields.
type Match struct {
	// InputPort is the match's input port id, mirrored here for
	// convenience; flows also carry it directly (Flow.InputPort).
	InputPort uint32
	// Fields holds the match in whatever wire form the driver expects.
	// Treated as an opaque blob by everything except the driver and the
	// composition engine's match-expansion step.
	Fields map[string]any
}

// Clone returns a deep-enough copy of the match for composition, which
// must not mutate the original flow's match.
func (m Match) Clone() Match {
	out := Match{InputPort: m.InputPort, Fields: make(map[string]any, len(m.Fields))}
	for k, v := range m.Fields {
		out.Fields[k] = v
	}
	return out
}

// WithOuterHeader returns a copy of m supplemented with the outer-header
// constraints (destination IP, destination MAC, destination port) from
// the ingress side of a composed pair.
func (m Match) WithOuterHeader(dstIP, dstMAC string, dstPort uint16) Match {
	out := m.Clone()
	out.Fields["outer_dst_ip"] = dstIP
	out.Fields["outer_dst_mac"] = dstMAC
	out.Fields["outer_dst_port"] = dstPort
	return out
}
