// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

// Flow is the external flow handle owned by the dataplane. The offload
// engine never constructs one; it only consumes a fixed set of
// attributes: a stable ufid, an input port, a match, an action list, a
// version, an atomic status word, a liveness flag, and refcounting.
type Flow interface {
	Ufid() Ufid
	InputPort() uint32
	Match() Match
	Actions() []Action
	Version() uint64
	Status() *StatusWord
	Dead() bool
	// Ref acquires a strong reference, reporting whether the acquisition
	// succeeded (it fails once the flow is being torn down concurrently).
	Ref() bool
	Unref()
}

// Netdev is the external network-device handle returned by
// netdev_ports_get/netdev_vport_cast.
type Netdev interface {
	Name() string
	// VportKind returns the tunnel type ("vxlan", "geneve", ...) if this
	// netdev is a tunnel vport, or "" otherwise.
	VportKind() string
	// Aux returns the CompositionAux bound to this vport, or nil if this
	// netdev is not a tunnel vport or has none allocated yet.
	Aux() *CompositionAux
}

// DriverClass names the backend a given flow/netdev pair should be
// programmed through (multiple NIC classes may coexist on a box).
type DriverClass string
