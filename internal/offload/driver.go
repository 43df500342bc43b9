// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import "context"

// PutResult is the outcome of a successful flow_put.
type PutResult struct {
	// ActionsOffloaded is false for a match-only (MASK) program.
	ActionsOffloaded bool
}

// FlowStats is the result of a flow_get query.
type FlowStats struct {
	Packets uint64
	Bytes   uint64
}

// Driver is the NIC-vendor-specific collaborator consumed by the
// composition engine and the normal-path offload. Implementations live
// under internal/hwdriver; this package never talks to hardware
// directly. The worker goroutine makes every FlowPut and FlowDel call;
// Worker.StatsFor calls FlowGet on its own caller's goroutine, so
// FlowGet can run concurrently with them.
type Driver interface {
	// FlowPut programs match (+ actions, if any) under ufid on netdev.
	// An empty actions list with markOnly set programs a match-only
	// validation entry, used by the ingress-ADD validation step.
	FlowPut(ctx context.Context, class DriverClass, netdev Netdev, match Match, actions []Action, ufid Ufid, markOnly bool) (PutResult, error)
	// FlowDel deletes the entry keyed by ufid on netdev. Deleting a ufid
	// that is not present is not an error.
	FlowDel(ctx context.Context, class DriverClass, netdev Netdev, ufid Ufid) error
	// FlowGet queries accounting for ufid on netdev.
	FlowGet(ctx context.Context, class DriverClass, netdev Netdev, ufid Ufid) (FlowStats, error)
}

// PortResolver resolves ports to netdevs and detects vports.
type PortResolver interface {
	// NetdevPortsGet resolves a port id to its netdev, or reports found=false.
	NetdevPortsGet(portID uint32, class DriverClass) (dev Netdev, found bool)
	// NetdevVportCast reports whether dev is a tunnel vport.
	NetdevVportCast(dev Netdev) (isVport bool)
}
