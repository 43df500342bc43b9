// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import "context"

// offloadNormal programs a single driver entry keyed by the flow's own
// ufid, with its expanded match and full action list. Used when neither
// composition path (ingress or tunnel-pop) applies.
func offloadNormal(ctx context.Context, drv Driver, class DriverClass, dev Netdev, flow Flow, actions []Action) Status {
	res, err := drv.FlowPut(ctx, class, dev, flow.Match(), actions, flow.Ufid(), false)
	if err != nil {
		return StatusFailed
	}
	if res.ActionsOffloaded {
		return StatusFull
	}
	return StatusMask
}
