// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

// Item is the offload request item: it bundles a flow handle, the
// operation kind, and — for MOD only — the captured prior action list,
// since the live action list may be freed while the item sits in the
// queue.
type Item struct {
	DriverClass DriverClass
	FlowRef     Flow
	Op          Op

	// PriorActions is set only for MOD; nil for ADD/DEL.
	PriorActions []Action
}

// release drops the item's flow reference. Called once the worker has
// finished processing the item, or during drain.
func (it *Item) release() {
	it.FlowRef.Unref()
}
