// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

// ClassifyResult is the outcome of running the action classifier over a
// flow's action list.
type ClassifyResult struct {
	Offloadable bool
	Flags       ActionFlags
	// TunnelPopPort is the port id of the TUNNEL_POP target, valid only
	// when an ActionTunnelPop was present (hasTunnelPop); FlagVXLANDecap
	// alone does not make it valid.
	TunnelPopPort uint32
	hasTunnelPop  bool
}

// classifier evaluates action lists against the resolved port topology
// to decide offloadability and derive feature flags.
type classifier struct {
	resolver PortResolver
}

func newClassifier(resolver PortResolver) *classifier {
	return &classifier{resolver: resolver}
}

// Classify runs the classification rules, in order, over inputDev and
// actions.
func (c *classifier) Classify(inputDev Netdev, actions []Action) ClassifyResult {
	var res ClassifyResult
	res.Offloadable = c.walk(actions, &res)

	// Rule 5: input netdev type vxlan implies decap regardless of the
	// action list (handles the post-decap / TnlPop side of a pair).
	if inputDev != nil && inputDev.VportKind() == "vxlan" {
		res.Flags |= FlagVXLANDecap
	}

	// Rule 6: no actions, or no HAS_OUTPUT observed, means drop — still
	// offloadable. Gated on walk()'s own verdict: a flow walk() already
	// hard-rejected must stay non-offloadable, not get flipped back to an
	// offloadable drop entry.
	if res.Offloadable && (len(actions) == 0 || !res.Flags.Has(FlagHasOutput)) {
		res.Flags |= FlagDrop
		res.Offloadable = true
	}

	return res
}

// walk implements rules 1-4, returning false the moment an action makes
// the flow non-offloadable (a CLONE with a malformed inner block, or an
// OUTPUT to a tap with no netdev). Port topology doesn't depend on which
// driver class will eventually program the flow, so every resolver
// lookup here uses the empty class; only the later programming calls
// are class-scoped.
func (c *classifier) walk(actions []Action, res *ClassifyResult) bool {
	offloadable := true
	for _, act := range actions {
		switch act.Kind {
		case ActionOutput:
			dev, found := c.resolver.NetdevPortsGet(act.Port, "")
			if !found {
				// Target port is a tap with no backing netdev: abort.
				return false
			}
			_ = dev
			res.Flags |= FlagHasOutput

		case ActionClone:
			if act.Nested == nil {
				// Malformed CLONE: no well-formed inner block.
				return false
			}
			if !c.walk(act.Nested, res) {
				offloadable = false
			}

		case ActionTunnelPop:
			dev, found := c.resolver.NetdevPortsGet(act.Port, "")
			if found && dev.VportKind() == "vxlan" {
				res.Flags |= FlagVXLANDecap
			}
			res.Flags |= FlagHasOutput
			res.TunnelPopPort = act.Port
			res.hasTunnelPop = true

		case ActionPushVLAN:
			res.Flags |= FlagVLANPush

		default:
			// Other action kinds neither block nor unlock offload on
			// their own; they ride along with whatever HAS_OUTPUT state
			// the list otherwise establishes.
		}
	}
	return offloadable
}

// findTunnelPop reports whether actions contain a TUNNEL_POP and, if so,
// its target port id — used by the dispatcher to decide between the
// ingress-composition path and the normal path.
func findTunnelPop(actions []Action) (port uint32, found bool) {
	for _, act := range actions {
		if act.Kind == ActionTunnelPop {
			return act.Port, true
		}
		if act.Kind == ActionClone {
			if p, ok := findTunnelPop(act.Nested); ok {
				return p, true
			}
		}
	}
	return 0, false
}
