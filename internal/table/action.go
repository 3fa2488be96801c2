package table

import (
	"fmt"

	"firestige.xyz/mpswitch/internal/core"
)

// ActionID identifies one of the closed set of table actions.
type ActionID uint8

const (
	// ActionDrop marks the packet to drop. It is every table's default.
	ActionDrop ActionID = iota
	// ActionSetEcmpGroup yields (GroupID, NumNhops).
	ActionSetEcmpGroup
	// ActionSetNhop rewrites Ethernet to DstMAC and sets the egress Port.
	ActionSetNhop
)

var actionNames = map[ActionID]string{
	ActionDrop:         "drop",
	ActionSetEcmpGroup: "set_ecmp_group",
	ActionSetNhop:      "set_nhop",
}

func (a ActionID) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction maps an action name to its ActionID.
func ParseAction(name string) (ActionID, error) {
	for id, n := range actionNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", core.ErrUnknownAction, name)
}

// Params are action parameters. Each action reads only its own fields.
type Params struct {
	GroupID  uint16 // set_ecmp_group, 14 bits
	NumNhops uint16 // set_ecmp_group
	DstMAC   [6]byte
	Port     core.Port // set_nhop, 9 bits
}

// Result is the outcome of a lookup. Hit is false when no rule matched, in
// which case Action and Params are the table's default action.
type Result struct {
	Hit    bool
	Action ActionID
	Params Params
}
