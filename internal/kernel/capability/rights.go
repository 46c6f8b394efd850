package capability

import "strings"

// Rights is the set of operations a handle permits.
type Rights uint16

const (
	RightRead Rights = 1 << iota
	RightWrite
	RightExecute
	RightMap
	RightSend
	RightReceive
	RightDuplicate
	RightTransfer
	RightDestroy
	RightWait

	RightsNone Rights = 0
	RightsAll         = RightRead | RightWrite | RightExecute | RightMap | RightSend |
		RightReceive | RightDuplicate | RightTransfer | RightDestroy | RightWait
)

var rightNames = []struct {
	r    Rights
	name string
}{
	{RightRead, "read"},
	{RightWrite, "write"},
	{RightExecute, "execute"},
	{RightMap, "map"},
	{RightSend, "send"},
	{RightReceive, "receive"},
	{RightDuplicate, "duplicate"},
	{RightTransfer, "transfer"},
	{RightDestroy, "destroy"},
	{RightWait, "wait"},
}

// Contains reports whether every right in req is present.
func (r Rights) Contains(req Rights) bool { return r&req == req }

// Narrow keeps only the rights also present in mask.
func (r Rights) Narrow(mask Rights) Rights { return r & mask }

// Valid reports whether r only uses defined bits.
func (r Rights) Valid() bool { return r&^RightsAll == 0 }

func (r Rights) String() string {
	if r == RightsNone {
		return "none"
	}
	var parts []string
	for _, n := range rightNames {
		if r&n.r != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseRights parses the String form, e.g. "read|write".
func ParseRights(s string) (Rights, bool) {
	if s == "none" || s == "" {
		return RightsNone, true
	}
	var out Rights
	for _, part := range strings.Split(s, "|") {
		found := false
		for _, n := range rightNames {
			if n.name == part {
				out |= n.r
				found = true
				break
			}
		}
		if !found {
			return RightsNone, false
		}
	}
	return out, true
}
