package weekplan

import "strconv"

// Outcome is the result of looking at one time point: either a concrete
// action (Found) or "inherit whatever was active before" (Inherit).
type Outcome struct {
	id    ActionID
	found bool
}

// Inherit is the outcome of a point that declares no action.
var Inherit = Outcome{}

// Found returns the outcome for a concrete action. Found(NoAction) is Inherit.
func Found(id ActionID) Outcome {
	if id == NoAction {
		return Inherit
	}
	return Outcome{id: id, found: true}
}

// IsFound reports whether the outcome carries a concrete action.
func (o Outcome) IsFound() bool {
	return o.found
}

// ID returns the action id, NoAction for Inherit.
func (o Outcome) ID() ActionID {
	return o.id
}

func (o Outcome) String() string {
	if !o.found {
		return "inherit"
	}
	return strconv.Itoa(int(o.id))
}
