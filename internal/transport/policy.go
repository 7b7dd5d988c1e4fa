package transport

import "fmt"

// Policy decides which items of the current window go out again.
type Policy interface {
	Name() string
	// NeedsResend reports whether an item in state s is (re)sent when the
	// window is rebuilt.
	NeedsResend(s State) bool
}

type selectiveRepeat struct{}

func (selectiveRepeat) Name() string             { return "SelectiveRepeat" }
func (selectiveRepeat) NeedsResend(s State) bool { return s != Confirmed }

type goBackN struct{}

func (goBackN) Name() string           { return "GoBackN" }
func (goBackN) NeedsResend(State) bool { return true }

var (
	// SelectiveRepeat resends only unconfirmed items.
	SelectiveRepeat Policy = selectiveRepeat{}
	// GoBackN resends the whole window, confirmed items included.
	GoBackN         Policy = goBackN{}
)

// Policies returns every known policy in sweep order.
func Policies() []Policy {
	return []Policy{SelectiveRepeat, GoBackN}
}

// ParsePolicy looks a policy up by name.
func ParsePolicy(name string) (Policy, error) {
	for _, p := range Policies() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown repeat policy %q", name)
}
