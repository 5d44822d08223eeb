package render

import "strings"

// KeyRule colors every LED whose name contains one of the substrings.
type KeyRule struct {
	Keys  []string
	Color Color
}

// FrameByKeyNames builds a frame from per-LED names: the first matching rule
// wins, otherwise fallback decides from the name and index. Used to paint the
// idle substrate from a device's key layout.
func FrameByKeyNames(names []string, rules []KeyRule, fallback func(name string, index int) Color) Frame {
	f := make(Frame, len(names))
	for i, name := range names {
		f[i] = colorForKey(name, i, rules, fallback)
	}
	return f
}

func colorForKey(name string, index int, rules []KeyRule, fallback func(string, int) Color) Color {
	for _, r := range rules {
		for _, sub := range r.Keys {
			if strings.Contains(name, sub) {
				return r.Color
			}
		}
	}
	if fallback != nil {
		return fallback(name, index)
	}
	return Black
}
