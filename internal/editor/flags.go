package editor

// Flag marks a scope during which some side effects change behavior.
type Flag uint16

const (
	// Remote is set while applying changes that did not originate locally.
	Remote Flag = 1 << iota
	// PatchingSuppressed stops outgoing patch emission.
	PatchingSuppressed
	// Undoing is set while an undo step is applied.
	Undoing
	// Redoing is set while a redo step is applied.
	Redoing
	// NotSaving stops history capture.
	NotSaving
	// Normalizing is set while normalization fixes are applied.
	Normalizing
	// ReadOnly rejects local edits other than selection changes.
	ReadOnly
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{Remote, "remote"},
	{PatchingSuppressed, "patching_suppressed"},
	{Undoing, "undoing"},
	{Redoing, "redoing"},
	{NotSaving, "not_saving"},
	{Normalizing, "normalizing"},
	{ReadOnly, "read_only"},
}

func (f Flag) String() string {
	s := ""
	for _, n := range flagNames {
		if f&n.f != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Begin sets f and returns a function that restores those bits to the state
// they had before the call. Use it with defer:
//
//	defer e.Begin(editor.Remote)()
func (e *Editor) Begin(f Flag) (end func()) {
	prev := e.flags & f
	e.flags |= f
	return func() {
		e.flags = e.flags&^f | prev
	}
}

// Is reports whether every bit of f is currently set.
func (e *Editor) Is(f Flag) bool { return e.flags&f == f }

// Flags returns the current flag set.
func (e *Editor) Flags() Flag { return e.flags }

// SetReadOnly toggles read-only mode.
func (e *Editor) SetReadOnly(v bool) {
	if v {
		e.flags |= ReadOnly
	} else {
		e.flags &^= ReadOnly
	}
}
