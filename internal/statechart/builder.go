package statechart

import "fmt"

// Builder assembles an immutable Definition one state at a time. It is
// the only place a State's `on`/`after` slices are ever appended to —
// once Build returns, a Definition is read-only and safe to share
// across any number of Machine instances.
type Builder struct {
	id      string
	initial string
	states  map[string]*State
	err     error
}

// NewBuilder starts a chart identified by id, whose root initial state
// is initial.
func NewBuilder(id, initial string) *Builder {
	return &Builder{
		id:      id,
		initial: initial,
		states:  make(map[string]*State),
	}
}

func (b *Builder) state(name string) *State {
	st, ok := b.states[name]
	if !ok {
		st = &State{Name: name, on: make(map[string][]transition)}
		b.states[name] = st
	}
	return st
}

// State declares (or re-opens) a top-level state.
func (b *Builder) State(name string) *Builder {
	b.state(name)
	return b
}

// Compound declares name as a compound state with the given children,
// entering initialChild by default.
func (b *Builder) Compound(name, initialChild string, children ...string) *Builder {
	st := b.state(name)
	st.Initial = initialChild
	st.Children = children
	for _, c := range children {
		child := b.state(c)
		child.Parent = name
	}
	return b
}

// History marks name (already declared as Compound) to remember its
// last active child across re-entry (shallow history only).
func (b *Builder) History(name string) *Builder {
	b.state(name).History = true
	return b
}

// OnEntry appends an entry action to name.
func (b *Builder) OnEntry(name string, action Action) *Builder {
	st := b.state(name)
	st.OnEntry = append(st.OnEntry, action)
	return b
}

// OnExit appends an exit action to name.
func (b *Builder) OnExit(name string, action Action) *Builder {
	st := b.state(name)
	st.OnExit = append(st.OnExit, action)
	return b
}

// On declares a transition: from `name`, handling `event`, optionally
// guarded, to `target`, running `action` (either may be nil).
func (b *Builder) On(name, event, target string, guard Guard, action Action) *Builder {
	st := b.state(name)
	st.on[event] = append(st.on[event], transition{target: target, guard: guard, action: action})
	return b
}

// After arms a delayed self-transition: delayMs after `name` is
// entered, transition to `target` unless the state has since been
// exited (handled by Machine clearing pendingAfter on exit).
func (b *Builder) After(name string, delayMs int64, target string, action Action) *Builder {
	st := b.state(name)
	st.after = append(st.after, delayedTransitionSpec{delayMs: delayMs, target: target, action: action})
	return b
}

// Build validates referential integrity (every target/initial/history
// name must resolve to a declared state) and returns the immutable
// Definition.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if _, ok := b.states[b.initial]; !ok {
		return nil, fmt.Errorf("statechart %q: initial state %q not declared", b.id, b.initial)
	}
	for _, st := range b.states {
		if len(st.Children) > 0 {
			if _, ok := b.states[st.Initial]; !ok {
				return nil, fmt.Errorf("statechart %q: state %q has undeclared initial child %q", b.id, st.Name, st.Initial)
			}
		}
		for event, trs := range st.on {
			for _, tr := range trs {
				if _, ok := b.states[tr.target]; !ok {
					return nil, fmt.Errorf("statechart %q: state %q event %q targets undeclared state %q", b.id, st.Name, event, tr.target)
				}
			}
		}
		for _, spec := range st.after {
			if _, ok := b.states[spec.target]; !ok {
				return nil, fmt.Errorf("statechart %q: state %q after-transition targets undeclared state %q", b.id, st.Name, spec.target)
			}
		}
	}
	return &Definition{id: b.id, initial: b.initial, states: b.states}, nil
}

// MustBuild panics on a malformed definition; only appropriate for
// package-level chart definitions assembled from literal Go, where a
// build failure is a programming error, not runtime data.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
