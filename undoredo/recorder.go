// Package undoredo records hierarchy operations and replays them backwards
// and forwards. Removed nodes are preserved in the container's hidden
// shadow area instead of destroyed, so an undone removal restores the exact
// representation, payload and attributes included.
package undoredo

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/hierarchy"
	"github.com/mbellward/arbor/internal/util"
)

var (
	// ErrNothingToUndo indicates Undo was called with no applied actions.
	ErrNothingToUndo = errors.New("undoredo: nothing to undo")

	// ErrNothingToRedo indicates Redo was called with no undone actions.
	ErrNothingToRedo = errors.New("undoredo: nothing to redo")

	// ErrUnknownMark indicates a named mark that was never set or was
	// invalidated by new operations after an undo.
	ErrUnknownMark = errors.New("undoredo: unknown mark")
)

type action struct {
	op    arbor.OpKind
	paths []string
}

// Recorder implements [arbor.UndoRedoLog] over a container. Logging a new
// operation truncates the redo tail, like any linear undo history. The
// recorder attaches itself via [hierarchy.Container.SetUndoLog]; callers do
// this once after construction.
type Recorder struct {
	// enabled and replaying are read lock-free because the container
	// consults them from inside its own hierarchy lock; taking the
	// recorder mutex there would invert the lock order held during
	// replay.
	enabled   atomic.Bool
	replaying atomic.Bool

	mu sync.Mutex
	c  *hierarchy.Container

	actions []action
	pos     int // number of applied actions; the undo cursor
	marks   map[string]int

	log util.Logger
}

// NewRecorder creates an enabled recorder for the container.
func NewRecorder(c *hierarchy.Container) *Recorder {
	r := &Recorder{
		c:     c,
		marks: make(map[string]int),
		log:   util.GetLogger("Recorder"),
	}
	r.enabled.Store(true)
	return r
}

// Enabled reports whether operations should be logged.
func (r *Recorder) Enabled() bool {
	return r.enabled.Load()
}

// Disable stops logging until Enable is called. The recorded history is
// kept.
func (r *Recorder) Disable() {
	r.enabled.Store(false)
}

// Enable resumes logging.
func (r *Recorder) Enable() {
	r.enabled.Store(true)
}

// Log records an operation. Replayed operations are not re-recorded.
func (r *Recorder) Log(op arbor.OpKind, paths ...string) {
	if !r.enabled.Load() || r.replaying.Load() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// A fresh operation invalidates the redo tail and any marks past it.
	if r.pos < len(r.actions) {
		r.actions = r.actions[:r.pos]
		for name, at := range r.marks {
			if at > r.pos {
				delete(r.marks, name)
			}
		}
	}

	r.actions = append(r.actions, action{op: op, paths: paths})
	r.pos = len(r.actions)
	r.log.Debug().Stringer("op", op).Strs("paths", paths).Msg("Logged operation")
}

// CanUndo reports whether there is an applied action to undo.
func (r *Recorder) CanUndo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos > 0
}

// CanRedo reports whether there is an undone action to redo.
func (r *Recorder) CanRedo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos < len(r.actions)
}

// Undo reverts the most recent applied action.
func (r *Recorder) Undo() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.undoLocked()
}

// Redo re-applies the most recently undone action.
func (r *Recorder) Redo() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redoLocked()
}

// Mark names the current history position so Goto can return to it.
func (r *Recorder) Mark(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks[name] = r.pos
}

// Goto undoes or redoes until the history reaches the named mark.
func (r *Recorder) Goto(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.marks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMark, name)
	}
	for r.pos > target {
		if err := r.undoLocked(); err != nil {
			return err
		}
	}
	for r.pos < target {
		if err := r.redoLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) undoLocked() error {
	if r.pos == 0 {
		return ErrNothingToUndo
	}
	a := r.actions[r.pos-1]
	if err := r.replay(a, true); err != nil {
		return fmt.Errorf("failed to undo %s %v: %w", a.op, a.paths, err)
	}
	r.pos--
	return nil
}

func (r *Recorder) redoLocked() error {
	if r.pos >= len(r.actions) {
		return ErrNothingToRedo
	}
	a := r.actions[r.pos]
	if err := r.replay(a, false); err != nil {
		return fmt.Errorf("failed to redo %s %v: %w", a.op, a.paths, err)
	}
	r.pos++
	return nil
}

// replay applies one action against the container, backwards for undo. The
// replaying flag keeps the resulting hierarchy operations out of the log.
func (r *Recorder) replay(a action, backwards bool) error {
	r.replaying.Store(true)
	defer r.replaying.Store(false)

	switch a.op {
	case arbor.OpCreate:
		if backwards {
			_, err := r.c.MoveToShadow(a.paths[0])
			return err
		}
		return r.c.RestoreFromShadow(a.paths[0])

	case arbor.OpRemove:
		if backwards {
			return r.c.RestoreFromShadow(a.paths[0])
		}
		_, err := r.c.MoveToShadow(a.paths[0])
		return err

	case arbor.OpMove:
		from, to := a.paths[0], a.paths[1]
		if backwards {
			from, to = to, from
		}
		return r.movePath(from, to)

	default:
		return fmt.Errorf("unknown operation kind %d", a.op)
	}
}

func (r *Recorder) movePath(from, to string) error {
	n, err := r.c.GetNode(from)
	if err != nil {
		return err
	}
	defer n.Release()

	parentPath, name := arbor.SplitPath(to)
	parent, err := r.c.GetNode(parentPath)
	if err != nil {
		return err
	}
	defer parent.Release()

	return n.Move(parent, name, false)
}
