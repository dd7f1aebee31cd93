package hierarchy

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/internal/util"
)

// AttributeSet is a node's key/value metadata store. It materializes lazily
// on first access and shares its node's lifetime: it is closed exactly once
// as part of the node's close, never independently. It holds no reference
// back to the node beyond the handle and a cached path, which the node
// refreshes on relocation.
//
// Values are encoded with CBOR before being handed to the engine's
// attribute store; values read back through a reopened node therefore carry
// CBOR's decoded types (integers arrive as int64 or uint64).
type AttributeSet struct {
	mu   sync.RWMutex
	open bool

	path   string
	handle arbor.Handle
	store  arbor.AttributeStore // nil when the engine does not persist attributes

	vals     map[string]any
	maxAttrs int
	warned   bool

	log util.Logger
}

// newAttributeSet decodes the node's raw attribute payloads into a live
// set.
func newAttributeSet(n *Node) (*AttributeSet, error) {
	vals := make(map[string]any, len(n.rawAttrs))
	for name, raw := range n.rawAttrs {
		var v any
		if err := cbor.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode attribute %q of %q: %w", name, n.path, err)
		}
		vals[name] = v
	}

	store, _ := n.c.engine.(arbor.AttributeStore)
	return &AttributeSet{
		open:     true,
		path:     n.path,
		handle:   n.handle,
		store:    store,
		vals:     vals,
		maxAttrs: n.c.cfg.MaxNodeAttrs,
		log:      util.GetLogger("AttributeSet"),
	}, nil
}

// Get returns the named attribute value.
func (a *AttributeSet) Get(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.open {
		return nil, false
	}
	v, ok := a.vals[name]
	return v, ok
}

// Names returns all attribute names in sorted order.
func (a *AttributeSet) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.vals))
	for name := range a.vals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of attributes.
func (a *AttributeSet) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.vals)
}

// Set stores an attribute, persisting it through the engine when the engine
// supports that. Crossing the configured attribute-count threshold emits a
// one-time performance warning.
func (a *AttributeSet) Set(name string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return fmt.Errorf("%w: attribute set of %q", arbor.ErrClosedNode, a.path)
	}

	if a.store != nil {
		raw, err := cbor.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode attribute %q: %w", name, err)
		}
		if err := a.store.PutAttr(a.handle, name, raw); err != nil {
			return err
		}
	}
	a.vals[name] = value

	if len(a.vals) > a.maxAttrs && !a.warned {
		a.warned = true
		a.log.Warn().
			Str("path", a.path).
			Int("count", len(a.vals)).
			Int("maxAttrs", a.maxAttrs).
			Msg("Node exceeds the recommended maximum attribute count; attribute access will slow down")
	}
	return nil
}

// Delete removes an attribute. Deleting an attribute that is not set is an
// error.
func (a *AttributeSet) Delete(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return fmt.Errorf("%w: attribute set of %q", arbor.ErrClosedNode, a.path)
	}
	if _, ok := a.vals[name]; !ok {
		return fmt.Errorf("%w: attribute %q of %q", arbor.ErrNodeNotFound, name, a.path)
	}
	if a.store != nil {
		if err := a.store.DeleteAttr(a.handle, name); err != nil {
			return err
		}
	}
	delete(a.vals, name)
	return nil
}

// nodeMoved refreshes the cached path after the owning node relocated.
func (a *AttributeSet) nodeMoved(newPath string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.path = newPath
}

// encodedSnapshot re-encodes the current values for cloning.
func (a *AttributeSet) encodedSnapshot() (map[string][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.vals) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(a.vals))
	for name, v := range a.vals {
		raw, err := cbor.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode attribute %q: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

// close tears the set down; it is called by the node's close and is a
// no-op the second time.
func (a *AttributeSet) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return
	}
	a.open = false
	a.vals = nil
	a.store = nil
}

// Attrs returns the node's attribute set, materializing it on first
// access.
func (n *Node) Attrs() (*AttributeSet, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return n.attrsLocked()
}

func (n *Node) attrsLocked() (*AttributeSet, error) {
	if n.attrs != nil {
		return n.attrs, nil
	}
	attrs, err := newAttributeSet(n)
	if err != nil {
		return nil, err
	}
	n.attrs = attrs
	return attrs, nil
}

// SetAttr is shorthand for Attrs().Set.
func (n *Node) SetAttr(name string, value any) error {
	attrs, err := n.Attrs()
	if err != nil {
		return err
	}
	return attrs.Set(name, value)
}

// GetAttr is shorthand for Attrs().Get.
func (n *Node) GetAttr(name string) (any, bool, error) {
	attrs, err := n.Attrs()
	if err != nil {
		return nil, false, err
	}
	v, ok := attrs.Get(name)
	return v, ok, nil
}

// DelAttr is shorthand for Attrs().Delete.
func (n *Node) DelAttr(name string) error {
	attrs, err := n.Attrs()
	if err != nil {
		return err
	}
	return attrs.Delete(name)
}

// encodedAttrsLocked snapshots the node's attributes in encoded form for
// cloning: the live set when materialized, the raw payloads otherwise.
func (n *Node) encodedAttrsLocked() (map[string][]byte, error) {
	if n.attrs != nil {
		return n.attrs.encodedSnapshot()
	}
	if len(n.rawAttrs) == 0 {
		return nil, nil
	}
	return maps.Clone(n.rawAttrs), nil
}
