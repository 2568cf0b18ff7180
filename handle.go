package rtcaudio

import (
	"fmt"
	"sync"
	"weak"
)

// Handle is an opaque token identifying one native object.
// The zero value means "no native object".
type Handle uint64

// InvalidHandle is the zero handle.
const InvalidHandle Handle = 0

// Valid reports whether h refers to a native object.
func (h Handle) Valid() bool { return h != InvalidHandle }

func (h Handle) String() string { return fmt.Sprintf("0x%x", uint64(h)) }

// handleTable routes native callbacks, which only carry a handle, back to the
// proxy that owns the handle.
//
// Entries are weak so a registered proxy can still be reclaimed; a reclaimed
// entry resolves as a miss. Lookups run on the engine's real-time thread
// concurrently with register/unregister from application goroutines.
type handleTable struct {
	entries sync.Map // Handle -> weak.Pointer[resource]
}

func newHandleTable() *handleTable {
	return &handleTable{}
}

// register maps h to r. It fails if h is already present, including entries
// whose proxy was reclaimed but not yet finalized.
func (t *handleTable) register(h Handle, r *resource) error {
	if !h.Valid() {
		return ErrInvalidHandle
	}
	if _, loaded := t.entries.LoadOrStore(h, weak.Make(r)); loaded {
		return fmt.Errorf("%w: %s", ErrHandleInUse, h)
	}
	return nil
}

// resolve returns the live proxy for h. A miss means the proxy is gone or
// going away and the caller is no longer interested.
func (t *handleTable) resolve(h Handle) (*resource, bool) {
	v, ok := t.entries.Load(h)
	if !ok {
		return nil, false
	}
	r := v.(weak.Pointer[resource]).Value()
	return r, r != nil
}

// unregister removes h if it still maps to wp. A stale caller, such as a late
// cleanup, can never remove a newer registration of a reused handle.
func (t *handleTable) unregister(h Handle, wp weak.Pointer[resource]) {
	t.entries.CompareAndDelete(h, wp)
}

// len returns the number of registered handles.
func (t *handleTable) len() int {
	n := 0
	t.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
