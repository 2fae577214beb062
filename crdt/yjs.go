package crdt

import (
	"fmt"
	"sync"

	y "github.com/skyterra/y-crdt"
)

// TextName is the root text type the browser editor binds to.
const TextName = "monaco"

// YjsEngine keeps one Yjs document per room. Clients send Yjs v1 updates
// and receive EncodeStateAsUpdate output as the initial state, which they
// apply with Y.applyUpdate like any other update.
type YjsEngine struct{}

func (YjsEngine) Name() string { return "yjs" }

func (YjsEngine) NewDoc() Doc { return NewYDoc() }

type YDoc struct {
	mu  sync.Mutex
	doc *y.Doc
}

func newYjsDoc() *y.Doc {
	return y.NewDoc("", true, func(*y.Item) bool { return true }, nil, false)
}

func NewYDoc() *YDoc {
	return &YDoc{doc: newYjsDoc()}
}

// applyUpdate runs the library decoder, which panics on truncated or
// corrupt input.
func applyUpdate(doc *y.Doc, update []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedUpdate, r)
		}
	}()
	y.ApplyUpdate(doc, update, nil)
	return nil
}

// Apply merges update. It is first decoded into a scratch document so bytes
// the decoder chokes on never reach the room's state.
func (d *YDoc) Apply(update []byte) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: empty update", ErrMalformedUpdate)
	}
	if err := applyUpdate(newYjsDoc(), update); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return applyUpdate(d.doc, update)
}

// Merge is Apply: Yjs encodes a full state as an ordinary update.
func (d *YDoc) Merge(state []byte) error {
	return d.Apply(state)
}

func (d *YDoc) Encode() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return y.EncodeStateAsUpdate(d.doc, nil), nil
}

func (d *YDoc) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.GetText(TextName).ToString()
}
