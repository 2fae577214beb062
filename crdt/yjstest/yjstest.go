// Package yjstest builds Yjs v1 update bytes the way a browser client
// running Y.Doc would send them, for tests that need real wire updates.
// Only string inserts into the root text type and deletions are covered.
package yjstest

// Root is the root text type the updates insert into.
const Root = "monaco"

// ID addresses one character: the client that inserted it and its clock.
type ID struct {
	Client uint64
	Clock  uint64
}

func varUint(buf []byte, n uint64) []byte {
	for n >= 0x80 {
		buf = append(buf, byte(n)|0x80)
		n >>= 7
	}
	return append(buf, byte(n))
}

func varString(buf []byte, s string) []byte {
	buf = varUint(buf, uint64(len(s)))
	return append(buf, s...)
}

const (
	contentString = 4
	hasOrigin     = 0x80
)

// Insert returns an update in which client inserts text at clock, directly
// after origin, or at the start of the root text when origin is nil.
// Text must be ASCII so byte and clock lengths agree.
func Insert(client, clock uint64, origin *ID, text string) []byte {
	buf := varUint(nil, 1) // one client
	buf = varUint(buf, 1)  // one struct
	buf = varUint(buf, client)
	buf = varUint(buf, clock)

	if origin == nil {
		buf = append(buf, contentString)
		buf = varUint(buf, 1) // parent is a root type name
		buf = varString(buf, Root)
	} else {
		buf = append(buf, contentString|hasOrigin)
		buf = varUint(buf, origin.Client)
		buf = varUint(buf, origin.Clock)
	}
	buf = varString(buf, text)

	return varUint(buf, 0) // empty delete set
}

// Delete returns an update deleting length characters of client from clock.
func Delete(client, clock, length uint64) []byte {
	buf := varUint(nil, 0) // no structs
	buf = varUint(buf, 1)
	buf = varUint(buf, client)
	buf = varUint(buf, 1)
	buf = varUint(buf, clock)
	return varUint(buf, length)
}
