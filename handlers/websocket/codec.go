package websocket

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"devsync-server/core"
)

type ackInvoker func(err error, payload map[string]any)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// roomArg reads a room id sent either bare or as {roomId}.
func roomArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", invalid("room id is required")
	}
	switch v := args[0].(type) {
	case string:
		if v == "" {
			return "", invalid("room id is required")
		}
		return v, nil
	case map[string]any:
		return roomField(v)
	default:
		return "", invalid("invalid room id")
	}
}

func roomField(m map[string]any) (string, error) {
	roomID, _ := m["roomId"].(string)
	if roomID == "" {
		return "", invalid("room id is required")
	}
	return roomID, nil
}

// objectArg reads {roomId, <key>} from the first argument.
func objectArg(args []any, key string) (string, any, error) {
	if len(args) == 0 {
		return "", nil, invalid("payload is required")
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return "", nil, invalid("payload must be an object")
	}
	roomID, err := roomField(m)
	if err != nil {
		return "", nil, err
	}
	value, ok := m[key]
	if !ok {
		return "", nil, invalid("%s is required", key)
	}
	return roomID, value, nil
}

// tokenArg reads a token sent bare or as {token}.
func tokenArg(args []any) (string, error) {
	if len(args) > 0 {
		switch v := args[0].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case map[string]any:
			if token, _ := v["token"].(string); token != "" {
				return token, nil
			}
		}
	}
	return "", fmt.Errorf("%w: token is required", core.ErrUnauthorized)
}

// handshakeToken reads auth.token from the socket.io handshake.
func handshakeToken(auth any) string {
	m, ok := auth.(map[string]any)
	if !ok {
		return ""
	}
	token, _ := m["token"].(string)
	return token
}

// toBytes accepts the shapes a Uint8Array arrives in: a binary attachment,
// a JSON number array, or a typed array serialised as {"0": n, "1": n, ...}.
func toBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case interface{ Bytes() []byte }:
		return v.Bytes(), nil
	case []any:
		out := make([]byte, len(v))
		for i, n := range v {
			b, err := toByte(n)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = b
		}
		return out, nil
	case map[string]any:
		return indexedBytes(v)
	case nil:
		return nil, invalid("update is required")
	default:
		return nil, invalid("unsupported update type %T", value)
	}
}

func indexedBytes(m map[string]any) ([]byte, error) {
	indexes := make([]int, 0, len(m))
	for key := range m {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			return nil, invalid("unexpected update key %q", key)
		}
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]byte, len(indexes))
	for pos, i := range indexes {
		if i != pos {
			return nil, invalid("update has a gap at index %d", pos)
		}
		b, err := toByte(m[strconv.Itoa(i)])
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[pos] = b
	}
	return out, nil
}

func toByte(n any) (byte, error) {
	var f float64
	switch v := n.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint8:
		return v, nil
	default:
		return 0, invalid("byte value %v is not a number", n)
	}
	if f < 0 || f > math.MaxUint8 || f != math.Trunc(f) {
		return 0, invalid("byte value %v out of range", n)
	}
	return byte(f), nil
}

// extractAck splits off the acknowledgement callback a client may attach as
// the last argument.
func extractAck(datas []any) (ackInvoker, []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	fn := reflect.ValueOf(datas[len(datas)-1])
	if fn.Kind() != reflect.Func {
		return nil, datas
	}
	ack := func(err error, payload map[string]any) {
		typ := fn.Type()
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			args[i] = ackArg(typ.In(i), err, payload, len(args) == 1)
		}
		if typ.IsVariadic() {
			fn.CallSlice(args)
			return
		}
		fn.Call(args)
	}
	return ack, datas[:len(datas)-1]
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	payloadType = reflect.TypeOf(map[string]any(nil))
)

// ackArg fills one callback parameter by its type: error parameters get
// err, lists get the payload as their only element, anything else gets the
// payload, or err when it is the callback's only parameter.
func ackArg(param reflect.Type, err error, payload map[string]any, only bool) reflect.Value {
	switch {
	case param == errorType:
		if err == nil {
			return reflect.Zero(param)
		}
		return reflect.ValueOf(err)
	case param.Kind() == reflect.Slice && payloadType.AssignableTo(param.Elem()):
		list := reflect.MakeSlice(param, 1, 1)
		list.Index(0).Set(reflect.ValueOf(payload))
		return list
	case only && err != nil && errorType.AssignableTo(param):
		return reflect.ValueOf(err)
	case payloadType.AssignableTo(param):
		return reflect.ValueOf(payload)
	default:
		return reflect.Zero(param)
	}
}

// ackPayload is the {status, error?} body answered to acknowledged events.
// The error text is the client-facing reason, never the internal cause.
func ackPayload(err error) (map[string]any, error) {
	if err == nil {
		return map[string]any{"status": "ok"}, nil
	}
	reason := core.Reason(err)
	return map[string]any{"status": "error", "error": reason}, errors.New(reason)
}

func respond(ack ackInvoker, err error) {
	if ack == nil {
		return
	}
	payload, ackErr := ackPayload(err)
	ack(ackErr, payload)
}
