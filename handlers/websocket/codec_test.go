package websocket

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"devsync-server/core"
)

func TestRoomArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []any
		want    string
		wantErr bool
	}{
		{"bare string", []any{"r1"}, "r1", false},
		{"object", []any{map[string]any{"roomId": "r2"}}, "r2", false},
		{"missing", nil, "", true},
		{"empty string", []any{""}, "", true},
		{"number", []any{42.0}, "", true},
		{"object without id", []any{map[string]any{"room": "r1"}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := roomArg(tt.args)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidPayload) {
					t.Errorf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestObjectArg(t *testing.T) {
	offer := map[string]any{"type": "offer", "sdp": "v=0"}
	roomID, payload, err := objectArg([]any{map[string]any{"roomId": "r1", "offer": offer}}, "offer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roomID != "r1" || !reflect.DeepEqual(payload, offer) {
		t.Errorf("unexpected result %q %v", roomID, payload)
	}

	for _, args := range [][]any{
		nil,
		{"r1"},
		{map[string]any{"offer": offer}},
		{map[string]any{"roomId": "r1"}},
	} {
		if _, _, err := objectArg(args, "offer"); !errors.Is(err, core.ErrInvalidPayload) {
			t.Errorf("args %v: expected ErrInvalidPayload, got %v", args, err)
		}
	}
}

func TestToBytes(t *testing.T) {
	want := []byte{1, 2, 255}
	tests := []struct {
		name  string
		value any
	}{
		{"binary", []byte{1, 2, 255}},
		{"buffer", bytes.NewBuffer([]byte{1, 2, 255})},
		{"json array", []any{1.0, 2.0, 255.0}},
		{"typed array object", map[string]any{"2": 255.0, "0": 1.0, "1": 2.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toBytes(tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("expected %v, got %v", want, got)
			}
		})
	}
}

func TestToBytesRejects(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"nil", nil},
		{"string", "AQL/"},
		{"out of range", []any{256.0}},
		{"negative", []any{-1.0}},
		{"fraction", []any{1.5}},
		{"not a number", []any{"1"}},
		{"gap", map[string]any{"0": 1.0, "2": 2.0}},
		{"bad key", map[string]any{"x": 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := toBytes(tt.value); !errors.Is(err, core.ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	if got, _ := tokenArg([]any{"abc"}); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	if got, _ := tokenArg([]any{map[string]any{"token": "def"}}); got != "def" {
		t.Errorf("expected def, got %q", got)
	}
	if _, err := tokenArg(nil); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	if got := handshakeToken(map[string]any{"token": "xyz"}); got != "xyz" {
		t.Errorf("expected xyz, got %q", got)
	}
	if got := handshakeToken(nil); got != "" {
		t.Errorf("expected no token, got %q", got)
	}
}

func TestExtractAckAndRespond(t *testing.T) {
	var got map[string]any
	var gotErr error
	callback := func(err error, payload map[string]any) {
		gotErr = err
		got = payload
	}

	ack, args := extractAck([]any{"r1", callback})
	if ack == nil {
		t.Fatal("expected ack")
	}
	if len(args) != 1 || args[0] != "r1" {
		t.Fatalf("unexpected args %v", args)
	}

	respond(ack, nil)
	if got["status"] != "ok" || gotErr != nil {
		t.Errorf("unexpected ok ack %v %v", got, gotErr)
	}

	respond(ack, core.ErrNotAMember)
	if got["status"] != "error" || got["error"] != "not a participant" {
		t.Errorf("unexpected error ack %v", got)
	}
	if gotErr == nil || gotErr.Error() != "not a participant" {
		t.Errorf("unexpected ack error %v", gotErr)
	}

	if ack, args := extractAck([]any{"r1"}); ack != nil || len(args) != 1 {
		t.Error("expected no ack for plain args")
	}
}

func TestAckShapes(t *testing.T) {
	var list []any
	var listErr error
	ack, _ := extractAck([]any{"r1", func(args []any, err error) {
		list, listErr = args, err
	}})
	respond(ack, core.ErrNotAMember)
	if len(list) != 1 || list[0].(map[string]any)["error"] != "not a participant" {
		t.Errorf("unexpected list ack %v", list)
	}
	if listErr == nil || listErr.Error() != "not a participant" {
		t.Errorf("unexpected list ack error %v", listErr)
	}

	var spread []any
	ack, _ = extractAck([]any{func(args ...any) { spread = args }})
	respond(ack, nil)
	if len(spread) != 1 || spread[0].(map[string]any)["status"] != "ok" {
		t.Errorf("unexpected variadic ack %v", spread)
	}

	var single any
	ack, _ = extractAck([]any{func(v any) { single = v }})
	respond(ack, nil)
	if m, ok := single.(map[string]any); !ok || m["status"] != "ok" {
		t.Errorf("unexpected single ok ack %v", single)
	}
	respond(ack, errors.New("disk full"))
	if err, ok := single.(error); !ok || err.Error() != "service unavailable" {
		t.Errorf("unexpected single error ack %v", single)
	}

	called := false
	ack, _ = extractAck([]any{func() { called = true }})
	respond(ack, nil)
	if !called {
		t.Error("expected no-arg ack to be called")
	}
}

func TestAckHidesInternalErrors(t *testing.T) {
	payload, err := ackPayload(errors.New("sql: database is locked"))
	if payload["error"] != "service unavailable" || err.Error() != "service unavailable" {
		t.Errorf("internal error leaked: %v %v", payload, err)
	}
}

func TestCorsFor(t *testing.T) {
	if cors := corsFor([]string{"http://a", "*"}); cors.Origin != "*" {
		t.Errorf("expected wildcard origin, got %v", cors.Origin)
	}
	cors := corsFor([]string{"http://localhost:3000"})
	origins, ok := cors.Origin.([]any)
	if !ok || len(origins) != 1 || origins[0] != "http://localhost:3000" {
		t.Errorf("unexpected origins %v", cors.Origin)
	}
}
