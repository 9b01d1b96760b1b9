package websocket

import (
	"context"
	"encoding/json"
	"testing"
)

func handle(t *testing.T, core testCore, id, raw string) []OutboundFrame {
	t.Helper()
	return core.dispatcher.HandleFrame(context.Background(), id, []byte(raw))
}

func singleFrame[T OutboundFrame](t *testing.T, frames []OutboundFrame) T {
	t.Helper()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d: %+v", len(frames), frames)
	}
	f, ok := frames[0].(T)
	if !ok {
		t.Fatalf("expected %T, got %T (%+v)", *new(T), frames[0], frames[0])
	}
	return f
}

func TestDispatcher_AcceptSendsConnectionFrame(t *testing.T) {
	core := setupCore(t)
	tr := &mockTransport{}

	conn, err := core.dispatcher.Accept(context.Background(), tr, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	sent := tr.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one frame, got %d", len(sent))
	}
	if sent[0]["type"] != "connection" || sent[0]["client_id"] != conn.ID || sent[0]["message"] == "" {
		t.Errorf("unexpected connection frame %v", sent[0])
	}
}

func TestDispatcher_AcceptAttachesHandshakeIdentity(t *testing.T) {
	core := setupCore(t)

	conn, err := core.dispatcher.Accept(context.Background(), &mockTransport{}, &Identity{ID: "u1", Roles: []string{"admin"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, _ := core.registry.Get(conn.ID)
	if got.Identity == nil || got.Identity.ID != "u1" {
		t.Errorf("expected identity attached, got %+v", got.Identity)
	}
}

func TestDispatcher_AcceptSendFailureUnregisters(t *testing.T) {
	core := setupCore(t)
	tr := &mockTransport{sendFunc: func([]byte) error { return errMockSend }}

	if _, err := core.dispatcher.Accept(context.Background(), tr, nil); err == nil {
		t.Fatal("expected error when the acknowledgement cannot be sent")
	}
	if stats := core.registry.Stats(); stats.Connections != 0 {
		t.Errorf("expected connection to be removed, got %+v", stats)
	}
}

func TestDispatcher_Subscribe(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	f := singleFrame[SubscribedFrame](t, handle(t, core, id, `{"type":"subscribe","channel":"leads"}`))
	if f.Type != TypeSubscribed || f.Channel != "leads" || f.Event != "INSERT" {
		t.Errorf("unexpected frame %+v", f)
	}
	if f.Message != "Subscribed to leads" {
		t.Errorf("unexpected message %q", f.Message)
	}

	f = singleFrame[SubscribedFrame](t, handle(t, core, id, `{"type":"subscribe","channel":"sales","event":"UPDATE"}`))
	if f.Event != "UPDATE" {
		t.Errorf("expected event to be echoed, got %q", f.Event)
	}

	conn, _ := core.registry.Get(id)
	if len(conn.Subscriptions) != 2 {
		t.Errorf("expected two subscriptions, got %v", conn.Subscriptions)
	}
	assertConsistent(t, core.registry)
}

func TestDispatcher_SubscribeTwiceStillAcknowledges(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	singleFrame[SubscribedFrame](t, handle(t, core, id, `{"type":"subscribe","channel":"leads"}`))
	singleFrame[SubscribedFrame](t, handle(t, core, id, `{"type":"subscribe","channel":"leads"}`))

	if subs := core.registry.Subscribers("leads"); len(subs) != 1 {
		t.Errorf("expected one subscriber entry, got %v", subs)
	}
}

func TestDispatcher_SubscribeWithoutChannel(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	for _, raw := range []string{`{"type":"subscribe"}`, `{"type":"subscribe","channel":""}`} {
		f := singleFrame[ErrorFrame](t, handle(t, core, id, raw))
		if f.Message != "Channel is required for subscription" {
			t.Errorf("unexpected message %q", f.Message)
		}
	}

	if stats := core.registry.Stats(); stats.Channels != 0 || stats.Subscriptions != 0 {
		t.Errorf("expected no mutation, got %+v", stats)
	}
	conn, _ := core.registry.Get(id)
	if len(conn.Subscriptions) != 0 || conn.Identity != nil {
		t.Errorf("expected connection untouched, got %+v", conn)
	}
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})
	mustSubscribe(t, core.registry, id, "leads")

	f := singleFrame[UnsubscribedFrame](t, handle(t, core, id, `{"type":"unsubscribe","channel":"leads"}`))
	if f.Channel != "leads" || f.Message != "Unsubscribed from leads" {
		t.Errorf("unexpected frame %+v", f)
	}
	if stats := core.registry.Stats(); stats.Channels != 0 {
		t.Errorf("expected channel dropped, got %+v", stats)
	}
	assertConsistent(t, core.registry)
}

func TestDispatcher_UnsubscribeNeverSubscribed(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	f := singleFrame[UnsubscribedFrame](t, handle(t, core, id, `{"type":"unsubscribe","channel":"unknown"}`))
	if f.Channel != "unknown" {
		t.Errorf("unexpected frame %+v", f)
	}
}

func TestDispatcher_UnsubscribeWithoutChannel(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	f := singleFrame[ErrorFrame](t, handle(t, core, id, `{"type":"unsubscribe"}`))
	if f.Message != "Channel is required for unsubscription" {
		t.Errorf("unexpected message %q", f.Message)
	}
}

func TestDispatcher_Authenticate(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	frames := handle(t, core, id, `{"type":"authenticate","token":"secret-token","user":{"id":7,"email":"ann@example.com","display_name":"Ann","roles":["manager"]}}`)
	f := singleFrame[AuthenticatedFrame](t, frames)
	if f.User != (PublicUser{ID: "7", Email: "ann@example.com", DisplayName: "Ann"}) {
		t.Errorf("unexpected public user %+v", f.User)
	}

	encoded, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(encoded, &decoded)
	if _, leaked := decoded["token"]; leaked {
		t.Error("token must not be echoed")
	}
	if user := decoded["user"].(map[string]any); len(user) != 3 {
		t.Errorf("expected only id, email and display_name, got %v", user)
	}

	conn, _ := core.registry.Get(id)
	if conn.Identity == nil || conn.Identity.ID != "7" || len(conn.Identity.Roles) != 1 {
		t.Errorf("expected identity attached, got %+v", conn.Identity)
	}
}

func TestDispatcher_ReauthenticateReplacesIdentity(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	handle(t, core, id, `{"type":"authenticate","token":"t","user":{"id":"u1","email":"a@x"}}`)
	handle(t, core, id, `{"type":"authenticate","token":"t","user":{"id":"u2"}}`)

	conn, _ := core.registry.Get(id)
	if conn.Identity.ID != "u2" || conn.Identity.Email != "" {
		t.Errorf("expected identity replaced, got %+v", conn.Identity)
	}
}

func TestDispatcher_AuthenticateInvalidData(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	cases := []string{
		`{"type":"authenticate","user":{"id":"u1"}}`,
		`{"type":"authenticate","token":"t"}`,
		`{"type":"authenticate","token":"t","user":{}}`,
		`{"type":"authenticate","token":"t","user":null}`,
		`{"type":"authenticate","token":"t","user":"u1"}`,
	}
	for _, raw := range cases {
		f := singleFrame[ErrorFrame](t, handle(t, core, id, raw))
		if f.Message != "Invalid authentication data" {
			t.Errorf("%s: unexpected message %q", raw, f.Message)
		}
	}

	conn, _ := core.registry.Get(id)
	if conn.Identity != nil {
		t.Errorf("expected no identity, got %+v", conn.Identity)
	}
}

func TestDispatcher_Ping(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	f := singleFrame[PongFrame](t, handle(t, core, id, `{"type":"ping"}`))
	if f.Timestamp != "2026-03-01T12:30:45.123Z" {
		t.Errorf("unexpected timestamp %q", f.Timestamp)
	}
}

func TestDispatcher_UnknownType(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	f := singleFrame[ErrorFrame](t, handle(t, core, id, `{"type":"teleport"}`))
	if f.Message != "Unknown message type: teleport" {
		t.Errorf("unexpected message %q", f.Message)
	}
	if _, ok := core.registry.Get(id); !ok {
		t.Error("expected connection to stay registered")
	}
}

func TestDispatcher_MalformedFrame(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	for _, raw := range []string{`not json`, `{"type":`, `[]`, `{}`, `{"type":"subscribe","channel":5}`} {
		f := singleFrame[ErrorFrame](t, handle(t, core, id, raw))
		if f.Message != "Invalid message format" {
			t.Errorf("%s: unexpected message %q", raw, f.Message)
		}
	}
	if _, ok := core.registry.Get(id); !ok {
		t.Error("expected connection to stay registered")
	}
}

func TestDispatcher_FramesBeforeAuthentication(t *testing.T) {
	core := setupCore(t)
	id := mustRegister(t, core.registry, &mockTransport{})

	singleFrame[SubscribedFrame](t, handle(t, core, id, `{"type":"subscribe","channel":"leads"}`))
	singleFrame[PongFrame](t, handle(t, core, id, `{"type":"ping"}`))
	singleFrame[UnsubscribedFrame](t, handle(t, core, id, `{"type":"unsubscribe","channel":"leads"}`))
}

func TestDispatcher_PanicBecomesInternalError(t *testing.T) {
	core := setupCore(t)
	core.dispatcher.registry = nil

	f := singleFrame[ErrorFrame](t, handle(t, core, "conn-1", `{"type":"subscribe","channel":"leads"}`))
	if f.Message != "Internal server error" {
		t.Errorf("unexpected message %q", f.Message)
	}
}

func TestDispatcher_DisconnectCleansUp(t *testing.T) {
	core := setupCore(t)
	a := mustRegister(t, core.registry, &mockTransport{})
	b := mustRegister(t, core.registry, &mockTransport{})
	mustSubscribe(t, core.registry, a, "x")
	mustSubscribe(t, core.registry, a, "y")
	mustSubscribe(t, core.registry, b, "x")

	core.dispatcher.Disconnect(context.Background(), a, ReasonClosed)

	if _, ok := core.registry.Get(a); ok {
		t.Error("expected connection removed from registry")
	}
	if subs := core.registry.Subscribers("x"); len(subs) != 1 || subs[0] != b {
		t.Errorf("expected only %s left in x, got %v", b, subs)
	}
	if subs := core.registry.Subscribers("y"); len(subs) != 0 {
		t.Errorf("expected y removed, got %v", subs)
	}
	if stats := core.registry.Stats(); stats.Channels != 1 {
		t.Errorf("expected y entry dropped, got %+v", stats)
	}
	assertConsistent(t, core.registry)

	core.dispatcher.Disconnect(context.Background(), a, ReasonClosed)
}

func TestDispatcher_DisconnectSurvivesPanics(t *testing.T) {
	core := setupCore(t)
	core.dispatcher.registry = nil

	core.dispatcher.Disconnect(context.Background(), "conn-1", ReasonClosed)
}
