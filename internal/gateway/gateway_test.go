package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lkarbiter/core/internal/events"
	"github.com/lkarbiter/core/internal/jitter"
)

// fakeSession bypasses the websocket connection so delivery primitives
// can be tested without a real network round trip.
func fakeSession(id string) *Session {
	return &Session{
		ID:    id,
		send:  make(chan []byte, 4),
		rooms: make(map[string]bool),
	}
}

func newTestGateway() *Gateway {
	return New(nil, nil, jitter.DefaultConfig)
}

func registerFake(gw *Gateway, s *Session) {
	gw.mu.Lock()
	gw.sessions[s.ID] = s
	gw.mu.Unlock()
	s.gw = gw
}

func TestToSessionDeliversOnlyToTarget(t *testing.T) {
	gw := newTestGateway()
	a := fakeSession("a")
	b := fakeSession("b")
	registerFake(gw, a)
	registerFake(gw, b)

	env, _ := events.New(events.TypeConnected, map[string]string{"hello": "world"})
	gw.ToSession("a", env)

	require.Len(t, a.send, 1)
	require.Len(t, b.send, 0)
}

func TestToRoomDeliversToAllMembers(t *testing.T) {
	gw := newTestGateway()
	a := fakeSession("a")
	b := fakeSession("b")
	c := fakeSession("c")
	registerFake(gw, a)
	registerFake(gw, b)
	registerFake(gw, c)

	gw.JoinRoom("room1", a)
	gw.JoinRoom("room1", b)

	env, _ := events.New(events.TypeMatchStarted, nil)
	gw.ToRoom("room1", env)

	require.Len(t, a.send, 1)
	require.Len(t, b.send, 1)
	require.Len(t, c.send, 0)
}

func TestToRoomExceptSkipsGivenSession(t *testing.T) {
	gw := newTestGateway()
	a := fakeSession("a")
	b := fakeSession("b")
	registerFake(gw, a)
	registerFake(gw, b)

	gw.JoinRoom("room1", a)
	gw.JoinRoom("room1", b)

	env, _ := events.New(events.TypeMoveReceived, map[string]int{"sequence": 1})
	gw.ToRoomExcept("room1", "a", env)

	require.Len(t, a.send, 0)
	require.Len(t, b.send, 1)

	var decoded events.Envelope
	require.NoError(t, json.Unmarshal(<-b.send, &decoded))
	require.Equal(t, events.TypeMoveReceived, decoded.Type)
}

func TestLeaveRoomRemovesMembership(t *testing.T) {
	gw := newTestGateway()
	a := fakeSession("a")
	registerFake(gw, a)
	gw.JoinRoom("room1", a)
	gw.LeaveRoom("room1", a)

	env, _ := events.New(events.TypeMatchStarted, nil)
	gw.ToRoom("room1", env)
	require.Len(t, a.send, 0)
}
