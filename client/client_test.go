package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtcmesh/rendezvous/internal/registry"
	"github.com/rtcmesh/rendezvous/internal/room"
	"github.com/rtcmesh/rendezvous/internal/signaling"
	"github.com/rtcmesh/rendezvous/wire"
)

const eventWait = 5 * time.Second

func startRelay(t *testing.T) string {
	t.Helper()
	reg := registry.New()
	srv := signaling.NewServer(signaling.Config{
		Registry: reg,
		Rooms:    room.NewManager(reg, nil, nil),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(eventWait):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestClient_PairwiseEvents(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	aJoined := make(chan string, 1)
	aSignals := make(chan json.RawMessage, 4)
	aSuccess := make(chan string, 1)
	alice, err := Dial(ctx, url, Options{Handlers: Handlers{
		OnJoinSuccess: func(room string) { aSuccess <- room },
		OnJoined:      func(peerID string) { aJoined <- peerID },
		OnSignal:      func(_ string, payload json.RawMessage) { aSignals <- payload },
	}})
	require.NoError(t, err)
	defer alice.Close()

	require.NoError(t, alice.Join("r1"))
	require.Equal(t, "r1", waitFor(t, aSuccess, "alice join-success"))

	bSuccess := make(chan string, 1)
	bSignals := make(chan json.RawMessage, 4)
	bPeerLeft := make(chan struct{}, 1)
	bob, err := Dial(ctx, url, Options{Handlers: Handlers{
		OnJoinSuccess: func(room string) { bSuccess <- room },
		OnSignal:      func(_ string, payload json.RawMessage) { bSignals <- payload },
		OnPeerLeft:    func() { bPeerLeft <- struct{}{} },
	}})
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.Join("r1"))
	waitFor(t, bSuccess, "bob join-success")

	require.NoError(t, bob.JoinReady("r1"))
	require.NotEmpty(t, waitFor(t, aJoined, "joined event at alice"))

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, alice.SignalRoom("r1", payload))
	require.JSONEq(t, string(payload), string(waitFor(t, bSignals, "signal at bob")))

	// Orderly departure notifies the peer.
	require.NoError(t, alice.Leaving("r1", wire.RoomKindPairwise))
	waitFor(t, bPeerLeft, "peer-left at bob")
}

func TestClient_FullRoom(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	join := func() (*Client, chan string, chan string) {
		success := make(chan string, 1)
		full := make(chan string, 1)
		c, err := Dial(ctx, url, Options{Handlers: Handlers{
			OnJoinSuccess: func(room string) { success <- room },
			OnFull:        func(room string) { full <- room },
		}})
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		require.NoError(t, c.Join("r1"))
		return c, success, full
	}

	_, success, _ := join()
	waitFor(t, success, "first join")
	_, success, _ = join()
	waitFor(t, success, "second join")
	_, _, full := join()
	require.Equal(t, "r1", waitFor(t, full, "full event"))
}

func TestClient_ChatFlow(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	aHost := make(chan string, 1)
	aConnect := make(chan string, 1)
	aUsers := make(chan []string, 4)
	aChat := make(chan string, 4)
	alice, err := Dial(ctx, url, Options{Handlers: Handlers{
		OnInitHost:  func(room string) { aHost <- room },
		OnConnectTo: func(id string) { aConnect <- id },
		OnUserList:  func(users []string) { aUsers <- users },
		OnChatMessage: func(from, text string, encrypted json.RawMessage) {
			aChat <- from + ":" + text + ":" + string(encrypted)
		},
	}})
	require.NoError(t, err)
	defer alice.Close()

	require.NoError(t, alice.JoinChat("alpha", "alice"))
	require.Equal(t, "alpha", waitFor(t, aHost, "init-host"))
	require.Equal(t, []string{"alice"}, waitFor(t, aUsers, "initial roster"))

	bUsers := make(chan []string, 4)
	bFailed := make(chan string, 1)
	bChat := make(chan string, 4)
	bob, err := Dial(ctx, url, Options{Handlers: Handlers{
		OnUserList:       func(users []string) { bUsers <- users },
		OnChatJoinFailed: func(reason string) { bFailed <- reason },
		OnChatMessage: func(from, text string, encrypted json.RawMessage) {
			bChat <- from + ":" + text + ":" + string(encrypted)
		},
	}})
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.JoinChat("alpha", "alice"))
	require.Contains(t, waitFor(t, bFailed, "collision rejection"), "alice")

	require.NoError(t, bob.JoinChat("alpha", "bob"))
	require.NotEmpty(t, waitFor(t, aConnect, "connect-to at alice"))
	require.Equal(t, []string{"alice", "bob"}, waitFor(t, aUsers, "grown roster at alice"))
	require.Contains(t, waitFor(t, aChat, "system notice"), "system:bob joined the room")
	require.Equal(t, []string{"alice", "bob"}, waitFor(t, bUsers, "roster at bob"))

	require.NoError(t, bob.SendChatMessage("alpha", json.RawMessage(`{"ct":"deadbeef"}`)))
	require.Equal(t, `bob::{"ct":"deadbeef"}`, waitFor(t, aChat, "relayed ciphertext"))

	require.NoError(t, bob.LeaveChat("alpha"))
	require.Equal(t, []string{"alice"}, waitFor(t, aUsers, "shrunk roster"))
	require.Contains(t, waitFor(t, aChat, "leave notice"), "system:bob left the room")
}

func TestClient_SendAfterCloseFails(t *testing.T) {
	url := startRelay(t)

	c, err := Dial(context.Background(), url, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Join("r1"), ErrClosed)
}
