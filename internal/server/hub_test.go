package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/mocks"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// frames records what the hub pushed to one mocked connection.
type frames struct {
	mu   sync.Mutex
	seen []protocol.Envelope
}

func (f *frames) add(payload []byte) protocol.Envelope {
	var env protocol.Envelope
	_ = json.Unmarshal(payload, &env)
	f.mu.Lock()
	f.seen = append(f.seen, env)
	f.mu.Unlock()
	return env
}

func (f *frames) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]string, 0, len(f.seen))
	for _, env := range f.seen {
		res = append(res, env.Event)
	}
	return res
}

// last decodes the data of the most recent event called name.
func (f *frames) last(t *testing.T, name string) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.seen) - 1; i >= 0; i-- {
		if f.seen[i].Event == name {
			var data map[string]any
			require.NoError(t, json.Unmarshal(f.seen[i].Data, &data))
			return data
		}
	}
	require.FailNow(t, "event not delivered", "expected %q in %v", name, f.seen)
	return nil
}

func newTestHub(t *testing.T, opts chat.Options) *Hub {
	t.Helper()
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), opts)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub
}

// recordingSink accepts every frame. Close may happen on shutdown.
func recordingSink(ctrl *gomock.Controller) (*mocks.MockSink, *frames) {
	f := &frames{}
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Send(gomock.Any()).DoAndReturn(func(payload []byte) error {
		f.add(payload)
		return nil
	}).AnyTimes()
	sink.EXPECT().Close().Return(nil).AnyTimes()
	return sink, f
}

// flush waits until every command queued before it has been applied.
func flush(t *testing.T, hub *Hub) chat.Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stats, err := hub.Stats(ctx)
	require.NoError(t, err)
	return stats
}

func connect(t *testing.T, hub *Hub, id chat.ConnID, sink chat.Sink) {
	t.Helper()
	require.NoError(t, hub.Connect(id, sink))
}

func submit(t *testing.T, hub *Hub, id chat.ConnID, in protocol.Inbound) {
	t.Helper()
	require.NoError(t, hub.Submit(id, in))
}

func TestHub_ConnectSendsConnectedFirst(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	sink, got := recordingSink(ctrl)

	connect(t, hub, "x", sink)
	stats := flush(t, hub)

	req.Equal([]string{chat.EventConnected}, got.names())
	req.Equal("x", got.last(t, chat.EventConnected)["id"])
	req.Equal(1, stats.Connections)
	req.Empty(stats.Rooms)
}

func TestHub_LobbyConversation(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	xSink, x := recordingSink(ctrl)
	ySink, y := recordingSink(ctrl)

	connect(t, hub, "x", xSink)
	connect(t, hub, "y", ySink)
	submit(t, hub, "x", &protocol.JoinRoom{Room: "lobby", Username: "Alice"})
	submit(t, hub, "y", &protocol.JoinRoom{Room: "lobby", Username: "Bob"})
	submit(t, hub, "x", &protocol.SendMessage{Room: "lobby", Message: "hi", Sender: "Mallory", SenderID: "forged"})
	flush(t, hub)

	// Then the sender never gets its own message back
	req.Equal([]string{chat.EventConnected, chat.EventRoomJoined, chat.EventUserJoined}, x.names())
	req.Equal([]string{chat.EventConnected, chat.EventRoomJoined, chat.EventReceiveMessage}, y.names())

	joined := x.last(t, chat.EventUserJoined)
	req.Equal("Bob", joined["username"])
	req.EqualValues(2, joined["count"])

	// And the broadcast carries the server side identity
	msg := y.last(t, chat.EventReceiveMessage)
	req.Equal("lobby", msg["room"])
	req.Equal("hi", msg["message"])
	req.Equal("Alice", msg["sender"])
	req.Equal("x", msg["senderId"])
	req.NotEmpty(msg["timestamp"])

	hub.Disconnect("y")
	stats := flush(t, hub)

	left := x.last(t, chat.EventUserLeft)
	req.Equal("lobby", left["room"])
	req.Equal("Bob", left["username"])
	req.EqualValues(1, left["count"])
	req.Equal(chat.Stats{Connections: 1, Rooms: []chat.Occupancy{{Name: "lobby", Count: 1}}}, stats)

	submit(t, hub, "x", &protocol.LeaveRoom{Room: "lobby"})
	stats = flush(t, hub)

	req.EqualValues(0, x.last(t, chat.EventRoomLeft)["count"])
	req.Empty(stats.Rooms)
}

func TestHub_MessagesStayInTheirRoom(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	aSink, a := recordingSink(ctrl)
	bSink, b := recordingSink(ctrl)
	cSink, c := recordingSink(ctrl)

	connect(t, hub, "a", aSink)
	connect(t, hub, "b", bSink)
	connect(t, hub, "c", cSink)
	submit(t, hub, "a", &protocol.JoinRoom{Room: "red"})
	submit(t, hub, "b", &protocol.JoinRoom{Room: "red"})
	submit(t, hub, "c", &protocol.JoinRoom{Room: "blue"})
	submit(t, hub, "a", &protocol.SendMessage{Room: "red", Message: "only red"})
	flush(t, hub)

	req.Contains(b.names(), chat.EventReceiveMessage)
	req.NotContains(a.names(), chat.EventReceiveMessage)
	req.NotContains(c.names(), chat.EventReceiveMessage)
	req.NotContains(c.names(), chat.EventUserJoined)
}

func TestHub_RejectionGoesToSenderOnly(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{MaxRoomsPerConnection: 1, RequireMembership: true})
	xSink, x := recordingSink(ctrl)
	ySink, y := recordingSink(ctrl)

	connect(t, hub, "x", xSink)
	connect(t, hub, "y", ySink)
	submit(t, hub, "y", &protocol.JoinRoom{Room: "lobby"})
	submit(t, hub, "x", &protocol.SendMessage{Room: "lobby", Message: "let me in"})
	flush(t, hub)

	rejected := x.last(t, chat.EventError)
	req.Equal(protocol.EventMessage, rejected["event"])
	req.NotEmpty(rejected["message"])
	req.NotContains(y.names(), chat.EventReceiveMessage)
	req.NotContains(y.names(), chat.EventError)

	submit(t, hub, "y", &protocol.JoinRoom{Room: "second"})
	stats := flush(t, hub)

	req.Equal(protocol.EventJoinRoom, y.last(t, chat.EventError)["event"])
	req.Equal([]chat.Occupancy{{Name: "lobby", Count: 1}}, stats.Rooms)
}

func TestHub_NotFoundIsSilent(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	sink, got := recordingSink(ctrl)

	connect(t, hub, "x", sink)
	submit(t, hub, "x", &protocol.LeaveRoom{Room: "nowhere"})
	submit(t, hub, "ghost", &protocol.JoinRoom{Room: "lobby"})
	stats := flush(t, hub)

	req.Equal([]string{chat.EventConnected}, got.names())
	req.Empty(stats.Rooms)
}

func TestHub_FullRecipientIsDisconnected(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	xSink, x := recordingSink(ctrl)
	zSink, z := recordingSink(ctrl)

	slow := &frames{}
	ySink := mocks.NewMockSink(ctrl)
	ySink.EXPECT().Send(gomock.Any()).DoAndReturn(func(payload []byte) error {
		if slow.add(payload).Event == chat.EventReceiveMessage {
			return chat.ErrSendBufferFull
		}
		return nil
	}).AnyTimes()
	ySink.EXPECT().Close().Return(nil).Times(1)

	connect(t, hub, "x", xSink)
	connect(t, hub, "y", ySink)
	connect(t, hub, "z", zSink)
	submit(t, hub, "x", &protocol.JoinRoom{Room: "lobby", Username: "Alice"})
	submit(t, hub, "y", &protocol.JoinRoom{Room: "lobby", Username: "Bob"})
	submit(t, hub, "z", &protocol.JoinRoom{Room: "lobby", Username: "Carol"})
	submit(t, hub, "x", &protocol.SendMessage{Room: "lobby", Message: "flood"})
	stats := flush(t, hub)

	// Then the other recipient still got the message
	req.Contains(z.names(), chat.EventReceiveMessage)
	// And the overflowing connection was dropped and announced
	req.Equal("Bob", x.last(t, chat.EventUserLeft)["username"])
	req.Equal("Bob", z.last(t, chat.EventUserLeft)["username"])
	req.Equal(2, stats.Connections)
	req.Equal([]chat.Occupancy{{Name: "lobby", Count: 2}}, stats.Rooms)
}

func TestHub_FailedSendDoesNotStopOthers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	xSink, _ := recordingSink(ctrl)
	zSink, z := recordingSink(ctrl)

	closing := mocks.NewMockSink(ctrl)
	closing.EXPECT().Send(gomock.Any()).Return(chat.ErrConnectionClosed).AnyTimes()
	closing.EXPECT().Close().Return(nil).AnyTimes()

	connect(t, hub, "x", xSink)
	connect(t, hub, "a", closing)
	connect(t, hub, "z", zSink)
	submit(t, hub, "x", &protocol.JoinRoom{Room: "lobby"})
	submit(t, hub, "a", &protocol.JoinRoom{Room: "lobby"})
	submit(t, hub, "z", &protocol.JoinRoom{Room: "lobby"})
	submit(t, hub, "x", &protocol.SendMessage{Room: "lobby", Message: "hello"})
	stats := flush(t, hub)

	req.Contains(z.names(), chat.EventReceiveMessage)
	req.Equal(3, stats.Connections)
}

func TestHub_DisconnectRunsOnce(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	xSink, x := recordingSink(ctrl)

	ySink := mocks.NewMockSink(ctrl)
	ySink.EXPECT().Send(gomock.Any()).Return(nil).AnyTimes()
	ySink.EXPECT().Close().Return(nil).Times(1)

	connect(t, hub, "x", xSink)
	connect(t, hub, "y", ySink)
	submit(t, hub, "x", &protocol.JoinRoom{Room: "lobby"})
	submit(t, hub, "y", &protocol.JoinRoom{Room: "lobby"})
	hub.Disconnect("y")
	hub.Disconnect("y")
	stats := flush(t, hub)

	count := 0
	for _, name := range x.names() {
		if name == chat.EventUserLeft {
			count++
		}
	}
	req.Equal(1, count)
	req.Equal(1, stats.Connections)
}

func TestHub_DuplicateConnectIsIgnored(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	first, got := recordingSink(ctrl)
	second := mocks.NewMockSink(ctrl)

	connect(t, hub, "x", first)
	connect(t, hub, "x", second)
	stats := flush(t, hub)

	req.Equal([]string{chat.EventConnected}, got.names())
	req.Equal(1, stats.Connections)
}

func TestHub_ShutdownClosesSessionsAndRefusesWork(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), chat.Options{})
	go hub.Run()

	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Send(gomock.Any()).Return(nil).Times(1)
	sink.EXPECT().Close().Return(nil).Times(1)

	connect(t, hub, "x", sink)
	flush(t, hub)

	req.NoError(hub.Shutdown(time.Second))
	req.ErrorIs(hub.Connect("y", mocks.NewMockSink(ctrl)), ErrHubClosed)
	req.ErrorIs(hub.Submit("x", &protocol.JoinRoom{Room: "lobby"}), ErrHubClosed)
	_, err := hub.Stats(context.Background())
	req.ErrorIs(err, ErrHubClosed)
}

func TestHub_ShutdownTimesOutOnStuckGoroutine(t *testing.T) {
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), chat.Options{})
	go hub.Run()

	release := make(chan struct{})
	defer close(release)
	hub.goTracked(func() { <-release })

	require.ErrorIs(t, hub.Shutdown(20*time.Millisecond), context.DeadlineExceeded)
}

func TestHub_MemberClaimedSenderIsIgnored(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := newTestHub(t, chat.Options{})
	xSink, _ := recordingSink(ctrl)
	ySink, y := recordingSink(ctrl)

	connect(t, hub, "x", xSink)
	connect(t, hub, "y", ySink)
	submit(t, hub, "x", &protocol.JoinRoom{Room: "lobby", Username: "Alice"})
	submit(t, hub, "y", &protocol.JoinRoom{Room: "lobby", Username: "Bob"})
	submit(t, hub, "x", &protocol.SendMessage{Room: "lobby", Message: "hi", Sender: strings.Repeat("a", 40)})
	flush(t, hub)

	msg := y.last(t, chat.EventReceiveMessage)
	req.Equal("Alice", msg["sender"])
	req.Equal("hi", msg["message"])
}

func TestHub_ShutdownWithoutRunHonoursTimeout(t *testing.T) {
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), chat.Options{})

	start := time.Now()
	err := hub.Shutdown(20 * time.Millisecond)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}
