package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/damoang/angple-social/internal/common"
	"github.com/damoang/angple-social/internal/domain"
	"github.com/damoang/angple-social/internal/repository"
	"github.com/damoang/angple-social/internal/service"
	"github.com/damoang/angple-social/pkg/jwt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSecret = "ws-test-secret"

type received struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type testEnv struct {
	hub *Hub
	db  *gorm.DB
	jwt *jwt.Manager
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Message{}))

	messages := service.NewMessageService(repository.NewMessageRepository(db), nil, service.DefaultMessagePolicy())
	manager := jwt.NewManager(testSecret, 3600, 7200)
	hub := NewHub(NewMemoryPresence(), NewJWTAuthenticator(manager), messages, opts)
	t.Cleanup(hub.Stop)
	return &testEnv{hub: hub, db: db, jwt: manager}
}

func newTestClient(h *Hub) *Client {
	return &Client{hub: h, send: make(chan []byte, 64), id: uuid.NewString()}
}

// connect opens an authenticated session and discards its greeting frames
func (e *testEnv) connect(t *testing.T, userID string) (*Client, *Session) {
	t.Helper()
	c := newTestClient(e.hub)
	s := NewSession(e.hub, c)
	require.Nil(t, s.Start(&Identity{UserID: userID}))
	drain(c)
	return c, s
}

func drain(c *Client) []received {
	var out []received
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var r received
			if err := json.Unmarshal(data, &r); err == nil {
				out = append(out, r)
			}
		default:
			return out
		}
	}
}

func ofType(events []received, eventType string) []received {
	var out []received
	for _, e := range events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func frame(t *testing.T, eventType, id string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Frame{Type: eventType, ID: id, Payload: raw})
	require.NoError(t, err)
	return data
}

func TestRooms_JoinLeaveBroadcast(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	rooms := env.hub.Rooms()

	alice := newTestClient(env.hub)
	alice.setUserID("alice")
	bob := newTestClient(env.hub)
	bob.setUserID("bob")

	k1 := rooms.Join(alice, "bob")
	k2 := rooms.Join(bob, "alice")
	assert.Equal(t, k1, k2)
	assert.Equal(t, "alice:bob", k1)
	assert.Equal(t, 2, rooms.Members(k1))

	rooms.Join(alice, "carol")
	assert.Equal(t, 2, rooms.Count())

	assert.Equal(t, 2, rooms.Broadcast(k1, []byte(`{}`)))
	assert.Len(t, drain(alice), 1)
	assert.Len(t, drain(bob), 1)

	_, ok := rooms.Leave(bob, "alice")
	assert.True(t, ok)
	_, ok = rooms.Leave(bob, "alice")
	assert.False(t, ok)
	assert.Equal(t, 1, rooms.Members(k1))

	left := rooms.LeaveAll(alice)
	assert.ElementsMatch(t, []string{"alice:bob", "alice:carol"}, left)
	assert.Equal(t, 0, rooms.Count())
}

func TestSession_JoinRejectsPartnerWithRoomSeparator(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	eve, s := env.connect(t, "a")

	// {"a","b:c"} and {"a:b","c"} would share the key "a:b:c"
	require.Nil(t, s.Handle(frame(t, EventJoinConversation, "j1", PartnerPayload{PartnerID: "b:c"})))
	errs := ofType(drain(eve), EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, string(errs[0].Payload), common.CodeValidation)
	assert.Empty(t, ofType(drain(eve), EventJoined))
	assert.Equal(t, 0, env.hub.Rooms().Count())

	token, err := env.jwt.GenerateAccessToken("a:b", "", 1)
	require.NoError(t, err)
	_, err = env.hub.auth.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = env.hub.messages.Send(context.Background(), "c", &domain.SendMessageRequest{ReceiverID: "a:b", Message: "secret"})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, ofType(drain(eve), EventNewMessage))
}

func TestMemoryPresence_ReferenceCounted(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()

	changed, _ := p.MarkOnline(ctx, "alice")
	assert.True(t, changed)
	changed, _ = p.MarkOnline(ctx, "alice")
	assert.False(t, changed)

	changed, _ = p.MarkOffline(ctx, "alice")
	assert.False(t, changed)
	online, _ := p.IsOnline(ctx, "alice")
	assert.True(t, online)

	changed, _ = p.MarkOffline(ctx, "alice")
	assert.True(t, changed)
	online, _ = p.IsOnline(ctx, "alice")
	assert.False(t, online)

	changed, _ = p.MarkOffline(ctx, "alice")
	assert.False(t, changed)

	_, _ = p.MarkOnline(ctx, "bob")
	_, _ = p.MarkOnline(ctx, "alice")
	ids, _ := p.Online(ctx)
	assert.Equal(t, []string{"alice", "bob"}, ids)
	require.NoError(t, p.Reset(ctx))
	ids, _ = p.Online(ctx)
	assert.Empty(t, ids)
}

func TestSession_RequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	c := newTestClient(env.hub)
	s := NewSession(env.hub, c)

	assert.Nil(t, s.Handle(frame(t, EventJoinConversation, "r1", PartnerPayload{PartnerID: "bob"})))
	errs := ofType(drain(c), EventError)
	require.Len(t, errs, 1)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Payload, &p))
	assert.Equal(t, "AUTHENTICATION_ERROR", p.Code)
	assert.Equal(t, "r1", p.RequestID)
	assert.False(t, s.Authenticated())
}

func TestSession_AuthenticateRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	c := newTestClient(env.hub)
	s := NewSession(env.hub, c)

	ce := s.Handle(frame(t, EventAuthenticate, "a1", AuthenticatePayload{Token: "garbage"}))
	require.NotNil(t, ce)
	assert.Equal(t, CloseAuthFailed, ce.Code)
	assert.Len(t, ofType(drain(c), EventError), 1)
	assert.Equal(t, 0, env.hub.Connections(""))
}

func TestSession_AuthenticateRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	c := newTestClient(env.hub)
	s := NewSession(env.hub, c)

	ce := s.Handle(frame(t, EventAuthenticate, "a1", "not-an-object"))
	require.NotNil(t, ce)
	assert.Equal(t, CloseAuthFailed, ce.Code)
	errs := ofType(drain(c), EventError)
	require.Len(t, errs, 1)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Payload, &p))
	assert.Equal(t, common.CodeValidation, p.Code)
	assert.Equal(t, "a1", p.RequestID)
	assert.False(t, s.Authenticated())
}

// downPresence fails every MarkOnline and counts MarkOffline calls
type downPresence struct {
	*MemoryPresence
	offline int
}

func (p *downPresence) MarkOnline(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (p *downPresence) MarkOffline(ctx context.Context, userID string) (bool, error) {
	p.offline++
	return p.MemoryPresence.MarkOffline(ctx, userID)
}

func TestSession_PresenceFailureDoesNotRegister(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	presence := &downPresence{MemoryPresence: NewMemoryPresence()}
	hub := NewHub(presence, env.hub.auth, env.hub.messages, DefaultOptions())
	t.Cleanup(hub.Stop)

	c := newTestClient(hub)
	s := NewSession(hub, c)
	ce := s.Start(&Identity{UserID: "alice"})
	require.NotNil(t, ce)
	assert.Equal(t, CloseTryAgainLater, ce.Code)
	assert.False(t, s.Authenticated())
	assert.Equal(t, 0, hub.Connections(""))

	events := drain(c)
	assert.Empty(t, ofType(events, EventAuthenticated))
	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, string(errs[0].Payload), common.CodeTransientStore)

	s.Close()
	assert.Equal(t, 0, presence.offline)

	// first-frame authentication takes the same path
	token, err := env.jwt.GenerateAccessToken("bob", "Bob", 1)
	require.NoError(t, err)
	s2 := NewSession(hub, newTestClient(hub))
	ce = s2.Handle(frame(t, EventAuthenticate, "a1", AuthenticatePayload{Token: token}))
	require.NotNil(t, ce)
	assert.Equal(t, CloseTryAgainLater, ce.Code)
	assert.Equal(t, 0, hub.Connections(""))
}

func TestSession_AuthenticateOnce(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	token, err := env.jwt.GenerateAccessToken("alice", "Alice", 1)
	require.NoError(t, err)

	c := newTestClient(env.hub)
	s := NewSession(env.hub, c)
	assert.Nil(t, s.Handle(frame(t, EventAuthenticate, "a1", AuthenticatePayload{Token: token})))
	assert.True(t, s.Authenticated())
	assert.Equal(t, "alice", c.UserID())

	events := drain(c)
	require.NotEmpty(t, events)
	assert.Equal(t, EventAuthenticated, events[0].Type)
	snap := ofType(events, EventPresenceSnapshot)
	require.Len(t, snap, 1)
	var online PresenceSnapshotPayload
	require.NoError(t, json.Unmarshal(snap[0].Payload, &online))
	assert.Contains(t, online.Online, "alice")

	assert.Nil(t, s.Handle(frame(t, EventAuthenticate, "a2", AuthenticatePayload{Token: token})))
	errs := ofType(drain(c), EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, string(errs[0].Payload), CodeAlreadyAuthenticated)
}

func TestSession_MalformedAndUnknownFrames(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	c, s := env.connect(t, "alice")

	assert.Nil(t, s.Handle([]byte("not json")))
	assert.Nil(t, s.Handle(frame(t, "dance", "x1", nil)))
	errs := ofType(drain(c), EventError)
	require.Len(t, errs, 2)
	assert.Contains(t, string(errs[0].Payload), CodeMalformedFrame)
	assert.Contains(t, string(errs[1].Payload), CodeUnknownEvent)
}

func TestSession_NewMessageExactlyOncePerSubscribedSocket(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())

	aliceTab1, aliceS1 := env.connect(t, "alice")
	aliceTab2, aliceS2 := env.connect(t, "alice")
	bobTab1, bobS1 := env.connect(t, "bob")
	bobTab2, _ := env.connect(t, "bob")

	for _, s := range []*Session{aliceS1, aliceS2} {
		require.Nil(t, s.Handle(frame(t, EventJoinConversation, "", PartnerPayload{PartnerID: "bob"})))
	}
	require.Nil(t, bobS1.Handle(frame(t, EventJoinConversation, "", PartnerPayload{PartnerID: "alice"})))
	for _, c := range []*Client{aliceTab1, aliceTab2, bobTab1, bobTab2} {
		drain(c)
	}

	require.Nil(t, aliceS1.Handle(frame(t, EventSendMessage, "req-1", domain.SendMessageRequest{ReceiverID: "bob", Message: "hello"})))

	tab1 := drain(aliceTab1)
	assert.Len(t, ofType(tab1, EventNewMessage), 1)
	acks := ofType(tab1, EventMessageAck)
	require.Len(t, acks, 1)
	var ack AckPayload
	require.NoError(t, json.Unmarshal(acks[0].Payload, &ack))
	assert.True(t, ack.Success)
	assert.Equal(t, "req-1", ack.RequestID)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hello", ack.Message.Body)

	assert.Len(t, ofType(drain(aliceTab2), EventNewMessage), 1)
	assert.Len(t, ofType(drain(bobTab1), EventNewMessage), 1)
	assert.Empty(t, drain(bobTab2))
}

func TestSession_SendMessageFailureIsAcked(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	c, s := env.connect(t, "alice")

	require.Nil(t, s.Handle(frame(t, EventSendMessage, "bad", domain.SendMessageRequest{ReceiverID: "alice", Message: "me"})))
	acks := ofType(drain(c), EventMessageAck)
	require.Len(t, acks, 1)
	var ack AckPayload
	require.NoError(t, json.Unmarshal(acks[0].Payload, &ack))
	assert.False(t, ack.Success)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "VALIDATION_ERROR", ack.Error.Code)

	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	require.Nil(t, s.Handle(frame(t, EventSendMessage, "down", domain.SendMessageRequest{ReceiverID: "bob", Message: "hi"})))
	acks = ofType(drain(c), EventMessageAck)
	require.Len(t, acks, 1)
	require.NoError(t, json.Unmarshal(acks[0].Payload, &ack))
	assert.False(t, ack.Success)
	assert.Equal(t, "TRANSIENT_STORE_ERROR", ack.Error.Code)
	assert.Equal(t, "down", ack.RequestID)
}

func TestSession_PresenceTransitions(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	bob, _ := env.connect(t, "bob")

	c1, s1 := env.connect(t, "alice")
	online := ofType(drain(bob), EventUserOnline)
	require.Len(t, online, 1)
	assert.JSONEq(t, `{"userId":"alice"}`, string(online[0].Payload))
	drain(c1)

	_, s2 := env.connect(t, "alice")
	assert.Empty(t, ofType(drain(bob), EventUserOnline))

	s1.Close()
	assert.Empty(t, ofType(drain(bob), EventUserOffline))
	isOnline, _ := env.hub.IsOnline(context.Background(), "alice")
	assert.True(t, isOnline)

	s2.Close()
	offline := ofType(drain(bob), EventUserOffline)
	require.Len(t, offline, 1)
	isOnline, _ = env.hub.IsOnline(context.Background(), "alice")
	assert.False(t, isOnline)

	s2.Close()
	assert.Empty(t, drain(bob))
}

func TestSession_DisconnectLeavesRooms(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	_, s := env.connect(t, "alice")
	require.Nil(t, s.Handle(frame(t, EventJoinConversation, "", PartnerPayload{PartnerID: "bob"})))
	assert.Equal(t, 1, env.hub.Rooms().Members("alice:bob"))

	s.Close()
	assert.Equal(t, 0, env.hub.Rooms().Members("alice:bob"))
	assert.Equal(t, 0, env.hub.Connections("alice"))
}

func TestSession_TypingGoesToPartnerOnly(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	alice, s := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")
	carol, _ := env.connect(t, "carol")
	drain(alice)
	drain(bob)

	require.Nil(t, s.Handle(frame(t, EventTyping, "", TypingPayload{PartnerID: "bob", IsTyping: true})))
	typing := ofType(drain(bob), EventUserTyping)
	require.Len(t, typing, 1)
	assert.JSONEq(t, `{"userId":"alice","isTyping":true}`, string(typing[0].Payload))
	assert.Empty(t, ofType(drain(carol), EventUserTyping))
	assert.Empty(t, ofType(drain(alice), EventUserTyping))
}

func TestSession_TypingValidatesPartner(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	alice, s := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")
	drain(alice)

	require.Nil(t, s.Handle(frame(t, EventTyping, "", TypingPayload{PartnerID: "  bob ", IsTyping: true})))
	assert.Len(t, ofType(drain(bob), EventUserTyping), 1)

	for _, partner := range []string{"", "alice", "b:c", "bo b"} {
		require.Nil(t, s.Handle(frame(t, EventTyping, "t1", TypingPayload{PartnerID: partner, IsTyping: true})))
		errs := ofType(drain(alice), EventError)
		require.Len(t, errs, 1, "partner %q", partner)
		assert.Contains(t, string(errs[0].Payload), common.CodeValidation)
	}
	assert.Empty(t, ofType(drain(bob), EventUserTyping))
}

func TestSession_DeliveryAndReadReceipts(t *testing.T) {
	env := newTestEnv(t, DefaultOptions())
	alice, as := env.connect(t, "alice")
	bob, bs := env.connect(t, "bob")
	drain(alice)

	require.Nil(t, as.Handle(frame(t, EventSendMessage, "m1", domain.SendMessageRequest{ReceiverID: "bob", Message: "are you there"})))
	var ack AckPayload
	acks := ofType(drain(alice), EventMessageAck)
	require.Len(t, acks, 1)
	require.NoError(t, json.Unmarshal(acks[0].Payload, &ack))
	msgID := ack.Message.ID
	drain(bob)

	require.Nil(t, bs.Handle(frame(t, EventMessageDelivered, "", DeliveredPayload{MessageID: msgID})))
	receipts := ofType(drain(alice), EventMessageDelivered)
	require.Len(t, receipts, 1)
	var receipt DeliveryReceiptPayload
	require.NoError(t, json.Unmarshal(receipts[0].Payload, &receipt))
	assert.Equal(t, msgID, receipt.MessageID)
	assert.NotNil(t, receipt.DeliveredAt)

	// second ack changes nothing
	require.Nil(t, bs.Handle(frame(t, EventMessageDelivered, "", DeliveredPayload{MessageID: msgID})))
	assert.Empty(t, ofType(drain(alice), EventMessageDelivered))

	// only the receiver may acknowledge
	require.Nil(t, as.Handle(frame(t, EventMessageDelivered, "x", DeliveredPayload{MessageID: msgID})))
	errs := ofType(drain(alice), EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, string(errs[0].Payload), "AUTHORIZATION_ERROR")

	require.Nil(t, bs.Handle(frame(t, EventMarkRead, "", PartnerPayload{PartnerID: "alice"})))
	reads := ofType(drain(alice), EventMessagesRead)
	require.Len(t, reads, 1)
	assert.JSONEq(t, `{"readerId":"bob","count":1}`, string(reads[0].Payload))

	require.Nil(t, bs.Handle(frame(t, EventMarkRead, "", PartnerPayload{PartnerID: "alice"})))
	assert.Empty(t, ofType(drain(alice), EventMessagesRead))
}

func TestSession_RateLimited(t *testing.T) {
	opts := DefaultOptions()
	opts.EventsPerSecond = 0.001
	opts.EventBurst = 2
	env := newTestEnv(t, opts)
	c, s := env.connect(t, "alice")

	for i := 0; i < 3; i++ {
		require.Nil(t, s.Handle(frame(t, EventTyping, "", TypingPayload{PartnerID: "bob"})))
	}
	errs := ofType(drain(c), EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, string(errs[0].Payload), CodeRateLimited)
}

func TestClient_SlowConsumerIsClosed(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), id: "slow"}
	assert.True(t, c.Send([]byte("one")))
	assert.False(t, c.Send([]byte("two")))
	assert.False(t, c.Send([]byte("three")))
	c.Close()

	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Fatal("buffered frame missing")
	}
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"query param", "", "?token=xyz", "xyz"},
		{"header wins", "Bearer abc", "?token=xyz", "abc"},
		{"wrong scheme", "Basic abc", "", ""},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/chat"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}
