package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenyx/fleet/pkg/gateway"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/types"
	"github.com/zenyx/fleet/pkg/worker"
)

// stubConn is a minimal live connection for manager-level tests
type stubConn struct {
	identity gateway.Identity
	msgCh    chan types.InboundMessage

	mu        sync.Mutex
	sent      []sentPayload
	closeOnce sync.Once
}

type sentPayload struct {
	recipient string
	payload   types.Payload
}

func newStubConn(username string) *stubConn {
	return &stubConn{
		identity: gateway.Identity{ID: "42", Username: username, DisplayName: "Stub"},
		msgCh:    make(chan types.InboundMessage, 8),
	}
}

func (c *stubConn) Identity() gateway.Identity           { return c.identity }
func (c *stubConn) Receive() <-chan types.InboundMessage { return c.msgCh }
func (c *stubConn) Err() error                           { return nil }

func (c *stubConn) Send(ctx context.Context, recipient string, payload types.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentPayload{recipient: recipient, payload: payload})
	return nil
}

func (c *stubConn) Close() error {
	c.closeOnce.Do(func() { close(c.msgCh) })
	return nil
}

func (c *stubConn) sentTo() []sentPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentPayload(nil), c.sent...)
}

// stubGateway validates every token the same way and hands out one
// connection per Open
type stubGateway struct {
	username string
	openErr  error
}

func (g *stubGateway) Open(ctx context.Context, token string) (gateway.Conn, error) {
	if g.openErr != nil {
		return nil, g.openErr
	}
	username := g.username
	if username == "" {
		username = "stubbot"
	}
	return newStubConn(username), nil
}

// stubRegistry exposes pre-built workers to the manager
type stubRegistry struct {
	workers map[string]*worker.Worker
}

func (r *stubRegistry) WorkerFor(botID string) (*worker.Worker, bool) {
	w, ok := r.workers[botID]
	return w, ok
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testManager(t *testing.T, store storage.Store, gw gateway.Client) *Manager {
	t.Helper()
	return NewManager(Config{
		Store:         store,
		Gateway:       gw,
		FollowUpDelay: 20 * time.Millisecond,
	})
}

// liveWorker builds and starts a real worker over a stub connection and
// registers it with the manager.
func liveWorker(t *testing.T, m *Manager, store storage.Store, botID string) (*worker.Worker, *stubConn) {
	t.Helper()
	conn := newStubConn("stubbot")

	bot, err := store.GetBot(botID)
	require.NoError(t, err)

	w := worker.New(worker.Config{
		Bot:      bot,
		Gateway:  &connGateway{conn: conn},
		Store:    store,
		Dispatch: m.Dispatch,
	})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	m.AttachRegistry(&stubRegistry{workers: map[string]*worker.Worker{botID: w}})
	return w, conn
}

// connGateway returns one fixed connection
type connGateway struct {
	conn *stubConn
}

func (g *connGateway) Open(ctx context.Context, token string) (gateway.Conn, error) {
	return g.conn, nil
}

func TestCreateBot(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{username: "shopbot"})

	bot, err := m.CreateBot(context.Background(), "owner-1", "12345:token")
	require.NoError(t, err)

	assert.NotEmpty(t, bot.ID)
	assert.Equal(t, "owner-1", bot.OwnerID)
	assert.Equal(t, "shopbot", bot.Username)
	assert.Equal(t, types.BotStatusActive, bot.Status)

	stored, err := store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345:token", stored.Token)
}

func TestCreateBot_RejectedCredential(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{openErr: &gateway.CredentialError{Reason: "revoked"}})

	_, err := m.CreateBot(context.Background(), "owner-1", "bad:token")
	require.Error(t, err)
	assert.True(t, gateway.IsCredentialError(err))

	bots, err := store.ListBots()
	require.NoError(t, err)
	assert.Empty(t, bots, "rejected credential must not leave a record behind")
}

func TestPauseResume(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{})

	bot, err := m.CreateBot(context.Background(), "owner-1", "12345:token")
	require.NoError(t, err)

	require.NoError(t, m.PauseBot(bot.ID))
	paused, _ := store.GetBot(bot.ID)
	assert.Equal(t, types.BotStatusInactive, paused.Status)

	require.NoError(t, m.ResumeBot(bot.ID))
	resumed, _ := store.GetBot(bot.ID)
	assert.Equal(t, types.BotStatusActive, resumed.Status)
}

func TestPause_DeletedBotRefused(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{})

	bot, err := m.CreateBot(context.Background(), "owner-1", "12345:token")
	require.NoError(t, err)
	require.NoError(t, m.DeleteBot(bot.ID))

	err = m.ResumeBot(bot.ID)
	assert.ErrorIs(t, err, ErrBotDeleted, "deleted is terminal, no status rewrites")
}

func TestRekeyBot(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{username: "renamedbot"})

	bot, err := m.CreateBot(context.Background(), "owner-1", "12345:old")
	require.NoError(t, err)

	updated, err := m.RekeyBot(context.Background(), bot.ID, "67890:new")
	require.NoError(t, err)
	assert.Equal(t, "67890:new", updated.Token)
	assert.Equal(t, "renamedbot", updated.Username)

	stored, _ := store.GetBot(bot.ID)
	assert.Equal(t, "67890:new", stored.Token)
}

func TestDeleteBot_RemovesFeatureConfigs(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{})

	bot, err := m.CreateBot(context.Background(), "owner-1", "12345:token")
	require.NoError(t, err)
	require.NoError(t, m.SaveFeatureConfig(bot.ID, "upsell", map[string]any{"active": true}))

	require.NoError(t, m.DeleteBot(bot.ID))

	stored, _ := store.GetBot(bot.ID)
	assert.Equal(t, types.BotStatusDeleted, stored.Status)

	_, err = m.GetFeatureConfig(bot.ID, "upsell")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSaveFeatureConfig_UnknownBot(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{})

	err := m.SaveFeatureConfig("missing", "upsell", map[string]any{})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDispatch_RecordsSubscriber(t *testing.T) {
	store := testStore(t)
	m := testManager(t, store, &stubGateway{})

	bot, err := m.CreateBot(context.Background(), "owner-1", "12345:token")
	require.NoError(t, err)
	w, _ := liveWorker(t, m, store, bot.ID)

	msg := types.InboundMessage{ChatID: "chat-1", SenderID: "u1", Username: "alice", Text: "/start"}
	require.NoError(t, m.Dispatch(context.Background(), msg, w))
	require.NoError(t, m.Dispatch(context.Background(), msg, w))

	count, err := m.SubscriberCount(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "repeat messages must not duplicate the subscriber")
}
