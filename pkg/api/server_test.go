package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenyx/fleet/pkg/gateway"
	"github.com/zenyx/fleet/pkg/manager"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/supervisor"
	"github.com/zenyx/fleet/pkg/types"
	"github.com/zenyx/fleet/pkg/worker"
)

// stubConn satisfies the validation connection the manager opens
type stubConn struct {
	msgCh     chan types.InboundMessage
	closeOnce sync.Once
}

func (c *stubConn) Identity() gateway.Identity {
	return gateway.Identity{ID: "42", Username: "testbot", DisplayName: "Test Bot"}
}
func (c *stubConn) Receive() <-chan types.InboundMessage { return c.msgCh }
func (c *stubConn) Err() error                           { return nil }
func (c *stubConn) Send(ctx context.Context, recipient string, payload types.Payload) error {
	return nil
}
func (c *stubConn) Close() error {
	c.closeOnce.Do(func() { close(c.msgCh) })
	return nil
}

type stubGateway struct {
	openErr error
}

func (g *stubGateway) Open(ctx context.Context, token string) (gateway.Conn, error) {
	if g.openErr != nil {
		return nil, g.openErr
	}
	return &stubConn{msgCh: make(chan types.InboundMessage, 1)}, nil
}

func testServer(t *testing.T, gw gateway.Client) (*httptest.Server, *manager.Manager) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr := manager.NewManager(manager.Config{Store: store, Gateway: gw})
	sup := supervisor.New(supervisor.Config{
		Store:    store,
		Gateway:  gw,
		Dispatch: func(context.Context, types.InboundMessage, *worker.Worker) error { return nil },
	})

	server := NewServer(mgr, sup)
	ts := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, mgr
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createBot(t *testing.T, ts *httptest.Server) types.Bot {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/bots", map[string]string{
		"owner_id": "owner-1",
		"token":    "12345:token",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[types.Bot](t, resp)
}

func TestCreateBotEndpoint(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})

	bot := createBot(t, ts)
	assert.NotEmpty(t, bot.ID)
	assert.Equal(t, "testbot", bot.Username)
	assert.Empty(t, bot.Token, "credential must never be echoed back")
}

func TestCreateBotEndpoint_MissingFields(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})

	resp := postJSON(t, ts.URL+"/v1/bots", map[string]string{"owner_id": "owner-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateBotEndpoint_RejectedCredential(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{openErr: &gateway.CredentialError{Reason: "revoked"}})

	resp := postJSON(t, ts.URL+"/v1/bots", map[string]string{
		"owner_id": "owner-1",
		"token":    "bad:token",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetBotEndpoint(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})
	bot := createBot(t, ts)

	resp, err := http.Get(ts.URL + "/v1/bots/" + bot.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[types.Bot](t, resp)
	assert.Equal(t, bot.ID, got.ID)
	assert.Empty(t, got.Token)
}

func TestGetBotEndpoint_NotFound(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})

	resp, err := http.Get(ts.URL + "/v1/bots/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListBotsEndpoint_OwnerFilter(t *testing.T) {
	ts, mgr := testServer(t, &stubGateway{})
	createBot(t, ts)
	_, err := mgr.CreateBot(context.Background(), "owner-2", "67890:token")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/v1/bots?owner=owner-2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bots := decode[[]types.Bot](t, resp)
	require.Len(t, bots, 1)
	assert.Equal(t, "owner-2", bots[0].OwnerID)
}

func TestPauseResumeEndpoints(t *testing.T) {
	ts, mgr := testServer(t, &stubGateway{})
	bot := createBot(t, ts)

	resp := postJSON(t, ts.URL+"/v1/bots/"+bot.ID+"/pause", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	paused, err := mgr.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BotStatusInactive, paused.Status)

	resp = postJSON(t, ts.URL+"/v1/bots/"+bot.ID+"/resume", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDeleteEndpoint_Terminal(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})
	bot := createBot(t, ts)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/bots/"+bot.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Lifecycle operations on a deleted bot are refused for good.
	resp = postJSON(t, ts.URL+"/v1/bots/"+bot.ID+"/resume", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestRekeyEndpoint(t *testing.T) {
	ts, mgr := testServer(t, &stubGateway{})
	bot := createBot(t, ts)

	resp := postJSON(t, ts.URL+"/v1/bots/"+bot.ID+"/rekey", map[string]string{
		"token": "67890:rotated",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[types.Bot](t, resp)
	assert.Empty(t, got.Token, "rotated credential must not be echoed")

	stored, err := mgr.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "67890:rotated", stored.Token)
}

func TestFeatureConfigEndpoints(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})
	bot := createBot(t, ts)

	payload := map[string]any{"text": "Special offer", "active": true}
	data, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/bots/"+bot.ID+"/config/upsell", bytes.NewReader(data))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/bots/" + bot.ID + "/config/upsell")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := decode[types.FeatureConfig](t, resp)
	assert.Equal(t, "upsell", cfg.Feature)
	assert.Equal(t, "Special offer", cfg.Payload["text"])
}

func TestBroadcastEndpoint_NoWorker(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})
	bot := createBot(t, ts)

	resp := postJSON(t, ts.URL+"/v1/bots/"+bot.ID+"/broadcast", map[string]any{
		"payload": map[string]string{"text": "promo"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFollowUpEndpoint_NoWorker(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})
	bot := createBot(t, ts)

	resp := postJSON(t, ts.URL+"/v1/bots/"+bot.ID+"/followup", map[string]string{
		"recipient": "chat-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFleetStatusEndpoint(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})

	resp, err := http.Get(ts.URL + "/v1/fleet/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[map[string][]types.WorkerStatus](t, resp)
	assert.NotNil(t, status["workers"])
	assert.Empty(t, status["workers"])
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := testServer(t, &stubGateway{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
