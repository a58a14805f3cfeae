package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zenyx/fleet/pkg/log"
	"github.com/zenyx/fleet/pkg/types"
)

const (
	// Long-poll hold time requested from the gateway, in seconds.
	longPollSeconds = 30

	// Consecutive poll failures tolerated before the connection is
	// declared dead and the worker fails over to the supervisor's
	// backoff policy.
	maxPollFailures = 5

	// Delay between failed polls so a flapping gateway is not hammered.
	pollRetryDelay = 2 * time.Second
)

// apiError is a non-OK bot API response that is neither a credential
// failure nor a transport failure.
type apiError struct {
	Method      string
	Code        int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s rejected (code %d): %s", e.Method, e.Code, e.Description)
}

// HTTPClient is a Client implementation speaking the Telegram-style
// bot HTTP API: credential validation via getMe, inbound messages via
// getUpdates long polling, outbound delivery via sendMessage.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient creates a gateway client against the given base URL
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpc: &http.Client{
			// Must exceed the long-poll hold time.
			Timeout: (longPollSeconds + 10) * time.Second,
		},
		logger: log.WithComponent("gateway"),
	}
}

// Wire types for the bot HTTP API.

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

type apiUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type apiUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		From *apiUser `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Date int64  `json:"date"`
		Text string `json:"text"`
	} `json:"message"`
}

// Open validates the token via getMe and starts the update poll loop
func (c *HTTPClient) Open(ctx context.Context, token string) (Conn, error) {
	var me apiUser
	if err := c.call(ctx, token, "getMe", nil, &me); err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn := &httpConn{
		client: c,
		token:  token,
		identity: Identity{
			ID:          strconv.FormatInt(me.ID, 10),
			Username:    me.Username,
			DisplayName: me.FirstName,
		},
		msgCh:  make(chan types.InboundMessage, 64),
		ctx:    connCtx,
		cancel: cancel,
		logger: c.logger.With().Str("bot_username", me.Username).Logger(),
	}

	go conn.pollLoop()

	return conn, nil
}

// call performs one bot API method call and decodes the result
func (c *HTTPClient) call(ctx context.Context, token, method string, body any, result any) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", method, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransientError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return &TransientError{Op: method, Err: fmt.Errorf("malformed response: %w", err)}
	}

	if !apiResp.OK {
		switch apiResp.ErrorCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			return &CredentialError{Reason: apiResp.Description}
		default:
			return &apiError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
		}
	}

	if result != nil {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return &TransientError{Op: method, Err: fmt.Errorf("malformed result: %w", err)}
		}
	}
	return nil
}

// httpConn is one live long-poll connection
type httpConn struct {
	client   *HTTPClient
	token    string
	identity Identity
	msgCh    chan types.InboundMessage
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger

	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

func (c *httpConn) Identity() Identity { return c.identity }

func (c *httpConn) Receive() <-chan types.InboundMessage { return c.msgCh }

func (c *httpConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *httpConn) Send(ctx context.Context, recipient string, payload types.Payload) error {
	body := map[string]any{
		"chat_id":    recipient,
		"text":       payload.Text,
		"parse_mode": "HTML",
	}
	if payload.ButtonText != "" && payload.ButtonURL != "" {
		body["reply_markup"] = map[string]any{
			"inline_keyboard": [][]map[string]string{{{
				"text": payload.ButtonText,
				"url":  payload.ButtonURL,
			}}},
		}
	}

	err := c.client.call(ctx, c.token, "sendMessage", body, nil)
	if err == nil {
		return nil
	}

	// Rejections scoped to one recipient (blocked sender, deactivated
	// chat) become SendError so broadcast jobs can count and move on.
	var ae *apiError
	if errors.As(err, &ae) {
		return &SendError{Recipient: recipient, Code: ae.Code, Err: ae}
	}
	return err
}

func (c *httpConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	return nil
}

// pollLoop consumes getUpdates until the connection is closed or the
// transport fails persistently. Messages are forwarded in delivery order.
func (c *httpConn) pollLoop() {
	defer close(c.msgCh)

	var offset int64
	failures := 0

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		body := map[string]any{
			"offset":  offset,
			"timeout": longPollSeconds,
		}

		var updates []apiUpdate
		err := c.client.call(c.ctx, c.token, "getUpdates", body, &updates)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if IsCredentialError(err) {
				c.fail(err)
				return
			}

			failures++
			if failures >= maxPollFailures {
				c.fail(err)
				return
			}
			c.logger.Warn().Err(err).Int("failures", failures).Msg("update poll failed, retrying")

			select {
			case <-time.After(pollRetryDelay):
			case <-c.ctx.Done():
				return
			}
			continue
		}
		failures = 0

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}

			msg := types.InboundMessage{
				UpdateID:  u.UpdateID,
				ChatID:    strconv.FormatInt(u.Message.Chat.ID, 10),
				Text:      u.Message.Text,
				Timestamp: time.Unix(u.Message.Date, 0),
			}
			if u.Message.From != nil {
				msg.SenderID = strconv.FormatInt(u.Message.From.ID, 10)
				msg.Username = u.Message.From.Username
			}

			select {
			case c.msgCh <- msg:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// fail records the terminal transport error before the stream closes
func (c *httpConn) fail(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	c.logger.Error().Err(err).Msg("connection terminated")
}
