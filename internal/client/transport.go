package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gamechat/internal/apperr"
	"gamechat/internal/auth"
	"gamechat/internal/chat"
	"gamechat/internal/config"
	"gamechat/internal/user"
)

// API is the chat surface the session depends on.
type API interface {
	Limits(ctx context.Context, channel string) (chat.Limits, error)
	Publish(ctx context.Context, token string, req chat.PublishRequest) (chat.Message, error)
	Subscribe(ctx context.Context, channel string) (*Stream, error)
}

// AuthAPI is the login surface the authenticator depends on.
type AuthAPI interface {
	BeginVerification(ctx context.Context) (auth.BeginResponse, error)
	CheckVerification(ctx context.Context, sessionID string) (auth.CheckResponse, error)
	Refresh(ctx context.Context, token string) (user.Session, error)
}

var (
	_ API     = (*HTTPClient)(nil)
	_ AuthAPI = (*HTTPClient)(nil)
)

// HTTPClient talks to the server over HTTP and websockets.
type HTTPClient struct {
	baseURL string
	wsURL   string
	http    *http.Client
	dialer  *websocket.Dialer
}

func NewHTTPClient(apiURL string) *HTTPClient {
	base := config.NormalizeAPIURL(apiURL)
	return &HTTPClient{
		baseURL: base,
		wsURL:   config.WebSocketURL(base),
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apperr.Error   `json:"error"`
}

func (c *HTTPClient) Limits(ctx context.Context, channel string) (chat.Limits, error) {
	var limits chat.Limits
	err := c.do(ctx, http.MethodGet, "/chat/limits?channel="+url.QueryEscape(channel), "", nil, &limits)
	return limits, err
}

func (c *HTTPClient) Publish(ctx context.Context, token string, req chat.PublishRequest) (chat.Message, error) {
	var msg chat.Message
	err := c.do(ctx, http.MethodPost, "/chat/publish", token, req, &msg)
	return msg, err
}

func (c *HTTPClient) BeginVerification(ctx context.Context) (auth.BeginResponse, error) {
	var res auth.BeginResponse
	err := c.do(ctx, http.MethodPost, "/auth/verification/begin", "", struct{}{}, &res)
	return res, err
}

func (c *HTTPClient) CheckVerification(ctx context.Context, sessionID string) (auth.CheckResponse, error) {
	var res auth.CheckResponse
	err := c.do(ctx, http.MethodPost, "/auth/verification/check", "", auth.CheckRequest{SessionID: sessionID}, &res)
	return res, err
}

func (c *HTTPClient) Refresh(ctx context.Context, token string) (user.Session, error) {
	var res user.Session
	err := c.do(ctx, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{Token: token}, &res)
	return res, err
}

// do performs one envelope round trip. Server errors come back as
// *apperr.Error so callers can branch on the kind.
func (c *HTTPClient) do(ctx context.Context, method, path, token string, body, dst any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(env.Data, dst)
}

// Stream is one live channel subscription. Messages is closed when the
// connection ends; Err then reports why.
type Stream struct {
	msgs    chan chat.Message
	closeFn func()
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (c *HTTPClient) Subscribe(ctx context.Context, channel string) (*Stream, error) {
	target := c.wsURL + "/chat/subscribe?channel=" + url.QueryEscape(channel)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &Stream{
		msgs: make(chan chat.Message, 64),
		closeFn: func() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		},
	}
	go s.readLoop(conn)
	return s, nil
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer close(s.msgs)
	for {
		var msg chat.Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		s.msgs <- msg
	}
}

func (s *Stream) Messages() <-chan chat.Message {
	return s.msgs
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription and drains pending messages so the read loop
// can exit.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.closeFn()
		go func() {
			for range s.msgs {
			}
		}()
	})
}
