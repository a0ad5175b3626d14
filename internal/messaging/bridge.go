package messaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "chatblast/pkg/logx"
)

// Bridge talks to an external automation bridge over HTTP. The bridge owns
// the browser sessions and renders pairing codes; this client only asks it to
// start a session and polls until the session reports ready.
type Bridge struct {
	base  *url.URL
	token string
	poll  time.Duration
	http  *http.Client
	log   logx.Logger
}

func NewBridge(cfg BridgeConfig, log logx.Logger) (*Bridge, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("messaging.bridge.base_url is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("messaging.bridge.base_url: %w", err)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{
		base:  u,
		token: cfg.Token,
		poll:  poll,
		http:  &http.Client{Timeout: timeout},
		log:   log,
	}, nil
}

type bridgeSessionState struct {
	ID     string `json:"id"`
	State  string `json:"state"` // "pairing" | "ready" | "failed"
	QR     string `json:"qr,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type bridgeMedia struct {
	MIMEType string `json:"mimeType"`
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64
}

type bridgeMessage struct {
	Body  string       `json:"body,omitempty"`
	Media *bridgeMedia `json:"media,omitempty"`
}

type bridgeSendRequest struct {
	ChatID  string        `json:"chatId"`
	Message bridgeMessage `json:"message"`
}

type bridgeChat struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LastActive int64  `json:"lastActive"` // unix seconds
}

func (b *Bridge) Pair(ctx context.Context, identity string) (Session, error) {
	var st bridgeSessionState
	if err := b.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(identity), nil, &st); err != nil {
		return nil, fmt.Errorf("start session %s: %w", identity, err)
	}
	qrShown := ""
	for {
		switch st.State {
		case "ready":
			b.log.Info("bridge session ready", logx.String("identity", identity))
			return &bridgeSession{b: b, identity: identity}, nil
		case "failed":
			return nil, fmt.Errorf("session %s failed to pair: %s", identity, st.Reason)
		}
		if st.QR != "" && st.QR != qrShown {
			qrShown = st.QR
			b.log.Info("pairing code issued; scan it in the bridge UI", logx.String("identity", identity))
		}
		if err := sleepCtx(ctx, b.poll); err != nil {
			return nil, err
		}
		if err := b.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(identity), nil, &st); err != nil {
			return nil, fmt.Errorf("poll session %s: %w", identity, err)
		}
	}
}

type bridgeSession struct {
	b        *Bridge
	identity string
}

func (s *bridgeSession) path(parts ...string) string {
	p := "/sessions/" + url.PathEscape(s.identity)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (s *bridgeSession) SendMessage(ctx context.Context, target string, msg Message) error {
	req := bridgeSendRequest{ChatID: target, Message: bridgeMessage{Body: msg.Text}}
	if msg.Kind == KindMedia && msg.Media != nil {
		req.Message.Media = &bridgeMedia{
			MIMEType: msg.Media.MIMEType,
			Filename: msg.Media.Filename,
			Data:     base64.StdEncoding.EncodeToString(msg.Media.Data),
		}
	}
	return s.b.do(ctx, http.MethodPost, s.path("messages"), req, nil)
}

func (s *bridgeSession) Destroy(ctx context.Context) error {
	return s.b.do(ctx, http.MethodDelete, s.path(), nil, nil)
}

func (s *bridgeSession) RecentConversations(ctx context.Context, limit int) ([]Conversation, error) {
	p := s.path("chats")
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var chats []bridgeChat
	if err := s.b.do(ctx, http.MethodGet, p, nil, &chats); err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(chats))
	for _, c := range chats {
		out = append(out, Conversation{ID: c.ID, Name: c.Name, LastActive: time.Unix(c.LastActive, 0)})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *bridgeSession) LastMessage(ctx context.Context, conversationID string) (Message, bool, error) {
	var msgs []bridgeMessage
	if err := s.b.do(ctx, http.MethodGet, s.path("chats", url.PathEscape(conversationID), "messages")+"?limit=1", nil, &msgs); err != nil {
		return Message{}, false, err
	}
	if len(msgs) == 0 {
		return Message{}, false, nil
	}
	m := msgs[0]
	if m.Media != nil {
		data, err := base64.StdEncoding.DecodeString(m.Media.Data)
		if err != nil {
			return Message{}, false, fmt.Errorf("decode media: %w", err)
		}
		out := MediaMessage(Media{MIMEType: m.Media.MIMEType, Filename: m.Media.Filename, Data: data}, m.Body)
		out.Source = conversationID
		return out, true, nil
	}
	out := TextMessage(m.Body)
	out.Source = conversationID
	return out, true, nil
}

func (s *bridgeSession) ClearState(ctx context.Context) error {
	return s.b.do(ctx, http.MethodPost, s.path("clear"), nil, nil)
}

func (b *Bridge) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bridge %s %s: unexpected status %d body=%q", method, path, resp.StatusCode, truncate(string(raw), 300))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bridge %s %s: decode json: %w", method, path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
