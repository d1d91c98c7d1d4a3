package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Options struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

// Transport dials a websocket endpoint that pushes one JSON realtime.Message per text frame.
type Transport struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    *logger.Logger
}

func New(opts Options, log *logger.Logger) (*Transport, error) {
	u := strings.TrimSpace(opts.URL)
	if u == "" {
		return nil, errors.New("ws: url required")
	}
	if _, err := url.Parse(u); err != nil {
		return nil, fmt.Errorf("ws: parse url: %w", err)
	}
	d := opts.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	return &Transport{url: u, token: strings.TrimSpace(opts.Token), dialer: d, log: log.With("component", "WSTransport")}, nil
}

func (t *Transport) Dial(ctx context.Context, scopes []string) (realtime.Stream, error) {
	u, _ := url.Parse(t.url)
	q := u.Query()
	for _, s := range scopes {
		q.Add("channel", s)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	s := &stream{
		conn:   conn,
		frames: make(chan realtime.Message, 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readPump(t.log)
	return s, nil
}

type stream struct {
	conn   *websocket.Conn
	frames chan realtime.Message
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *stream) readPump(log *logger.Logger) {
	defer close(s.done)
	for {
		var msg realtime.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				log.Warn("bad websocket payload", "error", err)
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = io.EOF
			} else {
				s.err = err
			}
			return
		}
		select {
		case s.frames <- msg:
		case <-s.quit:
			return
		}
	}
}

func (s *stream) Recv(ctx context.Context) (realtime.Message, error) {
	select {
	case <-ctx.Done():
		return realtime.Message{}, ctx.Err()
	case msg := <-s.frames:
		return msg, nil
	case <-s.done:
		select {
		case msg := <-s.frames:
			return msg, nil
		default:
		}
		if s.err == nil {
			return realtime.Message{}, io.EOF
		}
		return realtime.Message{}, s.err
	}
}

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = s.conn.Close()
		<-s.done
	})
	return err
}
