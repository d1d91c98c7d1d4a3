package sse

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

	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

type Options struct {
	// URL of the event-stream endpoint; scopes are sent as repeated ?channel= params.
	URL        string
	Token      string
	HTTPClient *http.Client
}

// Transport dials an HTTP text/event-stream endpoint such as realtime.Hub.ServeHTTP.
type Transport struct {
	url   string
	token string
	hc    *http.Client
	log   *logger.Logger
}

func New(opts Options, log *logger.Logger) (*Transport, error) {
	u := strings.TrimSpace(opts.URL)
	if u == "" {
		return nil, errors.New("sse: url required")
	}
	if _, err := url.Parse(u); err != nil {
		return nil, fmt.Errorf("sse: parse url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Transport{url: u, token: strings.TrimSpace(opts.Token), hc: hc, log: log.With("component", "SSETransport")}, nil
}

func (t *Transport) Dial(ctx context.Context, scopes []string) (realtime.Stream, error) {
	u, _ := url.Parse(t.url)
	q := u.Query()
	for _, s := range scopes {
		q.Add("channel", s)
	}
	u.RawQuery = q.Encode()

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	// The dial itself honours ctx; the stream outlives it.
	stop := context.AfterFunc(ctx, cancel)
	resp, err := t.hc.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse: dial: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse: dial: unexpected status %d", resp.StatusCode)
	}

	s := &stream{
		body:   resp.Body,
		cancel: cancel,
		frames: make(chan realtime.Message, 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.pump(t.log)
	return s, nil
}

var errStreamClosed = errors.New("sse: stream closed")

type stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	frames chan realtime.Message
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *stream) pump(log *logger.Logger) {
	defer close(s.done)
	s.err = readFrames(s.body, func(f frame) error {
		var msg realtime.Message
		if err := json.Unmarshal([]byte(f.data), &msg); err != nil {
			log.Warn("bad event-stream payload", "error", err)
			return nil
		}
		if msg.ID == "" {
			msg.ID = f.id
		}
		if msg.Event == "" && f.event != "message" {
			msg.Event = f.event
		}
		select {
		case s.frames <- msg:
			return nil
		case <-s.quit:
			return errStreamClosed
		}
	})
}

// Recv drains buffered frames before reporting the terminal read error.
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
		s.cancel()
		err = s.body.Close()
		<-s.done
	})
	return err
}
