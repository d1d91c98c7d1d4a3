package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every channel name on the wire, e.g. "studysync:".
	Prefix string
}

type redisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewRedisBus(opts RedisOptions, log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:    log.With("component", "RedisBus"),
		rdb:    rdb,
		prefix: opts.Prefix,
	}, nil
}

func (b *redisBus) topic(channel string) string { return b.prefix + channel }

func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if msg.Channel == "" {
		return fmt.Errorf("publish: empty channel")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.topic(msg.Channel), raw).Err()
}

func (b *redisBus) Dial(ctx context.Context, scopes []string) (realtime.Stream, error) {
	if b == nil || b.rdb == nil {
		return nil, fmt.Errorf("redis bus not initialized")
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("subscribe: no channels")
	}
	topics := make([]string, 0, len(scopes))
	for _, s := range scopes {
		topics = append(topics, b.topic(s))
	}
	sub := b.rdb.Subscribe(ctx, topics...)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return &redisStream{sub: sub, ch: sub.Channel(), log: b.log}, nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

type redisStream struct {
	sub  *goredis.PubSub
	ch   <-chan *goredis.Message
	log  *logger.Logger
	once sync.Once
}

func (s *redisStream) Recv(ctx context.Context) (realtime.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return realtime.Message{}, ctx.Err()
		case m, ok := <-s.ch:
			if !ok || m == nil {
				return realtime.Message{}, io.EOF
			}
			var msg realtime.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.log.Warn("bad redis payload", "error", err, "topic", m.Channel)
				continue
			}
			return msg, nil
		}
	}
}

func (s *redisStream) Close() error {
	var err error
	s.once.Do(func() { err = s.sub.Close() })
	return err
}
