package app

import (
	"context"
	"fmt"

	"github.com/yungbote/studysync/internal/clients/studyapi"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/progress"
	"github.com/yungbote/studysync/internal/progress/store"
	"github.com/yungbote/studysync/internal/realtime"
	"github.com/yungbote/studysync/internal/realtime/bus"
	"github.com/yungbote/studysync/internal/realtime/sse"
	"github.com/yungbote/studysync/internal/realtime/ws"
)

// wireTransport picks the channel transport. The hub is always built: it is the
// loopback transport and backs the SSE relay route.
func wireTransport(cfg Config, log *logger.Logger, hub *realtime.Hub) (realtime.Transport, bus.Bus, error) {
	switch cfg.Transport {
	case "", TransportLoopback:
		return hub, nil, nil
	case TransportSSE:
		t, err := sse.New(sse.Options{URL: cfg.StreamURL, Token: cfg.APIToken}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init sse transport: %w", err)
		}
		return t, nil, nil
	case TransportWebSocket:
		t, err := ws.New(ws.Options{URL: cfg.StreamURL, Token: cfg.APIToken}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init websocket transport: %w", err)
		}
		return t, nil, nil
	case TransportRedis:
		b, err := bus.NewRedisBus(bus.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis transport: %w", err)
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func wireAPI(cfg Config, log *logger.Logger) (*studyapi.Client, *studyapi.Catalog, error) {
	if cfg.APIBaseURL == "" {
		log.Warn("STUDYSYNC_API_BASE_URL not set; remote grading, durable writes and artifact refresh are disabled")
		return nil, nil, nil
	}
	client, err := studyapi.New(studyapi.Options{
		BaseURL:    cfg.APIBaseURL,
		Token:      cfg.APIToken,
		Timeout:    cfg.GradingTimeout,
		MaxRetries: 2,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init study api client: %w", err)
	}
	return client, studyapi.NewCatalog(client), nil
}

type books struct {
	questions *progress.QuestionBook
	cards     *progress.CardBook
}

// wireBooks builds the progress books, restoring and persisting through the
// durable snapshot when a store is configured.
func wireBooks(ctx context.Context, cfg Config, log *logger.Logger) (books, func() error, error) {
	noop := func() error { return nil }
	if cfg.StoreDSN == "" {
		return books{
			questions: progress.NewQuestionBook(log, nil),
			cards:     progress.NewCardBook(log, nil),
		}, noop, nil
	}

	db, err := store.Open(cfg.StoreDSN, log)
	if err != nil {
		return books{}, noop, err
	}
	closeDB := func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	// Confirmed records keep being written while the app shuts down.
	sinkCtx := context.WithoutCancel(ctx)
	snap := store.NewSnapshot(db, cfg.LearnerID, log)
	b := books{
		questions: progress.NewQuestionBook(log, snap.QuestionSink(sinkCtx)),
		cards:     progress.NewCardBook(log, snap.CardSink(sinkCtx)),
	}
	qs, err := snap.LoadQuestions(ctx)
	if err != nil {
		_ = closeDB()
		return books{}, noop, fmt.Errorf("load question progress: %w", err)
	}
	cs, err := snap.LoadCards(ctx)
	if err != nil {
		_ = closeDB()
		return books{}, noop, fmt.Errorf("load card progress: %w", err)
	}
	b.questions.Restore(qs)
	b.cards.Restore(cs)
	log.Info("Progress restored from store", "questions", len(qs), "cards", len(cs))
	return b, closeDB, nil
}
