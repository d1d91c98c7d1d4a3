package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/studysync/internal/channel"
	"github.com/yungbote/studysync/internal/clients/studyapi"
	"github.com/yungbote/studysync/internal/generation"
	"github.com/yungbote/studysync/internal/grading"
	"github.com/yungbote/studysync/internal/httpapi"
	"github.com/yungbote/studysync/internal/notify"
	"github.com/yungbote/studysync/internal/observability"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/progress"
	"github.com/yungbote/studysync/internal/realtime"
	"github.com/yungbote/studysync/internal/realtime/bus"
	"github.com/yungbote/studysync/internal/realtime/sse"
	"github.com/yungbote/studysync/internal/realtime/ws"
)

type App struct {
	Log     *logger.Logger
	Cfg     Config
	Router  *gin.Engine
	Hub     *realtime.Hub
	Metrics *observability.Metrics
	Notices *notify.Recorder

	Channels  *channel.Manager
	Tracker   *generation.Tracker
	Verifier  *grading.Verifier
	Questions *progress.QuestionBook
	Cards     *progress.CardBook
	API       *studyapi.Client
	Catalog   *studyapi.Catalog

	transport realtime.Transport
	bus       bus.Bus

	ctx        context.Context
	cancel     context.CancelFunc
	fallbacks  sync.WaitGroup
	closeStore func() error
	otelDown   func(context.Context) error
	server     *http.Server
	closeOnce  sync.Once
}

func New(cfg Config, log *logger.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Log:     log,
		Cfg:     cfg,
		Hub:     realtime.NewHub(log),
		Metrics: observability.NewMetrics(),
		Notices: &notify.Recorder{},
		ctx:     ctx,
		cancel:  cancel,
	}
	a.otelDown = observability.InitOTel(ctx, log, observability.OtelConfigFromEnv())
	notifier := notify.Log(log, a.Notices)

	transport, b, err := wireTransport(cfg, log, a.Hub)
	if err != nil {
		cancel()
		return nil, err
	}
	a.transport, a.bus = transport, b

	a.API, a.Catalog, err = wireAPI(cfg, log)
	if err != nil {
		a.closeTransport()
		cancel()
		return nil, err
	}

	bk, closeStore, err := wireBooks(ctx, cfg, log)
	if err != nil {
		a.closeTransport()
		cancel()
		return nil, fmt.Errorf("init progress store: %w", err)
	}
	a.Questions, a.Cards, a.closeStore = bk.questions, bk.cards, closeStore

	trackerOpts := []generation.Option{generation.WithNotifier(notifier), generation.WithMetrics(a.Metrics)}
	verifierOpts := []grading.Option{
		grading.WithNotifier(notifier),
		grading.WithMetrics(a.Metrics),
		grading.WithTimeout(cfg.GradingTimeout),
		grading.WithWriteRetry(cfg.WriteRetries, 250*time.Millisecond),
	}
	if a.API != nil {
		trackerOpts = append(trackerOpts, generation.WithRefresher(a.Catalog))
		verifierOpts = append(verifierOpts, grading.WithRemoteGrader(a.API), grading.WithProgressWriter(a.API))
	}
	a.Tracker = generation.NewTracker(log, trackerOpts...)
	a.Verifier = grading.NewVerifier(a.Questions, log, verifierOpts...)

	a.Channels = channel.NewManager(transport, log,
		channel.WithNotifier(notifier),
		channel.WithMetrics(a.Metrics),
		channel.WithBackoff(min(500*time.Millisecond, cfg.ReconnectMaxInterval), cfg.ReconnectMaxInterval),
		channel.WithConnectivityFunc(a.onConnectivity),
	)

	a.Router = httpapi.NewRouter(httpapi.RouterConfig{
		ReadModelHandler: httpapi.NewReadModelHandler(log, a.Tracker, a.Questions, a.Cards, a.Catalog),
		RealtimeHandler:  httpapi.NewRealtimeHandler(log, a.Hub),
		HealthHandler:    httpapi.NewHealthHandler(),
		NoticeHandler:    httpapi.NewNoticeHandler(a.Notices),
		Metrics:          a.Metrics,
		AllowedOrigins:   cfg.AllowedOrigins,
	})
	a.Router.GET("/realtime/sse", gin.WrapH(sse.Handler(a.Hub)))
	a.Router.GET("/realtime/ws", gin.WrapH(ws.Handler(a.Hub, log)))

	return a, nil
}

// onConnectivity refetches every generated artifact list for a workspace whose
// channel dropped while still in use. Released channels are skipped.
func (a *App) onConnectivity(workspaceID string, connected bool) {
	if connected {
		a.Log.Info("workspace channel live", "workspace", workspaceID)
		return
	}
	if a.ctx.Err() != nil || !a.Channels.Active(workspaceID) {
		return
	}
	a.Log.Warn("workspace channel down; refetching artifacts", "workspace", workspaceID)
	if a.API == nil {
		return
	}
	for _, d := range generation.Domains {
		a.fallbacks.Add(1)
		go func() {
			defer a.fallbacks.Done()
			if err := a.Tracker.Refresh(a.ctx, workspaceID, d); err != nil && !errors.Is(err, context.Canceled) {
				a.Log.Warn("fallback refresh failed", "workspace", workspaceID, "domain", d, "error", err)
			}
		}()
	}
}

// Publish sends msg through the configured transport, so in-process producers reach
// every subscriber regardless of which transport carries it.
func (a *App) Publish(ctx context.Context, msg realtime.Message) error {
	if a.bus != nil {
		return a.bus.Publish(ctx, msg)
	}
	return a.Hub.Publish(ctx, msg)
}

func (a *App) Run(addr string) error {
	if addr == "" {
		addr = a.Cfg.HTTPAddr
	}
	a.server = &http.Server{Addr: addr, Handler: a.Router, ReadHeaderTimeout: 10 * time.Second}
	a.Log.Info("Server listening", "addr", addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) closeTransport() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.Log.Warn("bus close failed", "error", err)
		}
	}
}

// Close tears down in dependency order: inbound HTTP, channels, background work,
// then the store and tracing.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.Log.Warn("http shutdown failed", "error", err)
			}
		}
		a.cancel()
		if err := a.Channels.Close(ctx); err != nil {
			a.Log.Warn("channel manager close failed", "error", err)
		}
		a.fallbacks.Wait()
		a.Tracker.Close()
		a.Verifier.Wait()
		a.Verifier.Close()
		a.closeTransport()
		if err := a.closeStore(); err != nil {
			a.Log.Warn("store close failed", "error", err)
		}
		if a.otelDown != nil {
			if err := a.otelDown(ctx); err != nil {
				a.Log.Warn("otel shutdown failed", "error", err)
			}
		}
		a.Log.Sync()
	})
}
