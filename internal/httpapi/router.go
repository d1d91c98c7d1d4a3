package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/studysync/internal/observability"
)

type RouterConfig struct {
	ReadModelHandler *ReadModelHandler
	RealtimeHandler  *RealtimeHandler
	HealthHandler    *HealthHandler
	NoticeHandler    *NoticeHandler
	Metrics          *observability.Metrics

	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("studysync"))
	r.Use(CORS(cfg.AllowedOrigins))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	if h := cfg.ReadModelHandler; h != nil {
		ws := r.Group("/workspaces/:id")
		{
			ws.GET("/generation/:domain", h.GetGeneration)
			ws.POST("/generation/:domain", h.RequestGeneration)
			if h.Catalog != nil {
				ws.GET("/artifacts/:domain", h.ListArtifacts)
			}
		}
		p := r.Group("/progress")
		{
			p.GET("/questions/:id", h.GetQuestionProgress)
			p.GET("/cards/:id", h.GetCardProgress)
		}
	}

	if cfg.RealtimeHandler != nil {
		r.GET("/realtime/:channel/stream", cfg.RealtimeHandler.Stream)
	}
	if cfg.NoticeHandler != nil {
		r.POST("/notices/drain", cfg.NoticeHandler.Drain)
	}
	return r
}
