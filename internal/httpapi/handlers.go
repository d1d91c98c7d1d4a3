package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/studysync/internal/clients/studyapi"
	"github.com/yungbote/studysync/internal/generation"
	"github.com/yungbote/studysync/internal/notify"
	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/progress"
	"github.com/yungbote/studysync/internal/realtime"
)

// ReadModelHandler exposes generation status, artifacts and reconciled progress.
type ReadModelHandler struct {
	Log       *logger.Logger
	Tracker   *generation.Tracker
	Questions *progress.QuestionBook
	Cards     *progress.CardBook
	Catalog   *studyapi.Catalog
}

func NewReadModelHandler(log *logger.Logger, tracker *generation.Tracker, questions *progress.QuestionBook, cards *progress.CardBook, catalog *studyapi.Catalog) *ReadModelHandler {
	return &ReadModelHandler{
		Log:       log.With("handler", "ReadModelHandler"),
		Tracker:   tracker,
		Questions: questions,
		Cards:     cards,
		Catalog:   catalog,
	}
}

func workspaceAndDomain(c *gin.Context) (string, realtime.Domain, bool) {
	ws := strings.TrimSpace(c.Param("id"))
	d := realtime.Domain(strings.TrimSpace(c.Param("domain")))
	if ws == "" {
		RespondError(c, http.StatusBadRequest, string(errs.KindInvalidArgument), errs.Newf(errs.KindInvalidArgument, "httpapi", "missing workspace id"))
		return "", "", false
	}
	for _, g := range generation.Domains {
		if g == d {
			return ws, d, true
		}
	}
	RespondError(c, http.StatusNotFound, string(errs.KindNotFound), errs.Newf(errs.KindNotFound, "httpapi", "unknown domain %q", d))
	return "", "", false
}

// GET /workspaces/:id/generation/:domain
func (h *ReadModelHandler) GetGeneration(c *gin.Context) {
	ws, d, ok := workspaceAndDomain(c)
	if !ok {
		return
	}
	RespondOK(c, h.Tracker.Status(ws, d))
}

// POST /workspaces/:id/generation/:domain
func (h *ReadModelHandler) RequestGeneration(c *gin.Context) {
	ws, d, ok := workspaceAndDomain(c)
	if !ok {
		return
	}
	st, err := h.Tracker.Request(ws, d)
	if err != nil {
		RespondKindError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

// GET /workspaces/:id/artifacts/:domain
func (h *ReadModelHandler) ListArtifacts(c *gin.Context) {
	ws, d, ok := workspaceAndDomain(c)
	if !ok {
		return
	}
	if c.Query("refresh") == "true" {
		if err := h.Tracker.Refresh(c.Request.Context(), ws, d); err != nil {
			h.Log.Warn("artifact refresh failed", "workspace", ws, "domain", d, "error", err)
			RespondError(c, http.StatusBadGateway, "refresh_failed", err)
			return
		}
	}
	items, fetched := h.Catalog.Artifacts(ws, d)
	if items == nil {
		items = []studyapi.Artifact{}
	}
	RespondOK(c, gin.H{"items": items, "fetched": fetched})
}

// GET /progress/questions/:id
func (h *ReadModelHandler) GetQuestionProgress(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	rec, ok := h.Questions.Get(id)
	if !ok {
		RespondError(c, http.StatusNotFound, string(errs.KindNotFound), errs.Newf(errs.KindNotFound, "httpapi", "no progress for question %q", id))
		return
	}
	RespondOK(c, gin.H{"question_id": id, "progress": rec, "pending": h.Questions.Pending(id)})
}

// GET /progress/cards/:id
func (h *ReadModelHandler) GetCardProgress(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	p, _ := h.Cards.Get(id)
	RespondOK(c, gin.H{
		"card_id":  id,
		"progress": p,
		"status":   progress.StatusOf(p),
		"pending":  h.Cards.Pending(id),
	})
}

// RealtimeHandler relays hub frames for one channel as server-sent events.
type RealtimeHandler struct {
	Log *logger.Logger
	Hub *realtime.Hub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{Log: log.With("handler", "RealtimeHandler"), Hub: hub}
}

// GET /realtime/:channel/stream
func (h *RealtimeHandler) Stream(c *gin.Context) {
	channel := strings.TrimSpace(c.Param("channel"))
	if channel == "" {
		RespondError(c, http.StatusBadRequest, string(errs.KindInvalidArgument), errs.Newf(errs.KindInvalidArgument, "httpapi", "missing channel"))
		return
	}
	client := h.Hub.NewClient()
	h.Hub.AddChannel(client, channel)
	h.Log.Debug("stream open", "clientID", client.ID, "channel", channel)

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.Hub.CloseClient(client)
	h.Log.Debug("stream closed", "clientID", client.ID, "channel", channel)
}

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type NoticeHandler struct {
	Notices *notify.Recorder
}

func NewNoticeHandler(rec *notify.Recorder) *NoticeHandler { return &NoticeHandler{Notices: rec} }

type noticeView struct {
	Kind      string `json:"kind"`
	Workspace string `json:"workspace,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
}

// POST /notices/drain returns pending notices and dismisses them.
func (h *NoticeHandler) Drain(c *gin.Context) {
	drained := h.Notices.Drain()
	out := make([]noticeView, 0, len(drained))
	for _, n := range drained {
		out = append(out, noticeView{Kind: string(n.Kind), Workspace: n.Workspace, Subject: n.Subject, Message: n.Message})
	}
	RespondOK(c, gin.H{"notices": out})
}
