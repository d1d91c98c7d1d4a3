package studyapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/studysync/internal/grading"
	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/progress"
	"github.com/yungbote/studysync/internal/realtime"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/", Token: "tok", MaxRetries: retries, Timeout: 2 * time.Second}, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "  "}, logger.NewNop()); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestGradeDecodesBreakdownAndProgress(t *testing.T) {
	updated := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/worksheets/w1/questions/q1/grade" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header: %q", got)
		}
		var body gradeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Answer != "mitochondria" {
			t.Errorf("answer: %q", body.Answer)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isCorrect": true,
			"markBreakdown": []map[string]any{
				{"requirement": "Names the organelle", "pointsAvailable": 1, "pointsAchieved": 1, "feedback": "Good"},
			},
			"progress": map[string]any{"completed": true, "correct": true, "consecutiveIncorrect": 0, "userAnswer": "mitochondria", "updatedAt": updated},
		})
	}, 0)

	res, err := c.Grade(context.Background(), grading.RemoteRequest{WorksheetID: "w1", QuestionID: "q1", Answer: "mitochondria"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	want := grading.RemoteResult{
		Correct:   true,
		Breakdown: []grading.Criterion{{Requirement: "Names the organelle", PointsAvailable: 1, PointsAchieved: 1, Feedback: "Good"}},
		Progress:  &progress.Record{Completed: true, Correct: true, UserAnswer: "mitochondria"},
		UpdatedAt: updated,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
}

func TestGradeServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 3)
	_, err := c.Grade(context.Background(), grading.RemoteRequest{WorksheetID: "w", QuestionID: "q", Answer: "a"})
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusBadGateway {
		t.Fatalf("want 502 HTTPError, got=%v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("grading must not be retried by the client: calls=%d", n)
	}
}

func TestWriteProgressClientErrorIsInvalidArgument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown problem","code":"bad_problem"}}`))
	}, 0)
	_, err := c.WriteProgress(context.Background(), grading.ProgressWrite{ProblemID: "p1", Completed: true})
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want invalid argument, got=%v", err)
	}
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Code != "bad_problem" || herr.Message != "unknown problem" {
		t.Fatalf("http error detail lost: %+v", herr)
	}
}

func TestWriteProgressReturnsRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/progress/problems/p1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body writeProgressRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"completed": body.Completed, "correct": body.Correct, "userAnswer": body.Answer,
			"consecutiveIncorrect": 0, "updatedAt": time.Now().UTC(),
		})
	}, 0)
	res, err := c.WriteProgress(context.Background(), grading.ProgressWrite{ProblemID: "p1", Completed: true, Correct: true, Answer: "TRUE"})
	if err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	if diff := cmp.Diff(progress.Record{Completed: true, Correct: true, UserAnswer: "TRUE"}, res.Record); diff != "" {
		t.Fatalf("record (-want +got):\n%s", diff)
	}
	if res.UpdatedAt.IsZero() {
		t.Fatalf("updatedAt not decoded")
	}
}

func TestListArtifactsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workspaces/ws1/worksheets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"a1","title":"Cells"}]}`))
	}, 2)

	cat := NewCatalog(c)
	if err := cat.RefreshArtifacts(context.Background(), "ws1", realtime.DomainWorksheets); err != nil {
		t.Fatalf("RefreshArtifacts: %v", err)
	}
	items, ok := cat.Artifacts("ws1", realtime.DomainWorksheets)
	if !ok || len(items) != 1 || items[0].ID != "a1" {
		t.Fatalf("catalog: ok=%v items=%+v", ok, items)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("want one retry, calls=%d", n)
	}
}

func TestListArtifactsRejectsChat(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, 0)
	if _, err := c.ListArtifacts(context.Background(), "ws1", realtime.DomainChat); err == nil {
		t.Fatalf("chat has no artifact listing")
	}
}

func TestListArtifactsHonoursRetryAfterOnThrottle(t *testing.T) {
	var calls atomic.Int32
	var first time.Time
	var gap time.Duration
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			first = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		gap = time.Since(first)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}, 1)

	items, err := c.ListArtifacts(context.Background(), "ws1", realtime.DomainPodcasts)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(items) != 0 || calls.Load() != 2 {
		t.Fatalf("items=%+v calls=%d", items, calls.Load())
	}
	// One second minus jitter.
	if gap < 750*time.Millisecond {
		t.Fatalf("retry ignored Retry-After: gap=%s", gap)
	}
}
