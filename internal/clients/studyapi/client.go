package studyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/studysync/internal/grading"
	"github.com/yungbote/studysync/internal/pkg/httpx"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/progress"
	"github.com/yungbote/studysync/internal/realtime"
)

type Options struct {
	BaseURL string
	Token   string

	Timeout    time.Duration
	MaxRetries int

	HTTPClient *http.Client
}

// Client talks to the external collaborator: artifact listing, remote grading and
// durable progress writes.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	log        *logger.Logger
}

var (
	_ grading.RemoteGrader   = (*Client)(nil)
	_ grading.ProgressWriter = (*Client)(nil)
)

func New(opts Options, log *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := max(opts.MaxRetries, 0)

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		timeout:    timeout,
		maxRetries: maxRetries,
		httpClient: hc,
		log:        log.With("client", "StudyAPI"),
	}, nil
}

func artifactPath(workspaceID string, d realtime.Domain) (string, error) {
	switch d {
	case realtime.DomainFlashcards, realtime.DomainWorksheets, realtime.DomainPodcasts:
		return "/workspaces/" + url.PathEscape(workspaceID) + "/" + string(d), nil
	default:
		return "", fmt.Errorf("no artifact listing for domain %q", d)
	}
}

// ListArtifacts fetches the workspace's artifacts for a generation domain.
func (c *Client) ListArtifacts(ctx context.Context, workspaceID string, d realtime.Domain) ([]Artifact, error) {
	path, err := artifactPath(workspaceID, d)
	if err != nil {
		return nil, err
	}
	var resp listArtifactsResponse
	if err := c.doJSON(ctx, "studyapi.ListArtifacts", http.MethodGet, path, nil, &resp, c.maxRetries); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []Artifact{}
	}
	return resp.Items, nil
}

// Grade calls the remote grading RPC. It is not retried; a failure is the caller's to surface.
func (c *Client) Grade(ctx context.Context, req grading.RemoteRequest) (grading.RemoteResult, error) {
	path := "/worksheets/" + url.PathEscape(req.WorksheetID) + "/questions/" + url.PathEscape(req.QuestionID) + "/grade"
	var resp gradeResponse
	body := gradeRequest{WorksheetID: req.WorksheetID, QuestionID: req.QuestionID, Answer: req.Answer}
	if err := c.doJSON(ctx, "studyapi.Grade", http.MethodPost, path, body, &resp, 0); err != nil {
		return grading.RemoteResult{}, err
	}

	out := grading.RemoteResult{Correct: resp.IsCorrect}
	for _, m := range resp.MarkBreakdown {
		out.Breakdown = append(out.Breakdown, grading.Criterion{
			ID:              m.ID,
			Requirement:     m.Requirement,
			PointsAvailable: m.PointsAvailable,
			PointsAchieved:  m.PointsAchieved,
			Feedback:        m.Feedback,
		})
	}
	if resp.Progress != nil {
		rec := resp.Progress.record()
		out.Progress = &rec
		out.UpdatedAt = resp.Progress.UpdatedAt
	}
	return out, nil
}

// WriteProgress records a deterministic-type verdict and returns the updated record.
func (c *Client) WriteProgress(ctx context.Context, w grading.ProgressWrite) (grading.WriteResult, error) {
	path := "/progress/problems/" + url.PathEscape(w.ProblemID)
	var resp progressRecord
	body := writeProgressRequest{ProblemID: w.ProblemID, Completed: w.Completed, Correct: w.Correct, Answer: w.Answer}
	if err := c.doJSON(ctx, "studyapi.WriteProgress", http.MethodPut, path, body, &resp, 0); err != nil {
		return grading.WriteResult{}, err
	}
	return grading.WriteResult{Record: resp.record(), UpdatedAt: resp.UpdatedAt}, nil
}

func (p progressRecord) record() progress.Record {
	return progress.Record{
		Completed:            p.Completed,
		Correct:              p.Correct,
		ConsecutiveIncorrect: max(p.ConsecutiveIncorrect, 0),
		UserAnswer:           p.UserAnswer,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if req.Body != nil && req.Body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body any, out any, retries int) error {
	var buf []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = raw
	}

	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx2.Err() != nil {
			return ctx2.Err()
		}

		var reader io.Reader = http.NoBody
		if buf != nil {
			reader = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx2, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		c.setHeaders(req)

		wait := backoff
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !httpx.IsRetryableError(err) {
				return err
			}
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return readErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = parseHTTPError(op, resp.StatusCode, raw)
				if !httpx.IsRetryableError(lastErr) {
					return lastErr
				}
				wait = httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
			} else {
				if out == nil || len(bytes.TrimSpace(raw)) == 0 {
					return nil
				}
				return json.Unmarshal(raw, out)
			}
		}

		if attempt < retries {
			c.log.Debug("retrying request", "op", op, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx2.Done():
				return ctx2.Err()
			case <-time.After(httpx.JitterSleep(wait)):
			}
			backoff *= 2
		}
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return lastErr
}
