package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is the decoded, typed form of a Message. The concrete types below are the
// only implementations; switch on them instead of on raw event names.
type Event interface {
	Domain() Domain
	Kind() Kind
	Envelope() Header
	isEvent()
}

// Header carries the envelope fields shared by every event.
type Header struct {
	ID      string
	Channel string
	domain  Domain
	kind    Kind
}

func (h Header) Domain() Domain   { return h.domain }
func (h Header) Kind() Kind       { return h.kind }
func (h Header) Envelope() Header { return h }
func (Header) isEvent()           {}

// GenerationStarted: flashcards/worksheets generation_start.
type GenerationStarted struct {
	Header
	JobID string
}

// GenerationInfo: info / podcast_info.
type GenerationInfo struct {
	Header
	JobID    string
	Message  string
	Progress int
}

// GenerationCompleted: generation_complete / podcast_complete.
type GenerationCompleted struct {
	Header
	JobID      string
	ArtifactID string
	Summary    string
}

// GenerationFailed: generation_error / podcast_error. Error is the server text, verbatim.
type GenerationFailed struct {
	Header
	JobID string
	Error string
}

type CardOp string

const (
	CardCreated CardOp = "created"
	CardUpdated CardOp = "updated"
	CardDeleted CardOp = "deleted"
)

type CardChanged struct {
	Header
	Op     CardOp
	CardID string
	Front  string
	Back   string
}

// ProgressPushed is an authoritative worksheet question progress record.
type ProgressPushed struct {
	Header
	QuestionID           string
	Completed            bool
	Correct              bool
	ConsecutiveIncorrect int
	UserAnswer           string
	UpdatedAt            time.Time
}

// CardProgressPushed is an authoritative flashcard progress record.
type CardProgressPushed struct {
	Header
	CardID               string
	TimesStudied         int
	MasteryLevel         int
	ConsecutiveIncorrect int
	UpdatedAt            time.Time
}

type ChatOp string

const (
	ChatCreated ChatOp = "created"
	ChatUpdated ChatOp = "updated"
	ChatDeleted ChatOp = "deleted"
)

type ChatMessage struct {
	Header
	Op        ChatOp
	ChannelID string
	MessageID string
	Content   string
}

type generationPayload struct {
	JobID      string `json:"job_id"`
	ArtifactID string `json:"artifact_id"`
	Message    string `json:"message"`
	Summary    string `json:"summary"`
	Error      string `json:"error"`
	Progress   int    `json:"progress"`
}

type cardPayload struct {
	ID    string `json:"id"`
	Front string `json:"front"`
	Back  string `json:"back"`
}

type progressPayload struct {
	QuestionID           string    `json:"question_id"`
	Completed            bool      `json:"completed"`
	Correct              bool      `json:"correct"`
	ConsecutiveIncorrect int       `json:"consecutive_incorrect"`
	UserAnswer           string    `json:"user_answer"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type cardProgressPayload struct {
	CardID               string    `json:"card_id"`
	TimesStudied         int       `json:"times_studied"`
	MasteryLevel         int       `json:"mastery_level"`
	ConsecutiveIncorrect int       `json:"consecutive_incorrect"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type chatPayload struct {
	ChannelID string `json:"channel_id"`
	ID        string `json:"id"`
	Content   string `json:"content"`
}

type decodeFunc func(h Header, data json.RawMessage) (Event, error)

var decoders = map[Domain]map[Kind]decodeFunc{
	DomainFlashcards: {
		KindGenerationStart:    decodeStarted,
		KindInfo:               decodeInfo,
		KindGenerationComplete: decodeCompleted,
		KindGenerationError:    decodeFailed,
		KindCardNew:            decodeCard(CardCreated),
		KindCardUpdate:         decodeCard(CardUpdated),
		KindCardDelete:         decodeCard(CardDeleted),
		KindCardProgress:       decodeCardProgress,
	},
	DomainWorksheets: {
		KindGenerationStart:    decodeStarted,
		KindInfo:               decodeInfo,
		KindGenerationComplete: decodeCompleted,
		KindGenerationError:    decodeFailed,
		KindProgressUpdate:     decodeProgress,
	},
	DomainPodcasts: {
		KindPodcastInfo:     decodeInfo,
		KindPodcastComplete: decodeCompleted,
		KindPodcastError:    decodeFailed,
	},
	DomainChat: {
		KindMessageNew:    decodeChat(ChatCreated),
		KindMessageUpdate: decodeChat(ChatUpdated),
		KindMessageDelete: decodeChat(ChatDeleted),
	},
}

// Known reports whether d/k is part of the vocabulary.
func Known(d Domain, k Kind) bool {
	_, ok := decoders[d][k]
	return ok
}

// Decode turns a wire frame into a typed event. fallback is used as the domain when
// the event name carries no domain prefix (legacy chat scopes).
func Decode(msg Message, fallback Domain) (Event, error) {
	d, k := SplitEventName(msg.Event)
	if d == "" {
		d = fallback
	}
	fn, ok := decoders[d][k]
	if !ok {
		return nil, fmt.Errorf("unknown event %q on channel %q", msg.Event, msg.Channel)
	}
	data := msg.Data
	if len(data) == 0 || strings.TrimSpace(string(data)) == "null" {
		data = json.RawMessage("{}")
	}
	return fn(Header{ID: msg.ID, Channel: msg.Channel, domain: d, kind: k}, data)
}

func decodeStarted(h Header, data json.RawMessage) (Event, error) {
	var p generationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.kind, err)
	}
	return GenerationStarted{Header: h, JobID: p.JobID}, nil
}

func decodeInfo(h Header, data json.RawMessage) (Event, error) {
	var p generationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.kind, err)
	}
	return GenerationInfo{Header: h, JobID: p.JobID, Message: p.Message, Progress: clampPercent(p.Progress)}, nil
}

func decodeCompleted(h Header, data json.RawMessage) (Event, error) {
	var p generationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.kind, err)
	}
	summary := p.Summary
	if summary == "" {
		summary = p.Message
	}
	return GenerationCompleted{Header: h, JobID: p.JobID, ArtifactID: p.ArtifactID, Summary: summary}, nil
}

func decodeFailed(h Header, data json.RawMessage) (Event, error) {
	var p generationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.kind, err)
	}
	msg := p.Error
	if msg == "" {
		msg = p.Message
	}
	return GenerationFailed{Header: h, JobID: p.JobID, Error: msg}, nil
}

func decodeCard(op CardOp) decodeFunc {
	return func(h Header, data json.RawMessage) (Event, error) {
		var p cardPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.kind, err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("decode %s: missing card id", h.kind)
		}
		return CardChanged{Header: h, Op: op, CardID: p.ID, Front: p.Front, Back: p.Back}, nil
	}
}

func decodeProgress(h Header, data json.RawMessage) (Event, error) {
	var p progressPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.kind, err)
	}
	if p.QuestionID == "" {
		return nil, fmt.Errorf("decode %s: missing question_id", h.kind)
	}
	return ProgressPushed{
		Header:               h,
		QuestionID:           p.QuestionID,
		Completed:            p.Completed,
		Correct:              p.Correct,
		ConsecutiveIncorrect: max(p.ConsecutiveIncorrect, 0),
		UserAnswer:           p.UserAnswer,
		UpdatedAt:            p.UpdatedAt,
	}, nil
}

func decodeCardProgress(h Header, data json.RawMessage) (Event, error) {
	var p cardProgressPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.kind, err)
	}
	if p.CardID == "" {
		return nil, fmt.Errorf("decode %s: missing card_id", h.kind)
	}
	return CardProgressPushed{
		Header:               h,
		CardID:               p.CardID,
		TimesStudied:         max(p.TimesStudied, 0),
		MasteryLevel:         clampPercent(p.MasteryLevel),
		ConsecutiveIncorrect: max(p.ConsecutiveIncorrect, 0),
		UpdatedAt:            p.UpdatedAt,
	}, nil
}

func decodeChat(op ChatOp) decodeFunc {
	return func(h Header, data json.RawMessage) (Event, error) {
		var p chatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.kind, err)
		}
		channelID := p.ChannelID
		if channelID == "" && !IsWorkspaceChannel(h.Channel) {
			channelID = h.Channel
		}
		return ChatMessage{Header: h, Op: op, ChannelID: channelID, MessageID: p.ID, Content: p.Content}, nil
	}
}

func clampPercent(v int) int {
	return min(max(v, 0), 100)
}

// NewHeader builds an envelope header; used by producers that emit typed events directly.
func NewHeader(id, channel string, d Domain, k Kind) Header {
	return Header{ID: id, Channel: channel, domain: d, kind: k}
}
