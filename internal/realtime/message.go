package realtime

import (
	"encoding/json"
	"strings"
)

// Domain groups the event kinds one consumer cares about.
type Domain string

const (
	DomainFlashcards Domain = "flashcards"
	DomainWorksheets Domain = "worksheets"
	DomainPodcasts   Domain = "podcasts"
	DomainChat       Domain = "chat"
)

// Kind is the event kind within a domain.
type Kind string

const (
	KindGenerationStart    Kind = "generation_start"
	KindGenerationComplete Kind = "generation_complete"
	KindGenerationError    Kind = "generation_error"
	KindInfo               Kind = "info"

	KindCardNew      Kind = "card_new"
	KindCardUpdate   Kind = "card_update"
	KindCardDelete   Kind = "card_delete"
	KindCardProgress Kind = "card_progress"

	KindProgressUpdate Kind = "progress_update"

	KindPodcastInfo     Kind = "podcast_info"
	KindPodcastComplete Kind = "podcast_complete"
	KindPodcastError    Kind = "podcast_error"

	KindMessageNew    Kind = "message_new"
	KindMessageUpdate Kind = "message_update"
	KindMessageDelete Kind = "message_delete"
)

// Message is the wire frame carried by every transport.
// Event is "<domain>:<kind>"; legacy chat frames carry a bare kind.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

const workspaceChannelPrefix = "workspace_"

// WorkspaceChannel names the push channel for a workspace.
func WorkspaceChannel(workspaceID string) string {
	return workspaceChannelPrefix + strings.TrimSpace(workspaceID)
}

// IsWorkspaceChannel reports whether channel follows the workspace_<id> scheme.
func IsWorkspaceChannel(channel string) bool {
	return strings.HasPrefix(channel, workspaceChannelPrefix) && len(channel) > len(workspaceChannelPrefix)
}

// EventName joins a domain and kind into the wire event name.
func EventName(d Domain, k Kind) string {
	return string(d) + ":" + string(k)
}

// SplitEventName is the inverse of EventName. A bare kind yields an empty domain.
func SplitEventName(name string) (Domain, Kind) {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return Domain(name[:i]), Kind(name[i+1:])
	}
	return "", Kind(name)
}

// NewMessage builds a frame for d/k on channel with payload marshalled as JSON.
func NewMessage(channel string, d Domain, k Kind, payload any) (Message, error) {
	msg := Message{Channel: channel, Event: EventName(d, k)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}
