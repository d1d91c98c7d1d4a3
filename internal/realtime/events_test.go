package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeGenerationVariants(t *testing.T) {
	ch := WorkspaceChannel("w1")
	cases := []struct {
		event string
		data  string
		check func(t *testing.T, ev Event)
	}{
		{"flashcards:generation_start", `{"job_id":"j1"}`, func(t *testing.T, ev Event) {
			s, ok := ev.(GenerationStarted)
			if !ok || s.JobID != "j1" || s.Domain() != DomainFlashcards {
				t.Fatalf("unexpected %#v", ev)
			}
		}},
		{"worksheets:info", `{"message":"drafting","progress":140}`, func(t *testing.T, ev Event) {
			s, ok := ev.(GenerationInfo)
			if !ok || s.Message != "drafting" || s.Progress != 100 {
				t.Fatalf("unexpected %#v", ev)
			}
		}},
		{"podcasts:podcast_error", `{"message":"tts quota exceeded"}`, func(t *testing.T, ev Event) {
			s, ok := ev.(GenerationFailed)
			if !ok || s.Error != "tts quota exceeded" || s.Kind() != KindPodcastError {
				t.Fatalf("unexpected %#v", ev)
			}
		}},
		{"podcasts:podcast_complete", ``, func(t *testing.T, ev Event) {
			if _, ok := ev.(GenerationCompleted); !ok {
				t.Fatalf("unexpected %#v", ev)
			}
		}},
		{"flashcards:card_delete", `{"id":"c9"}`, func(t *testing.T, ev Event) {
			s, ok := ev.(CardChanged)
			if !ok || s.Op != CardDeleted || s.CardID != "c9" {
				t.Fatalf("unexpected %#v", ev)
			}
		}},
	}
	for _, tc := range cases {
		ev, err := Decode(Message{ID: "e", Channel: ch, Event: tc.event, Data: json.RawMessage(tc.data)}, "")
		if err != nil {
			t.Fatalf("%s: Decode: %v", tc.event, err)
		}
		if ev.Envelope().Channel != ch || ev.Envelope().ID != "e" {
			t.Fatalf("%s: envelope not carried: %+v", tc.event, ev.Envelope())
		}
		tc.check(t, ev)
	}
}

func TestDecodeProgressUpdate(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(map[string]any{
		"question_id":           "q1",
		"completed":             true,
		"correct":               false,
		"consecutive_incorrect": 2,
		"user_answer":           "Lyon",
		"updated_at":            at,
	})
	ev, err := Decode(Message{Channel: "workspace_w", Event: "worksheets:progress_update", Data: raw}, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := ev.(ProgressPushed)
	if p.QuestionID != "q1" || !p.Completed || p.Correct || p.ConsecutiveIncorrect != 2 || !p.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected %+v", p)
	}
}

func TestDecodeRejectsUnknownAndCrossDomainKinds(t *testing.T) {
	if _, err := Decode(Message{Event: "podcasts:generation_start"}, ""); err == nil {
		t.Fatalf("podcasts has no generation_start; expected error")
	}
	if _, err := Decode(Message{Event: "bogus"}, ""); err == nil {
		t.Fatalf("expected error for bare unknown kind")
	}
	if _, err := Decode(Message{Event: "flashcards:card_new", Data: json.RawMessage(`{}`)}, ""); err == nil {
		t.Fatalf("expected error for card without id")
	}
}

func TestDecodeLegacyChatScope(t *testing.T) {
	ev, err := Decode(Message{Channel: "thread-42", Event: "message_new", Data: json.RawMessage(`{"id":"m1","content":"hey"}`)}, DomainChat)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := ev.(ChatMessage)
	if m.ChannelID != "thread-42" || m.MessageID != "m1" || m.Op != ChatCreated {
		t.Fatalf("unexpected %+v", m)
	}
}

func TestEventNameRoundTrip(t *testing.T) {
	d, k := SplitEventName(EventName(DomainWorksheets, KindGenerationComplete))
	if d != DomainWorksheets || k != KindGenerationComplete {
		t.Fatalf("split: got %s %s", d, k)
	}
	if !IsWorkspaceChannel("workspace_abc") || IsWorkspaceChannel("workspace_") || IsWorkspaceChannel("abc") {
		t.Fatalf("IsWorkspaceChannel misclassified")
	}
}
