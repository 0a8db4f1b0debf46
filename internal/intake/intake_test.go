package intake

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingQueue struct {
	items []WorkItem
}

func (q *recordingQueue) Enqueue(item WorkItem) bool {
	q.items = append(q.items, item)
	return false
}

func TestEvaluate(t *testing.T) {
	names := []string{"herald", "Геральд"}
	tests := []struct {
		name string
		ev   Event
		want Trigger
	}{
		{"private", Event{IsPrivate: true, Text: "hi"}, TriggerPrivate},
		{"private wins over mention", Event{IsPrivate: true, Mentioned: true}, TriggerPrivate},
		{"mention", Event{Mentioned: true, Text: "@herald_bot hi"}, TriggerMention},
		{"reply", Event{RepliedToBot: true, Text: "and now?"}, TriggerReply},
		{"leading name", Event{Text: "herald, draw a cat"}, TriggerBotName},
		{"leading name colon", Event{Text: "HERALD: draw a cat"}, TriggerBotName},
		{"leading name cyrillic", Event{Text: "геральд намалюй кота"}, TriggerBotName},
		{"name mid sentence", Event{Text: "ask herald later"}, TriggerMention},
		{"name mid sentence cyrillic", Event{Text: "привіт, ГЕРАЛЬД, намалюй кота"}, TriggerMention},
		{"name after at sign", Event{Text: "cc @herald"}, TriggerNone},
		{"name as prefix", Event{Text: "heralded news"}, TriggerNone},
		{"plain group message", Event{Text: "good morning all"}, TriggerNone},
		{"empty", Event{}, TriggerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.ev, names); got != tt.want {
				t.Errorf("Evaluate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStripTokens(t *testing.T) {
	names := []string{"herald", "малювач"}
	tests := []struct {
		name     string
		text     string
		trigger  Trigger
		mentions []string
		want     string
	}{
		{"telegram mention", "@herald_bot draw a cat", TriggerMention, []string{"@herald_bot"}, "draw a cat"},
		{"mention case", "@Herald_Bot, draw a cat", TriggerMention, []string{"@herald_bot"}, "draw a cat"},
		{"slack mention", "<@U123> what time is it", TriggerMention, []string{"<@U123>"}, "what time is it"},
		{"mention mid text", "hey <@U123> hi", TriggerMention, []string{"<@U123>"}, "hey  hi"},
		{"leading name", "Herald, draw a cat", TriggerBotName, nil, "draw a cat"},
		{"leading name colon", "herald:  hello", TriggerBotName, nil, "hello"},
		{"name elsewhere", "thanks herald", TriggerPrivate, nil, "thanks"},
		{"name inside word kept", "heralded", TriggerPrivate, nil, "heralded"},
		{"only name", "herald", TriggerBotName, nil, ""},
		{"untouched", "draw a dog", TriggerPrivate, nil, "draw a dog"},
		{"name mid sentence", "привіт малювач намалюй кота", TriggerMention, nil, "привіт  намалюй кота"},
		{"repeated mention", "@herald_bot hi @HERALD_BOT", TriggerMention, []string{"@herald_bot"}, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripTokens(tt.text, tt.trigger, tt.mentions, names); got != tt.want {
				t.Errorf("StripTokens(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestSubmit_PrivateMessage(t *testing.T) {
	q := &recordingQueue{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := NewGateway(PlatformTelegram, q, discardLogger())
	g.now = func() time.Time { return fixed }

	ok := g.Submit(Event{
		ConversationID: "42",
		MessageID:      "7",
		AuthorID:       "42",
		AuthorName:     "olena",
		IsPrivate:      true,
		Text:           "  hello  ",
	})
	if !ok {
		t.Fatal("expected private message to be accepted")
	}
	if len(q.items) != 1 {
		t.Fatalf("expected 1 enqueued item, got %d", len(q.items))
	}
	item := q.items[0]
	if item.ContextID != "telegram:42" {
		t.Errorf("expected context id telegram:42, got %q", item.ContextID)
	}
	if item.Platform != PlatformTelegram {
		t.Errorf("expected platform telegram, got %q", item.Platform)
	}
	if item.Trigger != TriggerPrivate {
		t.Errorf("expected private trigger, got %s", item.Trigger)
	}
	if item.Text != "hello" {
		t.Errorf("expected trimmed text, got %q", item.Text)
	}
	if item.CorrelationRef.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected correlation ref")
	}
	if !item.ReceivedAt.Equal(fixed) {
		t.Errorf("unexpected ReceivedAt %v", item.ReceivedAt)
	}
}

func TestSubmit_GroupWithoutTriggerIsNotQueued(t *testing.T) {
	q := &recordingQueue{}
	g := NewGateway(PlatformSlack, q, discardLogger(), WithBotNames([]string{"herald"}))

	if g.Submit(Event{ConversationID: "C1", Text: "lunch anyone?"}) {
		t.Error("expected untriggered group message to be ignored")
	}
	if len(q.items) != 0 {
		t.Errorf("expected nothing enqueued, got %d", len(q.items))
	}
}

func TestSubmit_GroupTriggers(t *testing.T) {
	q := &recordingQueue{}
	g := NewGateway(PlatformTelegram, q, discardLogger(), WithBotNames([]string{"herald"}))

	events := []Event{
		{ConversationID: "-100", Mentioned: true, MentionTokens: []string{"@herald_bot"}, Text: "@herald_bot draw a fox"},
		{ConversationID: "-100", RepliedToBot: true, Text: "make it blue"},
		{ConversationID: "-100", Text: "herald, what is this?"},
	}
	for _, ev := range events {
		if !g.Submit(ev) {
			t.Errorf("expected %q to be accepted", ev.Text)
		}
	}

	want := []struct {
		trigger Trigger
		text    string
	}{
		{TriggerMention, "draw a fox"},
		{TriggerReply, "make it blue"},
		{TriggerBotName, "what is this?"},
	}
	if len(q.items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(q.items))
	}
	for i, w := range want {
		if q.items[i].Trigger != w.trigger || q.items[i].Text != w.text {
			t.Errorf("item %d = %s/%q, want %s/%q", i, q.items[i].Trigger, q.items[i].Text, w.trigger, w.text)
		}
		if q.items[i].ContextID != "telegram:-100" {
			t.Errorf("item %d context id %q", i, q.items[i].ContextID)
		}
	}
}

func TestSubmit_EmptyAfterStrip(t *testing.T) {
	q := &recordingQueue{}
	g := NewGateway(PlatformTelegram, q, discardLogger())

	if g.Submit(Event{ConversationID: "1", Mentioned: true, MentionTokens: []string{"@herald_bot"}, Text: "@herald_bot"}) {
		t.Error("expected mention-only message to be ignored")
	}
	if len(q.items) != 0 {
		t.Errorf("expected nothing enqueued, got %d", len(q.items))
	}
}

func TestSubmit_AudioOnly(t *testing.T) {
	q := &recordingQueue{}
	g := NewGateway(PlatformTelegram, q, discardLogger())

	ok := g.Submit(Event{ConversationID: "1", IsPrivate: true, Audio: &AudioRef{FileID: "voice-1", MimeType: "audio/ogg"}})
	if !ok {
		t.Fatal("expected audio-only message to be accepted")
	}
	if q.items[0].Audio == nil || q.items[0].Audio.FileID != "voice-1" {
		t.Errorf("expected audio ref to be carried, got %+v", q.items[0].Audio)
	}
}

func TestSubmit_GroupContextPerUser(t *testing.T) {
	q := &recordingQueue{}
	g := NewGateway(PlatformTelegram, q, discardLogger(), WithGroupContextPerUser(true))

	g.Submit(Event{ConversationID: "-100", AuthorID: "5", RepliedToBot: true, Text: "hi"})
	g.Submit(Event{ConversationID: "77", AuthorID: "77", IsPrivate: true, Text: "hi"})

	if q.items[0].ContextID != "telegram:-100:5" {
		t.Errorf("expected per-user group context, got %q", q.items[0].ContextID)
	}
	if q.items[1].ContextID != "telegram:77" {
		t.Errorf("expected private context unchanged, got %q", q.items[1].ContextID)
	}
}

func TestSubmit_GroupBotNameMidSentence(t *testing.T) {
	q := &recordingQueue{}
	g := NewGateway(PlatformTelegram, q, discardLogger(), WithBotNames([]string{"малювач"}))

	if !g.Submit(Event{ConversationID: "-100", Text: "привіт, малювач, намалюй кота"}) {
		t.Fatal("expected bot name in group message to trigger")
	}
	if len(q.items) != 1 {
		t.Fatalf("expected 1 enqueued item, got %d", len(q.items))
	}
	item := q.items[0]
	if item.Trigger != TriggerMention {
		t.Errorf("expected mention trigger, got %s", item.Trigger)
	}
	if strings.Contains(item.Text, "малювач") {
		t.Errorf("expected bot name stripped, got %q", item.Text)
	}
}

func TestFoldMatches(t *testing.T) {
	tests := []struct {
		text, word string
		want       int
	}{
		{"Herald herald HERALD", "herald", 3},
		{"ГЕРАЛЬД геральд", "геральд", 2},
		{"heraldherald", "herald", 2},
		{"her", "herald", 0},
		{"anything", "", 0},
	}
	for _, tt := range tests {
		if got := len(foldMatches(tt.text, tt.word)); got != tt.want {
			t.Errorf("foldMatches(%q, %q) = %d matches, want %d", tt.text, tt.word, got, tt.want)
		}
	}
}
