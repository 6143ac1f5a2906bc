package domain

import (
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestCardMarshalIncludesZeroPosition(t *testing.T) {
	card := Card{ID: "c1", Title: "Title", ListID: "l1", Position: 0, Tags: []string{}}

	payload, err := sonic.Marshal(card)
	if err != nil {
		t.Fatalf("marshal card: %v", err)
	}

	if !strings.Contains(string(payload), "\"position\":0") {
		t.Fatalf("expected position field to be present, got %s", payload)
	}
	if !strings.Contains(string(payload), "\"tags\":[]") {
		t.Fatalf("expected empty tags array to be present, got %s", payload)
	}
}

func TestChangeEventRoundTrip(t *testing.T) {
	ev, err := NewChangeEvent(EntityCard, EventDelete, nil, Card{ID: "c1", ListID: "l1"}, 42)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	var decoded ChangeEvent
	if err := sonic.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if decoded.CommitTime != 42 || decoded.EventType != EventDelete {
		t.Fatalf("unexpected event: %+v", decoded)
	}
	card, err := decoded.DecodeCard()
	if err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if card.ID != "c1" || card.ListID != "l1" {
		t.Fatalf("unexpected card: %+v", card)
	}
}
