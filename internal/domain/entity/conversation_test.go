package entity

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestNewConversation_SeedsSystemPrompt(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	conv, err := NewConversation("conv-1", "default", "You are helpful.", now)
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if conv.Len() != 1 {
		t.Fatalf("Len = %d, want 1", conv.Len())
	}
	first := conv.Messages()[0]
	if first.Role != RoleSystem || first.Content != "You are helpful." {
		t.Errorf("first message = %+v", first)
	}
	if !conv.CreatedAt().Equal(now) || !conv.LastActivityAt().Equal(now) {
		t.Error("timestamps should equal construction time")
	}
}

func TestNewConversation_Validation(t *testing.T) {
	if _, err := NewConversation("", "default", "", time.Now()); err != ErrInvalidConversationID {
		t.Errorf("empty id: err = %v", err)
	}
	if _, err := NewConversation("c", "", "", time.Now()); err != ErrInvalidAgentName {
		t.Errorf("empty agent: err = %v", err)
	}
}

func TestConversationAppend(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	conv, _ := NewConversation("c", "a", "sys", start)

	later := start.Add(time.Minute)
	if err := conv.Append(NewUserMessage("hello", "evt-1", later)); err != nil {
		t.Fatalf("Append user: %v", err)
	}
	if !conv.LastActivityAt().Equal(later) {
		t.Errorf("LastActivityAt = %v, want %v", conv.LastActivityAt(), later)
	}

	if err := conv.Append(NewMessage(RoleSystem, "again", later)); err != ErrSystemMessageNotFirst {
		t.Errorf("second system message: err = %v", err)
	}
	if err := conv.Append(Message{Role: "tool", Content: "x"}); err != ErrInvalidRole {
		t.Errorf("invalid role: err = %v", err)
	}
	if conv.Len() != 2 {
		t.Errorf("Len = %d, want 2", conv.Len())
	}
}

func TestConversationMessagesReturnsCopy(t *testing.T) {
	conv, _ := NewConversation("c", "a", "sys", time.Now())
	msgs := conv.Messages()
	msgs[0].Content = "mutated"
	if conv.Messages()[0].Content != "sys" {
		t.Error("Messages() must not expose internal slice")
	}
}

func TestConversationSnapshotRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv, _ := NewConversation("thread-9", "planner", "sys prompt", start)
	_ = conv.Append(NewUserMessage("first", "evt-a", start.Add(time.Second)))
	_ = conv.Append(NewMessage(RoleAssistant, "reply", start.Add(2*time.Second)))
	conv.SetMetadata("task_id", "evt-a")

	data, err := json.Marshal(conv.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var snap ConversationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored, err := ReconstructConversation(&snap)
	if err != nil {
		t.Fatalf("ReconstructConversation: %v", err)
	}

	if restored.ID() != conv.ID() || restored.AgentName() != conv.AgentName() {
		t.Errorf("identity mismatch: %s/%s", restored.ID(), restored.AgentName())
	}
	if !reflect.DeepEqual(restored.Messages(), conv.Messages()) {
		t.Errorf("messages differ:\n got %+v\nwant %+v", restored.Messages(), conv.Messages())
	}
	if v, _ := restored.GetMetadata("task_id"); v != "evt-a" {
		t.Errorf("metadata task_id = %v", v)
	}
	if !restored.LastActivityAt().Equal(conv.LastActivityAt()) {
		t.Error("LastActivityAt not preserved")
	}
}

func TestReconstructConversation_RejectsEmpty(t *testing.T) {
	if _, err := ReconstructConversation(nil); err != ErrInvalidConversationID {
		t.Errorf("nil snapshot: err = %v", err)
	}
}
