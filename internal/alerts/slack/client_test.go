package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendAlert_PostsAttachment(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSlackClient(server.URL)
	defer client.Close()

	err := client.SendDeploymentTriggeredAlert(context.Background(), "d-ABCDEF123", "i-001", "Demo-Tag-Ubuntu", "retarget")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if got.Username != botName {
		t.Errorf("Expected username %q, got %q", botName, got.Username)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(got.Attachments))
	}
	att := got.Attachments[0]
	if !strings.Contains(att.Text, "d-ABCDEF123") {
		t.Errorf("Expected deployment id in text, got %q", att.Text)
	}
	if len(att.Fields) != 4 {
		t.Fatalf("Expected 4 fields, got %d", len(att.Fields))
	}
	for i := 1; i < len(att.Fields); i++ {
		if att.Fields[i-1].Title > att.Fields[i].Title {
			t.Errorf("Expected fields sorted by title, got %v", att.Fields)
		}
	}
}

func TestSendAlert_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("invalid_token"))
	}))
	defer server.Close()

	client := NewSlackClient(server.URL)
	defer client.Close()

	err := client.SendEpisodeFailureAlert(context.Background(), "i-001", "create-tag", errors.New("denied"))
	if err == nil {
		t.Fatal("Expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

func TestSendAlert_NoWebhook(t *testing.T) {
	client := NewSlackClient("")
	defer client.Close()

	if err := client.SendAlert(context.Background(), AlertLevelInfo, "title", "message", nil); err != nil {
		t.Errorf("Expected no error without webhook, got %v", err)
	}
}

func TestCreateAttachment_Levels(t *testing.T) {
	client := NewSlackClient("")
	defer client.Close()

	tests := []struct {
		level AlertLevel
		color string
	}{
		{AlertLevelInfo, "#36a64f"},
		{AlertLevelWarning, "#ff9500"},
		{AlertLevelCritical, "#ff0000"},
		{AlertLevelSuccess, "#36a64f"},
	}

	for _, tt := range tests {
		att := client.createAttachment(tt.level, "title", "message", nil)
		if att.Color != tt.color {
			t.Errorf("Level %s: expected color %s, got %s", tt.level, tt.color, att.Color)
		}
		if !strings.HasSuffix(att.Title, "title") {
			t.Errorf("Level %s: unexpected title %q", tt.level, att.Title)
		}
	}
}

func TestMaskWebhookURL(t *testing.T) {
	client := NewSlackClient("")
	defer client.Close()

	url := "https://hooks.slack.com/services/T000/B000/XXXXXXXXXXXXXXXXXXXXXXXX"
	masked := client.maskWebhookURL(url)
	if masked == url || !strings.Contains(masked, "...") {
		t.Errorf("Expected masked url, got %q", masked)
	}
	if client.maskWebhookURL("short") != "***masked***" {
		t.Error("Expected short urls fully masked")
	}
}
