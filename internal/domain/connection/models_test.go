package connection

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCursorValue(t *testing.T) {
	c := &Connection{}
	if got := c.CursorValue(); got != "" {
		t.Errorf("expected empty cursor for a fresh connection, got %q", got)
	}

	cursor := "cursor-abc"
	c.Cursor = &cursor
	if got := c.CursorValue(); got != "cursor-abc" {
		t.Errorf("expected cursor-abc, got %q", got)
	}
}

func TestConnectionSerializationExcludesSecrets(t *testing.T) {
	cursor := "cursor-abc"
	c := &Connection{
		ID:          "conn-1",
		AccessToken: "secret-token",
		Cursor:      &cursor,
		Status:      StatusSynced,
	}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	body := string(data)
	if strings.Contains(body, "secret-token") || strings.Contains(body, "cursor-abc") {
		t.Errorf("sensitive fields leaked: %s", body)
	}
}
