package httpc

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestNewClientTimeout(t *testing.T) {
	c := NewClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", c.Timeout)
	}
	if c.Transport == nil {
		t.Error("Expected a tuned transport")
	}
}

func TestNewJSONRequest(t *testing.T) {
	req, err := NewJSONRequest(context.Background(), "http://localhost:3000/api/analyze", map[string]string{"image": "AA=="})
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != http.MethodPost {
		t.Errorf("Expected POST, got %s", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Unexpected content type %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["image"] != "AA==" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestNewJSONRequestUnencodable(t *testing.T) {
	if _, err := NewJSONRequest(context.Background(), "http://x", make(chan int)); err == nil {
		t.Error("Expected marshal error")
	}
}
