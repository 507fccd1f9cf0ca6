package aardaapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Expected form content type, got %s", ct)
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("username") != "player" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Incorrect username or password"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer"}`))
	})

	mux.HandleFunc("/project/characters", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 1, "name": "Aria", "role": "Innkeeper", "knowledge_bricks": [
				{"id": 10, "title": "Town", "content": "The town lies by the river", "permission": "public", "parent_id": null, "children": []}
			], "groups": []},
			{"id": 2, "name": "Borin", "species": "Dwarf", "unknown_field": true}
		]`))
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: baseURL + "/", Timeout: 5 * time.Second}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestFetchAPIKey(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	token, err := client.FetchAPIKey(context.Background(), "player", "secret")
	if err != nil {
		t.Fatalf("Failed to fetch API key: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("Expected token tok-123, got %s", token)
	}
}

func TestFetchAPIKeyUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.FetchAPIKey(context.Background(), "player", "wrong")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", statusErr.StatusCode)
	}
	if statusErr.Body == "" {
		t.Error("Expected error body to be kept")
	}
}

func TestFetchCharacters(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	characters, err := client.FetchCharacters(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("Failed to fetch characters: %v", err)
	}

	if len(characters) != 2 {
		t.Fatalf("Expected 2 characters, got %d", len(characters))
	}

	aria := characters[0]
	if aria.ID != 1 || aria.Name != "Aria" || aria.Role != "Innkeeper" {
		t.Errorf("Unexpected character: %+v", aria)
	}
	if len(aria.KnowledgeBricks) != 1 || aria.KnowledgeBricks[0].ParentID != nil {
		t.Errorf("Unexpected knowledge bricks: %+v", aria.KnowledgeBricks)
	}
	if characters[1].Species != "Dwarf" {
		t.Errorf("Expected species Dwarf, got %s", characters[1].Species)
	}

	if _, err := client.FetchCharacters(context.Background(), "bad-token"); err == nil {
		t.Error("Expected error for bad token")
	}
}

func TestFetchMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.FetchAPIKey(context.Background(), "player", "secret"); err == nil {
		t.Error("Expected decode error")
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
	}{
		{name: "empty", baseURL: ""},
		{name: "blank", baseURL: "   "},
		{name: "relative", baseURL: "api.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(Config{BaseURL: tt.baseURL}, nil); err == nil {
				t.Errorf("Expected error for base URL %q", tt.baseURL)
			}
		})
	}
}
