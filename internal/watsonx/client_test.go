package watsonx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL, iamURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:    "test-key",
		ProjectID: "proj-1",
		ModelID:   "ibm/granite-13b-chat-v2",
		BaseURL:   baseURL,
		IAMURL:    iamURL,
		Timeout:   5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func iamServer(t *testing.T, tokenCalls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "urn:ibm:params:oauth:grant-type:apikey" {
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
		atomic.AddInt64(tokenCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "bearer-token",
			"expires_in":   3600,
		})
	}))
}

func TestGenerateParsesResponse(t *testing.T) {
	var tokenCalls int64
	iam := iamServer(t, &tokenCalls)
	defer iam.Close()

	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer bearer-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model_id": "ibm/granite-13b-chat-v2",
			"results": []map[string]interface{}{{
				"generated_text":        "Dear patient, your results are stable.",
				"input_token_count":     120,
				"generated_token_count": 40,
			}},
		})
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	result, err := client.Generate(context.Background(), GenerationRequest{Prompt: "summarize"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Text != "Dear patient, your results are stable." {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.PromptTokens != 120 || result.OutputTokens != 40 {
		t.Fatalf("unexpected token counts %d/%d", result.PromptTokens, result.OutputTokens)
	}
}

func TestGenerateReusesCachedToken(t *testing.T) {
	var tokenCalls int64
	iam := iamServer(t, &tokenCalls)
	defer iam.Close()

	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"generated_text": "ok"}},
		})
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.Generate(context.Background(), GenerationRequest{Prompt: "p"}); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&tokenCalls); got != 1 {
		t.Fatalf("expected one IAM exchange, got %d", got)
	}
}

func TestGenerateRetriesOnUnauthorized(t *testing.T) {
	var tokenCalls int64
	iam := iamServer(t, &tokenCalls)
	defer iam.Close()

	var genCalls int64
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&genCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"generated_text": "recovered"}},
		})
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	result, err := client.Generate(context.Background(), GenerationRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Text != "recovered" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if got := atomic.LoadInt64(&genCalls); got != 2 {
		t.Fatalf("expected one retry, got %d calls", got)
	}
	if got := atomic.LoadInt64(&tokenCalls); got != 2 {
		t.Fatalf("expected token refresh on retry, got %d exchanges", got)
	}
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	var tokenCalls int64
	iam := iamServer(t, &tokenCalls)
	defer iam.Close()

	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"model not found"}]}`))
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	if _, err := client.Generate(context.Background(), GenerationRequest{Prompt: "p"}); err == nil {
		t.Fatalf("expected error from 400 response")
	}
}
