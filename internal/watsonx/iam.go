package watsonx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/medplain/medplain/internal/httputil"
	"github.com/medplain/medplain/internal/metrics"
)

// tokenRefreshMargin is how long before expiry a cached token is considered
// stale.
const tokenRefreshMargin = 60 * time.Second

// iamTokenSource exchanges an IBM Cloud API key for a bearer token and
// caches it until shortly before expiry.
type iamTokenSource struct {
	client *http.Client
	iamURL string
	apiKey string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newIAMTokenSource(client *http.Client, iamURL, apiKey string) *iamTokenSource {
	return &iamTokenSource{
		client: client,
		iamURL: iamURL,
		apiKey: apiKey,
	}
}

// Token returns a valid bearer token, refreshing the cached one when fewer
// than tokenRefreshMargin seconds remain.
func (s *iamTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires.Add(-tokenRefreshMargin)) {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (s *iamTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}

func (s *iamTokenSource) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.iamURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build IAM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("IAM request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		if readErr != nil {
			return "", fmt.Errorf("IAM error %d: read body: %w", resp.StatusCode, readErr)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return "", fmt.Errorf("IAM error %d: %s", resp.StatusCode, msg)
	}

	body, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("read IAM response: %w", err)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("IAM response missing access_token")
	}
	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	s.token = token
	s.expires = time.Now().Add(time.Duration(expiresIn) * time.Second)
	metrics.RecordIAMTokenRefresh()
	return s.token, nil
}
