package ticktick

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw := NewGateway(GatewayConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
		BackoffBase:  time.Millisecond,
	})
	return gw, srv
}

func TestGateway_ExchangeCode_Success(t *testing.T) {
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %s, want authorization_code", got)
		}
		if got := r.PostForm.Get("code_verifier"); got != "verifier-1" {
			t.Errorf("code_verifier = %s, want verifier-1", got)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
			t.Error("expected basic auth with client credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"scope":"tasks:read"}`))
	})

	ts, err := gw.ExchangeCode(context.Background(), "code-1", "verifier-1", "https://app.example/callback")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if ts.AccessToken != "at-1" || ts.RefreshToken != "rt-1" {
		t.Errorf("TokenSet = %+v, want at-1/rt-1", ts)
	}
	if ts.ExpiresAt.IsZero() {
		t.Error("ExpiresAt should be set from expires_in")
	}
	// Expiry is shortened by the skew allowance.
	if remaining := time.Until(ts.ExpiresAt); remaining > time.Hour-25*time.Second {
		t.Errorf("expiry not skewed: %v remaining", remaining)
	}
}

func TestGateway_NormalizesCamelCaseFields(t *testing.T) {
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accessToken":"at-camel","refreshToken":"rt-camel","expiresIn":600}`))
	})

	ts, err := gw.Refresh(context.Background(), "rt-0")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if ts.AccessToken != "at-camel" {
		t.Errorf("AccessToken = %s, want at-camel", ts.AccessToken)
	}
	if ts.RefreshToken != "rt-camel" {
		t.Errorf("RefreshToken = %s, want rt-camel", ts.RefreshToken)
	}
}

func TestGateway_ErrorInSuccessBodyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"error":"invalid_client","error_description":"bad credentials"}`))
	})

	_, err := gw.ExchangeCode(context.Background(), "c", "v", "r")
	if err == nil {
		t.Fatal("ExchangeCode() should fail on error body")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times, want 1 (non-transient)", got)
	}
}

func TestGateway_InvalidGrantOnRefreshMeansReauth(t *testing.T) {
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := gw.Refresh(context.Background(), "rt-stale")
	if err == nil {
		t.Fatal("Refresh() should fail")
	}
	assertCode(t, err, "TICKTICK_AUTH_REQUIRED")
}

func TestGateway_InvalidGrantOnExchangeIsUpstreamError(t *testing.T) {
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := gw.ExchangeCode(context.Background(), "c-bad", "v", "r")
	if err == nil {
		t.Fatal("ExchangeCode() should fail")
	}
	// Only a refresh rejection demands re-authorization; a rejected code
	// exchange is an upstream failure.
	assertCode(t, err, "TICKTICK_API_ERROR")
}

func TestGateway_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"access_token":"at-final"}`))
	})

	ts, err := gw.ExchangeCode(context.Background(), "c", "v", "r")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if ts.AccessToken != "at-final" {
		t.Errorf("AccessToken = %s, want at-final", ts.AccessToken)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("token endpoint called %d times, want 3", got)
	}
}

func TestGateway_HonorsRetryAfterSeconds(t *testing.T) {
	var calls atomic.Int32
	start := time.Now()
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"access_token":"at"}`))
	})

	if _, err := gw.ExchangeCode(context.Background(), "c", "v", "r"); err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("retry happened after %v, want >= 1s per Retry-After", elapsed)
	}
}

func TestGateway_ExhaustedRetriesFail(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gw.ExchangeCode(context.Background(), "c", "v", "r")
	if err == nil {
		t.Fatal("ExchangeCode() should fail after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("token endpoint called %d times, want 3", got)
	}
}

func TestGateway_MissingAccessTokenIsFatal(t *testing.T) {
	gw, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"refresh_token":"rt-only"}`))
	})

	_, err := gw.ExchangeCode(context.Background(), "c", "v", "r")
	if err == nil {
		t.Fatal("ExchangeCode() should fail without an access token")
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"empty", "", 0, false},
		{"seconds", "5", 5 * time.Second, true},
		{"garbage", "soon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := retryAfter(tt.header)
			if got != tt.want || ok != tt.ok {
				t.Errorf("retryAfter(%q) = (%v, %v), want (%v, %v)", tt.header, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRetryAfter_HTTPDate(t *testing.T) {
	header := time.Now().Add(2 * time.Second).UTC().Format(http.TimeFormat)
	got, ok := retryAfter(header)
	if !ok {
		t.Fatal("retryAfter() should parse an HTTP date")
	}
	if got <= 0 || got > 3*time.Second {
		t.Errorf("retryAfter() = %v, want ~2s", got)
	}
}
