package callbacks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"aviary/pkg/api"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New("signing-secret", "encryption-secret", "https://example.test", "callback")
	require.NoError(t, err)
	return p
}

func testLead() *api.Lead {
	return api.NewLead("telegram", api.Peer{ID: "42", Name: "Ada"})
}

func hit(p *Provider, url string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	p.MountRoutes(r)
	req := httptest.NewRequest(http.MethodGet, strings.TrimPrefix(url, "https://example.test"), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallbackRoundTrip(t *testing.T) {
	p := newTestProvider(t)

	var gotLead *api.Lead
	var gotValues map[string]string
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		gotLead = lead
		gotValues = values
		return "", nil
	})

	url, err := p.CreateCallback(testLead(), "confirm", time.Hour, "", false)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://example.test/callback/"))

	w := hit(p, url+"?choice=yes")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	require.NotNil(t, gotLead)
	require.Equal(t, "telegram:42", gotLead.SessionID())
	require.Equal(t, "yes", gotValues["choice"])
}

func TestCallbackRedirects(t *testing.T) {
	p := newTestProvider(t)
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		return "", nil
	})

	url, err := p.CreateCallback(testLead(), "confirm", time.Hour, "https://done.test/thanks", false)
	require.NoError(t, err)

	w := hit(p, url)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://done.test/thanks", w.Header().Get("Location"))
}

func TestTamperedTokenIsRejected(t *testing.T) {
	p := newTestProvider(t)
	called := false
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		called = true
		return "", nil
	})

	url, err := p.CreateCallback(testLead(), "confirm", time.Hour, "", false)
	require.NoError(t, err)

	// Flip one character of the token.
	tampered := url[:len(url)-1]
	if strings.HasSuffix(url, "A") {
		tampered += "B"
	} else {
		tampered += "A"
	}

	w := hit(p, tampered)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, called)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	p := newTestProvider(t)
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		return "", nil
	})

	url, err := p.CreateCallback(testLead(), "confirm", time.Minute, "", false)
	require.NoError(t, err)

	p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	w := hit(p, url)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSingleUseTokenDiesOnSecondHit(t *testing.T) {
	p := newTestProvider(t)
	hits := 0
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		hits++
		return "", nil
	})

	url, err := p.CreateCallback(testLead(), "confirm", time.Hour, "", true)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, hit(p, url).Code)
	require.Equal(t, http.StatusUnauthorized, hit(p, url).Code)
	require.Equal(t, 1, hits)
}

func TestUnknownHandlerRefusesCreation(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.CreateCallback(testLead(), "ghost", time.Hour, "", false)
	require.Error(t, err)
}

func TestFailureResponsesAreUniform(t *testing.T) {
	p := newTestProvider(t)
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		return "", nil
	})
	p.RegisterHandler("broken", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		return "", errors.New("backend down")
	})

	expired, err := p.CreateCallback(testLead(), "confirm", time.Minute, "", false)
	require.NoError(t, err)
	single, err := p.CreateCallback(testLead(), "confirm", time.Hour, "", true)
	require.NoError(t, err)
	failing, err := p.CreateCallback(testLead(), "broken", time.Hour, "", false)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, hit(p, single).Code)
	usedBody := hit(p, single).Body.String()
	failingBody := hit(p, failing).Body.String()

	p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	expiredBody := hit(p, expired).Body.String()
	garbageBody := hit(p, "https://example.test/callback/not-a-token").Body.String()

	require.Equal(t, expiredBody, garbageBody)
	require.Equal(t, expiredBody, usedBody)
	require.Equal(t, expiredBody, failingBody)
}

func TestHandlerFailureAnswersUnauthorized(t *testing.T) {
	p := newTestProvider(t)
	p.RegisterHandler("broken", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		return "", errors.New("backend down")
	})

	url, err := p.CreateCallback(testLead(), "broken", time.Hour, "", false)
	require.NoError(t, err)

	w := hit(p, url)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"status":"unauthorized"}`, w.Body.String())
}

func TestHandlerPanicAnswersUnauthorized(t *testing.T) {
	p := newTestProvider(t)
	p.RegisterHandler("panicky", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		panic("boom")
	})

	url, err := p.CreateCallback(testLead(), "panicky", time.Hour, "", false)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, hit(p, url).Code)
}

func TestHandlerBodyBecomesResponse(t *testing.T) {
	p := newTestProvider(t)
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		return `{"answer":42}`, nil
	})

	url, err := p.CreateCallback(testLead(), "confirm", time.Hour, "", false)
	require.NoError(t, err)

	w := hit(p, url)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"answer":42}`, w.Body.String())
}

func TestJSONBodyMergesIntoValues(t *testing.T) {
	p := newTestProvider(t)
	var gotValues map[string]string
	p.RegisterHandler("confirm", func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error) {
		gotValues = values
		return "", nil
	})

	url, err := p.CreateCallback(testLead(), "confirm", time.Hour, "", false)
	require.NoError(t, err)

	r := mux.NewRouter()
	p.MountRoutes(r)
	path := strings.TrimPrefix(url, "https://example.test") + "?source=query"
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"choice":"no","count":2}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "query", gotValues["source"])
	require.Equal(t, "no", gotValues["choice"])
	require.Equal(t, "2", gotValues["count"])
}
