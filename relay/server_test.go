package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClickEndpoint(t *testing.T) {
	store := NewStore(DefaultTTL)
	sess, err := store.Create(nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	srv := httptest.NewServer(NewServer(":0", store).Handler())
	defer srv.Close()

	body := `{"x":100,"y":50,"displayWidth":640,"displayHeight":400}`
	res, err := http.Post(srv.URL+"/captcha-session/"+sess.ID+"/click", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST click: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("click returned %d", res.StatusCode)
	}

	taps, err := store.DrainTaps(sess.ID)
	if err != nil || len(taps) != 1 {
		t.Fatalf("expected 1 queued tap, got %d (err=%v)", len(taps), err)
	}
	if taps[0].X != 200 || taps[0].Y != 100 {
		t.Fatalf("tap not rescaled, got (%v,%v)", taps[0].X, taps[0].Y)
	}
}

func TestClickUnknownSessionIs404(t *testing.T) {
	srv := httptest.NewServer(NewServer(":0", NewStore(DefaultTTL)).Handler())
	defer srv.Close()

	res, err := http.Post(srv.URL+"/captcha-session/nope/click", "application/json", strings.NewReader(`{"x":1,"y":1}`))
	if err != nil {
		t.Fatalf("POST click: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", res.StatusCode)
	}
}

func TestClickMalformedPayload(t *testing.T) {
	store := NewStore(DefaultTTL)
	sess, _ := store.Create(nil)
	srv := httptest.NewServer(NewServer(":0", store).Handler())
	defer srv.Close()

	res, err := http.Post(srv.URL+"/captcha-session/"+sess.ID+"/click", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST click: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", res.StatusCode)
	}
}

func TestSolvePage(t *testing.T) {
	store := NewStore(DefaultTTL)
	sess, _ := store.Create(nil)
	srv := httptest.NewServer(NewServer(":0", store).Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/captcha-solve/" + sess.ID)
	if err != nil {
		t.Fatalf("GET solve page: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("solve page returned %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}

	res2, _ := http.Get(srv.URL + "/captcha-solve/expired-or-unknown")
	res2.Body.Close()
	if res2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown solve page should 404, got %d", res2.StatusCode)
	}
}
