package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"carwatch/models"
)

func probeClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestHeadProbeGoneIsRemoved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := &Checker{Client: probeClient()}
	st, decided := c.headProbe(context.Background(), srv.URL+"/car/1")
	if !decided || st != models.StatusRemoved {
		t.Fatalf("want decided removed, got %v decided=%v", st, decided)
	}
}

func TestHeadProbeRedirectOffPageIsRemoved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/search/bmw", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	c := &Checker{Client: probeClient()}
	st, decided := c.headProbe(context.Background(), srv.URL+"/car/1")
	if !decided || st != models.StatusRemoved {
		t.Fatalf("want decided removed, got %v decided=%v", st, decided)
	}
}

func TestHeadProbeSamePathRedirectIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://www.elsewhere.test"+r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	c := &Checker{Client: probeClient()}
	if _, decided := c.headProbe(context.Background(), srv.URL+"/car/1"); decided {
		t.Fatalf("scheme/host-only redirect must not decide anything")
	}
}

func TestHeadProbeOKIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Checker{Client: probeClient()}
	if _, decided := c.headProbe(context.Background(), srv.URL+"/car/1"); decided {
		t.Fatalf("a 200 must fall through to the browser path")
	}
}
