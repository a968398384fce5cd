package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the human side of the relay over HTTP: a solve page, a
// screenshot feed, and a click endpoint. It only talks to the session
// store; the wait loop on the crawler side picks the clicks up from there.
type Server struct {
	store *Store
	http  *http.Server
}

func NewServer(addr string, store *Store) *Server {
	s := &Server{store: store}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/captcha-solve/{id}", s.handleSolvePage)
	r.Get("/captcha-session/{id}/screenshot", s.handleScreenshot)
	r.Post("/captcha-session/{id}/click", s.handleClick)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the listener in the background. Listen errors other than a
// clean shutdown are fatal, a relay that silently is not listening strands
// every manual solve.
func (s *Server) Start() {
	go func() {
		log.Printf("[relay] HTTP server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[relay] HTTP server failed: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	png, vw, vh, err := s.store.Screenshot(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Viewport-Width", strconv.Itoa(vw))
	w.Header().Set("X-Viewport-Height", strconv.Itoa(vh))
	w.Write(png)
}

type clickRequest struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	DisplayWidth  int     `json:"displayWidth"`
	DisplayHeight int     `json:"displayHeight"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req clickRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid click payload", http.StatusBadRequest)
		return
	}
	if err := s.store.AddTap(id, req.X, req.Y, req.DisplayWidth, req.DisplayHeight); err != nil {
		writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleSolvePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(id); err != nil {
		writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, solvePageHTML, id, id)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "session not found or expired", http.StatusNotFound)
	case errors.Is(err, ErrPageGone):
		http.Error(w, "page is gone", http.StatusGone)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

const solvePageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Solve captcha</title>
<style>
  body { margin: 0; background: #111; color: #eee; font-family: sans-serif; text-align: center; }
  h3 { margin: 12px 0 4px; font-weight: normal; }
  p { margin: 4px 0 12px; color: #999; font-size: 14px; }
  #shot { max-width: 100%%; cursor: crosshair; border: 1px solid #333; }
  #status { height: 20px; font-size: 13px; color: #7c7; }
</style>
</head>
<body>
<h3>Solve the captcha</h3>
<p>Click the challenge on the screenshot below. Clicks are forwarded to the live page.</p>
<div id="status"></div>
<img id="shot" src="/captcha-session/%s/screenshot" alt="challenge screenshot">
<script>
  const sessionID = %q;
  const shot = document.getElementById('shot');
  const status = document.getElementById('status');

  setInterval(() => {
    shot.src = '/captcha-session/' + sessionID + '/screenshot?t=' + Date.now();
  }, 3000);

  shot.addEventListener('click', async (ev) => {
    const rect = shot.getBoundingClientRect();
    const body = {
      x: ev.clientX - rect.left,
      y: ev.clientY - rect.top,
      displayWidth: Math.round(rect.width),
      displayHeight: Math.round(rect.height),
    };
    const res = await fetch('/captcha-session/' + sessionID + '/click', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify(body),
    });
    status.textContent = res.ok ? 'click sent' : 'session expired';
    setTimeout(() => { status.textContent = ''; }, 1500);
  });
</script>
</body>
</html>`
