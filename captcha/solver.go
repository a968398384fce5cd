package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSolverUnavailable marks failures of the solving service itself (no
// workers, bad key, balance) as opposed to an unsolvable challenge.
var ErrSolverUnavailable = errors.New("captcha solver unavailable")

// ErrUnsolved means the service gave up on this particular challenge.
var ErrUnsolved = errors.New("captcha unsolved")

// Solver is a client for a 2captcha-compatible solving service: submit the
// task to in.php, poll res.php until the token shows up.
type Solver struct {
	apiKey  string
	baseURL string
	client  *http.Client
	timeout time.Duration

	pollEvery time.Duration
}

func NewSolver(apiKey, baseURL string, client *http.Client, timeout time.Duration) *Solver {
	if baseURL == "" {
		baseURL = "https://2captcha.com"
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Solver{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		timeout:   timeout,
		pollEvery: 5 * time.Second,
	}
}

// Enabled reports whether a service key is configured.
func (s *Solver) Enabled() bool {
	return s != nil && s.apiKey != ""
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// SolveRecaptcha obtains a g-recaptcha-response token.
func (s *Solver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string, invisible bool) (string, error) {
	params := url.Values{
		"method":    {"userrecaptcha"},
		"googlekey": {siteKey},
		"pageurl":   {pageURL},
	}
	if invisible {
		params.Set("invisible", "1")
	}
	return s.solve(ctx, params)
}

// SolveHcaptcha obtains an h-captcha-response token.
func (s *Solver) SolveHcaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	return s.solve(ctx, url.Values{
		"method":  {"hcaptcha"},
		"sitekey": {siteKey},
		"pageurl": {pageURL},
	})
}

// SolveImage reads the characters off a classic image captcha.
func (s *Solver) SolveImage(ctx context.Context, png []byte) (string, error) {
	return s.solve(ctx, url.Values{
		"method": {"base64"},
		"body":   {base64.StdEncoding.EncodeToString(png)},
	})
}

func (s *Solver) solve(ctx context.Context, params url.Values) (string, error) {
	taskID, err := s.submit(ctx, params)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.timeout)
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no answer within %s", ErrUnsolved, s.timeout)
		}

		token, ready, err := s.poll(ctx, taskID)
		if err != nil {
			return "", err
		}
		if ready {
			return token, nil
		}
	}
}

func (s *Solver) submit(ctx context.Context, params url.Values) (string, error) {
	params.Set("key", s.apiKey)
	params.Set("json", "1")

	resp, err := s.postForm(ctx, s.baseURL+"/in.php", params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("%w: submit rejected: %s", ErrSolverUnavailable, resp.Request)
	}
	return resp.Request, nil
}

func (s *Solver) poll(ctx context.Context, taskID string) (token string, ready bool, err error) {
	params := url.Values{
		"key":    {s.apiKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}
	resp, err := s.postForm(ctx, s.baseURL+"/res.php?"+params.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	if resp.Status == 1 {
		return resp.Request, true, nil
	}
	switch resp.Request {
	case "CAPCHA_NOT_READY":
		return "", false, nil
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return "", false, ErrUnsolved
	default:
		return "", false, fmt.Errorf("%w: %s", ErrSolverUnavailable, resp.Request)
	}
}

func (s *Solver) postForm(ctx context.Context, endpoint string, params url.Values) (*apiResponse, error) {
	var body io.Reader
	method := http.MethodGet
	if params != nil {
		method = http.MethodPost
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", res.StatusCode, raw)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode solver response: %w", err)
	}
	return &parsed, nil
}
