package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ignite/zns-dispatch/internal/zns"
)

type stubOptions struct {
	// RequestsPerSecond above which sends get the rate limit code.
	RequestsPerSecond float64
	// FailureRate is the share of sends answered with the transient code.
	FailureRate float64
	Latency     time.Duration
	TokenTTL    time.Duration
}

// stub imitates the template message and OA token endpoints. Phones not in
// 84xxxxxxxxx form get the invalid phone code; templates starting with
// "bad" get the invalid template code.
type stub struct {
	opts    stubOptions
	limiter *rate.Limiter
	roll    func() float64

	mu           sync.Mutex
	refreshToken string
	sent         int
}

func newStub(opts stubOptions) http.Handler {
	s := &stub{
		opts:         opts,
		limiter:      rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond))),
		roll:         rand.Float64,
		refreshToken: "stub-refresh-0",
	}
	return s.routes()
}

func (s *stub) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "healthy", "service": "stub-zns", "sent": s.sentCount()})
	})
	mux.HandleFunc("POST /message/template", s.handleSend)
	mux.HandleFunc("POST /v4/oa/access_token", s.handleToken)
	return mux
}

func (s *stub) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *stub) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.opts.Latency > 0 {
		time.Sleep(s.opts.Latency)
	}
	if r.Header.Get("access_token") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, zns.SendResponse{Error: zns.CodeInvalidAccessToken, Message: "Access token is invalid"})
		return
	}

	var msg zns.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, zns.SendResponse{Error: zns.CodeInvalidParams, Message: "Body is not valid JSON"})
		return
	}

	switch {
	case !s.limiter.Allow():
		writeJSON(w, zns.SendResponse{Error: zns.CodeRateLimited, Message: zns.Describe(zns.CodeRateLimited)})
	case !validPhone(msg.Phone):
		writeJSON(w, zns.SendResponse{Error: zns.CodeInvalidPhone, Message: zns.Describe(zns.CodeInvalidPhone)})
	case strings.HasPrefix(msg.TemplateID, "bad"):
		writeJSON(w, zns.SendResponse{Error: zns.CodeInvalidTemplate, Message: zns.Describe(zns.CodeInvalidTemplate)})
	case s.roll() < s.opts.FailureRate:
		writeJSON(w, zns.SendResponse{Error: zns.CodeUnknown, Message: zns.Describe(zns.CodeUnknown)})
	default:
		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
		writeJSON(w, zns.SendResponse{
			Error:   zns.CodeSuccess,
			Message: "Success",
			Data: &zns.SendData{
				MsgID:       uuid.NewString(),
				SentTime:    time.Now().UTC().Format(time.RFC3339),
				SendingMode: modeOrDefault(msg.Mode),
			},
		})
	}
}

// handleToken rotates the refresh token on every call, like the real OA
// endpoint.
func (s *stub) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.Header.Get("secret_key") == "" {
		writeJSON(w, map[string]any{"error": -14003, "error_name": "Invalid parameter"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PostForm.Get("refresh_token") != s.refreshToken {
		writeJSON(w, map[string]any{"error": -14014, "error_name": "Invalid refresh token"})
		return
	}
	s.refreshToken = "stub-refresh-" + uuid.NewString()
	writeJSON(w, map[string]any{
		"access_token":  "stub-access-" + uuid.NewString(),
		"refresh_token": s.refreshToken,
		"expires_in":    strconv.Itoa(int(s.opts.TokenTTL.Seconds())),
	})
}

func validPhone(p string) bool {
	if !strings.HasPrefix(p, "84") || len(p) < 10 || len(p) > 12 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func modeOrDefault(mode string) string {
	if mode == "" {
		return "1"
	}
	return mode
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
