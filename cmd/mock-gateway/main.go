package main

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

// Stand-in for the SMS gateway in local/dev environments: accepts sends,
// posts signed status callbacks, and serves a message-history endpoint that
// the compliance sync can scan. Outcomes cycle through MOCK_OUTCOMES.
type config struct {
	AccountID      string `envconfig:"MOCK_ACCOUNT_ID" default:"mock_account"`
	AuthToken      string `envconfig:"MOCK_AUTH_TOKEN" default:"mock_token"`
	Port           string `envconfig:"PORT" default:"8080"`
	OutcomesRaw    string `envconfig:"MOCK_OUTCOMES" default:"delivered"`
	DelayMs        int    `envconfig:"MOCK_DELAY_MS" default:"0"`
	WebhookURL     string `envconfig:"MOCK_WEBHOOK_URL" default:""`
	WebhookDelayMs int    `envconfig:"MOCK_WEBHOOK_DELAY_MS" default:"300"`

	outcomes []string
}

type message struct {
	Sid         string `json:"sid"`
	To          string `json:"to"`
	From        string `json:"from"`
	Body        string `json:"body"`
	Status      string `json:"status"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Direction   string `json:"direction"`
	NumSegments string `json:"num_segments"`
	DateSent    string `json:"date_sent"`
}

type server struct {
	cfg    config
	idx    uint64
	client *http.Client

	mu      sync.Mutex
	history []message
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock gateway config load failed", "err", err)
		os.Exit(1)
	}
	cfg.outcomes = parseCSV(cfg.OutcomesRaw)

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	s := &server{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	s.seedInboundReplies()

	router := mux.NewRouter()
	router.HandleFunc("/2010-04-01/Accounts/{AccountSid}/Messages.json", s.handleSend).Methods(http.MethodPost)
	router.HandleFunc("/2010-04-01/Accounts/{AccountSid}/Messages.json", s.handleList).Methods(http.MethodGet)

	slog.Info("mock gateway listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		slog.Error("mock gateway server failed", "err", err)
		os.Exit(1)
	}
}

// seedInboundReplies plants a couple of inbound opt-out messages so a sync
// run against the mock has something to find.
func (s *server) seedInboundReplies() {
	now := time.Now().UTC()
	s.history = append(s.history,
		message{
			Sid: "SMseed0001", To: s.cfg.AccountID, From: "+15550000001",
			Body: "STOP", Status: "received", Direction: "inbound",
			NumSegments: "1", DateSent: now.Add(-24 * time.Hour).Format(time.RFC1123Z),
		},
		message{
			Sid: "SMseed0002", To: s.cfg.AccountID, From: "+15550000002",
			Body: "please unsubscribe", Status: "received", Direction: "inbound",
			NumSegments: "1", DateSent: now.Add(-48 * time.Hour).Format(time.RFC1123Z),
		},
	)
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.checkBasicAuth(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Authentication Error", "code": 20003})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid form data", "code": 21620})
		return
	}
	to := r.Form.Get("To")
	body := r.Form.Get("Body")
	if to == "" || body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Missing required parameter", "code": 21602})
		return
	}
	if r.Form.Get("From") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "From is required", "code": 21606})
		return
	}

	if s.cfg.DelayMs > 0 {
		time.Sleep(time.Duration(s.cfg.DelayMs) * time.Millisecond)
	}

	outcome := s.nextOutcome()
	if outcome == "server_error" {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "server error", "code": 20500})
		return
	}

	sid := fmt.Sprintf("SM%06d", atomic.AddUint64(&s.idx, 1))
	segments := 1 + len(body)/160

	m := message{
		Sid: sid, To: to, From: r.Form.Get("From"), Body: body,
		Status: "queued", Direction: "outbound-api",
		NumSegments: strconv.Itoa(segments),
		DateSent:    time.Now().UTC().Format(time.RFC1123Z),
	}
	s.mu.Lock()
	s.history = append([]message{m}, s.history...)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"sid": sid, "status": "queued", "num_segments": strconv.Itoa(segments),
	})

	cb := r.Form.Get("StatusCallback")
	if cb == "" {
		cb = s.cfg.WebhookURL
	}
	s.postCallbacks(cb, sid, outcome, strconv.Itoa(segments))
}

// handleList serves pages of message history, newest first, the same shape
// and paging scheme the real gateway uses.
func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.checkBasicAuth(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Authentication Error", "code": 20003})
		return
	}

	const pageSize = 50
	page, _ := strconv.Atoi(r.URL.Query().Get("Page"))

	s.mu.Lock()
	all := make([]message, len(s.history))
	copy(all, s.history)
	s.mu.Unlock()

	start := page * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	next := ""
	if end < len(all) {
		next = fmt.Sprintf("%s?Page=%d", r.URL.Path, page+1)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages":      all[start:end],
		"next_page_uri": next,
	})
}

func (s *server) postCallbacks(callbackURL, sid, outcome, segments string) {
	if callbackURL == "" {
		return
	}
	go func() {
		time.Sleep(time.Duration(s.cfg.WebhookDelayMs) * time.Millisecond)

		status := outcome
		errCode := ""
		switch outcome {
		case "failed":
			errCode = "30008"
		case "undelivered":
			errCode = "30003"
		}

		form := url.Values{}
		form.Set("MessageSid", sid)
		form.Set("MessageStatus", status)
		form.Set("ErrorCode", errCode)
		form.Set("NumSegments", segments)

		sig := signature(s.cfg.AuthToken, callbackURL, form)
		req, _ := http.NewRequest(http.MethodPost, callbackURL, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", sig)

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Error("mock gateway callback failed", "url", callbackURL, "err", err)
			return
		}
		_ = resp.Body.Close()

		s.mu.Lock()
		for i := range s.history {
			if s.history[i].Sid == sid {
				s.history[i].Status = status
				if errCode != "" {
					s.history[i].ErrorCode, _ = strconv.Atoi(errCode)
				}
				break
			}
		}
		s.mu.Unlock()
	}()
}

func (s *server) nextOutcome() string {
	if len(s.cfg.outcomes) == 1 {
		return s.cfg.outcomes[0]
	}
	if s.cfg.outcomes[0] == "random" {
		picks := s.cfg.outcomes[1:]
		return picks[rand.Intn(len(picks))]
	}
	idx := atomic.LoadUint64(&s.idx)
	return s.cfg.outcomes[int(idx)%len(s.cfg.outcomes)]
}

func (s *server) checkBasicAuth(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return user == s.cfg.AccountID && pass == s.cfg.AuthToken
}

func signature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{"delivered"}
	}
	return out
}
