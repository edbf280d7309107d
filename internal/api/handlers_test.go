package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"travelbot/internal/auth"
	"travelbot/internal/credential"
	"travelbot/internal/models"
	"travelbot/internal/service/ai"
	"travelbot/internal/service/assistant"
	"travelbot/internal/storage"
	"travelbot/internal/worker"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, db, _, inv := newTestServer(t)

	health := doJSONRequest(t, router, http.MethodGet, "/api/healthz", nil, nil)
	assertStatus(t, health, http.StatusOK)

	sessionID, authHeader := createSession(t, router)
	if got := countMessages(t, db, sessionID); got != 1 {
		t.Fatalf("expected greeting only, got %d messages", got)
	}

	// No credential yet: the turn is refused before anything is stored.
	resp := doJSONRequest(t, router, http.MethodPost, "/api/session/messages",
		map[string]string{"content": "Tell me about safaris in Kenya"}, authHeader)
	assertStatus(t, resp, http.StatusPreconditionFailed)
	if got := countMessages(t, db, sessionID); got != 1 {
		t.Fatalf("missing credential must not store the message, got %d", got)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/session/credential",
		map[string]string{"token": "sk-not-a-replicate-key"}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/session/credential",
		map[string]string{"token": validToken("a")}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var credBody struct {
		Credential assistant.CredentialStatus `json:"credential"`
	}
	decodeJSON(t, resp.Body.Bytes(), &credBody)
	if !credBody.Credential.Set || credBody.Credential.Source != credential.SourceCustom {
		t.Fatalf("unexpected credential status %+v", credBody.Credential)
	}

	// On-topic turn streams the reply.
	first := "Tell me about safaris in Kenya"
	resp = postSSE(t, router, "/api/session/messages", map[string]string{"content": first}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 4 SSE events, got %d: %#v", len(events), events)
	}
	if events[0].Name != "ack" || events[1].Name != "stream" || events[2].Name != "stream" || events[3].Name != "done" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	var ackPayload struct {
		Message struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ackPayload)
	if ackPayload.Message.Content != first || ackPayload.Message.Role != "user" {
		t.Fatalf("ack payload mismatch: %+v", ackPayload.Message)
	}
	var donePayload struct {
		Title string `json:"title"`
		AI    struct {
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(events[3].Data), &donePayload)
	if donePayload.AI.Content != "Kenya has great parks." {
		t.Fatalf("unexpected reply %q", donePayload.AI.Content)
	}
	if donePayload.Title != first {
		t.Fatalf("unexpected title %q", donePayload.Title)
	}
	if got := countMessages(t, db, sessionID); got != 3 {
		t.Fatalf("expected 3 messages, got %d", got)
	}

	// Off-topic turn gets the canned refusal without a model call.
	calls := inv.calls()
	resp = postSSE(t, router, "/api/session/messages",
		map[string]string{"content": "What's the capital of France?"}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	events = parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[0].Name != "ack" || events[1].Name != "refusal" {
		t.Fatalf("unexpected SSE sequence for refusal: %#v", events)
	}
	if !strings.Contains(events[1].Data, "travel") {
		t.Fatalf("refusal payload missing message: %s", events[1].Data)
	}
	if inv.calls() != calls {
		t.Fatalf("model must not be called for off-topic input")
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/session", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var sessionBody struct {
		Session  models.Session    `json:"session"`
		Messages []*models.Message `json:"messages"`
		Busy     bool              `json:"busy"`
	}
	decodeJSON(t, resp.Body.Bytes(), &sessionBody)
	if len(sessionBody.Messages) != 5 || sessionBody.Busy {
		t.Fatalf("unexpected session snapshot: %d messages busy=%v", len(sessionBody.Messages), sessionBody.Busy)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/session/reset", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	if got := countMessages(t, db, sessionID); got != 1 {
		t.Fatalf("reset should leave the greeting only, got %d", got)
	}

	resp = doJSONRequest(t, router, http.MethodPut, "/api/session/model",
		map[string]string{"model": models.Llama2_13B}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	resp = doJSONRequest(t, router, http.MethodPut, "/api/session/model",
		map[string]string{"model": "gpt-5"}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/session/rating",
		map[string]int{"stars": 5}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), "Thank you for rating us 5 stars!") {
		t.Fatalf("unexpected rating ack: %s", resp.Body.String())
	}
	resp = doJSONRequest(t, router, http.MethodPost, "/api/session/rating",
		map[string]int{"stars": 6}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/session/end", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)
	resp = doJSONRequest(t, router, http.MethodGet, "/api/session", nil, authHeader)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestListModels(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	resp := doJSONRequest(t, router, http.MethodGet, "/api/models", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Models) != 2 || body.Default != models.Llama2_7B {
		t.Fatalf("unexpected catalog %+v", body)
	}
}

func TestCreateSessionWithModel(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions",
		map[string]string{"model": models.Llama2_13B}, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Session models.Session `json:"session"`
		Warning string         `json:"warning"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Session.ModelName != models.Llama2_13B {
		t.Fatalf("expected selected model, got %q", body.Session.ModelName)
	}
	if body.Warning == "" {
		t.Fatalf("expected missing credential warning")
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/sessions",
		map[string]string{"model": "unknown"}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestSubmitEmptyInput(t *testing.T) {
	router, db, _, _ := newTestServer(t)
	sessionID, authHeader := createReadySession(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/session/messages",
		map[string]string{"content": "   "}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(resp.Body.String(), assistant.EmptyInputWarning) {
		t.Fatalf("expected validation warning, got %s", resp.Body.String())
	}
	if got := countMessages(t, db, sessionID); got != 1 {
		t.Fatalf("empty input must not change state, got %d messages", got)
	}
}

func TestSubmitInvocationError(t *testing.T) {
	router, db, _, inv := newTestServer(t)
	sessionID, authHeader := createReadySession(t, router)
	inv.setErr(&ai.InvocationError{Kind: ai.KindAuth, Err: errors.New("401")})

	resp := postSSE(t, router, "/api/session/messages",
		map[string]string{"content": "Best hotels in Lisbon?"}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[0].Name != "ack" || events[1].Name != "error" {
		t.Fatalf("expected ack and error events, got %#v", events)
	}
	if !strings.Contains(events[1].Data, "auth") {
		t.Fatalf("error payload missing kind: %s", events[1].Data)
	}
	if got := countMessages(t, db, sessionID); got != 2 {
		t.Fatalf("user message should be kept without a reply, got %d messages", got)
	}
}

func TestSubmitRejectedByWorkers(t *testing.T) {
	router, _, handler, _ := newTestServer(t)
	_, authHeader := createReadySession(t, router)

	stub := &stubWorkers{WorkerManager: handler.workers}
	handler.workers = stub

	cases := []struct {
		err    error
		status int
	}{
		{worker.ErrTurnInFlight, http.StatusConflict},
		{worker.ErrDispatcherBusy, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		stub.streamErr = tc.err
		resp := doJSONRequest(t, router, http.MethodPost, "/api/session/messages",
			map[string]string{"content": "travel tips"}, authHeader)
		assertStatus(t, resp, tc.status)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	_, readyHeader := createReadySession(t, router)
	_, otherHeader := createSession(t, router)

	resp := postSSE(t, router, "/api/session/messages",
		map[string]string{"content": "hotels in Rome"}, readyHeader)
	assertStatus(t, resp, http.StatusOK)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/session/messages",
		map[string]string{"content": "hotels in Rome"}, otherHeader)
	assertStatus(t, resp, http.StatusPreconditionFailed)
}

func TestClearCredential(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	_, authHeader := createReadySession(t, router)

	resp := doJSONRequest(t, router, http.MethodDelete, "/api/session/credential", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/session/credential", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Credential assistant.CredentialStatus `json:"credential"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Credential.Set {
		t.Fatalf("credential should be cleared")
	}
}

func TestCookieAuthRequiresCSRF(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	cookies := resp.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected session and csrf cookies, got %d", len(cookies))
	}
	var csrf string
	for _, ck := range cookies {
		if ck.Name == "csrf_token" {
			csrf = ck.Value
		}
	}

	send := func(withCSRF bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/session/reset", nil)
		for _, ck := range cookies {
			req.AddCookie(ck)
		}
		if withCSRF {
			req.Header.Set("X-CSRF-Token", csrf)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	assertStatus(t, send(false), http.StatusForbidden)
	assertStatus(t, send(true), http.StatusOK)
}

func TestEndSessionDelete(t *testing.T) {
	router, db, _, _ := newTestServer(t)
	sessionID, authHeader := createReadySession(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/session/end",
		map[string]bool{"delete": true}, authHeader)
	assertStatus(t, resp, http.StatusNoContent)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&count); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 0 {
		t.Fatalf("session should be deleted")
	}
	resp = doJSONRequest(t, router, http.MethodGet, "/api/session", nil, authHeader)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestSessionEventsWebsocket(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/events?token=" + body.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap wsSnapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "snapshot" || len(snap.Messages) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/session/reset", nil)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("reset status %d", httpResp.StatusCode)
	}

	var ev assistant.SessionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != assistant.EventReset || len(ev.Messages) != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSessionEventsDeliversMutationDuringSnapshot(t *testing.T) {
	router, _, handler, _ := newTestServer(t)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)

	stub := &stubWorkers{WorkerManager: handler.workers}
	var once sync.Once
	stub.beforeSnapshot = func(sessionID int64) {
		once.Do(func() {
			if _, err := handler.assistant.SelectModel(context.Background(), sessionID, models.Llama2_13B); err != nil {
				t.Errorf("select model: %v", err)
			}
		})
	}
	handler.workers = stub

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/events?token=" + body.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap wsSnapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "snapshot" {
		t.Fatalf("unexpected first frame %+v", snap)
	}
	var ev assistant.SessionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("model change was not delivered: %v", err)
	}
	if ev.Type != assistant.EventModel || ev.Model != models.Llama2_13B {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{assistant.ErrEmptyInput, http.StatusBadRequest},
		{fmt.Errorf("select: %w", assistant.ErrUnknownModel), http.StatusBadRequest},
		{credential.ErrInvalid, http.StatusBadRequest},
		{credential.ErrMissing, http.StatusPreconditionFailed},
		{sql.ErrNoRows, http.StatusNotFound},
		{worker.ErrTurnInFlight, http.StatusConflict},
		{worker.ErrDispatcherBusy, http.StatusTooManyRequests},
		{worker.ErrManagerClosed, http.StatusServiceUnavailable},
		{&ai.InvocationError{Kind: ai.KindTransport, Err: errors.New("dial")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

type stubInvoker struct {
	mu        sync.Mutex
	fragments []string
	err       error
	n         int
}

func (s *stubInvoker) ResolveCredential(mc models.ModelConfig, token string) (string, error) {
	if !credential.Valid(token) {
		return "", credential.ErrMissing
	}
	return token, nil
}

func (s *stubInvoker) Generate(ctx context.Context, transcript string, mc models.ModelConfig, token string) (*schema.StreamReader[*schema.Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.err != nil {
		return nil, s.err
	}
	msgs := make([]*schema.Message, 0, len(s.fragments))
	for _, fr := range s.fragments {
		msgs = append(msgs, schema.AssistantMessage(fr, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (s *stubInvoker) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *stubInvoker) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type stubWorkers struct {
	WorkerManager
	streamErr      error
	beforeSnapshot func(sessionID int64)
}

func (s *stubWorkers) Snapshot(ctx context.Context, sessionID int64) (*models.Session, []*models.Message, error) {
	if s.beforeSnapshot != nil {
		s.beforeSnapshot(sessionID)
	}
	return s.WorkerManager.Snapshot(ctx, sessionID)
}

func (s *stubWorkers) Stream(ctx context.Context, req assistant.TurnRequest) (*assistant.TurnResult, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	return s.WorkerManager.Stream(ctx, req)
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB, *Handler, *stubInvoker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("REPLICATE_API_KEY", "")
	t.Setenv("REPLICATE_API_TOKEN", "")
	t.Setenv("TRAVELBOT_CREDENTIAL_KEY", "")

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	catalog, err := models.NewCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	inv := &stubInvoker{fragments: []string{"Kenya has ", "great parks."}}
	asst, err := assistant.NewService(db, catalog, inv, assistant.Options{TurnTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("assistant service: %v", err)
	}
	authSvc := auth.NewService(db, nil, time.Hour)
	manager := worker.NewManager(asst, worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4}, nil)
	t.Cleanup(manager.Close)

	handler := NewHandler(asst, authSvc, manager, nil)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, handler, inv
}

func createSession(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Token    string            `json:"session_token"`
		Session  models.Session    `json:"session"`
		Messages []*models.Message `json:"messages"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Token == "" || body.Session.ID <= 0 {
		t.Fatalf("expected token and session id, got %s", resp.Body.String())
	}
	if len(body.Messages) != 1 || body.Messages[0].Content != assistant.Greeting {
		t.Fatalf("expected greeting, got %+v", body.Messages)
	}
	return body.Session.ID, map[string]string{"Authorization": "Bearer " + body.Token}
}

func createReadySession(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	sessionID, authHeader := createSession(t, router)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/session/credential",
		map[string]string{"token": validToken("b")}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	return sessionID, authHeader
}

func validToken(fill string) string {
	return credential.Prefix + strings.Repeat(fill, credential.Length-len(credential.Prefix))
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countMessages(t *testing.T, db *sql.DB, sessionID int64) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}
