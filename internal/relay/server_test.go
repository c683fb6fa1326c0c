package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/internal/domain"
)

type fakeSession struct {
	ready bool
	err   error
	sent  []domain.OutboundRequest
}

func (f *fakeSession) Ready() bool { return f.ready }

func (f *fakeSession) SendText(_ context.Context, to domain.Address, body string) error {
	f.sent = append(f.sent, domain.OutboundRequest{To: to, Body: body})
	return f.err
}

func postSend(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, StatusResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return rr, resp
}

func newTestServer(sess domain.Session) *Server {
	return NewServer(ServerConfig{Session: sess, Logger: testLogger()})
}

func TestSend_MissingFields(t *testing.T) {
	for _, body := range []string{
		`{"mensagem":"hi"}`,
		`{"numero":"5511999999999"}`,
		`{"numero":"","mensagem":"hi"}`,
		`{"numero":"5511999999999","mensagem":""}`,
		`{}`,
		`not json`,
		`{"numero":5511999999999,"mensagem":"hi"}`,
	} {
		sess := &fakeSession{ready: true}
		rr, resp := postSend(t, newTestServer(sess), body)

		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, StatusResponse{Status: "erro", Detail: "numero e mensagem são obrigatórios"}, resp)
		assert.Empty(t, sess.sent, "no send attempted for %s", body)
	}
}

func TestSend_NotReady(t *testing.T) {
	sess := &fakeSession{ready: false}
	rr, resp := postSend(t, newTestServer(sess), `{"numero":"5511999999999","mensagem":"hi"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, StatusResponse{Status: "erro", Detail: "cliente não está pronto"}, resp)
	assert.Empty(t, sess.sent)
}

func TestSend_ValidationBeforeReadiness(t *testing.T) {
	rr, _ := postSend(t, newTestServer(&fakeSession{}), `{"numero":"5511999999999"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSend_RawNumber(t *testing.T) {
	sess := &fakeSession{ready: true}
	rr, resp := postSend(t, newTestServer(sess), `{"numero":"5511999999999","mensagem":"hi"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, StatusResponse{Status: "ok"}, resp)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Len(t, sess.sent, 1)
	assert.Equal(t, "5511999999999@c.us", sess.sent[0].To.String())
	assert.Equal(t, "hi", sess.sent[0].Body)
}

func TestSend_QualifiedPassThrough(t *testing.T) {
	sess := &fakeSession{ready: true}
	rr, _ := postSend(t, newTestServer(sess), `{"numero":"5511999999999@g.us","mensagem":"hi"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, sess.sent, 1)
	assert.Equal(t, domain.Qualified, sess.sent[0].To.Kind)
	assert.Equal(t, "5511999999999@g.us", sess.sent[0].To.String())
}

func TestSend_SessionError(t *testing.T) {
	sess := &fakeSession{ready: true, err: errors.New("number not on WhatsApp")}
	rr, resp := postSend(t, newTestServer(sess), `{"numero":"5511999999999","mensagem":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, StatusResponse{Status: "erro", Detail: "number not on WhatsApp"}, resp)
}

func TestSend_SessionDroppedMidRequest(t *testing.T) {
	sess := &fakeSession{ready: true, err: domain.ErrSessionNotReady}
	rr, resp := postSend(t, newTestServer(sess), `{"numero":"5511999999999","mensagem":"hi"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "cliente não está pronto", resp.Detail)
}

func TestRoutes(t *testing.T) {
	s := newTestServer(&fakeSession{ready: true})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/send", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "metrics are off unless configured")
}

func TestRoutes_MetricsEnabled(t *testing.T) {
	s := NewServer(ServerConfig{Session: &fakeSession{}, MetricsEndpoint: "/metrics", Logger: testLogger()})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "wabridge_uptime_seconds")
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, Session: &fakeSession{}, Logger: testLogger()})
	s.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}
