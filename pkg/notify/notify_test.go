package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	dlerrors "github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

const summary = "Incidents: 2\nActions: 2"

func TestSubject(t *testing.T) {
	assert.Equal(t, "Deanslist_Connector - Success", Subject(Report{Success: true}))
	assert.Equal(t, "Deanslist_Connector - Error", Subject(Report{}))
}

func TestSMTP_MessageIncludesLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(logFile, []byte("INFO reconciled\n"), 0o600))

	var sent []byte
	s := NewSMTP(SMTPConfig{Host: "smtp.example.org", From: "sync", To: []string{"data@example.org"}, LogFile: logFile})
	s.send = func(_ context.Context, cfg SMTPConfig, msg []byte) error {
		assert.Equal(t, 465, cfg.Port)
		sent = msg
		return nil
	}

	require.NoError(t, s.Notify(context.Background(), Report{Success: false, Summary: summary, Error: "transport error: Bayview/Incidents"}))

	msg := string(sent)
	assert.Contains(t, msg, "Subject: Deanslist_Connector - Error\r\n")
	assert.Contains(t, msg, "To: data@example.org\r\n")
	assert.Contains(t, msg, "encountered an error")
	assert.Contains(t, msg, "INFO reconciled")
	assert.Contains(t, msg, "Actions: 2")
	assert.Contains(t, msg, "transport error: Bayview/Incidents")
}

func TestSMTP_MissingLogFile(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "h", LogFile: filepath.Join(t.TempDir(), "missing.log")})
	assert.Contains(t, s.body(Report{Success: true}), "log file unavailable")
}

func TestWebhook(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Auth"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(WebhookConfig{URL: srv.URL, Headers: map[string]string{"X-Auth": "token"}})
	require.NoError(t, w.Notify(context.Background(), Report{Success: true, Summary: summary}))

	assert.True(t, got.Success)
	assert.Equal(t, summary, got.Summary)
	assert.Equal(t, "Deanslist_Connector - Success\n"+summary, got.Text)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(WebhookConfig{URL: srv.URL}).Notify(context.Background(), Report{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) Notify(context.Context, Report) error {
	f.calls++
	return f.err
}

func TestMulti_TriesAll(t *testing.T) {
	a := &fakeNotifier{err: errors.New("smtp down")}
	b := &fakeNotifier{}

	err := Multi{a, b}.Notify(context.Background(), Report{})
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeNotify))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := New(Config{}, zap.New(core))

	require.NoError(t, n.Notify(context.Background(), Report{Error: "boom"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "run failed", logs.All()[0].Message)
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["error"])
}

func TestNew_Channels(t *testing.T) {
	n := New(Config{
		SMTP:    &SMTPConfig{Host: "smtp.example.org"},
		Webhook: &WebhookConfig{URL: "http://hooks.example.org"},
	}, nil)
	assert.Len(t, n.(Multi), 3)
}
