package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// DeansListRequest is one request received by FakeDeansList.
type DeansListRequest struct {
	Path   string
	APIKey string
	Start  string
	End    string
}

// FakeDeansList serves canned payloads keyed by API key and path.
// Unregistered paths answer {"data": []}.
type FakeDeansList struct {
	server *httptest.Server

	mu       sync.Mutex
	bodies   map[string]string
	statuses map[string]int
	requests []DeansListRequest
}

// NewFakeDeansList starts a server that is closed when the test ends.
func NewFakeDeansList(t *testing.T) *FakeDeansList {
	t.Helper()
	f := &FakeDeansList{
		bodies:   map[string]string{},
		statuses: map[string]int{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// URL is the base URL to configure the source with.
func (f *FakeDeansList) URL() string {
	return f.server.URL
}

// Serve registers body for requests to path carrying apiKey.
func (f *FakeDeansList) Serve(apiKey, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[apiKey+" "+path] = body
}

// Fail makes requests to path carrying apiKey answer status.
func (f *FakeDeansList) Fail(apiKey, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[apiKey+" "+path] = status
}

// Requests returns the requests received so far.
func (f *FakeDeansList) Requests() []DeansListRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeansListRequest(nil), f.requests...)
}

func (f *FakeDeansList) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("apikey")

	f.mu.Lock()
	f.requests = append(f.requests, DeansListRequest{
		Path:   r.URL.Path,
		APIKey: key,
		Start:  q.Get("sdt"),
		End:    q.Get("edt"),
	})
	status, failed := f.statuses[key+" "+r.URL.Path]
	body, ok := f.bodies[key+" "+r.URL.Path]
	f.mu.Unlock()

	if failed {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if !ok {
		body = `{"data": []}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
