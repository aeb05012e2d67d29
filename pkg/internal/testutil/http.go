// Package testutil provides test doubles shared across auto-assign packages.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

type cannedResponse struct {
	body   []byte
	status int
}

// MockHTTPDoer implements github.HTTPDoer for testing.
// Responses are keyed by method and full URL and may be served any number of times.
type MockHTTPDoer struct {
	responses map[string]cannedResponse
	errors    map[string]error
	calls     []HTTPCall
	mu        sync.RWMutex
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{
		responses: make(map[string]cannedResponse),
		errors:    make(map[string]error),
	}
}

// Do records the request and returns the configured response, or 404.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, HTTPCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})

	key := req.Method + ":" + req.URL.String()
	if err, ok := m.errors[key]; ok {
		return nil, err
	}

	canned, ok := m.responses[key]
	if !ok {
		canned = cannedResponse{status: http.StatusNotFound, body: []byte(`{"message":"Not Found"}`)}
	}
	return &http.Response{
		StatusCode: canned.status,
		Status:     fmt.Sprintf("%d %s", canned.status, http.StatusText(canned.status)),
		Body:       io.NopCloser(bytes.NewReader(canned.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

// SetResponse configures a JSON response for a method and URL.
func (m *MockHTTPDoer) SetResponse(method, url string, statusCode int, body any) {
	var b []byte
	if body != nil {
		var err error
		b, err = json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("failed to marshal response body: %v", err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method+":"+url] = cannedResponse{status: statusCode, body: b}
}

// SetError configures a transport error for a method and URL.
func (m *MockHTTPDoer) SetError(method, url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method+":"+url] = err
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallsTo returns how many times method and url were requested.
func (m *MockHTTPDoer) CallsTo(method, url string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method && c.URL == url {
			n++
		}
	}
	return n
}
