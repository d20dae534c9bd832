package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/machines", nil)
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a generated request id on the context")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header %q = %q, want %q", RequestIDHeader, rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestRequestIDReusesIncomingHeader(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/machines", nil)
	req.Header.Set(RequestIDHeader, "caller-supplied-id")
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)

	if seen != "caller-supplied-id" {
		t.Errorf("context id = %q, want the incoming header value", seen)
	}
	if rec.Header().Get(RequestIDHeader) != "caller-supplied-id" {
		t.Errorf("response header = %q, want it echoed back", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDFromContextEmptyWithoutMiddleware(t *testing.T) {
	if got := RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Errorf("RequestIDFromContext = %q, want empty string on a bare context", got)
	}
}
