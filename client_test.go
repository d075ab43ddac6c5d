package h3client

import (
	"net/http"
	"testing"

	"marchproxy-h3client/internal/assembly"
)

func TestNewRejectsEmptyPeer(t *testing.T) {
	if _, err := New(""); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestBuildMissingField(t *testing.T) {
	c := &Client{peerAddr: "peer.example.com:4433"}
	b := newBuilder(c, "", "/test")
	if _, _, err := b.build(); err != ErrMissingField {
		t.Fatalf("expected ErrMissingField for empty method, got %v", err)
	}
}

func TestBuildGetHeaders(t *testing.T) {
	c := &Client{peerAddr: "peer.example.com:4433"}
	b := newBuilder(c, "GET", "/test").SetUserAgent("demo/1.0").Header("x-custom", "v1")

	src, headers, err := b.build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src != nil {
		t.Error("expected no body source for GET")
	}
	if headers.Get("accept") != "*/*" {
		t.Errorf("expected accept=*/*, got %q", headers.Get("accept"))
	}
	if headers.Get("user-agent") != "demo/1.0" {
		t.Errorf("expected user-agent to be set, got %q", headers.Get("user-agent"))
	}
	if headers.Get("x-custom") != "v1" {
		t.Errorf("expected custom header preserved, got %q", headers.Get("x-custom"))
	}
}

func TestBuildPostSetsContentLengthAndType(t *testing.T) {
	c := &Client{peerAddr: "peer.example.com:4433"}
	b := newBuilder(c, http.MethodPost, "/upload")
	b.bodySource = newInMemoryBody([]byte("hello"))
	b.SetContentType(ContentTypeJSON)

	src, headers, err := b.build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src == nil {
		t.Fatal("expected a body source for POST")
	}
	if headers.Get("content-length") != "5" {
		t.Errorf("expected content-length 5, got %q", headers.Get("content-length"))
	}
	if headers.Get("content-type") != "application/json" {
		t.Errorf("expected content-type application/json, got %q", headers.Get("content-type"))
	}
}

func TestBuildPostRequiresBody(t *testing.T) {
	c := &Client{peerAddr: "peer.example.com:4433"}
	b := newBuilder(c, http.MethodPost, "/upload")
	if _, _, err := b.build(); err != ErrMissingField {
		t.Fatalf("expected ErrMissingField for POST with no body, got %v", err)
	}
}

func TestBuildPostEmptyPayloadRejected(t *testing.T) {
	c := &Client{peerAddr: "peer.example.com:4433"}
	b := newBuilder(c, http.MethodPost, "/upload")
	b.bodySource = newInMemoryBody(nil)
	if _, _, err := b.build(); err != ErrEmptyPayload {
		t.Fatalf("expected ErrEmptyPayload for known-zero-length POST body, got %v", err)
	}
}

func TestCompletedResponseAccessors(t *testing.T) {
	resp := WrapResponse(assembly.CompletedResponse{
		Status:  200,
		Headers: map[string][]string{"content-type": {"application/json"}},
		Data:    []byte(`{"ok":true}`),
	})

	if resp.Status() != 200 {
		t.Errorf("expected status 200, got %d", resp.Status())
	}
	if resp.Headers()["content-type"][0] != "application/json" {
		t.Errorf("unexpected headers: %v", resp.Headers())
	}
	if string(resp.RawData()) != `{"ok":true}` {
		t.Errorf("unexpected raw data: %s", resp.RawData())
	}

	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := resp.GetJSON(&parsed); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !parsed.OK {
		t.Error("expected parsed.OK to be true")
	}
}

func TestCompletedResponseGetJSONEmptyBody(t *testing.T) {
	resp := WrapResponse(assembly.CompletedResponse{Status: 200})
	var v any
	if err := resp.GetJSON(&v); err == nil {
		t.Error("expected error unmarshaling an empty body")
	}
}

func TestContentTypeString(t *testing.T) {
	cases := map[ContentType]string{
		ContentTypeNone:        "",
		ContentTypeJSON:        "application/json",
		ContentTypeOctetStream: "application/octet-stream",
		ContentTypeTextPlain:   "text/plain",
	}
	for ct, want := range cases {
		if got := ct.String(); got != want {
			t.Errorf("ContentType(%d).String() = %q, want %q", ct, got, want)
		}
	}
}
