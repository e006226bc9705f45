package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestControlDecodesNestedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ImagePath != "/tmp/frame.jpg" {
			t.Fatalf("unexpected image_path: %q", req.ImagePath)
		}
		w.Write([]byte(`{"success":true,"data":{"control_result":{"tool_name":"pan","arguments":{"deg":10},"reason":"follow subject","result":"ok","success":true}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	res, err := c.Control(context.Background(), "/tmp/frame.jpg")
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	if res.ToolName != "pan" || res.Reason != "follow subject" || !res.Success {
		t.Fatalf("unexpected control result: %+v", res)
	}
}

func TestControlEndpointFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	if _, err := c.Control(context.Background(), "/tmp/f.jpg"); err == nil {
		t.Fatalf("expected an error when the endpoint reports success=false")
	}
}

func TestControlNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	if _, err := c.Control(context.Background(), "/tmp/f.jpg"); err == nil {
		t.Fatalf("expected an error for a 502 response")
	}
}
