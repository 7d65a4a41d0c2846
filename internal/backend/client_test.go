package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier/internal/backend"
)

type capturedRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      string          `json:"id"`
	Params  json.RawMessage `json:"params"`
}

func rpcServer(t *testing.T, reply func(req capturedRequest) string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		seen = append(seen, req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply(req)))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestCancelDownloadSendsParams(t *testing.T) {
	srv, seen := rpcServer(t, func(req capturedRequest) string {
		return `{"jsonrpc":"2.0","id":"` + req.ID + `","result":"cancel requested"}`
	})
	client := backend.NewClient(srv.URL, time.Second, nil)

	got, err := client.CancelDownload(context.Background(), "t1", "stalled")
	if err != nil {
		t.Fatalf("CancelDownload: %v", err)
	}
	if got != "cancel requested" {
		t.Fatalf("unexpected result %q", got)
	}
	req := (*seen)[0]
	if req.JSONRPC != "2.0" || req.Method != "cancel_download" {
		t.Fatalf("unexpected request: %+v", req)
	}
	var params map[string]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params["taskId"] != "t1" || params["reason"] != "stalled" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestRefreshOmitsParams(t *testing.T) {
	srv, seen := rpcServer(t, func(req capturedRequest) string {
		return `{"jsonrpc":"2.0","id":"` + req.ID + `","result":{"queued": 2}}`
	})
	client := backend.NewClient(srv.URL, time.Second, nil)

	got, err := client.RefreshExtractQueue(context.Background())
	if err != nil {
		t.Fatalf("RefreshExtractQueue: %v", err)
	}
	if got != `{"queued":2}` {
		t.Fatalf("unexpected result %q", got)
	}
	if len((*seen)[0].Params) != 0 {
		t.Fatalf("expected no params, got %s", (*seen)[0].Params)
	}
}

func TestRPCErrorCarriesMessage(t *testing.T) {
	srv, _ := rpcServer(t, func(req capturedRequest) string {
		return `{"jsonrpc":"2.0","id":"` + req.ID + `","error":{"code":-32000,"message":"task not found"}}`
	})
	client := backend.NewClient(srv.URL, time.Second, nil)

	_, err := client.CancelExtract(context.Background(), "x")
	var rpcErr *backend.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if err.Error() != "task not found" || rpcErr.Code != -32000 {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
}

func TestHTTPFailureIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	client := backend.NewClient(srv.URL, time.Second, nil)

	if _, err := client.CancelAllDownloads(context.Background()); err == nil {
		t.Fatal("expected error for a bad gateway response")
	}
}

func TestHTTPFailureWithJSONBodyIsReported(t *testing.T) {
	for _, body := range []string{`{}`, `{"jsonrpc":"2.0","id":"1"}`, `{"jsonrpc":"2.0","id":"1","result":"OK"}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(body))
		}))
		client := backend.NewClient(srv.URL, time.Second, nil)

		_, err := client.RefreshDownloadQueue(context.Background())
		srv.Close()
		if err == nil || !strings.Contains(err.Error(), "503") {
			t.Fatalf("body %s: expected 503 error, got %v", body, err)
		}
	}
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client := backend.NewClient(url, time.Second, nil)

	if _, err := client.CancelAllExtracts(context.Background()); err == nil {
		t.Fatal("expected error for a closed server")
	}
}
