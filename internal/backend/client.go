package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"courier/internal/config"
	"courier/internal/logging"
)

const userAgent = "courier/0.1"

// RPCError is a JSON-RPC error object returned by the backend.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("backend error %d", e.Code)
	}
	return e.Message
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Client calls the backend control RPCs.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
	seq    atomic.Uint64
}

// NewClient builds a client for rpcURL. A zero timeout leaves deadlines to
// the caller's context.
func NewClient(rpcURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:    strings.TrimSpace(rpcURL),
		http:   &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "backend"),
	}
}

// NewClientFromConfig reads the [backend] section.
func NewClientFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return NewClient(cfg.Backend.RPCURL, cfg.RequestTimeout(), logger)
}

// Call sends one request and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      strconv.FormatUint(c.seq.Add(1), 10),
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if id, ok := logging.CorrelationIDFromContext(ctx); ok {
		httpReq.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s: backend returned %s", method, resp.Status)
		}
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: backend returned %s", method, resp.Status)
	}
	c.logger.Debug("rpc completed", logging.String("method", method), logging.Int("status", resp.StatusCode))
	return out.Result, nil
}

// resultText renders a result for display: strings unquoted, anything else
// as compact JSON.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (c *Client) text(ctx context.Context, method string, params any) (string, error) {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return "", err
	}
	return resultText(raw), nil
}

type taskParams struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason,omitempty"`
}

// CancelDownload asks the backend to stop one download.
func (c *Client) CancelDownload(ctx context.Context, taskID, reason string) (string, error) {
	return c.text(ctx, "cancel_download", taskParams{TaskID: taskID, Reason: reason})
}

// CancelAllDownloads stops every queued and running download.
func (c *Client) CancelAllDownloads(ctx context.Context) (string, error) {
	return c.text(ctx, "cancel_all_downloads", nil)
}

// CancelExtract asks the backend to stop one extraction.
func (c *Client) CancelExtract(ctx context.Context, taskID string) (string, error) {
	return c.text(ctx, "cancel_extract", taskParams{TaskID: taskID})
}

// CancelAllExtracts stops every queued and running extraction.
func (c *Client) CancelAllExtracts(ctx context.Context) (string, error) {
	return c.text(ctx, "cancel_all_extracts", nil)
}

// RefreshDownloadQueue asks the backend to push a download queue snapshot.
func (c *Client) RefreshDownloadQueue(ctx context.Context) (string, error) {
	return c.text(ctx, "refresh_download_queue", nil)
}

// RefreshExtractQueue asks the backend to push an extract queue snapshot.
func (c *Client) RefreshExtractQueue(ctx context.Context) (string, error) {
	return c.text(ctx, "refresh_extract_queue", nil)
}
