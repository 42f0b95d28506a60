package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stwalsh4118/hermes-playout/internal/logger"
)

const maxErrorBody = 4096

// AirClient controls one channel on the external Air renderer over JSON/HTTP.
type AirClient struct {
	baseURL   string
	channelID string
	http      *http.Client

	mu      sync.Mutex
	started bool
	stopped bool
	body    io.ReadCloser
	cancel  context.CancelFunc
}

type switchRequest struct {
	TargetBoundaryTimeUTC string `json:"target_boundary_time_utc"`
}

type previewReply struct {
	OK bool `json:"ok"`
}

// NewAirClient creates a client for channelID against the Air base URL.
// The http client should not carry an overall timeout because the stream request is
// long-lived; per-call deadlines come from the caller's context.
func NewAirClient(baseURL, channelID string, httpClient *http.Client) *AirClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &AirClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		channelID: channelID,
		http:      httpClient,
	}
}

// Start asks Air to bring the channel up and opens the output stream
func (a *AirClient) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if a.started {
		return nil
	}

	if err := a.postJSON(ctx, "start", "start", struct{}{}, nil); err != nil {
		return err
	}

	// The stream outlives the Start call, so it gets its own context
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, a.endpoint("stream"), nil)
	if err != nil {
		cancel()
		return NewRendererError(KindProtocol, "start", "build stream request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		cancel()
		return ClassifyError("start", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return NewRendererError(KindRejected, "start", fmt.Sprintf("stream returned %d", resp.StatusCode), nil)
	}

	a.body = resp.Body
	a.cancel = cancel
	a.started = true

	logger.Log.Info().
		Str("channel_id", a.channelID).
		Str("renderer", a.baseURL).
		Msg("Air renderer started")
	return nil
}

// Stop closes the output stream and asks Air to release the channel
func (a *AirClient) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	wasStarted := a.started
	if a.cancel != nil {
		a.cancel()
	}
	if a.body != nil {
		_ = a.body.Close()
	}
	a.mu.Unlock()

	if !wasStarted {
		return nil
	}
	return a.postJSON(ctx, "stop", "stop", struct{}{}, nil)
}

// LoadPreview stages the next segment on Air
func (a *AirClient) LoadPreview(ctx context.Context, req PreviewRequest) (bool, error) {
	var reply previewReply
	if err := a.postJSON(ctx, "preview", "preview", req, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// SwitchToLive asks Air to take the staged segment live at boundary
func (a *AirClient) SwitchToLive(ctx context.Context, boundary time.Time) (SwitchResult, error) {
	body := switchRequest{TargetBoundaryTimeUTC: boundary.UTC().Format(time.RFC3339Nano)}
	var result SwitchResult
	if err := a.postJSON(ctx, "switch", "switch", body, &result); err != nil {
		return SwitchResult{}, err
	}
	if result.Status == "" {
		return result, NewRendererError(KindProtocol, "switch", "reply missing status", nil)
	}
	return result, nil
}

// OnPacedTick is a no-op; Air paces its own output
func (a *AirClient) OnPacedTick(time.Time) {}

// Output returns the stream body opened by Start
func (a *AirClient) Output() io.Reader {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.body == nil {
		return eofReader{}
	}
	return a.body
}

func (a *AirClient) endpoint(action string) string {
	return fmt.Sprintf("%s/channels/%s/%s", a.baseURL, url.PathEscape(a.channelID), action)
}

func (a *AirClient) postJSON(ctx context.Context, op, action string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return NewRendererError(KindProtocol, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(action), bytes.NewReader(payload))
	if err != nil {
		return NewRendererError(KindProtocol, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return ClassifyError(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return NewRendererError(KindRejected, op,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewRendererError(KindProtocol, op, "decode reply", err)
	}
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
