package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// RemoteMirror copies the snapshot to a remote endpoint with an HTTP PUT.
// It is best-effort: callers run it off the write path and only log failures.
type RemoteMirror struct {
	url        string
	httpClient *http.Client
}

// MirrorSnapshot is the document sent to the remote endpoint.
type MirrorSnapshot struct {
	Version          int                    `json:"version"`
	SyncedAt         time.Time              `json:"synced_at"`
	Responsibilities []*core.Responsibility `json:"responsibilities"`
}

// NewRemoteMirror creates a mirror targeting url.
func NewRemoteMirror(url string, timeout time.Duration) *RemoteMirror {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteMirror{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Push uploads the snapshot.
func (m *RemoteMirror) Push(ctx context.Context, items []*core.Responsibility) error {
	if items == nil {
		items = []*core.Responsibility{}
	}
	body, err := json.Marshal(MirrorSnapshot{
		Version:          1,
		SyncedAt:         time.Now().UTC(),
		Responsibilities: items,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push snapshot: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
