package predict

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RemotePredictor asks an inference service for the cluster. The chunk is
// posted as little-endian float32 samples; the service answers with
// {"cluster": n}.
type RemotePredictor struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewRemotePredictor creates a predictor posting to url.
func NewRemotePredictor(url string, timeout time.Duration) *RemotePredictor {
	return &RemotePredictor{url: url, client: &http.Client{}, timeout: timeout}
}

type remoteResponse struct {
	Cluster *int   `json:"cluster"`
	Error   string `json:"error,omitempty"`
}

// Predict performs one request, bounded by the configured timeout.
func (r *RemotePredictor) Predict(ctx context.Context, chunk []float32, sampleRate int) (int, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	body := new(bytes.Buffer)
	body.Grow(len(chunk) * 4)
	if err := binary.Write(body, binary.LittleEndian, chunk); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return 0, fmt.Errorf("can't build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", strconv.Itoa(sampleRate))

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("prediction service returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("can't decode prediction response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("prediction service error: %s", out.Error)
	}
	if out.Cluster == nil {
		return 0, fmt.Errorf("prediction response has no cluster")
	}
	return *out.Cluster, nil
}
