package dpb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpTransport is the simpler of the two DPB wire protocols: one POST per
// message against http://<host>:<port>/network/<network>/<function>.
type httpTransport struct {
	client *http.Client
	base   string
}

func newHTTPTransport(cfg Config) *httpTransport {
	return &httpTransport{
		client: &http.Client{Timeout: 10 * time.Second},
		base:   fmt.Sprintf("http://%s:%d/network/%s", cfg.Host, cfg.Port, cfg.Network),
	}
}

func (t *httpTransport) Call(ctx context.Context, msgType string, payload map[string]interface{}) (map[string]interface{}, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", msgType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/"+msgType, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", msgType, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", msgType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s returned status %d: %s", msgType, resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", msgType, err)
	}
	return result, nil
}
