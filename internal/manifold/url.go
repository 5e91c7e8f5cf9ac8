package manifold

import (
	"context"
	"fmt"
	"net/http"
)

// observeURL issues a GET and returns the body, size-capped, matching the
// teacher's llm.AnthropicProvider.makeRequest request/response shape (same
// http.Client-with-timeout idiom, generalized from a fixed API endpoint to
// an arbitrary oracle-supplied URL pointer).
func (m *Manifold) observeURL(ctx context.Context, url string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("[EXEC ERROR building request]: %s", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("[EXEC ERROR %v]", err)
	}
	defer resp.Body.Close()

	body, truncated := readAll(resp.Body, m.maxStdout)
	text := string(body)
	if truncated {
		text += "\n... [output truncated]"
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("[EXEC ERROR HTTP %d]: %s", resp.StatusCode, text)
	}
	return text
}
