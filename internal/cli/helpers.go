package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sentinel-ci/sentinel/internal/daemon"
)

// apiBase resolves the running daemon's base URL. SENTINEL_API_URL wins,
// otherwise the configured host and port.
func apiBase() string {
	if v := os.Getenv("SENTINEL_API_URL"); v != "" {
		return v
	}
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return "http://127.0.0.1:7466"
	}
	return fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// getJSON fetches a daemon endpoint and decodes the response into v.
func getJSON(path string, v any) error {
	resp, err := httpClient.Get(apiBase() + path)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// postJSON sends a body to a daemon endpoint, ignoring the response payload.
func postJSON(path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := httpClient.Post(apiBase()+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	return nil
}

// newTabWriter returns the standard table writer for list output.
func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// printJSON pretty-prints v to stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
