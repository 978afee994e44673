package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var serverAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8088", "address of a running \"orchestratorctl serve\" process")
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// postJSON POSTs body (marshaled as JSON, or no body if nil) to path on the
// configured server and decodes the response into out (if non-nil).
func postJSON(path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	resp, err := httpClient.Post(serverAddr+path, "application/json", reqBody)
	if err != nil {
		return fmt.Errorf("reach orchestratorctl serve at %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

// getJSON GETs path on the configured server and decodes the response into out.
func getJSON(path string, out any) error {
	resp, err := httpClient.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("reach orchestratorctl serve at %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
