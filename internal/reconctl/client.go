// Package reconctl implements the operator CLI for a running reconstructd
// daemon: session registration, pipeline control and status inspection over
// the HTTP API.
package reconctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reconstructd/pkg/types"
)

// Client is a thin typed wrapper over the daemon's HTTP API.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

// apiError carries the server's structured error payload.
type apiError struct {
	Status  int
	Message string
}

func (e apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var er types.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			return apiError{Status: resp.StatusCode, Message: er.Error}
		}
		return apiError{Status: resp.StatusCode, Message: resp.Status}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) CreateSession(id string, images []string) (types.CreateSessionResponse, error) {
	var resp types.CreateSessionResponse
	err := c.do(http.MethodPost, "/sessions", types.CreateSessionRequest{SessionID: id, Images: images}, &resp)
	return resp, err
}

func (c *Client) StartProcessing(id string, req types.ProcessRequest) (types.SessionSnapshot, error) {
	var snap types.SessionSnapshot
	err := c.do(http.MethodPost, "/sessions/"+id+"/process", req, &snap)
	return snap, err
}

func (c *Client) Status(id string) (types.SessionSnapshot, error) {
	var snap types.SessionSnapshot
	err := c.do(http.MethodGet, "/sessions/"+id+"/status", nil, &snap)
	return snap, err
}

func (c *Client) Results(id string) (types.OutputManifest, error) {
	var man types.OutputManifest
	err := c.do(http.MethodGet, "/sessions/"+id+"/results", nil, &man)
	return man, err
}

func (c *Client) Cancel(id string) error {
	return c.do(http.MethodPost, "/sessions/"+id+"/cancel", nil, nil)
}

func (c *Client) Cleanup(id string) error {
	return c.do(http.MethodDelete, "/sessions/"+id, nil, nil)
}

func (c *Client) DaemonStatus() (types.StatusResponse, error) {
	var st types.StatusResponse
	err := c.do(http.MethodGet, "/status", nil, &st)
	return st, err
}

// WaitTerminal polls the session until it reaches a terminal state, invoking
// onPoll for each observed snapshot.
func (c *Client) WaitTerminal(id string, interval time.Duration, onPoll func(types.SessionSnapshot)) (types.SessionSnapshot, error) {
	for {
		snap, err := c.Status(id)
		if err != nil {
			return types.SessionSnapshot{}, err
		}
		if onPoll != nil {
			onPoll(snap)
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
		time.Sleep(interval)
	}
}
