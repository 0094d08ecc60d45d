// Package bluesky talks XRPC to a PDS, for managing the feed generator
// record, and to the public AppView, for hydrating posts.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultPDS     = "https://bsky.social"
	defaultAppView = "https://public.api.bsky.app"
)

var errNoSession = errors.New("not authenticated: call Login first")

// APIError is a non-2xx XRPC response.
type APIError struct {
	Method  string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	return fmt.Sprintf("%s: status %d: %s", e.Method, e.Status, msg)
}

// Client calls the PDS for procedures that need a session and the AppView
// for public queries.
type Client struct {
	pds        string
	appView    string
	httpClient *http.Client
	session    *session
}

type session struct {
	accessJwt string
	did       string
}

// NewClient creates a client. Empty hosts fall back to bsky.social and the
// public AppView.
func NewClient(pds, appView string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if appView == "" {
		appView = defaultAppView
	}
	return &Client{
		pds:        strings.TrimSuffix(pds, "/"),
		appView:    strings.TrimSuffix(appView, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Login creates a session with an app password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	resp, err := c.procedure(ctx, "com.atproto.server.createSession", "application/json", body)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	s := gjson.GetManyBytes(resp, "accessJwt", "did")
	if s[0].String() == "" || s[1].String() == "" {
		return errors.New("create session: response is missing accessJwt or did")
	}
	c.session = &session{accessJwt: s[0].String(), did: s[1].String()}
	return nil
}

// DID is the logged in account, or empty before Login.
func (c *Client) DID() string {
	if c.session == nil {
		return ""
	}
	return c.session.did
}

// query performs an unauthenticated XRPC GET against the AppView.
func (c *Client) query(ctx context.Context, nsid string, params url.Values) ([]byte, error) {
	target := c.appView + "/xrpc/" + nsid
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, nsid)
}

// procedure performs an XRPC POST against the PDS. A []byte body is sent
// as-is with contentType, anything else is JSON encoded.
func (c *Client) procedure(ctx context.Context, nsid, contentType string, body any) ([]byte, error) {
	payload, ok := body.([]byte)
	if !ok {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/"+nsid, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.session != nil {
		req.Header.Set("Authorization", "Bearer "+c.session.accessJwt)
	}
	return c.do(req, nsid)
}

func (c *Client) do(req *http.Request, nsid string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fields := gjson.GetManyBytes(body, "error", "message")
		return nil, &APIError{
			Method:  nsid,
			Status:  resp.StatusCode,
			Code:    fields[0].String(),
			Message: fields[1].String(),
		}
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: invalid JSON response", nsid)
	}
	return body, nil
}
