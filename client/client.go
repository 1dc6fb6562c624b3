// Package client is a Go client for the leadwire HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/leadwire/leadwire/models"
)

const (
	uriRunScript  = "/run_script"
	uriSendEmails = "/send_emails"
	uriQueries    = "/queries"
)

// Opt represents the options required to initialize Client.
type Opt struct {
	RootURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client represents the leadwire API client.
type Client struct {
	o *Opt
}

// New returns a new instance of Client.
func New(o *Opt) *Client {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	return &Client{
		o: o,
	}
}

// RunScript runs the server's default query and returns the result set.
func (c *Client) RunScript(ctx context.Context) (*models.Result, error) {
	var out models.Result
	body, err := c.doHTTPReq(ctx, http.MethodPost, uriRunScript, nil, nil)
	if err != nil {
		return nil, err
	}

	// The result set isn't wrapped in the response envelope.
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("error unmarshaling query result: %w", err)
	}

	return &out, nil
}

// SendEmails posts a batch of emails. It returns once the server has sent
// all of them or the batch has failed.
func (c *Client) SendEmails(ctx context.Context, batch []models.EmailDescriptor) error {
	if batch == nil {
		batch = []models.EmailDescriptor{}
	}

	body, err := c.doHTTPReq(ctx, http.MethodPost, uriSendEmails, batch, nil)
	if err != nil {
		return err
	}

	var resp models.HTTPResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("error unmarshaling JSON response: %w", err)
	}
	c.o.Logger.Debug("emails sent", "count", len(batch), "message", resp.Message)

	return nil
}

// GetQueries fetches the queries loaded on the server. If withSQL is set,
// the SQL bodies are included.
func (c *Client) GetQueries(ctx context.Context, withSQL bool) ([]models.QueryResponse, error) {
	var q url.Values
	if withSQL {
		q = url.Values{"sql": {"1"}}
	}

	body, err := c.doHTTPReq(ctx, http.MethodGet, uriQueries, nil, q)
	if err != nil {
		return nil, err
	}

	var out []models.QueryResponse
	resp := models.HTTPResponse{Data: &out}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON response: %w", err)
	}

	return out, nil
}

// doHTTPReq makes an HTTP request with the given params and returns the
// response body. reqBody is marshalled as JSON for POST requests. A non 200
// response is returned as an error carrying the envelope's message.
func (c *Client) doHTTPReq(ctx context.Context, method, rURI string, reqBody interface{}, query url.Values) ([]byte, error) {
	var postBody io.Reader
	if reqBody != nil && method == http.MethodPost {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("error marshalling request body: %w", err)
		}
		postBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.o.RootURL+rURI, postBody)
	if err != nil {
		return nil, fmt.Errorf("request preparation failed: %w", err)
	}
	if postBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}

	r, err := c.o.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		// Drain and close the body to let the Transport reuse the connection
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	// If the response is non 200, unmarshal the error message.
	if r.StatusCode != http.StatusOK {
		var resp models.HTTPResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
			return nil, fmt.Errorf("request failed with status %d", r.StatusCode)
		}
		c.o.Logger.Error("request failed", "uri", rURI, "status", r.StatusCode, "message", resp.Message)
		return nil, errors.New(resp.Message)
	}

	return body, nil
}
