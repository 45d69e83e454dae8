package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"conclave/internal/domain"
)

// HTTP talks to a relay server.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a client for the relay at base.
func NewHTTP(base string) *HTTP { return &HTTP{Base: base, HTTP: http.DefaultClient} }

var _ domain.RelayClient = (*HTTP)(nil)

// UploadKeyPackage publishes pkg under client's name and returns the
// directory-assigned package id.
func (c *HTTP) UploadKeyPackage(ctx context.Context, client string, pkg []byte) (string, error) {
	var out UploadPackageResponse
	err := c.post(ctx, "/v1/keypackages/"+url.PathEscape(client), UploadPackageRequest{KeyPackage: pkg}, &out)
	if err != nil {
		return "", err
	}
	return out.PackageID, nil
}

// FetchKeyPackage returns the latest package published for client, or
// domain.ErrKeyPackageNotFound when the directory has none.
func (c *HTTP) FetchKeyPackage(ctx context.Context, client string) ([]byte, error) {
	var out FetchPackageResponse
	err := c.getJSON(ctx, "/v1/keypackages/"+url.PathEscape(client), &out)
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", client, domain.ErrKeyPackageNotFound)
	}
	if err != nil {
		return nil, err
	}
	return out.KeyPackage, nil
}

// SendMessage hands content to the relay for every recipient and
// returns the timestamp the relay stamped on it.
func (c *HTTP) SendMessage(ctx context.Context, sender string, recipients []string, content []byte) (int64, error) {
	var out SendMessageResponse
	err := c.post(ctx, "/v1/messages", SendMessageRequest{
		Sender:     sender,
		Recipients: recipients,
		Content:    content,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Timestamp, nil
}

func (c *HTTP) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errorFrom(http.MethodPost, c.Base+path, resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errorFrom(http.MethodGet, c.Base+path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError is a non-2xx reply, keeping the code inspectable.
type statusError struct {
	Method string
	URL    string
	Code   int
	Reason string
}

func (e *statusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("relay %s %s: %d %s", e.Method, e.URL, e.Code, e.Reason)
	}
	return fmt.Sprintf("relay %s %s: status %d", e.Method, e.URL, e.Code)
}

func errorFrom(method, u string, resp *http.Response) error {
	var body ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &statusError{Method: method, URL: u, Code: resp.StatusCode, Reason: body.Error}
}
