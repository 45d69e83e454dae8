package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"conclave/internal/domain"
)

// ReceiveMessages opens the delivery stream for client. The relay
// replays the queued backlog first, then pushes live messages until
// ctx ends or the server closes the connection.
func (c *HTTP) ReceiveMessages(ctx context.Context, client string) (domain.MessageStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/v1/messages/"+url.PathEscape(client), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, errorFrom(http.MethodGet, req.URL.String(), resp)
	}
	return &stream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// stream decodes newline-delimited deliveries off the response body.
type stream struct {
	body io.ReadCloser
	dec  *json.Decoder
}

// Next blocks until the next delivery. io.EOF means the server closed
// the stream cleanly.
func (s *stream) Next() (domain.Delivery, error) {
	var d domain.Delivery
	if err := s.dec.Decode(&d); err != nil {
		return domain.Delivery{}, err
	}
	return d, nil
}

func (s *stream) Close() error { return s.body.Close() }

var _ domain.MessageStream = (*stream)(nil)
