package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// StreamTimeouts distinguish connect, read and overall deadlines for
// HTTP operations.
type StreamTimeouts struct {
	Connect time.Duration
	Read    time.Duration
	Total   time.Duration
}

// DefaultStreamTimeouts are conservative enough for sleepy embedded
// devices.
var DefaultStreamTimeouts = StreamTimeouts{
	Connect: 5 * time.Second,
	Read:    5 * time.Second,
	Total:   10 * time.Second,
}

// StreamRequest is an outgoing HTTP-family request: SOAP POST, GENA
// SUBSCRIBE/UNSUBSCRIBE/NOTIFY, or a descriptor GET.
type StreamRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// StreamResponse is the answer to a StreamRequest.
type StreamResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Header returns a response header value.
func (r *StreamResponse) Header(name string) string {
	return r.Headers.Get(name)
}

// StreamClient issues outgoing requests with the configured timeouts.
type StreamClient struct {
	client *http.Client
}

// NewStreamClient builds a client with the given timeouts.
func NewStreamClient(timeouts StreamTimeouts) *StreamClient {
	dialer := &net.Dialer{Timeout: timeouts.Connect}
	return &StreamClient{
		client: &http.Client{
			Timeout: timeouts.Total,
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: timeouts.Read,
				MaxIdleConnsPerHost:   4,
			},
		},
	}
}

// Do performs the request and reads the whole response body.
func (c *StreamClient) Do(ctx context.Context, req *StreamRequest) (*StreamResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", req.Method, req.URL, err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response of %s %s: %w", req.Method, req.URL, err)
	}

	return &StreamResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}

// Get fetches a URL, typically a descriptor.
func (c *StreamClient) Get(ctx context.Context, url string) (*StreamResponse, error) {
	return c.Do(ctx, &StreamRequest{Method: http.MethodGet, URL: url})
}
