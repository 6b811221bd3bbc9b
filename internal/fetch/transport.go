package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Request is one outgoing GET.
type Request struct {
	URL    string
	Header http.Header
}

// Response is the raw result of a request that reached the server.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport sends a request. A non-nil error means no response was received.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// CollyTransport implements Transport with a gocolly collector.
type CollyTransport struct {
	base *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyTransport builds a transport whose requests time out after timeout.
func NewCollyTransport(userAgent string, timeout time.Duration) *CollyTransport {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	if userAgent != "" {
		c.UserAgent = userAgent
	}
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	c.SetRequestTimeout(timeout)
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	return &CollyTransport{base: c}
}

// Do executes a single GET.
func (t *CollyTransport) Do(ctx context.Context, req Request) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	collector := t.base.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	configureHooks(collector, req, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return Response{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if err != nil {
			return Response{}, fmt.Errorf("colly visit failed: %w", err)
		}
		return result, nil
	}
}

func configureHooks(hooks collectorHooks, req Request, result *Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range req.Header {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*result = Response{
			Status: r.StatusCode,
			Header: header,
			Body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// Responses with a status are handed to OnResponse; only failures
		// without one are transport errors.
		if r != nil && r.StatusCode != 0 {
			header := http.Header{}
			if r.Headers != nil {
				header = r.Headers.Clone()
			}
			*result = Response{
				Status: r.StatusCode,
				Header: header,
				Body:   append([]byte(nil), r.Body...),
			}
			return
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
