package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html/charset"
)

// httpFetcher performs non-rendered requests with a Chrome TLS fingerprint
// (utls). One fetcher per engine, bound to the engine's proxy.
type httpFetcher struct {
	client *http.Client
}

// httpResult is the outcome of one non-rendered fetch.
type httpResult struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	FinalURL    string
	ContentType string
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only, so the server never negotiates HTTP/2 (which Go's http.Transport
// cannot speak over a utls connection). Computed once and reused.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// newHTTPFetcher creates a fetcher. proxyURL, if non-empty, routes every
// request through that proxy.
func newHTTPFetcher(proxyURL string) *httpFetcher {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("httpfetch: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	return &httpFetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// fetch retrieves the URL with the given headers. HTTP-level error statuses
// are returned to the caller undisturbed; retry policy lives in the pool.
func (f *httpFetcher) fetch(ctx context.Context, targetURL string, headers map[string]string, cookies string, maxBody int64) (*httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if isHTMLContentType(contentType) {
		body = decodeToUTF8(body, contentType)
	}

	return &httpResult{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		Body:        body,
		FinalURL:    resp.Request.URL.String(),
		ContentType: contentType,
	}, nil
}

// decodeToUTF8 converts an HTML body to UTF-8 based on the Content-Type
// charset or in-document meta hints. Bodies that are already UTF-8, or whose
// encoding cannot be determined, pass through unchanged.
func decodeToUTF8(body []byte, contentType string) []byte {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return body
	}
	return decoded
}
