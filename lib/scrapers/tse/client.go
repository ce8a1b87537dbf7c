package tse

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"cedulacheck/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/tse")

// DefaultBaseUrl is the TSE civil registry lookup application.
const DefaultBaseUrl = "https://servicioselectorales.tse.go.cr/chc"

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	tokens  TokenExtractor
}

type ClientOptions struct {
	BaseUrl string
	// Timeout bounds each individual request, connect and read
	// included. Defaults to 30s.
	Timeout time.Duration
	// RetryWaitTime is the initial backoff between connection
	// retries. Defaults to 500ms.
	RetryWaitTime time.Duration
	// Transport overrides the underlying http transport. Tests use
	// it to stand in for the registry.
	Transport http.RoundTripper
	// Extractor overrides how state tokens are pulled out of a
	// rendered page. Defaults to the ASP.NET hidden input set.
	Extractor TokenExtractor
}

// NewClient builds a client holding one registry session. The registry
// keys its form state to the session cookie, so a client must never be
// shared between concurrent lookups. Contexts are carried per-request
// by the navigation methods.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.RetryWaitTime == 0 {
		opts.RetryWaitTime = time.Millisecond * 500
	}
	if opts.Extractor == nil {
		opts.Extractor = aspnetExtractor{}
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.Transport != nil {
		client.GetClient().Transport = opts.Transport
	}

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(opts.Timeout)

	// three attempts total, connection failures only. error statuses
	// are surfaced to the navigator, never retried.
	client.SetRetryCount(2)
	client.SetRetryWaitTime(opts.RetryWaitTime)
	client.SetRetryMaxWaitTime(opts.RetryWaitTime * 8)

	telemetry.InstrumentResty(client, "scrapers/tse/http")

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		tokens:  opts.Extractor,
	}
	return c, nil
}
