package cedula

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cedulacheck/lib/scrapers/tse"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/cedula")

// ErrMissingCedula is returned before any network activity when the
// lookup key is empty.
var ErrMissingCedula = errors.New("missing 'cedula' parameter")

type Options struct {
	BaseUrl string
	Timeout time.Duration
	// Transport overrides the scraper's http transport. Tests use it
	// to stand in for the registry.
	Transport http.RoundTripper
}

type Service struct {
	opts Options
}

func NewService(opts Options) Service {
	return Service{opts: opts}
}

// LookupResult is the outcome of one registry lookup. It is returned
// to the caller and never stored.
type LookupResult struct {
	Fallecido bool              `json:"fallecido"`
	Cedula    string            `json:"cedula"`
	Detalles  map[string]string `json:"detalles,omitempty"`
}

// Lookup answers whether the person behind the cedula is marked
// deceased in the registry. Every call builds its own scraper client
// and cookie jar; the registry keys its form state to the session, so
// two in-flight lookups sharing one would silently read each other's
// results. This is also the boundary where scraper errors stop: callers
// get a result or a failure message, never a raw transport fault.
func (s Service) Lookup(ctx context.Context, cedula string) (LookupResult, error) {
	ctx, span := tracer.Start(ctx, "service:Lookup")
	defer span.End()

	if strings.TrimSpace(cedula) == "" {
		span.SetStatus(codes.Error, ErrMissingCedula.Error())
		return LookupResult{}, ErrMissingCedula
	}

	client, err := tse.NewClient(tse.ClientOptions{
		BaseUrl:   s.opts.BaseUrl,
		Timeout:   s.opts.Timeout,
		Transport: s.opts.Transport,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create registry client")
		return LookupResult{}, fmt.Errorf("create registry client: %w", err)
	}

	doc, err := client.FetchDetailsPage(ctx, cedula)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch details page")
		return LookupResult{}, fmt.Errorf("fetch details page: %w", err)
	}

	deceased, err := tse.ParseDeceased(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse details page")
		return LookupResult{}, fmt.Errorf("parse details page: %w", err)
	}

	return LookupResult{
		Fallecido: deceased,
		Cedula:    cedula,
		Detalles:  tse.ParseDetails(doc),
	}, nil
}
