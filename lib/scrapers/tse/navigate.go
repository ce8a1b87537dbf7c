package tse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const (
	searchPage = "/consulta_cedula.aspx"
	resultPage = "/resultado_persona.aspx"
)

// steps of the postback sequence, in the order they run.
const (
	StepInit    = "init"
	StepSearch  = "search"
	StepDetails = "details"
)

// NavigationError reports which step of the postback sequence failed.
type NavigationError struct {
	Step string
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %s", e.Step, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

var errEmptyStateTokens = errors.New("page carries no state tokens, likely an error or redirect page")

// FetchDetailsPage drives the three-step postback sequence for one
// cedula and returns the rendered details page. Each step replays the
// state tokens extracted from the previous response; a failure at any
// step aborts the rest, nothing partial is ever returned.
func (c *Client) FetchDetailsPage(ctx context.Context, cedula string) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "client:FetchDetailsPage")
	defer span.End()

	_, tokens, err := c.postback(ctx, StepInit, searchPage, nil)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch search form")
		return nil, err
	}
	if tokens.IsEmpty() {
		span.SetStatus(codes.Error, "search form carried no state tokens")
		return nil, &NavigationError{Step: StepInit, Err: errEmptyStateTokens}
	}

	slog.DebugContext(ctx, "submitting cedula search", "cedula", cedula)

	form := tokens.FormData()
	form["txtcedula"] = cedula
	form["btnConsultaCedula"] = "Consultar"
	_, tokens, err = c.postback(ctx, StepSearch, searchPage, form)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit search")
		return nil, err
	}
	if tokens.IsEmpty() {
		span.SetStatus(codes.Error, "results page carried no state tokens")
		return nil, &NavigationError{Step: StepSearch, Err: errEmptyStateTokens}
	}

	slog.DebugContext(ctx, "activating details view", "cedula", cedula)

	form = tokens.FormData()
	form["__EVENTTARGET"] = "LinkButton11"
	form["__EVENTARGUMENT"] = ""
	doc, _, err := c.postback(ctx, StepDetails, resultPage, form)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch details page")
		return nil, err
	}

	return doc, nil
}

// postback performs one step against the registry: a GET when form is
// nil, otherwise a form-encoded POST. It hands back the parsed page
// together with the state tokens the page issued for the next step.
func (c *Client) postback(ctx context.Context, step, page string, form map[string]string) (*goquery.Document, StateTokens, error) {
	req := c.Http.R().SetContext(ctx)

	var res *resty.Response
	var err error
	if form == nil {
		res, err = req.Get(page)
	} else {
		res, err = req.SetFormData(form).Post(page)
	}
	if err != nil {
		return nil, StateTokens{}, &NavigationError{Step: step, Err: err}
	}
	if res.IsError() {
		return nil, StateTokens{}, &NavigationError{
			Step: step,
			Err:  fmt.Errorf("unexpected status %s", res.Status()),
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, StateTokens{}, &NavigationError{Step: step, Err: err}
	}

	return doc, c.tokens.Extract(doc), nil
}
