package tse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cedulacheck/lib/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry mimics the TSE lookup application: every page issues a
// fresh token set and every postback is checked for an exact replay of
// the previously issued one.
type fakeRegistry struct {
	t            *testing.T
	initTokens   StateTokens
	resultTokens StateTokens
	details      string
	// render the search results without hidden inputs, as the real
	// site does on its error pages
	dropSearchTokens bool
	// fires while the search postback is being handled
	onSearch func()

	mu          sync.Mutex
	initCalls   int
	searchCalls int
	detailCalls int
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/consulta_cedula.aspx":
		f.initCalls++
		io.WriteString(w, formPage(f.initTokens))

	case r.Method == http.MethodPost && r.URL.Path == "/consulta_cedula.aspx":
		f.searchCalls++
		assert.Equal(f.t, f.initTokens.ViewState, r.PostFormValue("__VIEWSTATE"))
		assert.Equal(f.t, f.initTokens.ViewStateGenerator, r.PostFormValue("__VIEWSTATEGENERATOR"))
		assert.Equal(f.t, f.initTokens.EventValidation, r.PostFormValue("__EVENTVALIDATION"))
		assert.Equal(f.t, "Consultar", r.PostFormValue("btnConsultaCedula"))
		assert.NotEmpty(f.t, r.PostFormValue("txtcedula"))
		if f.onSearch != nil {
			f.onSearch()
		}
		if f.dropSearchTokens {
			io.WriteString(w, "<html><body><h1>Runtime Error</h1></body></html>")
			return
		}
		io.WriteString(w, formPage(f.resultTokens))

	case r.Method == http.MethodPost && r.URL.Path == "/resultado_persona.aspx":
		f.detailCalls++
		assert.Equal(f.t, f.resultTokens.ViewState, r.PostFormValue("__VIEWSTATE"))
		assert.Equal(f.t, f.resultTokens.ViewStateGenerator, r.PostFormValue("__VIEWSTATEGENERATOR"))
		assert.Equal(f.t, f.resultTokens.EventValidation, r.PostFormValue("__EVENTVALIDATION"))
		assert.Equal(f.t, "LinkButton11", r.PostFormValue("__EVENTTARGET"))
		io.WriteString(w, f.details)

	default:
		http.NotFound(w, r)
	}
}

func newFakeRegistry(t *testing.T, prefix, status string) *fakeRegistry {
	return &fakeRegistry{
		t: t,
		initTokens: StateTokens{
			ViewState:          prefix + "-vs0",
			ViewStateGenerator: prefix + "-gen",
			EventValidation:    prefix + "-ev0",
		},
		resultTokens: StateTokens{
			ViewState:          prefix + "-vs1",
			ViewStateGenerator: prefix + "-gen",
			EventValidation:    prefix + "-ev1",
		},
		details: detailsPage(status),
	}
}

func newTestClient(t *testing.T, baseUrl string, transport http.RoundTripper) *Client {
	client, err := NewClient(ClientOptions{
		BaseUrl:       baseUrl,
		RetryWaitTime: time.Millisecond,
		Transport:     transport,
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestFetchDetailsPage(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/tse")
	defer cleanup()

	registry := newFakeRegistry(t, "a", "SI")
	srv := httptest.NewServer(registry)
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	doc, err := client.FetchDetailsPage(context.Background(), "102920417")
	require.NoError(t, err)

	deceased, err := ParseDeceased(doc)
	require.NoError(t, err)
	require.True(t, deceased)

	require.Equal(t, 1, registry.initCalls)
	require.Equal(t, 1, registry.searchCalls)
	require.Equal(t, 1, registry.detailCalls)
}

func TestAbortsWhenResultsPageHasNoTokens(t *testing.T) {
	registry := newFakeRegistry(t, "a", "NO")
	registry.dropSearchTokens = true
	srv := httptest.NewServer(registry)
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.FetchDetailsPage(context.Background(), "102920417")
	require.Error(t, err)

	var nav *NavigationError
	require.ErrorAs(t, err, &nav)
	require.Equal(t, StepSearch, nav.Step)
	require.ErrorIs(t, err, errEmptyStateTokens)

	require.Equal(t, 0, registry.detailCalls, "details step must not run after a broken search step")
}

func TestAbortsOnHttpErrorStatus(t *testing.T) {
	var searchCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			searchCalls++
		}
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.FetchDetailsPage(context.Background(), "102920417")
	require.Error(t, err)

	var nav *NavigationError
	require.ErrorAs(t, err, &nav)
	require.Equal(t, StepInit, nav.Step)
	require.Equal(t, 0, searchCalls)
}

func TestAbandonsSequenceOnCancelledContext(t *testing.T) {
	registry := newFakeRegistry(t, "a", "NO")
	srv := httptest.NewServer(registry)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.FetchDetailsPage(ctx, "102920417")
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAbandonsSequenceWhenCancelledMidway(t *testing.T) {
	registry := newFakeRegistry(t, "a", "NO")
	srv := httptest.NewServer(registry)
	defer srv.Close()

	// cancellation lands while step 2 is in flight; steps already
	// completed stay completed, everything after is abandoned
	ctx, cancel := context.WithCancel(context.Background())
	registry.onSearch = cancel

	client := newTestClient(t, srv.URL, nil)
	_, err := client.FetchDetailsPage(ctx, "102920417")
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, registry.initCalls)
	require.Equal(t, 0, registry.detailCalls, "details step must not run after cancellation")
}

// flakyTransport fails the first n round trips at the connection
// level, then delegates.
type flakyTransport struct {
	mu    sync.Mutex
	fails int
	calls int
	next  http.RoundTripper
}

var errConnRefused = errors.New("simulated connection failure")

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	shouldFail := f.fails > 0
	if shouldFail {
		f.fails--
	}
	f.mu.Unlock()

	if shouldFail {
		return nil, errConnRefused
	}
	return f.next.RoundTrip(req)
}

func TestRetriesConnectionFailures(t *testing.T) {
	registry := newFakeRegistry(t, "a", "NO")
	srv := httptest.NewServer(registry)
	defer srv.Close()

	// two failures leave exactly one attempt within the retry budget
	transport := &flakyTransport{fails: 2, next: http.DefaultTransport}
	client := newTestClient(t, srv.URL, transport)

	doc, err := client.FetchDetailsPage(context.Background(), "102920417")
	require.NoError(t, err)

	deceased, err := ParseDeceased(doc)
	require.NoError(t, err)
	require.False(t, deceased)

	require.Equal(t, 1, registry.initCalls)
}

func TestFailsWhenRetriesExhaust(t *testing.T) {
	registry := newFakeRegistry(t, "a", "NO")
	srv := httptest.NewServer(registry)
	defer srv.Close()

	transport := &flakyTransport{fails: 100, next: http.DefaultTransport}
	client := newTestClient(t, srv.URL, transport)

	_, err := client.FetchDetailsPage(context.Background(), "102920417")
	require.Error(t, err)
	require.ErrorContains(t, err, "simulated connection failure")

	var nav *NavigationError
	require.ErrorAs(t, err, &nav)
	require.Equal(t, StepInit, nav.Step)
	require.Equal(t, 0, registry.initCalls)
	require.Equal(t, 3, transport.calls, "expected exactly three attempts")
}

// sharedRegistry serves several concurrent sessions from one endpoint,
// keying issued tokens to the session cookie the way the real
// application does. A postback carrying another session's tokens fails
// the test.
type sharedRegistry struct {
	t              *testing.T
	statusByCedula map[string]string

	mu       sync.Mutex
	nextID   int
	sessions map[string]*registrySession
}

type registrySession struct {
	initTokens   StateTokens
	resultTokens StateTokens
	cedula       string
	detailCalls  int
}

const sessionCookie = "ASP.NET_SessionId"

func (f *sharedRegistry) session(r *http.Request) *registrySession {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	return f.sessions[c.Value]
}

func (f *sharedRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/consulta_cedula.aspx":
		id := fmt.Sprintf("s%d", f.nextID)
		f.nextID++
		sess := &registrySession{
			initTokens: StateTokens{
				ViewState:          id + "-vs0",
				ViewStateGenerator: id + "-gen",
				EventValidation:    id + "-ev0",
			},
			resultTokens: StateTokens{
				ViewState:          id + "-vs1",
				ViewStateGenerator: id + "-gen",
				EventValidation:    id + "-ev1",
			},
		}
		f.sessions[id] = sess
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
		io.WriteString(w, formPage(sess.initTokens))

	case r.Method == http.MethodPost && r.URL.Path == "/consulta_cedula.aspx":
		sess := f.session(r)
		if !assert.NotNil(f.t, sess, "search postback without a session") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(f.t, sess.initTokens.ViewState, r.PostFormValue("__VIEWSTATE"))
		assert.Equal(f.t, sess.initTokens.EventValidation, r.PostFormValue("__EVENTVALIDATION"))
		sess.cedula = r.PostFormValue("txtcedula")
		io.WriteString(w, formPage(sess.resultTokens))

	case r.Method == http.MethodPost && r.URL.Path == "/resultado_persona.aspx":
		sess := f.session(r)
		if !assert.NotNil(f.t, sess, "details postback without a session") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(f.t, sess.resultTokens.ViewState, r.PostFormValue("__VIEWSTATE"))
		assert.Equal(f.t, sess.resultTokens.EventValidation, r.PostFormValue("__EVENTVALIDATION"))
		assert.Equal(f.t, "LinkButton11", r.PostFormValue("__EVENTTARGET"))
		sess.detailCalls++
		io.WriteString(w, detailsPage(f.statusByCedula[sess.cedula]))

	default:
		http.NotFound(w, r)
	}
}

func TestConcurrentLookupsAreIsolated(t *testing.T) {
	registry := &sharedRegistry{
		t: t,
		statusByCedula: map[string]string{
			"101110111": "SI",
			"202220222": "NO",
		},
		sessions: map[string]*registrySession{},
	}
	srv := httptest.NewServer(registry)
	defer srv.Close()

	// independent clients against the same endpoint, so the two
	// sequences interleave on the wire
	clientA := newTestClient(t, srv.URL, nil)
	clientB := newTestClient(t, srv.URL, nil)

	run := func(client *Client, cedula string) (bool, error) {
		doc, err := client.FetchDetailsPage(context.Background(), cedula)
		if err != nil {
			return false, err
		}
		return ParseDeceased(doc)
	}

	var wg sync.WaitGroup
	var deceasedA, deceasedB bool
	var errA, errB error

	wg.Add(2)
	go func() {
		defer wg.Done()
		deceasedA, errA = run(clientA, "101110111")
	}()
	go func() {
		defer wg.Done()
		deceasedB, errB = run(clientB, "202220222")
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	require.True(t, deceasedA)
	require.False(t, deceasedB)

	// each lookup held its own session end to end; the handler already
	// failed the test if one replayed the other's tokens
	require.Len(t, registry.sessions, 2)
	for id, sess := range registry.sessions {
		require.Equal(t, 1, sess.detailCalls, "session %s", id)
	}
}
