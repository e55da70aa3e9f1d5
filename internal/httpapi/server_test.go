package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/musicbox-go/internal/timeline"
)

type fakeTransport struct {
	store    *timeline.Store
	startErr error
	starts   int
	stops    int
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.store.SetPlaying(true)
	return nil
}

func (f *fakeTransport) Stop() {
	f.stops++
	f.store.SetPlaying(false)
	f.store.SetCurrentStep(timeline.NoStep)
}

func newTestServer(t *testing.T) (*httptest.Server, *timeline.Store, *fakeTransport) {
	t.Helper()
	store := timeline.NewStore()
	tr := &fakeTransport{store: store}
	logger, _ := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	srv := httptest.NewServer(New(store, tr, WithLogger(logger)).Handler())
	t.Cleanup(srv.Close)
	return srv, store, tr
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeState(t *testing.T, resp *http.Response) State {
	t.Helper()
	var st State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestToggleNote(t *testing.T) {
	srv, store, _ := newTestServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/notes/toggle", `{"rowIndex": 3, "stepIndex": 7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr toggleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.True(t, tr.Added)
	assert.True(t, store.HasNote(3, 7))

	resp = do(t, http.MethodPost, srv.URL+"/notes/toggle", `{"rowIndex": 3, "stepIndex": 7}`)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.False(t, tr.Added)
	assert.Empty(t, store.PlacedNotes())
}

func TestToggleNoteValidation(t *testing.T) {
	srv, store, _ := newTestServer(t)
	for _, body := range []string{`{"rowIndex": 99, "stepIndex": 0}`, `{"rowIndex": 1}`, `nope`} {
		resp := do(t, http.MethodPost, srv.URL+"/notes/toggle", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Empty(t, store.PlacedNotes())
}

func TestProjectRoundTrip(t *testing.T) {
	srv, store, _ := newTestServer(t)
	_, err := store.ToggleNote(0, 2)
	require.NoError(t, err)

	resp := do(t, http.MethodGet, srv.URL+"/project?name=waltz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "waltz.json")
	var doc map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "notes")

	resp = do(t, http.MethodPut, srv.URL+"/project", `{"steps": 16}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeState(t, resp)
	assert.Equal(t, 16, st.Steps)
	assert.Equal(t, 1, st.Notes)
}

func TestPutProjectMalformed(t *testing.T) {
	srv, store, _ := newTestServer(t)
	resp := do(t, http.MethodPut, srv.URL+"/project", `{"steps": `)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, timeline.DefaultTotalSteps, store.TotalSteps())
}

func TestClearProject(t *testing.T) {
	srv, store, _ := newTestServer(t)
	_, err := store.ToggleNote(0, 0)
	require.NoError(t, err)
	require.NoError(t, store.SetTempo(77))
	st := decodeState(t, do(t, http.MethodDelete, srv.URL+"/project", ""))
	assert.Equal(t, 0, st.Notes)
	assert.Equal(t, timeline.DefaultTempo, st.Tempo)
}

func TestTempoAndSteps(t *testing.T) {
	srv, store, _ := newTestServer(t)
	st := decodeState(t, do(t, http.MethodPut, srv.URL+"/tempo", `{"tempo": 90}`))
	assert.Equal(t, 90.0, st.Tempo)
	assert.Equal(t, 90.0, store.Tempo())

	resp := do(t, http.MethodPut, srv.URL+"/tempo", `{"tempo": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 90.0, store.Tempo())

	st = decodeState(t, do(t, http.MethodPut, srv.URL+"/steps", `{"steps": 8}`))
	assert.Equal(t, 8, st.Steps)
	resp = do(t, http.MethodPut, srv.URL+"/steps", `{"steps": -2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlayStop(t *testing.T) {
	srv, _, tr := newTestServer(t)
	st := decodeState(t, do(t, http.MethodPost, srv.URL+"/play", ""))
	assert.True(t, st.IsPlaying)
	st = decodeState(t, do(t, http.MethodPost, srv.URL+"/stop", ""))
	assert.False(t, st.IsPlaying)
	assert.Equal(t, timeline.NoStep, st.CurrentStep)
	assert.Equal(t, 1, tr.starts)
	assert.Equal(t, 1, tr.stops)
}

func TestPlayAudioUnavailable(t *testing.T) {
	srv, store, tr := newTestServer(t)
	tr.startErr = errors.New("audio output unavailable")
	resp := do(t, http.MethodPost, srv.URL+"/play", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, store.IsPlaying())
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/play", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/tempo", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
