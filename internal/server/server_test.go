package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"checkin/internal/memstore"
	"checkin/internal/models"
	"checkin/internal/service"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/calendar/v3"
	"github.com/stretchr/testify/require"
)

const export = `ID,IDSTATUS,B1STARTDATE,B2STARTMIN10,B2STARTMIN1,B2STARTDATE
701,Active,10/01/2025,11/02/2025,11/11/2025,03/01/2026
`

func newServer(t *testing.T, store models.Store, opts service.Options) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Engine.Location = time.FixedZone("EST", -5*60*60)
	svc, err := service.New(logger, store, opts)
	require.NoError(t, err)

	srv := httptest.NewServer(New(logger, svc).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func upload(t *testing.T, url, csv string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("csvFile", "export.csv")
	require.NoError(t, err)
	_, err = io.WriteString(part, csv)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

var manual = map[string]any{
	"baseDate":      "11/08/2025",
	"title":         "P100",
	"attendeeEmail": "p100@example.com",
}

func TestHealthAndDemoMode(t *testing.T) {
	srv := newServer(t, memstore.New(), service.Options{DemoMode: true})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err = http.Get(srv.URL + "/api/demo-mode")
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, resp)["demoMode"])
}

func TestCreateEventsJSON(t *testing.T) {
	store := memstore.New()
	srv := newServer(t, store, service.Options{})

	resp, body := postJSON(t, srv.URL+"/create-events", manual)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(3), summary["created"])
	assert.Equal(t, 3, store.Count())

	resp, body = postJSON(t, srv.URL+"/create-events", manual)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["summary"].(map[string]any)["skipped"])
}

func TestCreateEventsForm(t *testing.T) {
	store := memstore.New()
	srv := newServer(t, store, service.Options{})

	resp, err := http.PostForm(srv.URL+"/create-events", url.Values{
		"baseDate":      {"11/08/2025"},
		"title":         {"P200"},
		"attendeeEmail": {"p200@example.com"},
		"dryRun":        {"on"},
	})
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["summary"].(map[string]any)["dryRun"])
	assert.Equal(t, 0, store.Count())
}

func TestCreateEventsValidation(t *testing.T) {
	srv := newServer(t, memstore.New(), service.Options{})

	resp, body := postJSON(t, srv.URL+"/create-events", map[string]any{
		"baseDate": "13/01/2025", "title": "P100", "attendeeEmail": "p100@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "month")

	resp, err := http.Post(srv.URL+"/create-events", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthRequiredIs401(t *testing.T) {
	srv := newServer(t, service.Unavailable(models.ErrAuthRequired), service.Options{Offline: true})

	resp, body := postJSON(t, srv.URL+"/create-events", manual)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body["error"], "authorization required")

	resp, err := http.Post(srv.URL+"/clear-demo-events", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteEventsAndClearDemo(t *testing.T) {
	store := memstore.New()
	srv := newServer(t, store, service.Options{MarkDemo: true})

	resp, _ := postJSON(t, srv.URL+"/create-events", manual)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/delete-events", manual)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["summary"].(map[string]any)["deleted"])

	resp, _ = postJSON(t, srv.URL+"/create-events", manual)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = postJSON(t, srv.URL+"/clear-demo-events", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["summary"].(map[string]any)["deleted"])
	assert.Equal(t, 0, store.Count())
}

func TestDeleteRecentRejectsBadHours(t *testing.T) {
	srv := newServer(t, memstore.New(), service.Options{})

	resp, err := http.PostForm(srv.URL+"/api/delete-recent", url.Values{"hours": {"lots"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, body := postJSON(t, srv.URL+"/api/delete-recent", map[string]any{"hours": 12})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["summary"].(map[string]any)["deleted"])
}

func TestCSVPreviewAndImport(t *testing.T) {
	store := memstore.New()
	srv := newServer(t, store, service.Options{})

	resp := upload(t, srv.URL+"/api/csv/preview", export, nil)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	preview := body["preview"].(map[string]any)
	assert.Equal(t, float64(3), preview["summary"].(map[string]any)["totalEvents"])
	assert.Equal(t, 0, store.Count())

	resp = upload(t, srv.URL+"/api/csv/import", export, map[string]string{"demoMode": "true"})
	body = decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["summary"].(map[string]any)["created"])
	assert.Equal(t, 3, store.Count())
}

func TestCSVUploadErrors(t *testing.T) {
	srv := newServer(t, memstore.New(), service.Options{})

	resp, err := http.Post(srv.URL+"/api/csv/preview", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = upload(t, srv.URL+"/api/csv/import", "", nil)
	body := decode(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "csv is empty")
}

func TestUnknownMethod(t *testing.T) {
	srv := newServer(t, memstore.New(), service.Options{})

	resp, err := http.Get(srv.URL + "/create-events")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}

func TestAbortedRunReportsPartialSummary(t *testing.T) {
	store := memstore.New()
	inserts := 0
	store.InsertErr = func(string, *calendar.Event) error {
		inserts++
		if inserts == 2 {
			return models.ErrAuthRequired
		}
		return nil
	}
	srv := newServer(t, store, service.Options{})

	resp, body := postJSON(t, srv.URL+"/create-events", manual)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, 1, store.Count())

	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok, "error body must carry the partial summary")
	assert.Equal(t, float64(1), summary["created"])
	assert.Equal(t, float64(2), summary["errors"])
	details := summary["details"].([]any)
	require.Len(t, details, 3)
	assert.Equal(t, "created", details[0].(map[string]any)["type"])
	assert.Equal(t, "error", details[1].(map[string]any)["type"])
	assert.Equal(t, "error", details[2].(map[string]any)["type"])
}

func TestFailedSweepReportsPartialSummary(t *testing.T) {
	store := memstore.New()
	srv := newServer(t, store, service.Options{MarkDemo: true})

	resp, _ := postJSON(t, srv.URL+"/create-events", manual)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	store.ListErr = func(_ string, f models.Filter) error {
		for _, p := range f.Properties {
			if p == "source=csv-import" {
				return errors.New("backend unavailable")
			}
		}
		return nil
	}
	resp, body := postJSON(t, srv.URL+"/clear-demo-events", map[string]any{})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), summary["deleted"])
	assert.Equal(t, 0, store.Count())
}

func TestValidationFailureHasNoSummary(t *testing.T) {
	srv := newServer(t, memstore.New(), service.Options{})

	resp, body := postJSON(t, srv.URL+"/create-events", map[string]any{"baseDate": "11/08/2025", "title": "", "attendeeEmail": "p100@example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotContains(t, body, "summary")
}
