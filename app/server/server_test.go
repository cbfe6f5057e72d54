package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/seawatch/reportd/app/health"
	"github.com/seawatch/reportd/app/pool"
	"github.com/seawatch/reportd/app/report/charts"
	"github.com/seawatch/reportd/app/server/persistence"
)

type testNotifier struct {
	flavors []string
	causes  []error
}

func (n *testNotifier) OnFailure(_ context.Context, flavor string, cause error) {
	n.flavors = append(n.flavors, flavor)
	n.causes = append(n.causes, cause)
}

type testProber struct{ status health.Status }

func (p *testProber) Status() health.Status { return p.status }

// prepServer builds a server with a live pool and sqlite store on temp dirs
func prepServer(t *testing.T, mod func(cfg *Config)) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	workers := pool.New(2, 30*time.Second)
	workers.Run(ctx)

	cfg := Config{
		Version:    "test",
		TempDir:    filepath.Join(dir, "temp"),
		OutputDir:  filepath.Join(dir, "output"),
		ChartStyle: charts.DefaultStyle(),
		Pool:       workers,
		Store:      store,
	}
	if mod != nil {
		mod(&cfg)
	}

	srv, err := New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func sightingsPayload() string {
	return `[
		{"observedAt":"2024-05-01T09:00:00Z","block":"north","district":"coastal",
		 "waterBody":"lagoon","weatherCondition":["sunny"],"threats":["fishing nets"],
		 "species":[{"type":"turtle","adult":2,"subAdult":1}]},
		{"observedAt":"2024-06-12","block":"south","district":"coastal"}
	]`
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Store: &persistence.SQLiteStore{}})
	require.Error(t, err, "pool is required")

	_, err = New(Config{Pool: pool.New(1, time.Second)})
	require.Error(t, err, "store is required")
}

func TestServer_Index(t *testing.T) {
	_, ts := prepServer(t, nil)

	t.Run("root responds with running message", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "SERVER IS RUNNING", body["message"])
	})

	t.Run("unknown path is 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/no-such-page")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_GenerateSightings(t *testing.T) {
	_, ts := prepServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/generate-reports/sightings",
		"application/json", strings.NewReader(sightingsPayload()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestServer_GenerateReportings(t *testing.T) {
	_, ts := prepServer(t, nil)

	payload := `{"result":[
		{"observedAt":"2024-05-01T09:00:00Z","block":"north","district":"coastal",
		 "species":[{"type":"dolphin","adult":{"stranded":1,"dead":1}}],
		 "causes":[{"cause":["net_entanglement"],"otherCause":"boat strike"}]}
	]}`

	resp, err := http.Post(ts.URL+"/api/v1/generate-reports/reportings",
		"application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
}

func TestServer_GenerateFromUpload(t *testing.T) {
	_, ts := prepServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "observations.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(sightingsPayload()))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/v1/generate-reports/sightings", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_GenerateBadRequests(t *testing.T) {
	_, ts := prepServer(t, func(cfg *Config) { cfg.MaxObservations = 2 })

	tbl := []struct {
		name        string
		contentType string
		body        string
	}{
		{"malformed json", "application/json", `{"result":[`},
		{"empty array", "application/json", `[]`},
		{"scalar", "application/json", `42`},
		{"no data at all", "text/plain", "whatever"},
		{"too many observations", "application/json", `[{"block":"a"},{"block":"b"},{"block":"c"}]`},
		{"no plottable fields", "application/json", `[{"unknownField":"x"}]`},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/generate-reports/sightings",
				tt.contentType, strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_GenerateTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tight := pool.New(1, time.Millisecond)
	tight.Run(ctx)

	srv, ts := prepServer(t, func(cfg *Config) { cfg.Pool = tight })

	resp, err := http.Post(ts.URL+"/api/v1/generate-reports/sightings",
		"application/json", strings.NewReader(sightingsPayload()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["details"], "timed out")

	// the history row is recorded before the abandoned job finishes, with
	// no partial result leaking out of the timed-out build
	recs, err := srv.store.ListReports(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, persistence.StatusFailed, recs[0].Status)
	assert.Zero(t, recs[0].Charts)
	assert.Zero(t, recs[0].SizeBytes)

	// let the abandoned worker drain before the test tears down its dirs
	require.Eventually(t, func() bool {
		stats := tight.Stats()
		return stats.Completed+stats.Failed >= 1 && stats.Active == 0
	}, 10*time.Second, 10*time.Millisecond)
}

func TestServer_GenerateFailureNotifies(t *testing.T) {
	notifier := &testNotifier{}
	_, ts := prepServer(t, func(cfg *Config) { cfg.Notifier = notifier })

	resp, err := http.Post(ts.URL+"/api/v1/generate-reports/sightings",
		"application/json", strings.NewReader(`[{"unknownField":"x"}]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Len(t, notifier.flavors, 1)
	assert.Equal(t, "sightings", notifier.flavors[0])
	assert.True(t, errors.Is(notifier.causes[0], errNoCharts))
}

func TestServer_GenerateRecordsHistory(t *testing.T) {
	srv, ts := prepServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/generate-reports/sightings",
		"application/json", strings.NewReader(sightingsPayload()))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/generate-reports/reportings",
		"application/json", strings.NewReader(`[{"unknownField":"x"}]`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	recs, err := srv.store.ListReports(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byFlavor := map[string]persistence.ReportRecord{}
	for _, rec := range recs {
		byFlavor[rec.Flavor] = rec
	}
	ok := byFlavor["sightings"]
	assert.Equal(t, persistence.StatusOK, ok.Status)
	assert.Equal(t, 2, ok.Observations)
	assert.Equal(t, 7, ok.Charts)
	assert.Positive(t, ok.SizeBytes)

	failed := byFlavor["reportings"]
	assert.Equal(t, persistence.StatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
}

func TestServer_Schema(t *testing.T) {
	_, ts := prepServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "observedAt")
	assert.Contains(t, string(body), "waterBody")
}

func TestServer_Status(t *testing.T) {
	prober := &testProber{status: health.Status{State: health.StateHealthy}}
	_, ts := prepServer(t, func(cfg *Config) { cfg.Health = prober })

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status APIStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "reportd", status.Service.Name)
	assert.Equal(t, "test", status.Service.Version)
	assert.Equal(t, 2, status.Workers.Size)
	assert.Positive(t, status.Resources.Goroutines)
}

func TestServer_Reports(t *testing.T) {
	srv, ts := prepServer(t, nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, srv.store.RecordReport(persistence.ReportRecord{
			ID: id, Flavor: "sightings", Status: persistence.StatusOK}))
	}

	t.Run("default limit", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/reports")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body APIReportsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 3, body.Count)
	})

	t.Run("explicit limit", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/reports?limit=1")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body APIReportsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 1, body.Count)
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/reports?limit=abc")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("non-positive limit", func(t *testing.T) {
		for _, limit := range []string{"0", "-5"} {
			resp, err := http.Get(ts.URL + "/api/v1/reports?limit=" + limit)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit %s", limit)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Contains(t, body["details"], "invalid limit")
		}
	})
}

func TestServer_Auth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	_, ts := prepServer(t, func(cfg *Config) { cfg.AuthHash = string(hash) })

	t.Run("no credentials rejected", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/reports", http.NoBody)
		require.NoError(t, err)
		req.SetBasicAuth("ops", "wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("correct password accepted", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", http.NoBody)
		require.NoError(t, err)
		req.SetBasicAuth("anyone", "secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("generation endpoints stay open", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/generate-reports/sightings",
			"application/json", strings.NewReader(`[]`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "bad data, not auth failure")
	})
}

func TestServer_CORS(t *testing.T) {
	_, ts := prepServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/generate-reports/sightings", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestServer_Ping(t *testing.T) {
	_, ts := prepServer(t, nil)

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

func TestServer_Run(t *testing.T) {
	srv, _ := prepServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down on context cancel")
	}
}
