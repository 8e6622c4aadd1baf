package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/devicetime/internal/analysis"
	"github.com/banshee-data/devicetime/internal/db"
	"github.com/banshee-data/devicetime/internal/devicetime"
	"github.com/banshee-data/devicetime/internal/stamplog"
	"github.com/banshee-data/devicetime/internal/testutil"
)

// writeSyntheticLog writes n events from a 16-bit, 1 kHz device.
func writeSyntheticLog(t *testing.T, n int) string {
	t.Helper()
	dev := testutil.NewSyntheticDevice(42)
	dev.TickFrequencyHz = 1000
	dev.WrapModulus = 1 << 16

	stamps := dev.Generate(n, 0.1)
	records := make([]stamplog.Record, len(stamps))
	for i, s := range stamps {
		records[i] = stamplog.Record{
			EventTicks:    s.Raw,
			TransmitTicks: s.TransmitRaw,
			HasTransmit:   true,
			ReceiveTime:   s.ReceiveTime,
		}
	}
	path := filepath.Join(t.TempDir(), "stamps.csv")
	require.NoError(t, stamplog.WriteFile(path, records, true))
	return path
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "translator.yaml")
	body := "tick_frequency_hz: 1000\nwrap_bits: 16\nswitch_time_secs: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "all", *algoFlag)
	assert.Equal(t, -1.0, *switchTime)
	assert.False(t, *useTransmit)
	assert.False(t, *passThrough)
	assert.Empty(t, *listen)
}

func TestSelectAlgorithms(t *testing.T) {
	tests := []struct {
		in      string
		want    []devicetime.FilterAlgorithm
		wantErr bool
	}{
		{in: "all", want: devicetime.FilterAlgorithms()},
		{in: " ALL ", want: devicetime.FilterAlgorithms()},
		{in: "kalman", want: []devicetime.FilterAlgorithm{devicetime.FilterKalman}},
		{in: "convex_hull, None", want: []devicetime.FilterAlgorithm{devicetime.FilterConvexHull, devicetime.FilterNone}},
		{in: "median", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := selectAlgorithms(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, devicetime.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildInput(t *testing.T) {
	records := []stamplog.Record{{EventTicks: 1, ReceiveTime: 1}}

	in, err := buildInput(options{SwitchTime: -1}, records)
	require.NoError(t, err)
	assert.Equal(t, devicetime.DefaultConfig(), in.Config)
	assert.Equal(t, uint64(1<<32), in.Params.WrapModulus)

	in, err = buildInput(options{ConfigPath: writeConfig(t), SwitchTime: 2, UseTransmit: true}, records)
	require.NoError(t, err)
	assert.Equal(t, 2.0, in.Config.SwitchTimeSecs)
	assert.Equal(t, uint64(1<<16), in.Params.WrapModulus)
	assert.Equal(t, 1000.0, in.Params.TickFrequencyHz)
	assert.True(t, in.UseTransmit)

	_, err = buildInput(options{ConfigPath: filepath.Join(t.TempDir(), "absent.json")}, records)
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	opts := options{
		LogPath:     writeSyntheticLog(t, 200),
		ConfigPath:  writeConfig(t),
		Algo:        "all",
		SwitchTime:  -1,
		UseTransmit: true,
	}
	in, results, err := replay(opts)
	require.NoError(t, err)
	assert.Len(t, in.Records, 200)
	require.Len(t, results, 3)

	hull := results[1]
	assert.Equal(t, "ConvexHull", hull.Algorithm)
	assert.Zero(t, hull.Anomalies)
	require.NotNil(t, hull.ReadyAfter)
	assert.GreaterOrEqual(t, *hull.ReadyAfter, 5.0)

	var buf bytes.Buffer
	printSummary(&buf, results)
	out := buf.String()
	assert.Contains(t, out, "ALGORITHM")
	for _, res := range results {
		assert.Contains(t, out, res.Algorithm)
	}
}

func TestReplay_Errors(t *testing.T) {
	_, _, err := replay(options{LogPath: writeSyntheticLog(t, 5), Algo: "median"})
	assert.Error(t, err)

	_, _, err = replay(options{LogPath: filepath.Join(t.TempDir(), "absent.csv"), Algo: "all"})
	assert.Error(t, err)
}

func TestFormatReadyAfter(t *testing.T) {
	assert.Equal(t, "never", formatReadyAfter(nil))
	v := 10.25
	assert.Equal(t, "10.250s", formatReadyAfter(&v))
}

func newTestReport(t *testing.T) (analysis.Input, []*analysis.Result, *analysis.Report) {
	t.Helper()
	opts := options{
		LogPath:    writeSyntheticLog(t, 80),
		ConfigPath: writeConfig(t),
		Algo:       "convexhull,kalman",
		SwitchTime: -1,
	}
	in, results, err := replay(opts)
	require.NoError(t, err)
	return in, results, analysis.NewReport(opts.LogPath, in, results)
}

func TestNewMux_WithoutStore(t *testing.T) {
	_, _, report := newTestReport(t)
	mux, err := newMux(report, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/report", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var decoded struct {
		Results []struct {
			Algorithm string `json:"algorithm"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, "Kalman", decoded.Results[1].Algorithm)

	req = httptest.NewRequest(http.MethodGet, "/charts/residuals", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "Receive time residuals"))

	// Debug routes are access controlled, but they must exist.
	req = httptest.NewRequest(http.MethodGet, "/debug/residuals", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.NotEqual(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewMux_WithStore(t *testing.T) {
	in, results, report := newTestReport(t)

	store, err := db.NewDB(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	sessionID, err := analysis.Save(store, report.Source, in, results)
	require.NoError(t, err)

	mux, err := newMux(report, store)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var sessions []db.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].SessionID)

	for _, path := range []string{"/debug/db-stats", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}

func TestRunSessions(t *testing.T) {
	in, results, report := newTestReport(t)
	dbFile := filepath.Join(t.TempDir(), "replay.db")

	store, err := db.NewDB(dbFile)
	require.NoError(t, err)
	sessionID, err := analysis.Save(store, report.Source, in, results)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var buf bytes.Buffer
	require.NoError(t, runSessions([]string{"-db", dbFile}, &buf))
	out := buf.String()
	assert.Contains(t, out, sessionID)
	assert.Contains(t, out, "ConvexHull,Kalman")

	buf.Reset()
	require.NoError(t, runSessions([]string{"-db", dbFile, "-delete", sessionID}, &buf))
	assert.Contains(t, buf.String(), "Deleted session "+sessionID)

	buf.Reset()
	require.NoError(t, runSessions([]string{"-db", dbFile}, &buf))
	assert.NotContains(t, buf.String(), sessionID)

	err = runSessions([]string{"-db", dbFile, "-delete", sessionID}, &buf)
	assert.Error(t, err)
}

func TestRunSessions_RequiresDB(t *testing.T) {
	var buf bytes.Buffer
	err := runSessions(nil, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-db")
}
