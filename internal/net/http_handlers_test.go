package net

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"testing"

	rerun "github.com/HowardHan99/RerunPublicRobot"
	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
	"github.com/HowardHan99/RerunPublicRobot/internal/library"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
	"github.com/HowardHan99/RerunPublicRobot/internal/telemetry"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestServer(t *testing.T, withLibrary bool) (*httptest.Server, *rerun.Hub, *library.Library) {
	t.Helper()
	counters := telemetry.NewCounters()
	engine := rerun.NewEngine(rerun.DefaultEngineConfig(), rerun.Deps{
		Logger:  telemetry.WrapLogger(quietLogger()),
		Metrics: telemetry.WrapMetrics(counters),
	})
	hub := rerun.NewHub(engine, rerun.DefaultHubConfig())

	var lib *library.Library
	if withLibrary {
		var err error
		lib, err = library.Open(library.Config{Dir: t.TempDir(), Logger: quietLogger()})
		if err != nil {
			t.Fatalf("open library: %v", err)
		}
		t.Cleanup(func() { lib.Close() })
	}

	handler := NewHTTPHandler(hub, HTTPHandlerConfig{
		Logger:   quietLogger(),
		Counters: counters,
		Library:  lib,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, hub, lib
}

func postJSON(t *testing.T, url string, body any) *nethttp.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request for %s: %v", url, err)
		}
	}
	resp, err := nethttp.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getURL(t *testing.T, url string) *nethttp.Response {
	t.Helper()
	resp, err := nethttp.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *nethttp.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// twoPointRecording holds one entity moving from x=0 at t=0 to x=10 at t=1
// inside a two second recording.
func twoPointRecording(t *testing.T) *replay.Recording {
	t.Helper()
	store := replay.NewTimelineStore(nil)
	for _, snap := range []replay.StateSnapshot{
		{EntityID: "robot-1", Timestamp: 0, Rotation: geom.IdentityQuat(), Scale: geom.Vec3{X: 1, Y: 1, Z: 1}},
		{EntityID: "robot-1", Timestamp: 1.0, Position: geom.Vec3{X: 10}, Rotation: geom.IdentityQuat(), Scale: geom.Vec3{X: 1, Y: 1, Z: 1}},
	} {
		if !store.Append("robot-1", snap) {
			t.Fatalf("append sample at %v", snap.Timestamp)
		}
	}
	return store.Finalize(2.0)
}

func TestHealthAndDiagnostics(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	resp := getURL(t, srv.URL+"/health")
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read /health body: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("expected ok body, got %q", string(body))
	}

	var diag struct {
		Status   string `json:"status"`
		TickRate int    `json:"tickRate"`
		Engine   struct {
			Recorder    string `json:"recorder"`
			Primaries   int    `json:"primaries"`
			Subscribers int    `json:"subscribers"`
		} `json:"engine"`
	}
	resp = getURL(t, srv.URL+"/diagnostics")
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from /diagnostics, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &diag)
	if diag.Status != "ok" {
		t.Fatalf("expected ok status, got %q", diag.Status)
	}
	if diag.TickRate <= 0 {
		t.Fatalf("expected positive tick rate, got %d", diag.TickRate)
	}
	if diag.Engine.Recorder != string(replay.RecorderIdle) {
		t.Fatalf("expected idle recorder, got %q", diag.Engine.Recorder)
	}
}

func TestRecordingRoutesRoundTripThroughLibrary(t *testing.T) {
	srv, hub, lib := newTestServer(t, true)
	engine := hub.Engine()
	engine.Register(runtime.NewSimHandle("robot-1", "Scene/World/robot-1"))

	resp := postJSON(t, srv.URL+"/recording/begin", nil)
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from begin, got %d", resp.StatusCode)
	}
	var began struct {
		Status   string `json:"status"`
		Recorder string `json:"recorder"`
	}
	decodeBody(t, resp, &began)
	if began.Recorder != string(replay.RecorderRecording) {
		t.Fatalf("expected recording recorder, got %q", began.Recorder)
	}

	if resp := postJSON(t, srv.URL+"/recording/begin", nil); resp.StatusCode != nethttp.StatusConflict {
		t.Fatalf("expected 409 from duplicate begin, got %d", resp.StatusCode)
	}

	// One stepped tick captures a sample for the registered entity.
	hub.StepTick(hub.Now(), 0.05)

	resp = postJSON(t, srv.URL+"/recording/stop", nil)
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from stop, got %d", resp.StatusCode)
	}
	var stopped struct {
		Status    string  `json:"status"`
		Recorder  string  `json:"recorder"`
		Duration  float64 `json:"duration"`
		Timelines int     `json:"timelines"`
	}
	decodeBody(t, resp, &stopped)
	if stopped.Recorder != string(replay.RecorderIdle) {
		t.Fatalf("expected idle recorder after stop, got %q", stopped.Recorder)
	}
	if stopped.Timelines != 1 {
		t.Fatalf("expected 1 timeline, got %d", stopped.Timelines)
	}

	if resp := postJSON(t, srv.URL+"/recording/stop", nil); resp.StatusCode != nethttp.StatusConflict {
		t.Fatalf("expected 409 from stop while idle, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/recordings/save", map[string]string{"name": "itest"})
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from save, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(lib.PathFor("itest")); err != nil {
		t.Fatalf("expected saved recording on disk: %v", err)
	}

	var listing struct {
		Recordings []struct {
			Name     string  `json:"name"`
			Duration float64 `json:"duration"`
			Entities int     `json:"entities"`
		} `json:"recordings"`
	}
	resp = getURL(t, srv.URL+"/recordings")
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from listing, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &listing)
	if len(listing.Recordings) != 1 {
		t.Fatalf("expected 1 catalog entry, got %d", len(listing.Recordings))
	}
	if listing.Recordings[0].Name != "itest" || listing.Recordings[0].Entities != 1 {
		t.Fatalf("unexpected catalog entry %+v", listing.Recordings[0])
	}

	resp = postJSON(t, srv.URL+"/recordings/load", map[string]string{"name": "itest"})
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from load, got %d", resp.StatusCode)
	}
	var loaded struct {
		Status    string  `json:"status"`
		Name      string  `json:"name"`
		Duration  float64 `json:"duration"`
		Timelines int     `json:"timelines"`
	}
	decodeBody(t, resp, &loaded)
	if loaded.Name != "itest" || loaded.Timelines != 1 {
		t.Fatalf("unexpected load payload %+v", loaded)
	}

	if resp := postJSON(t, srv.URL+"/recordings/load", map[string]string{"name": "ghost"}); resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("expected 404 for unknown recording, got %d", resp.StatusCode)
	}

	var states struct {
		Entities []replay.StateDocument `json:"entities"`
	}
	resp = getURL(t, srv.URL+"/state?t=0")
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from state query, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &states)
	if len(states.Entities) != 1 || states.Entities[0].EntityID != "robot-1" {
		t.Fatalf("unexpected state payload %+v", states.Entities)
	}

	if resp := getURL(t, srv.URL+"/state?t=0&id=ghost"); resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("expected 404 for unknown entity, got %d", resp.StatusCode)
	}
	if resp := getURL(t, srv.URL+"/state?u=nope"); resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400 for malformed u, got %d", resp.StatusCode)
	}
}

func TestRecordingsRoutesWithoutLibrary(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	if resp := getURL(t, srv.URL+"/recordings"); resp.StatusCode != nethttp.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a library, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/recordings/save", map[string]string{"name": "x"}); resp.StatusCode != nethttp.StatusServiceUnavailable {
		t.Fatalf("expected 503 from save without a library, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/recordings/load", map[string]string{"name": "x"}); resp.StatusCode != nethttp.StatusServiceUnavailable {
		t.Fatalf("expected 503 from load without a library, got %d", resp.StatusCode)
	}
}

func TestPlaybackAndTransitionRoutes(t *testing.T) {
	srv, hub, _ := newTestServer(t, false)
	engine := hub.Engine()
	primary := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	engine.Register(primary)

	// Nothing is bound yet.
	if resp := getURL(t, srv.URL+"/state"); resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("expected 404 from state without a recording, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/playback", map[string]any{"action": "play"}); resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("expected 404 from play without a recording, got %d", resp.StatusCode)
	}
	if resp := getURL(t, srv.URL+"/transition"); resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("expected 404 before any transition, got %d", resp.StatusCode)
	}

	engine.SetActiveRecording(twoPointRecording(t))

	resp := postJSON(t, srv.URL+"/playback", map[string]any{"action": "play"})
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from play, got %d", resp.StatusCode)
	}
	var playing struct {
		Status   string  `json:"status"`
		Playing  bool    `json:"playing"`
		Duration float64 `json:"duration"`
	}
	decodeBody(t, resp, &playing)
	if !playing.Playing || playing.Duration != 2.0 {
		t.Fatalf("unexpected playback payload %+v", playing)
	}

	if resp := postJSON(t, srv.URL+"/playback", map[string]any{"action": "seek"}); resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400 from seek without position, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/playback", map[string]any{"action": "speed"}); resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400 from speed without a value, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/playback", map[string]any{"action": "rewind"}); resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400 from unknown action, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/playback", map[string]any{"action": "seek", "position": 1.0})
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from seek, got %d", resp.StatusCode)
	}
	var sought struct {
		Position float64 `json:"position"`
	}
	decodeBody(t, resp, &sought)
	if sought.Position != 1.0 {
		t.Fatalf("expected position 1.0, got %v", sought.Position)
	}

	resp = postJSON(t, srv.URL+"/transition", map[string]any{"queryTime": 0.5})
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from transition begin, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/transition", map[string]any{"queryTime": 0.5}); resp.StatusCode != nethttp.StatusConflict {
		t.Fatalf("expected 409 while a transition runs, got %d", resp.StatusCode)
	}

	for i := 0; i < 16 && engine.TransitionActive(); i++ {
		hub.StepTick(hub.Now(), 0.05)
	}
	if engine.TransitionActive() {
		t.Fatalf("expected transition to finish")
	}

	resp = getURL(t, srv.URL+"/transition")
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 from transition report, got %d", resp.StatusCode)
	}
	var report transitionReport
	decodeBody(t, resp, &report)
	if report.Phase != string(replay.TransitionDone) {
		t.Fatalf("expected done phase, got %q", report.Phase)
	}
	if report.Applied != 1 || report.Failed != 0 {
		t.Fatalf("unexpected transition report %+v", report)
	}
	if got := primary.Pose().Position.X; got != 5 {
		t.Fatalf("expected handback pose x=5 at query time 0.5, got %v", got)
	}

	if resp := getURL(t, srv.URL+"/playback"); resp.StatusCode != nethttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405 from GET playback, got %d", resp.StatusCode)
	}
	if resp := getURL(t, srv.URL+"/recording/begin"); resp.StatusCode != nethttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405 from GET begin, got %d", resp.StatusCode)
	}
}
