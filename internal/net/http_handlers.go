package net

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	rerun "github.com/HowardHan99/RerunPublicRobot"
	"github.com/HowardHan99/RerunPublicRobot/internal/library"
	"github.com/HowardHan99/RerunPublicRobot/internal/net/ws"
	"github.com/HowardHan99/RerunPublicRobot/internal/observability"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/internal/telemetry"
)

type HTTPHandlerConfig struct {
	Logger        *log.Logger
	Counters      *telemetry.Counters
	Library       *library.Library
	Bridge        *ws.Bridge
	Observability observability.Config
}

type recordingEntry struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Path       string  `json:"path"`
	Duration   float64 `json:"duration"`
	Entities   int     `json:"entities"`
	Samples    int     `json:"samples"`
	Checksum   string  `json:"checksum"`
	CapturedAt string  `json:"capturedAt,omitempty"`
}

type transitionReport struct {
	Phase            string   `json:"phase"`
	Applied          int      `json:"applied"`
	Failed           int      `json:"failed"`
	Skipped          int      `json:"skipped"`
	Rebound          int      `json:"rebound"`
	Ticks            int      `json:"ticks"`
	FromLiveSnapshot bool     `json:"fromLiveSnapshot,omitempty"`
	Errors           []string `json:"errors,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

func NewHTTPHandler(hub *rerun.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	engine := hub.Engine()

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var counters map[string]uint64
		if cfg.Counters != nil {
			counters = cfg.Counters.Snapshot()
		}

		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			TickRate   int    `json:"tickRate"`
			Engine     any    `json:"engine"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   hub.TickRate(),
			Engine:     hub.DiagnosticsDocument(counters),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/recording/begin", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		if ok, reason := hub.HandleRecord("begin"); !ok {
			httpError(w, reason, rejectStatus(reason))
			return
		}

		payload := struct {
			Status   string `json:"status"`
			Recorder string `json:"recorder"`
		}{Status: "ok", Recorder: string(engine.RecorderState())}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/recording/stop", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		if ok, reason := hub.HandleRecord("stop"); !ok {
			httpError(w, reason, rejectStatus(reason))
			return
		}

		payload := struct {
			Status    string  `json:"status"`
			Recorder  string  `json:"recorder"`
			Duration  float64 `json:"duration"`
			Timelines int     `json:"timelines"`
		}{Status: "ok", Recorder: string(engine.RecorderState())}
		if rec := engine.ActiveRecording(); rec != nil {
			payload.Duration = rec.TotalDuration
			payload.Timelines = len(rec.EntityIDs())
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/recordings", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if cfg.Library == nil {
			httpError(w, "library disabled", nethttp.StatusServiceUnavailable)
			return
		}

		entries, err := cfg.Library.List()
		if err != nil {
			logger.Printf("list recordings: %v", err)
			httpError(w, "failed to list recordings", nethttp.StatusInternalServerError)
			return
		}

		items := make([]recordingEntry, 0, len(entries))
		for _, e := range entries {
			item := recordingEntry{
				ID:       e.ID,
				Name:     e.Name,
				Path:     e.Path,
				Duration: e.Duration,
				Entities: e.Entities,
				Samples:  e.Samples,
				Checksum: e.Checksum,
			}
			if !e.CapturedAt.IsZero() {
				item.CapturedAt = e.CapturedAt.UTC().Format(time.RFC3339)
			}
			items = append(items, item)
		}

		payload := struct {
			Recordings []recordingEntry `json:"recordings"`
		}{Recordings: items}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/recordings/load", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if cfg.Library == nil {
			httpError(w, "library disabled", nethttp.StatusServiceUnavailable)
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if r.Body != nil {
			defer r.Body.Close()
			decoder := json.NewDecoder(r.Body)
			if err := decoder.Decode(&req); err != nil && err != io.EOF {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}
		if req.Name == "" {
			httpError(w, "missing name", nethttp.StatusBadRequest)
			return
		}

		entry, ok, err := cfg.Library.Find(req.Name)
		if err != nil {
			logger.Printf("find recording %q: %v", req.Name, err)
			httpError(w, "failed to look up recording", nethttp.StatusInternalServerError)
			return
		}
		if !ok {
			httpError(w, "unknown recording", nethttp.StatusNotFound)
			return
		}

		rec, err := engine.LoadRecordingFile(filepath.Join(cfg.Library.Dir(), entry.Path))
		if err != nil {
			logger.Printf("load recording %q: %v", req.Name, err)
			httpError(w, "failed to load recording", nethttp.StatusUnprocessableEntity)
			return
		}

		payload := struct {
			Status    string  `json:"status"`
			Name      string  `json:"name"`
			Duration  float64 `json:"duration"`
			Timelines int     `json:"timelines"`
		}{Status: "ok", Name: req.Name, Duration: rec.TotalDuration, Timelines: len(rec.EntityIDs())}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/recordings/save", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if cfg.Library == nil {
			httpError(w, "library disabled", nethttp.StatusServiceUnavailable)
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if r.Body != nil {
			defer r.Body.Close()
			decoder := json.NewDecoder(r.Body)
			if err := decoder.Decode(&req); err != nil && err != io.EOF {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}
		if req.Name == "" {
			httpError(w, "missing name", nethttp.StatusBadRequest)
			return
		}

		path := cfg.Library.PathFor(req.Name)
		if err := engine.SaveActiveRecording(path); err != nil {
			if errors.Is(err, replay.ErrNoRecording) {
				httpError(w, "no recording", nethttp.StatusNotFound)
				return
			}
			logger.Printf("save recording %q: %v", req.Name, err)
			httpError(w, "failed to save recording", nethttp.StatusInternalServerError)
			return
		}
		if err := cfg.Library.IndexFile(req.Name + library.Ext); err != nil {
			logger.Printf("index saved recording %q: %v", req.Name, err)
		}

		payload := struct {
			Status string `json:"status"`
			Name   string `json:"name"`
			Path   string `json:"path"`
		}{Status: "ok", Name: req.Name, Path: path}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/state", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if engine.ActiveRecording() == nil {
			httpError(w, "no recording", nethttp.StatusNotFound)
			return
		}

		query := r.URL.Query()
		var states map[string]replay.StateSnapshot
		switch {
		case query.Get("u") != "":
			u, err := strconv.ParseFloat(query.Get("u"), 64)
			if err != nil {
				httpError(w, "invalid u", nethttp.StatusBadRequest)
				return
			}
			states = engine.StateAtNormalized(u)
		case query.Get("t") != "":
			t, err := strconv.ParseFloat(query.Get("t"), 64)
			if err != nil {
				httpError(w, "invalid t", nethttp.StatusBadRequest)
				return
			}
			states = engine.StateAtAll(t)
		default:
			states = engine.PlaybackStates()
		}

		if id := query.Get("id"); id != "" {
			snap, ok := states[id]
			if !ok {
				httpError(w, "unknown entity", nethttp.StatusNotFound)
				return
			}
			states = map[string]replay.StateSnapshot{id: snap}
		}

		entities := make([]replay.StateDocument, 0, len(states))
		for _, snap := range states {
			doc, err := replay.EncodeState(snap)
			if err != nil {
				logger.Printf("encode state for %s: %v", snap.EntityID, err)
				continue
			}
			entities = append(entities, doc)
		}
		sortStateDocuments(entities)

		payload := struct {
			Entities []replay.StateDocument `json:"entities"`
		}{Entities: entities}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/transition", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodPost:
			var req struct {
				QueryTime *float64 `json:"queryTime"`
			}
			if r.Body != nil {
				defer r.Body.Close()
				decoder := json.NewDecoder(r.Body)
				if err := decoder.Decode(&req); err != nil && err != io.EOF {
					httpError(w, "invalid payload", nethttp.StatusBadRequest)
					return
				}
			}
			queryTime := -1.0
			if req.QueryTime != nil {
				queryTime = *req.QueryTime
			}

			if ok, reason := hub.HandleTransition(queryTime); !ok {
				httpError(w, reason, rejectStatus(reason))
				return
			}

			payload := struct {
				Status string `json:"status"`
			}{Status: "ok"}

			data, err := json.Marshal(payload)
			if err != nil {
				httpError(w, "failed to encode", nethttp.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write(data)

		case nethttp.MethodGet:
			report, ok := engine.LastTransitionReport()
			if !ok {
				httpError(w, "no transition", nethttp.StatusNotFound)
				return
			}

			payload := transitionReport{
				Phase:            string(report.Phase),
				Applied:          report.Applied,
				Failed:           report.Failed,
				Skipped:          report.Skipped,
				Rebound:          report.Rebound,
				Ticks:            report.Ticks,
				FromLiveSnapshot: report.FromLiveSnapshot,
				Errors:           report.Errors,
				Warnings:         report.Warnings,
			}

			data, err := json.Marshal(payload)
			if err != nil {
				httpError(w, "failed to encode", nethttp.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write(data)

		default:
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/playback", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Action   string   `json:"action"`
			Position *float64 `json:"position"`
			Speed    *float64 `json:"speed"`
		}
		if r.Body != nil {
			defer r.Body.Close()
			decoder := json.NewDecoder(r.Body)
			if err := decoder.Decode(&req); err != nil && err != io.EOF {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}

		var position, speed float64
		switch req.Action {
		case "seek":
			if req.Position == nil {
				httpError(w, rerun.CommandRejectInvalidArgument, nethttp.StatusBadRequest)
				return
			}
			position = *req.Position
		case "speed":
			if req.Speed == nil {
				httpError(w, rerun.CommandRejectInvalidArgument, nethttp.StatusBadRequest)
				return
			}
			speed = *req.Speed
		}

		if ok, reason := hub.HandlePlayback(req.Action, position, speed); !ok {
			httpError(w, reason, rejectStatus(reason))
			return
		}

		payload := struct {
			Status     string  `json:"status"`
			Playing    bool    `json:"playing"`
			Position   float64 `json:"position"`
			Duration   float64 `json:"duration"`
			Speed      float64 `json:"speed"`
			Normalized float64 `json:"normalized"`
		}{
			Status:     "ok",
			Playing:    engine.Playing(),
			Position:   engine.PlaybackTime(),
			Duration:   engine.Duration(),
			Speed:      engine.Speed(),
			Normalized: engine.NormalizedPosition(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	spectator := ws.NewSpectatorHandler(hub, ws.SpectatorConfig{Logger: logger})
	mux.HandleFunc("/ws", spectator.Handle)

	if cfg.Bridge != nil {
		mux.HandleFunc("/runtime/ws", cfg.Bridge.Handle)
	}

	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}

// rejectStatus maps a command reject reason onto an HTTP status.
func rejectStatus(reason string) int {
	switch reason {
	case rerun.CommandRejectNoRecording:
		return nethttp.StatusNotFound
	case rerun.CommandRejectRecorderBusy, rerun.CommandRejectRecorderIdle, rerun.CommandRejectTransitionBusy:
		return nethttp.StatusConflict
	default:
		return nethttp.StatusBadRequest
	}
}

// sortStateDocuments orders state payloads by entity id so responses are
// stable across calls.
func sortStateDocuments(docs []replay.StateDocument) {
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].EntityID < docs[j].EntityID
	})
}
