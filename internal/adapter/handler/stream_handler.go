package handler

import (
	"context"
	"log/slog"
	"net/http"

	"candleflow/internal/adapter/stream"
	"candleflow/internal/domain/port"
)

// StreamSource отдаёт активный поток; при смене режима он меняется.
type StreamSource interface {
	Stream() port.StreamPort
}

type reconnecter interface {
	Reconnect(ctx context.Context) error
}

type statsReporter interface {
	Stats() stream.Stats
}

type queueClearer interface {
	ClearQueue()
}

type StreamStatus struct {
	Name         string        `json:"name"`
	Connected    bool          `json:"connected"`
	Disconnected bool          `json:"disconnected"`
	Stats        *stream.Stats `json:"stats,omitempty"`
}

type StreamHandler struct {
	source StreamSource
	log    *slog.Logger
}

func NewStreamHandler(source StreamSource, log *slog.Logger) *StreamHandler {
	return &StreamHandler{source: source, log: log}
}

func (h *StreamHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/status", h.Status)
	mux.HandleFunc("POST /stream/reconnect", h.Reconnect)
	mux.HandleFunc("DELETE /stream/queue", h.ClearQueue)
}

func (h *StreamHandler) status() (StreamStatus, bool) {
	s := h.source.Stream()
	if s == nil {
		return StreamStatus{}, false
	}
	st := StreamStatus{Name: s.Name(), Connected: s.IsConnected()}
	st.Disconnected = !st.Connected
	if sr, ok := s.(statsReporter); ok {
		stats := sr.Stats()
		st.Stats = &stats
	}
	return st, true
}

func (h *StreamHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, ok := h.status()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no active stream")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Reconnect: ручное переподключение после исчерпания попыток.
func (h *StreamHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	s := h.source.Stream()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "no active stream")
		return
	}

	h.log.Info("manual reconnect requested", "stream", s.Name())

	var err error
	if rc, ok := s.(reconnecter); ok {
		err = rc.Reconnect(r.Context())
	} else {
		if err = s.Disconnect(); err == nil {
			err = s.Connect(r.Context())
		}
	}
	if err != nil {
		h.log.Error("manual reconnect failed", "stream", s.Name(), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	st, _ := h.status()
	writeJSON(w, http.StatusOK, st)
}

// ClearQueue сбрасывает подписки, накопленные пока сокет был закрыт.
func (h *StreamHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	s := h.source.Stream()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "no active stream")
		return
	}
	qc, ok := s.(queueClearer)
	if !ok {
		writeError(w, http.StatusConflict, "stream "+s.Name()+" has no send queue")
		return
	}

	qc.ClearQueue()
	h.log.Info("send queue cleared", "stream", s.Name())

	st, _ := h.status()
	writeJSON(w, http.StatusOK, st)
}
