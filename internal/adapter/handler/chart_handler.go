package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"candleflow/internal/application/service"
	"candleflow/internal/application/usecase"
	"candleflow/internal/domain/model"
)

type ChartHandler struct {
	useCase *usecase.ChartUseCase
	logger  *slog.Logger
}

func NewChartHandler(useCase *usecase.ChartUseCase, logger *slog.Logger) *ChartHandler {
	return &ChartHandler{
		useCase: useCase,
		logger:  logger,
	}
}

func (h *ChartHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /charts", h.List)
	mux.HandleFunc("GET /charts/{symbol}", h.GetView)
	mux.HandleFunc("GET /charts/{symbol}/latest", h.GetLatestPrice)
	mux.HandleFunc("POST /charts/{symbol}/timeframe", h.SwitchTimeframe)
}

func (h *ChartHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.useCase.List())
}

// GetView: ?tf=5m запрашивает конкретный таймфрейм (из кеша, если график показывает другой).
func (h *ChartHandler) GetView(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	var tf *model.Timeframe
	if s := r.URL.Query().Get("tf"); s != "" {
		parsed, err := model.ParseTimeframe(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tf = &parsed
	}

	view, err := h.useCase.GetView(r.Context(), symbol, tf)
	if err != nil {
		h.fail(w, "failed to get chart", symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ChartHandler) GetLatestPrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	price, err := h.useCase.GetLatestPrice(r.Context(), symbol)
	if err != nil {
		h.fail(w, "failed to get latest price", symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

// SwitchTimeframe принимает {"size":5,"unit":"minute"} и ждёт загрузки истории.
func (h *ChartHandler) SwitchTimeframe(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	var tf model.Timeframe
	if err := json.NewDecoder(r.Body).Decode(&tf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid timeframe body")
		return
	}
	if err := tf.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("switching timeframe", "symbol", symbol, "timeframe", tf.String())
	if err := h.useCase.SwitchTimeframe(r.Context(), symbol, tf); err != nil {
		h.fail(w, "switch timeframe failed", symbol, err)
		return
	}

	view, err := h.useCase.GetView(r.Context(), symbol, nil)
	if err != nil {
		h.fail(w, "failed to get chart", symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ChartHandler) fail(w http.ResponseWriter, msg, symbol string, err error) {
	switch {
	case errors.Is(err, usecase.ErrChartNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidUnit):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrFetchFailure):
		h.logger.Error(msg, "symbol", symbol, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error(msg, "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
