package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/digit-bridge/internal/channel"
	"github.com/Brownie44l1/digit-bridge/internal/imaging"
	"github.com/Brownie44l1/digit-bridge/internal/model"
)

type Handler struct {
	bridge     *model.Bridge
	dispatcher *channel.Dispatcher
	imageOpts  imaging.Options
	logger     *zap.Logger
}

func NewHandler(bridge *model.Bridge, imageOpts imaging.Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		bridge:     bridge,
		dispatcher: channel.NewDispatcher(bridge, logger),
		imageOpts:  imageOpts,
		logger:     logger,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux, allowedOrigins []string) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("POST /predict/image", h.PredictFromImage)
	mux.HandleFunc("POST /channel", h.Channel)
	mux.Handle("GET /channel/ws", channel.NewServer(h.dispatcher, allowedOrigins, h.logger))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "channel": channel.Name})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req model.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalidInput.Code(), "Invalid JSON")
		return
	}

	if r.URL.Query().Get("scores") == "1" {
		scores, err := h.bridge.Scores(req.Input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, model.ScoresResponse{Digit: model.ArgMax(scores), Scores: scores})
		return
	}

	digit, err := h.bridge.Predict(req.Input)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.PredictionResponse{Digit: digit})
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalidInput.Code(), "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalidInput.Code(),
			"No image file provided. Use 'image' as the form field name")
		return
	}
	defer file.Close()

	pixels, format, err := imaging.Decode(file, h.imageOpts)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalidInput.Code(), "Invalid image format. Supported: JPEG, PNG")
		return
	}

	h.logger.Debug("image received",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
		zap.String("format", format))

	digit, err := h.bridge.PredictFloat32(pixels)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.PredictionResponse{Digit: digit})
}

// Channel answers one method-channel call over plain HTTP.
func (h *Handler) Channel(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, channel.Reply{Error: &channel.ReplyError{Code: channel.CodeInvalidCall, Message: "Invalid JSON"}})
		return
	}
	call, err := channel.Decode(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, channel.Reply{Error: &channel.ReplyError{Code: channel.CodeInvalidCall, Message: err.Error()}})
		return
	}

	reply := h.dispatcher.Handle(call)
	status := http.StatusOK
	switch {
	case reply.NotImplemented:
		status = http.StatusNotImplemented
	case reply.Failed():
		status = statusForCode(reply.Error.Code)
	}
	writeJSON(w, status, reply)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	if kind == 0 {
		kind = model.KindInference
	}
	status := statusForCode(kind.Code())
	if status >= http.StatusInternalServerError {
		h.logger.Error("prediction error", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		writeError(w, status, kind.Code(), "Prediction failed")
		return
	}
	writeError(w, status, kind.Code(), err.Error())
}

func statusForCode(code string) int {
	switch code {
	case model.KindInvalidInput.Code(), channel.CodeInvalidCall:
		return http.StatusBadRequest
	case model.KindModelLoad.Code():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, model.ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
