// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict

	"github.com/pulkita2007/meter-system/internal/ai"
	"github.com/pulkita2007/meter-system/internal/alerting"
	"github.com/pulkita2007/meter-system/internal/auth"
	"github.com/pulkita2007/meter-system/internal/cache"
	"github.com/pulkita2007/meter-system/internal/data"
	"github.com/pulkita2007/meter-system/internal/ingest"
	"github.com/pulkita2007/meter-system/internal/storage"
	"github.com/pulkita2007/meter-system/internal/websocket"
)

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Dashboard runs on its own origin.
}

type APIHandler struct {
	store     storage.Store
	ingest    *ingest.Service
	alerter   *alerting.Alerter
	predictor *ai.Client
	chat      *ai.ChatClient
	hub       *websocket.Hub
	cache     *cache.ReadingCache
	logger    *log.Logger
}

func NewAPIHandler(store storage.Store, ingestSvc *ingest.Service, alerter *alerting.Alerter,
	predictor *ai.Client, chat *ai.ChatClient, hub *websocket.Hub, readingCache *cache.ReadingCache,
	logger *log.Logger) *APIHandler {
	return &APIHandler{
		store:     store,
		ingest:    ingestSvc,
		alerter:   alerter,
		predictor: predictor,
		chat:      chat,
		hub:       hub,
		cache:     readingCache,
		logger:    logger,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "message": message})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// HandleAddReading ingests one reading from a meter.
// POST /api/energy/add
func (h *APIHandler) HandleAddReading(w http.ResponseWriter, r *http.Request) {
	var in data.ReadingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "cannot parse JSON body")
		return
	}

	reading, err := h.ingest.Ingest(r.Context(), in)
	if err != nil {
		var ve *data.ValidationError
		if errors.As(err, &ve) {
			respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": ve.Fields})
			return
		}
		h.logger.Printf("add reading error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "reading": reading})
}

// HandleGetReadings pages through a device's readings, newest first.
// GET /api/energy/readings/{deviceID}?limit=&page=
func (h *APIHandler) HandleGetReadings(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	limit := queryInt(r, "limit", 100)
	page := queryInt(r, "page", 1)

	readings, total, err := h.store.ReadingsByDevice(r.Context(), deviceID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Printf("get readings error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	resp := map[string]any{
		"success":  true,
		"count":    len(readings),
		"total":    total,
		"readings": readings,
	}
	if h.cache != nil {
		if last, ok := h.cache.GetLast(r.Context(), deviceID); ok {
			resp["latest"] = last
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type historyPoint struct {
	Time        time.Time `json:"time"`
	Power       float64   `json:"power"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	Temperature float64   `json:"temperature"`
}

// HandleGetHistory returns recent readings in ascending order for charts.
// GET /api/energy/history?deviceId=&limit=&since=
func (h *APIHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, "Missing required param: deviceId")
		return
	}
	limit := queryInt(r, "limit", 100)

	var readings []data.Reading
	var err error
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, parseErr := time.Parse(time.RFC3339, sinceStr)
		if parseErr != nil {
			respondError(w, http.StatusBadRequest, "Invalid since timestamp, expected RFC3339")
			return
		}
		readings, err = h.store.ReadingsSince(r.Context(), deviceID, since, limit)
	} else {
		readings, err = h.store.RecentReadings(r.Context(), deviceID, limit)
	}
	if err != nil {
		h.logger.Printf("get history error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	// Stores return newest first; charts want old -> new.
	history := make([]historyPoint, 0, len(readings))
	for i := len(readings) - 1; i >= 0; i-- {
		rd := readings[i]
		history = append(history, historyPoint{
			Time:        rd.RecordedAt,
			Power:       rd.Power,
			Voltage:     rd.Voltage,
			Current:     rd.Current,
			Temperature: rd.Temperature,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "history": history})
}

// HandleGetInsights compares the last 7 days of consumption against the
// 7 days before that.
// GET /api/energy/insights?deviceId=
func (h *APIHandler) HandleGetInsights(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	now := time.Now().UTC()
	last7Start := now.Add(-7 * 24 * time.Hour)
	prev7Start := now.Add(-14 * 24 * time.Hour)

	lastAvg, _, err := h.store.AveragePowerBetween(r.Context(), deviceID, last7Start, now)
	if err != nil {
		h.logger.Printf("insights error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	prevAvg, _, err := h.store.AveragePowerBetween(r.Context(), deviceID, prev7Start, last7Start)
	if err != nil {
		h.logger.Printf("insights error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	change := "N/A"
	recommendation := "Usage stable - no major recommendations"
	if prevAvg > 0 {
		pct := (lastAvg - prevAvg) / prevAvg * 100
		change = strconv.FormatFloat(pct, 'f', 2, 64) + "%"
		if pct > 10 {
			recommendation = "Consider load shifting to off-peak hours"
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"insights": []map[string]any{
			{"title": "Average Power (last 7 days)", "value": lastAvg, "unit": "W"},
			{"title": "Week-over-week change", "value": change},
			{"title": "Top recommendation", "value": recommendation},
		},
	})
}

// HandleListAlerts pages through the acting user's alerts.
// GET /api/alerts?limit=&page=&isRead=&severity=
func (h *APIHandler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	limit := queryInt(r, "limit", 50)
	page := queryInt(r, "page", 1)
	filter := storage.AlertFilter{
		Severity: data.Severity(r.URL.Query().Get("severity")),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	}
	if v := r.URL.Query().Get("isRead"); v != "" {
		isRead := v == "true"
		filter.IsRead = &isRead
	}

	alerts, total, err := h.alerter.List(r.Context(), userID, filter)
	if err != nil {
		h.logger.Printf("list alerts error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(alerts),
		"total":   total,
		"alerts":  alerts,
	})
}

type createAlertRequest struct {
	DeviceID string             `json:"deviceId"`
	Message  string             `json:"message"`
	Category data.AlertCategory `json:"alertType"`
	Severity data.Severity      `json:"severity"`
	Metadata map[string]any     `json:"metadata"`
}

// HandleCreateAlert records a manual (user-generated) alert. High and
// critical severities notify the user over their configured channels,
// same as system alerts.
// POST /api/alerts
func (h *APIHandler) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "cannot parse JSON body")
		return
	}
	if req.DeviceID == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, "deviceId and message are required")
		return
	}

	alert, err := h.alerter.Raise(r.Context(), &data.Alert{
		UserID:   userID,
		DeviceID: req.DeviceID,
		Message:  req.Message,
		Category: req.Category,
		Severity: req.Severity,
		Metadata: req.Metadata,
	})
	if err != nil {
		var ve *data.ValidationError
		if errors.As(err, &ve) {
			respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": ve.Fields})
			return
		}
		h.logger.Printf("create alert error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "alert": alert})
}

func (h *APIHandler) alertMutation(w http.ResponseWriter, r *http.Request,
	op func(alertID, userID string) (*data.Alert, error)) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	alertID := chi.URLParam(r, "alertID")

	alert, err := op(alertID, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "Alert not found")
	case errors.Is(err, alerting.ErrNotAuthorized):
		respondError(w, http.StatusUnauthorized, "Not authorized to update this alert")
	case err != nil:
		h.logger.Printf("alert update error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
	default:
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "alert": alert})
	}
}

// HandleMarkAlertRead marks an alert as read.
// PUT /api/alerts/{alertID}/read
func (h *APIHandler) HandleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	h.alertMutation(w, r, func(alertID, userID string) (*data.Alert, error) {
		return h.alerter.MarkRead(r.Context(), alertID, userID)
	})
}

// HandleResolveAlert resolves an alert.
// PUT /api/alerts/{alertID}/resolve
func (h *APIHandler) HandleResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.alertMutation(w, r, func(alertID, userID string) (*data.Alert, error) {
		return h.alerter.Resolve(r.Context(), alertID, userID)
	})
}

// HandlePredictEnergy proxies a prediction request to the AI server,
// falling back to a mock prediction when it is unavailable.
// POST /api/ai/predict-energy
func (h *APIHandler) HandlePredictEnergy(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req ai.PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "cannot parse JSON body")
		return
	}
	if len(req.PowerConsumption) == 0 && req.ElectricalParameters == (ai.ElectricalParams{}) {
		respondError(w, http.StatusBadRequest, "Missing required fields: powerConsumption or electricalParameters")
		return
	}

	prediction, source, err := h.predictor.PredictEnergy(r.Context(), userID, req)
	if err != nil {
		h.logger.Printf("predict energy error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"source":     source,
		"prediction": prediction,
	})
}

// HandlePredictionHistory pages through a device's stored predictions.
// GET /api/ai/predictions/{deviceID}?limit=&page=
func (h *APIHandler) HandlePredictionHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	limit := queryInt(r, "limit", 50)
	page := queryInt(r, "page", 1)

	predictions, total, err := h.store.PredictionsByDevice(r.Context(), deviceID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Printf("prediction history error: %v", err)
		respondError(w, http.StatusInternalServerError, "Server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"count":       len(predictions),
		"total":       total,
		"predictions": predictions,
	})
}

// HandleChat forwards a free-text query to the generative-language API.
// POST /api/chatbot/query
func (h *APIHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		respondError(w, http.StatusBadRequest, "Query is required")
		return
	}

	reply, err := h.chat.Query(r.Context(), req.Query)
	if err != nil {
		h.logger.Printf("chatbot error: %v", err)
		respondError(w, http.StatusInternalServerError, "Error processing chatbot query")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "reply": reply})
}

// HandleWebSocket upgrades connections and registers clients with the hub.
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade error: %v", err)
		return
	}

	client := &websocket.Client{Hub: h.hub, Conn: conn, Send: make(chan []byte, 256)}
	client.Hub.RegisterClient(client)

	go client.WritePump()
	go client.ReadPump() // Must run to handle control messages (close, pong).

	h.logger.Printf("websocket connection established: %s", conn.RemoteAddr())
}
