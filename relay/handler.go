package relay

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP connections into room participants. The journey id
// rides in the path; the participant's identity rides in the query string.
type Handler struct {
	manager  *Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler over the given room manager.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Routes returns the relay's HTTP routes.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{journeyID}", h.serveWS)
	r.HandleFunc("/healthz", h.serveHealth).Methods(http.MethodGet)
	return r
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	journeyID := mux.Vars(r)["journeyID"]
	if journeyID == "" {
		http.Error(w, "journey id is required", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("userId")
	userName := r.URL.Query().Get("userName")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection",
			zap.String("journey_id", journeyID),
			zap.Error(err))
		return
	}

	p := h.manager.Join(journeyID, conn, userID, userName)
	go p.readLoop()
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
