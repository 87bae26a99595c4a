package fanout

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/roost/core/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// viewers connect from the dashboard origin, the bus carries no cookies
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleRoutes adds the websocket route for live viewers.
func (f *Fanout) HandleRoutes(router *mux.Router) {
	logger.Default().Infoln("fanout: handle route /events/{tenant_id} GET (websocket)")
	router.HandleFunc("/events/{tenant_id}", f.serveViewer).Methods(http.MethodGet)
}

// serveViewer upgrades the connection and pumps the tenant's events to the
// viewer until it disconnects.
func (f *Fanout) serveViewer(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	tenantID, err := uuid.Parse(params["tenant_id"])
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}

	subscriber := f.Subscribe(tenantID)
	defer f.Unsubscribe(subscriber)

	// drain the reader so close frames and pings are processed; viewers
	// are write-only from our side
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for {
		select {
		case event, ok := <-subscriber.events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
