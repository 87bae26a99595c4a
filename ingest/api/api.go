/*Package api provides the small operator surface of the ingestion core

The routes are bus-adjacent only: forwarding opaque operator commands to a
device and acknowledging alarms. The historical query surface for
telemetry, alarms and images is served by a separate read API against the
same store.

	POST /tenants/{tenant_id}/devices/{mac}/commands
	PUT  /tenants/{tenant_id}/alarms/{alarm_id}/ack
*/
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/roost/core/logger"
	"github.com/relabs-tech/roost/ingest"
	"github.com/relabs-tech/roost/ingest/device"
)

// API is the operator interface of the ingestion core.
type API struct {
	store     ingest.Store
	publisher ingest.MessagePublisher
}

// Builder is a builder helper for the API
type Builder struct {
	// Store is the persistent store. This is mandatory.
	Store ingest.Store
	// Publisher publishes commands onto the bus. This is mandatory.
	Publisher ingest.MessagePublisher
	// Router is a mux router. This is mandatory.
	Router *mux.Router
}

// NewAPI realizes the actual API and adds the routes to the router.
func NewAPI(b *Builder) *API {
	if b.Store == nil {
		panic("store is missing")
	}
	if b.Publisher == nil {
		panic("publisher is missing")
	}
	if b.Router == nil {
		panic("router is missing")
	}
	a := &API{store: b.Store, publisher: b.Publisher}
	a.handleRoutes(b.Router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Infoln("api: handle route /tenants/{tenant_id}/devices/{mac}/commands POST")
	logger.Default().Infoln("api: handle route /tenants/{tenant_id}/alarms/{alarm_id}/ack PUT")

	router.HandleFunc("/tenants/{tenant_id}/devices/{mac}/commands", func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		tenantID, err := uuid.Parse(params["tenant_id"])
		if err != nil {
			http.Error(w, "invalid tenant id", http.StatusBadRequest)
			return
		}
		mac, err := device.CanonicalMAC(params["mac"])
		if err != nil {
			http.Error(w, "invalid mac address", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) == 0 {
			http.Error(w, "empty command", http.StatusBadRequest)
			return
		}

		// commands are an opaque passthrough, the core does not parse them
		a.publisher.PublishMessageQ1("/"+tenantID.String()+"/devices/"+device.TopicMAC(mac)+"/commands", body)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/tenants/{tenant_id}/alarms/{alarm_id}/ack", func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		tenantID, err := uuid.Parse(params["tenant_id"])
		if err != nil {
			http.Error(w, "invalid tenant id", http.StatusBadRequest)
			return
		}
		alarmID, err := uuid.Parse(params["alarm_id"])
		if err != nil {
			http.Error(w, "invalid alarm id", http.StatusBadRequest)
			return
		}

		err = a.store.AcknowledgeAlarm(r.Context(), tenantID, alarmID)
		if errors.Is(err, ingest.ErrNotFound) {
			http.Error(w, "no such alarm", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPut)
}
