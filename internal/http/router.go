package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RouterConfig wires handlers and middleware into the API router. Nil
// handlers leave their routes unregistered.
type RouterConfig struct {
	Bookings   *BookingHandler
	Waitlist   *WaitlistHandler
	Resources  *ResourceHandler
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the HTTP router. Middleware wraps every route in the
// order given, outermost first. The health endpoint bypasses the configured
// middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()

	api := router.NewRoute().Subrouter()
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			api.Use(mux.MiddlewareFunc(cfg.Middleware[i]))
		}
	}

	if cfg.Bookings != nil {
		api.HandleFunc("/bookings", cfg.Bookings.Create).Methods(http.MethodPost)
		api.HandleFunc("/bookings", cfg.Bookings.List).Methods(http.MethodGet)
		api.HandleFunc("/bookings/{id}", cfg.Bookings.Get).Methods(http.MethodGet)
		api.HandleFunc("/bookings/{id}/cancel", cfg.Bookings.Cancel).Methods(http.MethodPost)
		api.HandleFunc("/bookings/{id}/checkin", cfg.Bookings.CheckIn).Methods(http.MethodPost)
		api.HandleFunc("/bookings/{id}/checkout", cfg.Bookings.CheckOut).Methods(http.MethodPost)
		api.HandleFunc("/bookings/{id}/approvals", cfg.Bookings.Approvals).Methods(http.MethodGet)
		api.HandleFunc("/bookings/{id}/approvals/{step}", cfg.Bookings.Decide).Methods(http.MethodPost)
	}

	if cfg.Waitlist != nil {
		api.HandleFunc("/waitlist", cfg.Waitlist.Join).Methods(http.MethodPost)
		api.HandleFunc("/waitlist/{id}", cfg.Waitlist.Get).Methods(http.MethodGet)
		api.HandleFunc("/waitlist/{id}/accept", cfg.Waitlist.Accept).Methods(http.MethodPost)
		api.HandleFunc("/waitlist/{id}/decline", cfg.Waitlist.Decline).Methods(http.MethodPost)
		api.HandleFunc("/waitlist/{id}", cfg.Waitlist.Withdraw).Methods(http.MethodDelete)
	}

	if cfg.Resources != nil {
		api.HandleFunc("/resources", cfg.Resources.Create).Methods(http.MethodPost)
		api.HandleFunc("/resources", cfg.Resources.List).Methods(http.MethodGet)
		api.HandleFunc("/resources/{id}", cfg.Resources.Get).Methods(http.MethodGet)
		api.HandleFunc("/resources/{id}", cfg.Resources.Update).Methods(http.MethodPut)
		api.HandleFunc("/resources/{id}/close", cfg.Resources.Close).Methods(http.MethodPost)
		api.HandleFunc("/resources/{id}/maintenance", cfg.Resources.AddMaintenance).Methods(http.MethodPost)
		api.HandleFunc("/resources/{id}/maintenance", cfg.Resources.ListMaintenance).Methods(http.MethodGet)
		api.HandleFunc("/approval-rules", cfg.Resources.CreateRule).Methods(http.MethodPost)
		api.HandleFunc("/approval-rules", cfg.Resources.ListRules).Methods(http.MethodGet)
	}

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	return router
}
