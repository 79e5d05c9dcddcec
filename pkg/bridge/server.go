// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// PushHandler serves the notifications boards send to their configured
// script path: GET /<device>/?pt=<port>[&ib=<key>].
type PushHandler struct {
	instances *Instances
	log       zerolog.Logger
}

// NewPushHandler creates a handler for instances.
func NewPushHandler(instances *Instances, log zerolog.Logger) *PushHandler {
	return &PushHandler{
		instances: instances,
		log:       log.With().Str("component", "push").Logger(),
	}
}

// Register adds the push routes to router. Register it after every other
// route, the device pattern matches any first path segment.
func (h *PushHandler) Register(router *mux.Router) {
	router.HandleFunc("/", h.handleDefault).Methods(http.MethodGet)
	router.HandleFunc("/{device}", h.handlePush).Methods(http.MethodGet)
	router.HandleFunc("/{device}/", h.handlePush).Methods(http.MethodGet)
}

func (h *PushHandler) handleDefault(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "0")
}

func (h *PushHandler) handlePush(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, mux.Vars(r)["device"])
}

func (h *PushHandler) serve(w http.ResponseWriter, r *http.Request, device string) {
	// prettyPrint and wait are accepted for compatibility and ignored
	q := r.URL.Query()

	b, ok := h.instances.Lookup(device)
	if !ok {
		h.fail(w, fmt.Errorf("%w: %s", ErrUnknownDevice, device))
		return
	}

	pt := q.Get(megad.QueryPort)
	port, err := strconv.Atoi(pt)
	if err != nil {
		h.fail(w, fmt.Errorf("missing or malformed %s=%q", megad.QueryPort, pt))
		return
	}

	n := Notification{Port: port, Value: q.Get(megad.QueryIButton)}
	if err := b.NotifyAsync(n); err != nil {
		h.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *PushHandler) fail(w http.ResponseWriter, err error) {
	level := h.log.Warn()
	if errors.Is(err, ErrUnknownDevice) {
		level = h.log.Error()
	}
	level.Err(err).Msg("Push rejected")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
