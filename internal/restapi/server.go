// Package restapi exposes the validator-duty console over HTTP (spec.md
// §4.8), routed with gorilla/mux the way the sibling consensus-layer tools
// in this stack do.
package restapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ethduties/duty-console/internal/duty"
	"github.com/ethduties/duty-console/internal/registry"
)

const (
	rawDutiesTimeout = 7 * time.Second
	anyDutiesTimeout = 10 * time.Second
)

// DutySource is the subset of the duty store/fetcher the REST surface reads from.
type DutySource interface {
	Get() []*duty.Duty
}

// Server is the REST surface over the duty store and identifier registry.
type Server struct {
	router   *mux.Router
	httpSrv  *http.Server
	log      logrus.FieldLogger
	store    DutySource
	registry *registry.Registry
}

// New builds a Server. It does not start listening until Start is called.
func New(log logrus.FieldLogger, store DutySource, reg *registry.Registry, addr string) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		log:      log.WithField("module", "restapi"),
		store:    store,
		registry: reg,
	}

	s.routes()

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/duties/raw/attestation", s.rawDuties(duty.TypeAttestation)).Methods(http.MethodGet)
	s.router.HandleFunc("/duties/raw/sync-committee", s.rawDuties(duty.TypeSyncCommittee)).Methods(http.MethodGet)
	s.router.HandleFunc("/duties/raw/proposing", s.rawDuties(duty.TypeProposing)).Methods(http.MethodGet)
	s.router.HandleFunc("/duties/any", s.anyDuties).Methods(http.MethodGet)
	s.router.HandleFunc("/validator/identifier", s.addIdentifiers).Methods(http.MethodPost)
	s.router.HandleFunc("/validator/identifier", s.removeIdentifiers).Methods(http.MethodDelete)
}

// Start listens on the configured address. Per spec.md §4.8, if the port is
// already in use the caller should log "port in use, starting without rest
// server" and continue without the REST surface; Start reports that case
// via the returned error so the caller can decide.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("rest server stopped")
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	return nil
}

func (s *Server) rawDuties(kind duty.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), rawDutiesTimeout)
		defer cancel()

		result := make(chan []*duty.Duty, 1)

		go func() { result <- filterByType(s.store.Get(), kind) }()

		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "no beacon node connection"})
		case duties := <-result:
			writeJSON(w, http.StatusOK, duties)
		}
	}
}

func (s *Server) anyDuties(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), anyDutiesTimeout)
	defer cancel()

	result := make(chan bool, 1)

	go func() { result <- len(s.store.Get()) > 0 }()

	select {
	case <-ctx.Done():
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "no beacon node connection"})
	case any := <-result:
		writeJSON(w, http.StatusOK, map[string]bool{"any": any})
	}
}

func (s *Server) addIdentifiers(w http.ResponseWriter, r *http.Request) {
	var tokens []string
	if err := json.NewDecoder(r.Body).Decode(&tokens); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"identifiers": tokens})

		return
	}

	added, ok := s.registry.Add(r.Context(), tokens)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"identifiers": tokens})

		return
	}

	s.log.WithField("identifiers", tokens).Info("POST validator identifiers")
	writeJSON(w, http.StatusCreated, identifiersToDTO(added))
}

func (s *Server) removeIdentifiers(w http.ResponseWriter, r *http.Request) {
	var tokens []string
	if err := json.NewDecoder(r.Body).Decode(&tokens); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"identifiers": tokens})

		return
	}

	removed, ok := s.registry.Remove(tokens)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"identifiers": tokens})

		return
	}

	s.log.WithField("identifiers", tokens).Info("DELETE validator identifiers")
	writeJSON(w, http.StatusOK, identifiersToDTO(removed))
}

func filterByType(duties []*duty.Duty, kind duty.Type) []*duty.Duty {
	out := make([]*duty.Duty, 0, len(duties))

	for _, d := range duties {
		if d.Type == kind {
			out = append(out, d)
		}
	}

	return out
}

type identifierDTO struct {
	Index  uint64 `json:"validator_index"`
	Pubkey string `json:"pubkey"`
	Alias  string `json:"alias,omitempty"`
}

func identifiersToDTO(ids []*registry.Identifier) []identifierDTO {
	out := make([]identifierDTO, 0, len(ids))

	for _, id := range ids {
		out = append(out, identifierDTO{Index: uint64(id.Index), Pubkey: id.Pubkey, Alias: id.Alias})
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
