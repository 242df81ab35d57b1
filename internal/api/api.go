// Package api is the JSON request layer over a [scenario.Wargame]. Routes
// use [http.ServeMux] method patterns; errors are mapped to status codes
// by the sentinel they wrap.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/qjm/internal/battle"
	"github.com/MrWong99/qjm/internal/lookup"
	"github.com/MrWong99/qjm/internal/observe"
	"github.com/MrWong99/qjm/internal/scenario"
	"github.com/MrWong99/qjm/internal/store"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Wargame is the scenario surface the API serves. *scenario.Wargame
// satisfies it.
type Wargame interface {
	LoadScenario(ctx context.Context, name string) error
	Name() (string, error)
	CurrentDate() (time.Time, error)
	Dispersion() (float64, error)
	Factions() ([]scenario.Node, error)
	Formation(id string) (scenario.FormationInfo, error)
	Aircraft() ([]*scenario.Aircraft, error)
	Personnel(attackers, defenders []string) (scenario.PersonnelCount, error)
	Simulate(ctx context.Context, req scenario.BattleRequest) (*battle.Result, error)
	Commit(ctx context.Context, req scenario.BattleRequest) (*battle.Outcome, error)
	Sitrep(ctx context.Context, req scenario.BattleRequest, now time.Time) (string, error)
	Snapshot(ctx context.Context, date string, locs []scenario.UnitLocation) error
	Snapshots(date string) (scenario.SnapshotView, error)
	SaveState(ctx context.Context) error
	RestoreState(ctx context.Context) error
	Equipment(name string) (scenario.EquipmentInfo, error)
	FactorTables() []string
	FactorTable(name string) (scenario.FactorTable, error)
}

var _ Wargame = (*scenario.Wargame)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithHub serves the event feed at /ws.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithClock overrides time.Now for SITREP timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server holds the API handlers.
type Server struct {
	wg  Wargame
	hub *Hub
	now func() time.Time
}

// New returns a server for wg.
func New(wg Wargame, opts ...Option) *Server {
	s := &Server{wg: wg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/scenario", s.scenarioStatus)
	mux.HandleFunc("POST /api/scenarios/{name}/load", s.loadScenario)
	mux.HandleFunc("GET /api/formations", s.formations)
	mux.HandleFunc("GET /api/formations/{id}", s.formation)
	mux.HandleFunc("GET /api/aircraft", s.aircraft)
	mux.HandleFunc("POST /api/personnel", s.personnel)
	mux.HandleFunc("POST /api/battles/simulate", s.simulate)
	mux.HandleFunc("POST /api/battles/commit", s.commit)
	mux.HandleFunc("POST /api/battles/sitrep", s.sitrep)
	mux.HandleFunc("POST /api/snapshots", s.snapshot)
	mux.HandleFunc("GET /api/snapshots/{date}", s.snapshots)
	mux.HandleFunc("POST /api/state/save", s.saveState)
	mux.HandleFunc("POST /api/state/load", s.loadState)
	mux.HandleFunc("GET /api/equipment/{name}", s.equipment)
	mux.HandleFunc("GET /api/tables", s.tables)
	mux.HandleFunc("GET /api/tables/{name}", s.table)
	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
}

type status struct {
	Status string `json:"status"`
}

type scenarioStatus struct {
	Name       string  `json:"name"`
	Date       string  `json:"date"`
	Dispersion float64 `json:"dispersion"`
}

func (s *Server) scenarioStatus(w http.ResponseWriter, r *http.Request) {
	name, err := s.wg.Name()
	if err != nil {
		writeError(w, r, err)
		return
	}
	date, _ := s.wg.CurrentDate()
	disp, _ := s.wg.Dispersion()
	writeJSON(w, http.StatusOK, scenarioStatus{Name: name, Date: date.Format(scenario.DateLayout), Dispersion: disp})
}

func (s *Server) loadScenario(w http.ResponseWriter, r *http.Request) {
	if err := s.wg.LoadScenario(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	s.scenarioStatus(w, r)
}

func (s *Server) formations(w http.ResponseWriter, r *http.Request) {
	tree, err := s.wg.Factions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) formation(w http.ResponseWriter, r *http.Request) {
	info, err := s.wg.Formation(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) aircraft(w http.ResponseWriter, r *http.Request) {
	air, err := s.wg.Aircraft()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if air == nil {
		air = []*scenario.Aircraft{}
	}
	writeJSON(w, http.StatusOK, air)
}

type personnelRequest struct {
	Attackers []string `json:"attackers"`
	Defenders []string `json:"defenders"`
}

func (s *Server) personnel(w http.ResponseWriter, r *http.Request) {
	var req personnelRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := s.wg.Personnel(req.Attackers, req.Defenders)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	var req scenario.BattleRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.wg.Simulate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type commitResponse struct {
	Status string          `json:"status"`
	Result *battle.Outcome `json:"result"`
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	var req scenario.BattleRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.wg.Commit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{Status: "committed", Result: out})
}

func (s *Server) sitrep(w http.ResponseWriter, r *http.Request) {
	var req scenario.BattleRequest
	if !decode(w, r, &req) {
		return
	}
	text, err := s.wg.Sitrep(r.Context(), req, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, text)
}

type snapshotRequest struct {
	Date          string                  `json:"date"`
	UnitLocations []scenario.UnitLocation `json:"unitLocations"`
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Date == "" {
		writeError(w, r, fmt.Errorf("%w: missing date", scenario.ErrInvalid))
		return
	}
	if err := s.wg.Snapshot(r.Context(), req.Date, req.UnitLocations); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status{Status: "success"})
}

func (s *Server) snapshots(w http.ResponseWriter, r *http.Request) {
	view, err := s.wg.Snapshots(r.PathValue("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) saveState(w http.ResponseWriter, r *http.Request) {
	if err := s.wg.SaveState(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status{Status: "saved"})
}

func (s *Server) loadState(w http.ResponseWriter, r *http.Request) {
	if err := s.wg.RestoreState(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status{Status: "restored"})
}

func (s *Server) equipment(w http.ResponseWriter, r *http.Request) {
	info, err := s.wg.Equipment(r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) tables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.wg.FactorTables())
}

func (s *Server) table(w http.ResponseWriter, r *http.Request) {
	t, err := s.wg.FactorTable(r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, scenario.ErrNotLoaded), errors.Is(err, scenario.ErrNoStore):
		return http.StatusConflict
	case errors.Is(err, scenario.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, battle.ErrUnknownFormation),
		errors.Is(err, battle.ErrUnknownAircraft):
		return http.StatusNotFound
	case errors.Is(err, scenario.ErrInvalid),
		errors.Is(err, scenario.ErrDuplicateFormation),
		errors.Is(err, battle.ErrInvalidInput),
		errors.Is(err, lookup.ErrMissingKey),
		errors.Is(err, lookup.ErrUnknownPosture):
		return http.StatusBadRequest
	case errors.Is(err, battle.ErrNoPersonnel), errors.Is(err, battle.ErrNoStrength):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusOf(err)
	body := errorBody{Error: err.Error()}
	var unknown *scenario.UnknownEquipmentError
	if errors.As(err, &unknown) {
		body.Suggestions = unknown.Suggestions
	}
	log := observe.Logger(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "err", err)
		body.Error = http.StatusText(code)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, body)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, fmt.Errorf("%w: body: %v", scenario.ErrInvalid, err))
		return false
	}
	return true
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode"}`, http.StatusInternalServerError)
	}
}
