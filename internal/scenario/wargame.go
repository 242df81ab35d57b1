package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/qjm/internal/battle"
	"github.com/MrWong99/qjm/internal/formation"
	"github.com/MrWong99/qjm/internal/lookup"
	"github.com/MrWong99/qjm/internal/observe"
	"github.com/MrWong99/qjm/internal/sitrep"
	"github.com/MrWong99/qjm/internal/store"
)

// ErrNoStore is returned by state operations when no [store.Store] is
// configured.
var ErrNoStore = errors.New("scenario: no state store configured")

// Event kinds published to a [Notifier].
const (
	EventScenarioLoaded  = "scenario.loaded"
	EventBattleCommitted = "battle.committed"
	EventSnapshotTaken   = "snapshot.taken"
	EventStateRestored   = "state.restored"
)

// Event describes a change to the loaded scenario.
type Event struct {
	Kind     string          `json:"kind"`
	Scenario string          `json:"scenario"`
	Date     string          `json:"date,omitempty"`
	Outcome  *battle.Outcome `json:"outcome,omitempty"`
	At       time.Time       `json:"at"`
}

// Notifier receives scenario events. Publish must not block.
type Notifier interface {
	Publish(Event)
}

// Option configures a [Wargame].
type Option func(*Wargame)

// WithStore enables state persistence and snapshot mirroring.
func WithStore(s store.Store) Option {
	return func(w *Wargame) { w.store = s }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Wargame) { w.metrics = m }
}

// WithNotifier publishes scenario events to n.
func WithNotifier(n Notifier) Option {
	return func(w *Wargame) { w.notifier = n }
}

// WithSeed seeds the loss-roll source. Zero keeps a random seed.
func WithSeed(seed uint64) Option {
	return func(w *Wargame) {
		if seed != 0 {
			w.rng = rand.New(rand.NewPCG(seed, seed))
		}
	}
}

// WithEngineOptions adds options to every battle engine the wargame builds.
func WithEngineOptions(opts ...battle.Option) Option {
	return func(w *Wargame) { w.engineOpts = append(w.engineOpts, opts...) }
}

type library struct {
	deps   Deps
	tables *lookup.Set
}

type session struct {
	sc     *Scenario
	engine *battle.Engine
}

// Wargame serves one loaded scenario at a time. Loads and restores swap the
// whole scenario atomically. Commits, snapshots and restores are serialised;
// reads run concurrently with each other.
type Wargame struct {
	root       string
	engineOpts []battle.Option
	store      store.Store
	metrics    *observe.Metrics
	notifier   Notifier

	lib atomic.Pointer[library]
	cur atomic.Pointer[session]

	mu   sync.RWMutex // guards element state, rng and date
	rng  *rand.Rand
	date time.Time
}

// New returns a wargame loading scenarios from subdirectories of root.
func New(root string, deps Deps, tables *lookup.Set, opts ...Option) *Wargame {
	w := &Wargame{
		root: root,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	w.lib.Store(&library{deps: deps, tables: tables})
	return w
}

func (w *Wargame) session() (*session, error) {
	s := w.cur.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s, nil
}

func (w *Wargame) engine(lib *library, dispersion float64) *battle.Engine {
	opts := append([]battle.Option{battle.WithDispersion(dispersion)}, w.engineOpts...)
	return battle.New(lib.tables, opts...)
}

func (w *Wargame) publish(kind, date string, out *battle.Outcome) {
	if w.notifier == nil {
		return
	}
	name := ""
	if s := w.cur.Load(); s != nil {
		name = s.sc.Name
	}
	w.notifier.Publish(Event{Kind: kind, Scenario: name, Date: date, Outcome: out, At: time.Now().UTC()})
}

// Loaded reports whether a scenario is loaded.
func (w *Wargame) Loaded() bool { return w.cur.Load() != nil }

// Name returns the loaded scenario's name.
func (w *Wargame) Name() (string, error) {
	s, err := w.session()
	if err != nil {
		return "", err
	}
	return s.sc.Name, nil
}

// LoadScenario instantiates the scenario directory root/name and makes it
// current, discarding any element state of the previous scenario.
func (w *Wargame) LoadScenario(ctx context.Context, name string) error {
	if name == "" || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: scenario name %q", ErrInvalid, name)
	}
	lib := w.lib.Load()
	sc, err := Load(ctx, filepath.Join(w.root, name), lib.deps)
	if err != nil {
		return err
	}
	w.install(ctx, &session{sc: sc, engine: w.engine(lib, sc.Dispersion)}, sc.StartDate)
	w.publish(EventScenarioLoaded, sc.StartDate.Format(DateLayout), nil)
	return nil
}

func (w *Wargame) install(ctx context.Context, s *session, date time.Time) {
	w.mu.Lock()
	w.installLocked(ctx, s, date)
	w.mu.Unlock()
}

// installLocked makes s current. The caller holds mu.
func (w *Wargame) installLocked(ctx context.Context, s *session, date time.Time) {
	w.cur.Store(s)
	w.date = date
	w.metrics.LoadedFormations.Record(ctx, int64(len(s.sc.formations)))
}

// Reload swaps the catalog, templates and tables and re-instantiates the
// current scenario against them. Element statuses, snapshots, the date and
// the dispersion carry over; they are copied and the new scenario installed
// under one lock, so no commit can land in between. If the scenario no
// longer has the same shape, the old one stays current.
func (w *Wargame) Reload(ctx context.Context, deps Deps, tables *lookup.Set) error {
	lib := &library{deps: deps, tables: tables}
	w.lib.Store(lib)
	s := w.cur.Load()
	if s == nil {
		return nil
	}
	sc, err := Load(ctx, s.sc.Dir, deps)
	if err != nil {
		return fmt.Errorf("scenario: reload: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	old := w.cur.Load()
	if old.sc.Dir != sc.Dir {
		observe.Logger(ctx).Info("reload superseded by a scenario load", "scenario", old.sc.Name)
		return nil
	}
	var errs []error
	for _, f := range old.sc.Formations() {
		nf, ok := sc.FormationByName(f.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: formation %q", ErrNotFound, f.Name))
			continue
		}
		if err := nf.ApplyStatuses(f.Statuses()); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
			continue
		}
		for _, snap := range f.Snapshots() {
			nf.PutSnapshot(snap)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario: reload: %w", err)
	}
	sc.Dispersion = old.engine.Dispersion()
	w.installLocked(ctx, &session{sc: sc, engine: w.engine(lib, sc.Dispersion)}, w.date)
	observe.Logger(ctx).Info("scenario reloaded", "scenario", sc.Name)
	return nil
}

// CurrentDate returns the scenario date: the start date until a snapshot
// moves it.
func (w *Wargame) CurrentDate() (time.Time, error) {
	if _, err := w.session(); err != nil {
		return time.Time{}, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.date, nil
}

// Dispersion returns the loaded scenario's dispersion factor.
func (w *Wargame) Dispersion() (float64, error) {
	s, err := w.session()
	if err != nil {
		return 0, err
	}
	return s.engine.Dispersion(), nil
}

// Formation summarises the node with the given id.
func (w *Wargame) Formation(id string) (FormationInfo, error) {
	s, err := w.session()
	if err != nil {
		return FormationInfo{}, err
	}
	f, ok := s.sc.Formation(id)
	if !ok {
		return FormationInfo{}, fmt.Errorf("%w: formation %q", ErrNotFound, id)
	}
	return w.info(f), nil
}

// FormationByName summarises the node with the given name.
func (w *Wargame) FormationByName(name string) (FormationInfo, error) {
	s, err := w.session()
	if err != nil {
		return FormationInfo{}, err
	}
	f, ok := s.sc.FormationByName(name)
	if !ok {
		return FormationInfo{}, fmt.Errorf("%w: formation %q", ErrNotFound, name)
	}
	return w.info(f), nil
}

func (w *Wargame) info(f *formation.Formation) FormationInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return FormationInfo{
		Name:      f.Name,
		OLI:       f.OLI(true).Total(),
		Faction:   f.Faction,
		Personnel: f.CountPersonnel(true),
		Vehicles:  f.CountVehicles(true),
		SIDC:      f.SIDC,
		ShortName: f.ShortName,
		UnitID:    f.ID,
	}
}

// Factions returns the faction tree: one node per faction with its
// formation trees as children.
func (w *Wargame) Factions() ([]Node, error) {
	s, err := w.session()
	if err != nil {
		return nil, err
	}
	tree := make([]Node, 0, len(s.sc.Factions))
	for _, fac := range s.sc.Factions {
		n := Node{
			ID:        "faction-" + fac.Name,
			Name:      fac.Name,
			ShortName: fac.Name,
			SIDC:      FactionSIDC,
			Color:     fac.Color,
			Children:  []Node{},
		}
		for _, f := range fac.Formations {
			n.Children = append(n.Children, formationNode(f))
		}
		tree = append(tree, n)
	}
	return tree, nil
}

func formationNode(f *formation.Formation) Node {
	n := Node{
		ID:        f.ID,
		Name:      f.Name,
		ShortName: f.ShortName,
		SIDC:      f.SIDC,
		Children:  []Node{},
	}
	for _, sub := range f.Subunits {
		n.Children = append(n.Children, formationNode(sub))
	}
	return n
}

// Aircraft lists the faction aircraft in id order.
func (w *Wargame) Aircraft() ([]*Aircraft, error) {
	s, err := w.session()
	if err != nil {
		return nil, err
	}
	var out []*Aircraft
	for _, fac := range s.sc.Factions {
		out = append(out, fac.Aircraft...)
	}
	return out, nil
}

// Personnel counts the ACTIVE personnel of each side's own elements,
// excluding subunits. Unknown ids are skipped.
func (w *Wargame) Personnel(attackers, defenders []string) (PersonnelCount, error) {
	s, err := w.session()
	if err != nil {
		return PersonnelCount{}, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	count := func(ids []string) int {
		n := 0
		for _, id := range ids {
			if f, ok := s.sc.Formation(id); ok {
				n += f.CountPersonnel(false)
			}
		}
		return n
	}
	return PersonnelCount{Attackers: count(attackers), Defenders: count(defenders)}, nil
}

// Simulate resolves req without changing any formation.
func (w *Wargame) Simulate(ctx context.Context, req BattleRequest) (*battle.Result, error) {
	s, err := w.session()
	if err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	in, err := req.input(s.sc)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := s.engine.Resolve(ctx, in)
	w.metrics.RecordBattle(ctx, "simulate", time.Since(start).Seconds(), err)
	return res, err
}

// Commit resolves req and inflicts the losses on every named formation.
func (w *Wargame) Commit(ctx context.Context, req BattleRequest) (*battle.Outcome, error) {
	s, err := w.session()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	s = w.cur.Load()
	in, err := req.input(s.sc)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	start := time.Now()
	out, err := s.engine.Commit(ctx, in, w.rng)
	date := w.date.Format(DateLayout)
	w.mu.Unlock()

	w.metrics.RecordBattle(ctx, "commit", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	w.metrics.RecordLosses(ctx, "attacker", out.AttackerLosses.Personnel(), out.AttackerLosses.Vehicles())
	w.metrics.RecordLosses(ctx, "defender", out.DefenderLosses.Personnel(), out.DefenderLosses.Vehicles())
	w.publish(EventBattleCommitted, date, out)
	return out, nil
}

// Sitrep resolves req and renders a situation report for it.
func (w *Wargame) Sitrep(ctx context.Context, req BattleRequest, now time.Time) (string, error) {
	s, err := w.session()
	if err != nil {
		return "", err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	in, err := req.input(s.sc)
	if err != nil {
		return "", err
	}
	res, err := s.engine.Resolve(ctx, in)
	if err != nil {
		return "", err
	}
	return sitrep.Build(in, res, now), nil
}

// Snapshot records every formation's ACTIVE counts under date and makes
// date the current date. Formations named in locs get a location.
func (w *Wargame) Snapshot(ctx context.Context, date string, locs []UnitLocation) error {
	s, err := w.session()
	if err != nil {
		return err
	}
	t, err := ParseDate(date)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	where := make(map[string][]float64, len(locs))
	for _, l := range locs {
		where[l.ID] = l.Coordinates
	}

	log := observe.Logger(ctx)
	w.mu.Lock()
	s = w.cur.Load()
	for _, f := range s.sc.Formations() {
		snap := f.Snapshot(date, where[f.ID])
		if w.store == nil {
			continue
		}
		rec := store.SnapshotRecord{Scenario: s.sc.Name, Formation: f.Name, Snapshot: snap}
		if err := w.store.SaveSnapshot(ctx, rec); err != nil {
			w.metrics.RecordStoreError(ctx, "save_snapshot")
			log.Error("snapshot not persisted", "formation", f.Name, "date", date, "err", err)
		}
	}
	w.date = t
	w.mu.Unlock()

	w.publish(EventSnapshotTaken, date, nil)
	return nil
}

// Snapshots lists the located formations of the snapshot taken on date.
func (w *Wargame) Snapshots(date string) (SnapshotView, error) {
	s, err := w.session()
	if err != nil {
		return SnapshotView{}, err
	}
	view := SnapshotView{Formations: []Placement{}}
	for _, f := range s.sc.Formations() {
		if snap, ok := f.GetSnapshot(date); ok && snap.Location != nil {
			view.Formations = append(view.Formations, Placement{ID: f.ID, Location: snap.Location})
		}
	}
	return view, nil
}

// SaveState persists every element status of the loaded scenario.
func (w *Wargame) SaveState(ctx context.Context) error {
	s, err := w.session()
	if err != nil {
		return err
	}
	if w.store == nil {
		return ErrNoStore
	}

	w.mu.RLock()
	s = w.cur.Load()
	st := store.State{
		Scenario:    s.sc.Name,
		Dispersion:  s.engine.Dispersion(),
		CurrentDate: w.date.Format(DateLayout),
		Formations:  make(map[string][]formation.Status, len(s.sc.formations)),
	}
	for _, f := range s.sc.Formations() {
		st.Formations[f.Name] = f.Statuses()
	}
	w.mu.RUnlock()

	if err := w.store.SaveState(ctx, st); err != nil {
		w.metrics.RecordStoreError(ctx, "save_state")
		return fmt.Errorf("scenario: save state: %w", err)
	}
	observe.Logger(ctx).Info("state saved", "scenario", st.Scenario, "formations", len(st.Formations))
	return nil
}

// RestoreState reloads the current scenario from disk and re-applies the
// persisted element statuses, dispersion, date and snapshots. Nothing is
// swapped in unless the whole state applies.
func (w *Wargame) RestoreState(ctx context.Context) error {
	s, err := w.session()
	if err != nil {
		return err
	}
	if w.store == nil {
		return ErrNoStore
	}
	st, err := w.store.LoadState(ctx, s.sc.Name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.metrics.RecordStoreError(ctx, "load_state")
		}
		return fmt.Errorf("scenario: restore state: %w", err)
	}

	lib := w.lib.Load()
	sc, err := Load(ctx, s.sc.Dir, lib.deps)
	if err != nil {
		return err
	}

	var errs []error
	for name, statuses := range st.Formations {
		f, ok := sc.FormationByName(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: formation %q", ErrNotFound, name))
			continue
		}
		if err := f.ApplyStatuses(statuses); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
		}
	}
	date := sc.StartDate
	if st.CurrentDate != "" {
		if date, err = ParseDate(st.CurrentDate); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario: restore state: %w", err)
	}

	recs, err := w.store.Snapshots(ctx, sc.Name, "")
	if err != nil {
		w.metrics.RecordStoreError(ctx, "snapshots")
		return fmt.Errorf("scenario: restore snapshots: %w", err)
	}
	for _, rec := range recs {
		if f, ok := sc.FormationByName(rec.Formation); ok {
			f.PutSnapshot(rec.Snapshot)
		}
	}

	if st.Dispersion > 0 {
		sc.Dispersion = st.Dispersion
	}
	w.install(ctx, &session{sc: sc, engine: w.engine(lib, sc.Dispersion)}, date)
	observe.Logger(ctx).Info("state restored",
		"scenario", sc.Name, "formations", len(st.Formations), "snapshots", len(recs))
	w.publish(EventStateRestored, date.Format(DateLayout), nil)
	return nil
}
