// Package reconcile merges vehicle snapshots into tracked state and emits
// the render instructions needed to bring a map in line with it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/transitlive/livemap/internal/geo"
	"github.com/transitlive/livemap/internal/history"
	"github.com/transitlive/livemap/internal/identity"
	"github.com/transitlive/livemap/pkg/core"
)

// Gate decides whether a tracked vehicle may be shown.
type Gate interface {
	Visible(identity string, t core.VehicleType) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(identity string, t core.VehicleType) bool

// Visible implements Gate.
func (f GateFunc) Visible(identity string, t core.VehicleType) bool { return f(identity, t) }

// AllVisible shows every vehicle.
var AllVisible Gate = GateFunc(func(string, core.VehicleType) bool { return true })

// Deps are the collaborators of a Reconciler. Nil members get defaults.
type Deps struct {
	History    *history.Store
	Resolver   identity.Resolver
	Visibility Gate
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Result summarises one reconciliation pass.
type Result struct {
	Instructions []core.Instruction
	Created      int
	Updated      int
	Removed      int
	Rejected     int
	Suppressed   int
}

func (r *Result) emit(in ...core.Instruction) {
	r.Instructions = append(r.Instructions, in...)
}

// TrackedView is a read-only copy of one tracked vehicle.
type TrackedView struct {
	Identity     string             `json:"identity"`
	Derived      bool               `json:"derived"`
	Record       core.VehicleRecord `json:"record"`
	OnMap        bool               `json:"onMap"`
	TrailVisible bool               `json:"trailVisible"`
	LastSeen     time.Time          `json:"lastSeen"`
	// LastMoved is the timestamp of the newest history entry.
	LastMoved   time.Time `json:"lastMoved,omitempty"`
	TrailMeters float64   `json:"trailMeters"`
}

type trackedVehicle struct {
	id           identity.Identity
	record       core.VehicleRecord
	onMap        bool
	trailVisible bool
	trailLen     int
	lastSeen     time.Time
}

// Reconciler is the single writer of tracked vehicle state and history.
type Reconciler struct {
	mu       sync.Mutex
	tracked  map[string]*trackedVehicle
	history  *history.Store
	resolver identity.Resolver
	gate     Gate
	policy   Policy
	logger   *slog.Logger
	clock    func() time.Time
	metrics  *metrics
}

// New creates a Reconciler.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(deps Deps, policy Policy) (*Reconciler, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	r := &Reconciler{
		tracked:  make(map[string]*trackedVehicle),
		history:  deps.History,
		resolver: deps.Resolver,
		gate:     deps.Visibility,
		policy:   policy.withDefaults(),
		logger:   deps.Logger,
		clock:    deps.Clock,
		metrics:  m,
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.history == nil {
		r.history = history.NewStore(history.DefaultWindow, r.clock)
	}
	if r.resolver == nil {
		r.resolver = identity.NewGridResolver(identity.DefaultGridDegrees)
	}
	if r.gate == nil {
		r.gate = AllVisible
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Policy returns the effective policy.
func (r *Reconciler) Policy() Policy { return r.policy }

// History exposes the store for read access.
func (r *Reconciler) History() *history.Store { return r.history }

// Apply merges snap into tracked state. Per-record problems are counted in
// Result.Rejected and never abort the pass.
func (r *Reconciler) Apply(snap core.Snapshot) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	res := Result{Rejected: len(snap.Rejected)}
	for _, rej := range snap.Rejected {
		r.logger.Debug("record rejected by parser", "index", rej.Index, "id", rej.ID, "reason", rej.Reason)
	}

	seen := make(map[string]struct{}, len(snap.Records))
	for i, rec := range snap.Records {
		if !rec.Coordinates.Valid() {
			res.Rejected++
			r.logger.Debug("record rejected", "index", i, "id", rec.ID, "reason", "invalid coordinates")
			continue
		}
		id, err := r.resolver.Resolve(rec)
		if err != nil {
			res.Rejected++
			r.logger.Debug("record rejected", "index", i, "reason", err)
			continue
		}
		if id.Derived {
			id.Key = r.matchDerived(id, rec, seen)
		}
		seen[id.Key] = struct{}{}
		r.upsert(&res, id, rec, now)
	}

	complete := r.policy.TreatSnapshotAsComplete && !snap.Partial
	if complete {
		for _, key := range r.sortedKeys() {
			if _, ok := seen[key]; !ok {
				r.remove(&res, key)
			}
		}
	} else {
		for _, key := range snap.Removed {
			if _, ok := r.tracked[key]; ok {
				r.remove(&res, key)
			}
		}
		r.removeStale(&res, now)
	}

	r.record(res)
	if res.Rejected > 0 {
		r.logger.Info("snapshot applied with rejected records",
			"rejected", res.Rejected, "created", res.Created, "removed", res.Removed)
	}
	return res
}

// ApplyDelta merges a partial update: records upsert, removed ids retire.
// Absent identities are left alone.
func (r *Reconciler) ApplyDelta(records []core.VehicleRecord, removed []string) Result {
	return r.Apply(core.Snapshot{Records: records, Removed: removed, Partial: true})
}

// Sweep prunes expired history and refreshes trails. Under a partial
// snapshot policy it also retires vehicles not seen within StaleTimeout.
func (r *Reconciler) Sweep(now time.Time) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	if !r.policy.TreatSnapshotAsComplete {
		r.removeStale(&res, now)
	}
	r.history.Prune()
	for _, key := range r.sortedKeys() {
		tv := r.tracked[key]
		if !tv.onMap {
			continue
		}
		r.syncTrail(&res, key, tv, false)
	}
	r.record(res)
	return res
}

// Show forces identity onto the map from last-known data.
func (r *Reconciler) Show(key string) []core.Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res Result
	if tv, ok := r.tracked[key]; ok && !tv.onMap {
		r.place(&res, key, tv)
	}
	return res.Instructions
}

// Hide takes identity off the map while keeping it tracked.
func (r *Reconciler) Hide(key string) []core.Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res Result
	if tv, ok := r.tracked[key]; ok {
		r.unrender(&res, key, tv)
	}
	return res.Instructions
}

// Refresh re-evaluates the gate for every tracked vehicle and returns the
// instructions that bring the map in line with it.
func (r *Reconciler) Refresh() []core.Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res Result
	for _, key := range r.sortedKeys() {
		tv := r.tracked[key]
		visible := r.gate.Visible(key, tv.record.Type)
		switch {
		case visible && !tv.onMap:
			r.place(&res, key, tv)
		case !visible && tv.onMap:
			r.unrender(&res, key, tv)
		}
	}
	return res.Instructions
}

// Tracked returns a copy of every tracked vehicle, sorted by identity.
func (r *Reconciler) Tracked() []TrackedView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TrackedView, 0, len(r.tracked))
	for _, key := range r.sortedKeys() {
		tv := r.tracked[key]
		view := TrackedView{
			Identity:     key,
			Derived:      tv.id.Derived,
			Record:       tv.record,
			OnMap:        tv.onMap,
			TrailVisible: tv.trailVisible,
			LastSeen:     tv.lastSeen,
			TrailMeters:  geo.TrailLength(r.history.RenderableTrail(key)),
		}
		if last, ok := r.history.Last(key); ok {
			view.LastMoved = last.Timestamp
		}
		out = append(out, view)
	}
	return out
}

// TrackedByType lists the identities of tracked vehicles of type t.
func (r *Reconciler) TrackedByType(t core.VehicleType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, key := range r.sortedKeys() {
		if r.tracked[key].record.Type == t {
			out = append(out, key)
		}
	}
	return out
}

// TrackedIdentities implements visibility.TrackedEnumerator.
func (r *Reconciler) TrackedIdentities(_ context.Context, t core.VehicleType) []string {
	return r.TrackedByType(t)
}

// Len returns the number of tracked vehicles.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

func (r *Reconciler) upsert(res *Result, id identity.Identity, rec core.VehicleRecord, now time.Time) {
	key := id.Key
	visible := r.gate.Visible(key, rec.Type)
	tv, ok := r.tracked[key]
	if !ok {
		tv = &trackedVehicle{id: id, record: rec, lastSeen: now}
		r.tracked[key] = tv
		r.history.Record(key, rec.Coordinates, rec.LastUpdated, rec.BearingOrZero())
		res.Created++
		if visible {
			r.place(res, key, tv)
		} else {
			res.Suppressed++
		}
		return
	}

	prev := tv.record
	tv.record = rec
	tv.lastSeen = now

	posChanged := r.moved(prev.Coordinates, rec.Coordinates)
	if posChanged {
		r.history.Record(key, rec.Coordinates, rec.LastUpdated, rec.BearingOrZero())
	}
	bearingChanged := prev.BearingOrZero() != rec.BearingOrZero()
	styleChanged := core.StyleFor(prev) != core.StyleFor(rec)
	if posChanged || bearingChanged || styleChanged {
		res.Updated++
	}

	if !visible {
		if tv.onMap {
			r.unrender(res, key, tv)
		} else if posChanged {
			res.Suppressed++
		}
		return
	}
	switch {
	case !tv.onMap || styleChanged:
		// a restyle needs a fresh marker
		if tv.onMap {
			res.emit(core.Instruction{Op: core.OpRemoveMarker, Identity: key})
		}
		r.place(res, key, tv)
	case posChanged || bearingChanged:
		res.emit(core.Instruction{
			Op:       core.OpMoveMarker,
			Identity: key,
			Position: rec.Coordinates,
			Bearing:  rec.BearingOrZero(),
		})
		if posChanged {
			r.syncTrail(res, key, tv, true)
		}
	}
}

// place emits the marker and, when at least 2 points exist, the trail.
func (r *Reconciler) place(res *Result, key string, tv *trackedVehicle) {
	res.emit(placeInstruction(key, tv.record))
	tv.onMap = true
	tv.trailVisible = false
	tv.trailLen = 0
	r.syncTrail(res, key, tv, false)
}

// syncTrail emits set_trail or clear_trail when the rendered trail is out of
// date. grown is set when a point was just recorded.
func (r *Reconciler) syncTrail(res *Result, key string, tv *trackedVehicle, grown bool) {
	trail := r.history.RenderableTrail(key)
	switch {
	case trail != nil && (grown || !tv.trailVisible || len(trail) != tv.trailLen):
		res.emit(core.Instruction{Op: core.OpSetTrail, Identity: key, Trail: trail})
		tv.trailVisible = true
		tv.trailLen = len(trail)
	case trail == nil && tv.trailVisible:
		res.emit(core.Instruction{Op: core.OpClearTrail, Identity: key})
		tv.trailVisible = false
		tv.trailLen = 0
	}
}

func (r *Reconciler) unrender(res *Result, key string, tv *trackedVehicle) {
	if tv.onMap {
		res.emit(core.Instruction{Op: core.OpRemoveMarker, Identity: key})
	}
	if tv.trailVisible {
		res.emit(core.Instruction{Op: core.OpClearTrail, Identity: key})
	}
	tv.onMap = false
	tv.trailVisible = false
	tv.trailLen = 0
}

func (r *Reconciler) remove(res *Result, key string) {
	tv := r.tracked[key]
	r.unrender(res, key, tv)
	r.history.Clear(key)
	delete(r.tracked, key)
	res.Removed++
	r.logger.Debug("vehicle removed", "identity", key)
}

func (r *Reconciler) removeStale(res *Result, now time.Time) {
	cutoff := now.Add(-r.policy.StaleTimeout)
	for _, key := range r.sortedKeys() {
		if r.tracked[key].lastSeen.Before(cutoff) {
			r.remove(res, key)
		}
	}
}

func (r *Reconciler) moved(a, b core.Position) bool {
	eps := r.policy.MoveEpsilonDegrees
	return math.Abs(a.Lat-b.Lat) >= eps || math.Abs(a.Lng-b.Lng) >= eps
}

// matchDerived pairs a derived identity with the nearest unclaimed tracked
// vehicle of the same type and route inside the match radius, so a vehicle
// crossing a grid cell keeps its key. Two vehicles in one cell get suffixed keys.
func (r *Reconciler) matchDerived(id identity.Identity, rec core.VehicleRecord, seen map[string]struct{}) string {
	if _, claimed := seen[id.Key]; !claimed {
		if _, ok := r.tracked[id.Key]; ok {
			return id.Key
		}
	}

	best, bestDist := "", math.Inf(1)
	for key, tv := range r.tracked {
		if !tv.id.Derived || tv.id.Group != id.Group {
			continue
		}
		if _, claimed := seen[key]; claimed {
			continue
		}
		d := geo.Distance(tv.record.Coordinates, rec.Coordinates)
		if d <= r.policy.MatchRadiusMeters && (d < bestDist || (d == bestDist && key < best)) {
			best, bestDist = key, d
		}
	}
	if best != "" {
		return best
	}

	key := id.Key
	for n := 2; ; n++ {
		_, claimed := seen[key]
		_, tracked := r.tracked[key]
		if !claimed && !tracked {
			return key
		}
		key = id.Key + "#" + strconv.Itoa(n)
	}
}

func (r *Reconciler) sortedKeys() []string {
	keys := make([]string, 0, len(r.tracked))
	for k := range r.tracked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Reconciler) record(res Result) {
	ctx := context.Background()
	if res.Rejected > 0 {
		r.metrics.rejected.Add(ctx, int64(res.Rejected))
	}
	if res.Created > 0 {
		r.metrics.created.Add(ctx, int64(res.Created))
	}
	if res.Removed > 0 {
		r.metrics.removed.Add(ctx, int64(res.Removed))
	}
	var moves int64
	for _, in := range res.Instructions {
		if in.Op == core.OpMoveMarker {
			moves++
		}
	}
	if moves > 0 {
		r.metrics.moved.Add(ctx, moves)
	}
}

func placeInstruction(key string, rec core.VehicleRecord) core.Instruction {
	return core.Instruction{
		Op:       core.OpPlaceMarker,
		Identity: key,
		Position: rec.Coordinates,
		Bearing:  rec.BearingOrZero(),
		Style:    core.StyleFor(rec),
	}
}

// String is used in log lines.
func (r Result) String() string {
	return fmt.Sprintf("created=%d updated=%d removed=%d rejected=%d suppressed=%d instructions=%d",
		r.Created, r.Updated, r.Removed, r.Rejected, r.Suppressed, len(r.Instructions))
}
