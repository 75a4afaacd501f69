package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/geofence-server/internal/broadcast"
	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/rules"
	"github.com/smukkama/geofence-server/internal/state"
)

// memRepo is an in-memory Repository
type memRepo struct {
	mu         sync.Mutex
	geofences  map[string]*domain.Geofence
	vehicles   map[string]*domain.Vehicle
	rules      map[string]*domain.AlertRule
	violations []domain.Violation
	appendErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		geofences: map[string]*domain.Geofence{},
		vehicles:  map[string]*domain.Vehicle{},
		rules:     map[string]*domain.AlertRule{},
	}
}

func (m *memRepo) CreateGeofence(_ context.Context, g *domain.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.geofences[g.ID] = &cp
	return nil
}

func (m *memRepo) GetGeofence(_ context.Context, id string) (*domain.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.geofences[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memRepo) ListGeofences(_ context.Context, category domain.GeofenceCategory) ([]*domain.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Geofence{}
	for _, g := range m.geofences {
		if category == "" || g.Category == category {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) ActiveGeofences(ctx context.Context) ([]*domain.Geofence, error) {
	all, _ := m.ListGeofences(ctx, "")
	out := all[:0]
	for _, g := range all {
		if g.Status == domain.StatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memRepo) SetGeofenceStatus(_ context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.geofences[id]
	if !ok {
		return domain.ErrNotFound
	}
	g.Status = status
	return nil
}

func (m *memRepo) CreateVehicle(_ context.Context, v *domain.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.vehicles {
		if existing.VehicleNumber == v.VehicleNumber {
			return domain.NewValidationError("vehicle_number", "already exists")
		}
	}
	cp := *v
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *memRepo) GetVehicle(_ context.Context, id string) (*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memRepo) ListVehicles(context.Context) ([]*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Vehicle{}
	for _, v := range m.vehicles {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) CreateAlertRule(_ context.Context, r *domain.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *memRepo) GetAlertRule(_ context.Context, id string) (*domain.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) ListAlertRules(_ context.Context, f domain.AlertRuleFilter) ([]*domain.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.AlertRule{}
	for _, r := range m.rules {
		if f.GeofenceID != "" && r.GeofenceID != f.GeofenceID {
			continue
		}
		if id, _ := r.Scope.VehicleID(); f.VehicleID != "" && id != f.VehicleID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) ActiveRulesForGeofence(_ context.Context, geofenceID string) ([]domain.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AlertRule
	for _, r := range m.rules {
		if r.GeofenceID == geofenceID && r.Status == domain.StatusActive {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) SetAlertRuleStatus(_ context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *memRepo) AppendAll(_ context.Context, vs []domain.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.violations = append(m.violations, vs...)
	return nil
}

func (m *memRepo) QueryViolations(_ context.Context, f domain.ViolationFilter) (*domain.ViolationPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &domain.ViolationPage{Violations: []*domain.Violation{}}
	for i := len(m.violations) - 1; i >= 0; i-- {
		v := m.violations[i]
		if f.VehicleID != "" && v.VehicleID != f.VehicleID {
			continue
		}
		page.TotalCount++
		if len(page.Violations) < f.NormalizedLimit() {
			page.Violations = append(page.Violations, &v)
		}
	}
	return page, nil
}

func (m *memRepo) violationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

type collectSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (c *collectSink) Publish(a domain.Alert) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return true
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

type collectHistory struct {
	n int
}

func (c *collectHistory) Offer(domain.LocationUpdate) bool {
	c.n++
	return true
}

var squareCoords = [][2]float64{
	{37.7749, -122.4194},
	{37.7849, -122.4194},
	{37.7849, -122.4094},
	{37.7749, -122.4094},
	{37.7749, -122.4194},
}

type fixture struct {
	repo     *memRepo
	store    *state.Store
	sink     *collectSink
	history  *collectHistory
	engine   *Engine
	geofence *domain.Geofence
	vehicle  *domain.Vehicle
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemRepo(),
		store:   state.NewStore(nil),
		sink:    &collectSink{},
		history: &collectHistory{},
	}
	f.engine = New(f.repo, f.store, f.history, opts, f.sink)
	ctx := context.Background()

	var err error
	f.geofence, err = f.engine.CreateGeofence(ctx, domain.NewGeofence{
		Name: "Downtown", Category: domain.CategoryDeliveryZone, Coordinates: squareCoords,
	})
	if err != nil {
		t.Fatalf("CreateGeofence: %v", err)
	}
	f.vehicle, err = f.engine.CreateVehicle(ctx, domain.NewVehicle{
		VehicleNumber: "KA-01-1234", DriverName: "Asha", VehicleType: domain.VehicleTruck, Phone: "555-0100",
	})
	if err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}
	return f
}

func (f *fixture) report(t *testing.T, lat, lon float64) *LocationResult {
	t.Helper()
	res, err := f.engine.ReportLocation(context.Background(), domain.LocationReport{
		VehicleID: f.vehicle.ID, Latitude: lat, Longitude: lon,
	})
	if err != nil {
		t.Fatalf("ReportLocation(%f, %f): %v", lat, lon, err)
	}
	return res
}

func TestEngine_SquareEntryProducesOneAlert(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.engine.CreateAlertRule(ctx, domain.NewAlertRule{
		GeofenceID: f.geofence.ID, EventType: domain.RuleEntry,
	}); err != nil {
		t.Fatalf("CreateAlertRule: %v", err)
	}

	first := f.report(t, 37.70, -122.50)
	if len(first.Transitions) != 0 || len(first.Geofences) != 0 {
		t.Fatalf("expected nothing outside, got %+v", first)
	}

	second := f.report(t, 37.78, -122.41)
	if len(second.Transitions) != 1 || second.Transitions[0].Type != domain.EventEntry {
		t.Fatalf("expected one entry, got %+v", second.Transitions)
	}
	if len(second.Geofences) != 1 || second.Geofences[0].GeofenceName != "Downtown" {
		t.Errorf("unexpected containment %+v", second.Geofences)
	}
	if f.repo.violationCount() != 1 {
		t.Errorf("expected 1 violation, got %d", f.repo.violationCount())
	}
	if f.sink.count() != 1 {
		t.Fatalf("expected 1 alert, got %d", f.sink.count())
	}

	a := f.sink.alerts[0]
	if a.Vehicle.VehicleNumber != "KA-01-1234" || a.Geofence.GeofenceName != "Downtown" || a.EventType != domain.EventEntry {
		t.Errorf("unexpected alert %+v", a)
	}
	if f.history.n != 2 {
		t.Errorf("expected 2 history offers, got %d", f.history.n)
	}
}

func TestEngine_ExitRuleDoesNotFireOnEntry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, _ = f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, EventType: domain.RuleExit})

	f.report(t, 37.78, -122.41)
	if f.sink.count() != 0 {
		t.Errorf("exit rule fired on entry")
	}
	f.report(t, 37.70, -122.50)
	if f.sink.count() != 1 {
		t.Errorf("expected exit alert, got %d", f.sink.count())
	}
}

func TestEngine_UnknownVehicle(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.engine.ReportLocation(context.Background(), domain.LocationReport{VehicleID: "veh_missing", Latitude: 1, Longitude: 1})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "vehicle_id" {
		t.Fatalf("expected vehicle_id ValidationError, got %v", err)
	}

	if _, err := f.engine.Vehicle(context.Background(), "veh_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if v, err := f.engine.Vehicle(context.Background(), f.vehicle.ID); err != nil || v.VehicleNumber != "KA-01-1234" {
		t.Errorf("unexpected vehicle %+v err=%v", v, err)
	}
}

func TestEngine_StorageFailureHasNoEffect(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, _ = f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, EventType: domain.RuleBoth})

	f.repo.appendErr = errors.New("disk full")
	_, err := f.engine.ReportLocation(ctx, domain.LocationReport{VehicleID: f.vehicle.ID, Latitude: 37.78, Longitude: -122.41})
	if !domain.IsStorage(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if f.sink.count() != 0 {
		t.Error("no alert may be published for a failed update")
	}
	if len(f.store.GetContainment(f.vehicle.ID)) != 0 {
		t.Error("state must be unchanged after a failed update")
	}
	if f.history.n != 0 {
		t.Error("failed update must not reach history")
	}
}

func TestEngine_DeactivateDropsSilentlyByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.report(t, 37.78, -122.41)
	exits, err := f.engine.SetGeofenceStatus(ctx, f.geofence.ID, domain.StatusInactive)
	if err != nil {
		t.Fatalf("SetGeofenceStatus: %v", err)
	}
	if len(exits) != 0 {
		t.Errorf("expected no synthesized exits, got %d", len(exits))
	}

	res := f.report(t, 37.70, -122.50)
	if len(res.Transitions) != 0 {
		t.Errorf("expected silent drop, got %+v", res.Transitions)
	}
	if f.repo.violationCount() != 1 {
		t.Errorf("expected only the entry violation, got %d", f.repo.violationCount())
	}
}

func TestEngine_DeactivateSynthesizesExit(t *testing.T) {
	f := newFixture(t, Options{ExitOnDeactivate: true})
	ctx := context.Background()
	_, _ = f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, EventType: domain.RuleExit})

	f.report(t, 37.78, -122.41)
	exits, err := f.engine.SetGeofenceStatus(ctx, f.geofence.ID, domain.StatusInactive)
	if err != nil {
		t.Fatalf("SetGeofenceStatus: %v", err)
	}
	if len(exits) != 1 || exits[0].VehicleID != f.vehicle.ID || exits[0].Type != domain.EventExit {
		t.Fatalf("expected one synthesized exit, got %+v", exits)
	}
	if f.repo.violationCount() != 2 {
		t.Errorf("expected entry and exit violations, got %d", f.repo.violationCount())
	}
	if f.sink.count() != 1 {
		t.Errorf("expected exit alert, got %d", f.sink.count())
	}

	// Reactivating and staying inside is a fresh entry.
	if _, err := f.engine.SetGeofenceStatus(ctx, f.geofence.ID, domain.StatusActive); err != nil {
		t.Fatal(err)
	}
	res := f.report(t, 37.78, -122.41)
	if len(res.Transitions) != 1 || res.Transitions[0].Type != domain.EventEntry {
		t.Errorf("expected re-entry, got %+v", res.Transitions)
	}
}

func TestEngine_UpdateQueuedBehindDeactivateSeesNewSnapshot(t *testing.T) {
	f := newFixture(t, Options{ExitOnDeactivate: true})
	ctx := context.Background()
	_, _ = f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, EventType: domain.RuleBoth})
	f.report(t, 37.70, -122.50)

	held := make(chan struct{})
	release := make(chan struct{})
	go f.store.WithVehicle(f.vehicle.ID, func(*state.Tx) error {
		close(held)
		<-release
		return nil
	})
	<-held

	updated := make(chan error, 1)
	go func() {
		_, err := f.engine.ReportLocation(ctx, domain.LocationReport{VehicleID: f.vehicle.ID, Latitude: 37.78, Longitude: -122.41})
		updated <- err
	}()
	time.Sleep(20 * time.Millisecond)

	deactivated := make(chan error, 1)
	go func() {
		_, err := f.engine.SetGeofenceStatus(ctx, f.geofence.ID, domain.StatusInactive)
		deactivated <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := f.engine.Snapshot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(snap.Fences) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never dropped the deactivated geofence")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	if err := <-updated; err != nil {
		t.Fatalf("ReportLocation: %v", err)
	}
	if err := <-deactivated; err != nil {
		t.Fatalf("SetGeofenceStatus: %v", err)
	}

	if n := f.repo.violationCount(); n != 0 {
		t.Errorf("expected no violations for an inactive geofence, got %d", n)
	}
	if got := f.store.GetContainment(f.vehicle.ID); len(got) != 0 {
		t.Errorf("state must not hold an inactive geofence, got %v", got)
	}
	if f.sink.count() != 0 {
		t.Errorf("expected no alerts, got %d", f.sink.count())
	}
}

func TestEngine_UpdateAheadOfSweepRecordsExit(t *testing.T) {
	f := newFixture(t, Options{ExitOnDeactivate: true})
	ctx := context.Background()
	_, _ = f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, EventType: domain.RuleExit})
	f.report(t, 37.78, -122.41)

	// The geofence has left the snapshot but the sweep has not reached
	// this vehicle yet.
	if err := f.repo.SetGeofenceStatus(ctx, f.geofence.ID, domain.StatusInactive); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.RefreshGeofences(ctx); err != nil {
		t.Fatal(err)
	}

	res := f.report(t, 37.78, -122.41)
	if len(res.Transitions) != 1 || res.Transitions[0].Type != domain.EventExit {
		t.Fatalf("expected exit on the next update, got %+v", res.Transitions)
	}
	if f.sink.count() != 1 || f.sink.alerts[0].Geofence.GeofenceName != "Downtown" {
		t.Errorf("expected resolved exit alert, got %+v", f.sink.alerts)
	}

	g, _ := f.repo.GetGeofence(ctx, f.geofence.ID)
	exits, err := f.engine.exitAll(ctx, g)
	if err != nil || len(exits) != 0 {
		t.Errorf("sweep must not exit twice, got %+v err=%v", exits, err)
	}
	if f.repo.violationCount() != 2 {
		t.Errorf("expected entry and exit violations, got %d", f.repo.violationCount())
	}
}

func TestEngine_RuleStatusToggle(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r, err := f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, EventType: domain.RuleBoth})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SetAlertRuleStatus(ctx, r.ID, domain.StatusInactive); err != nil {
		t.Fatal(err)
	}

	f.report(t, 37.78, -122.41)
	if f.sink.count() != 0 {
		t.Errorf("inactive rule fired")
	}

	if _, err := f.engine.SetAlertRuleStatus(ctx, r.ID, "paused"); !domain.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := f.engine.SetAlertRuleStatus(ctx, "alert_missing", domain.StatusActive); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_CreateAlertRuleReferences(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: "geo_missing", EventType: domain.RuleEntry})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "geofence_id" {
		t.Errorf("expected geofence_id ValidationError, got %v", err)
	}

	_, err = f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, VehicleID: "veh_missing", EventType: domain.RuleEntry})
	if !errors.As(err, &ve) || ve.Field != "vehicle_id" {
		t.Errorf("expected vehicle_id ValidationError, got %v", err)
	}

	r, err := f.engine.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: f.geofence.ID, VehicleID: f.vehicle.ID, EventType: domain.RuleEntry})
	if err != nil {
		t.Fatal(err)
	}
	if r.VehicleNumber != "KA-01-1234" || r.GeofenceName != "Downtown" {
		t.Errorf("expected resolved names, got %+v", r)
	}
}

func TestEngine_VehicleLocation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	loc, err := f.engine.VehicleLocation(ctx, f.vehicle.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loc.Known {
		t.Error("vehicle without updates must not have a location")
	}

	f.report(t, 37.78, -122.41)
	loc, err = f.engine.VehicleLocation(ctx, f.vehicle.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !loc.Known || loc.Latitude != 37.78 || len(loc.Geofences) != 1 {
		t.Errorf("unexpected location %+v", loc)
	}
	if loc.Geofences[0].Status != domain.StatusActive {
		t.Errorf("expected active geofence, got %s", loc.Geofences[0].Status)
	}

	if _, err := f.engine.VehicleLocation(ctx, "veh_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_BroadcastToSubscribers(t *testing.T) {
	repo := newMemRepo()
	hub := broadcast.NewHub(8, 8, broadcast.DropOldest)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	e := New(repo, state.NewStore(nil), nil, Options{}, hub)
	g, _ := e.CreateGeofence(ctx, domain.NewGeofence{Name: "Downtown", Category: domain.CategoryTollZone, Coordinates: squareCoords})
	v, _ := e.CreateVehicle(ctx, domain.NewVehicle{VehicleNumber: "V1", DriverName: "D", VehicleType: domain.VehicleCar, Phone: "1"})
	_, _ = e.CreateAlertRule(ctx, domain.NewAlertRule{GeofenceID: g.ID, EventType: domain.RuleEntry})

	subs := []*broadcast.Subscription{hub.Subscribe(), hub.Subscribe()}

	if _, err := e.ReportLocation(ctx, domain.LocationReport{VehicleID: v.ID, Latitude: 37.78, Longitude: -122.41}); err != nil {
		t.Fatal(err)
	}

	for i, sub := range subs {
		select {
		case a := <-sub.C():
			if a.Geofence.GeofenceID != g.ID {
				t.Errorf("subscriber %d: unexpected alert %+v", i, a)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestSnapshot_SkipsInactive(t *testing.T) {
	s := NewSnapshot([]*domain.Geofence{
		{ID: "geo_1", Status: domain.StatusActive},
		{ID: "geo_2", Status: domain.StatusInactive},
	}, time.Now())

	if len(s.Fences) != 1 || s.Fences[0].ID != "geo_1" {
		t.Errorf("unexpected fences %+v", s.Fences)
	}
}

var _ rules.Source = (*memRepo)(nil)
