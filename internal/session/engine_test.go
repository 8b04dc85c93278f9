package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/backend"
	"github.com/educaition/station/internal/completion"
	"github.com/educaition/station/internal/database"
	"github.com/educaition/station/internal/model"
	"github.com/educaition/station/internal/progress"
)

// fakeBackend scripts the central backend contract for engine tests.
type fakeBackend struct {
	mu sync.Mutex

	room    *model.RoomInfo
	roomErr error

	registerResult *backend.RegisterResult
	registerErr    error
	registers      int

	stepErr error
	steps   map[int]int

	submitPayload model.ResultPayload
	submitErr     error
	submits       int

	completed map[string]bool
	checkErr  error
}

func (f *fakeBackend) GetRoomInfo(ctx context.Context, testKey, roomID string) (*model.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roomErr != nil {
		return nil, f.roomErr
	}
	return f.room, nil
}

func (f *fakeBackend) Register(ctx context.Context, testKey, roomID, deviceID string, fields model.RegistrationFields) (*backend.RegisterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	res := *f.registerResult
	return &res, nil
}

func (f *fakeBackend) SaveStep(ctx context.Context, participantID, token string, step, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepErr != nil {
		return f.stepErr
	}
	if f.steps == nil {
		f.steps = make(map[int]int)
	}
	f.steps[step] = value
	return nil
}

func (f *fakeBackend) Submit(ctx context.Context, participantID, token string, answers []int) (model.ResultPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitPayload, nil
}

func (f *fakeBackend) CheckCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.completed[string(testType)+"/"+roomKey], nil
}

func (f *fakeBackend) MarkCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = make(map[string]bool)
	}
	f.completed[string(testType)+"/"+roomKey] = true
	return nil
}

type fixture struct {
	be       *fakeBackend
	registry *completion.Registry
	store    *progress.Store
	eng      *Engine
}

func newFixture(t *testing.T, def model.TestDefinition, roomID string, be *fakeBackend) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenInMemory(ctx)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	registry := completion.NewRegistry("device-1", []completion.Cache{completion.NewSQLiteCache(db)}, be, nil, log)
	store := progress.NewStore(db, log)
	eng := NewEngine(def, roomID, "device-1", be, registry, store, nil, log)
	return &fixture{be: be, registry: registry, store: store, eng: eng}
}

func testDef(t model.TestType) model.TestDefinition {
	d, ok := model.TestByType(t)
	if !ok {
		panic("unknown test type in test setup")
	}
	return d
}

func liveRegistration(pid string, questions int) *backend.RegisterResult {
	return &backend.RegisterResult{
		ParticipantID: pid,
		Token:         "tok-" + pid,
		QuestionCount: questions,
		Status:        "in_progress",
	}
}

func TestFreshAttemptStageSequence(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 5, Open: true},
		registerResult: liveRegistration("p1", 5),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	v, err := f.eng.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if v.Stage != model.StageRegistration {
		t.Fatalf("stage after start = %s, want registration", v.Stage)
	}

	v, err = f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v.Stage != model.StageTest {
		t.Fatalf("stage after register = %s, want test", v.Stage)
	}
	if v.Total != 5 || len(v.Answers) != 5 {
		t.Fatalf("answers sized %d/%d, want 5", len(v.Answers), v.Total)
	}
	if v.Answered != 0 {
		t.Fatalf("fresh session has %d answers", v.Answered)
	}

	stored, err := f.store.Load(ctx, string(model.TestDissonance), "r1")
	if err != nil || stored == nil {
		t.Fatalf("progress after register: %v, %v", stored, err)
	}
	if len(stored.Answers) != 5 || stored.ParticipantID != "p1" {
		t.Fatalf("stored session = %+v", stored)
	}
}

func TestReloadMidTestSkipsRegistration(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 5, Open: true},
		registerResult: liveRegistration("p1", 5),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for pos, val := range []int{2, 4} {
		if _, err := f.eng.RecordAnswer(ctx, pos, val); err != nil {
			t.Fatalf("answer %d: %v", pos, err)
		}
	}

	// Same device, new process: fresh engine over the same stores.
	eng2 := NewEngine(testDef(model.TestDissonance), "r1", "device-1", be, f.registry, f.store, nil, zerolog.Nop())
	v, err := eng2.Start(ctx)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if v.Stage != model.StageTest {
		t.Fatalf("stage after restore = %s, want test", v.Stage)
	}
	if v.Position != 2 || v.Answered != 2 {
		t.Fatalf("restored at position %d with %d answers, want 2/2", v.Position, v.Answered)
	}
	if v.Answers[0] == nil || *v.Answers[0] != 2 || v.Answers[1] == nil || *v.Answers[1] != 4 {
		t.Fatalf("restored answers = %v", v.Answers)
	}
}

func TestRestorationDegradesWhenReRegistrationFails(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 5, Open: true},
		registerResult: liveRegistration("p1", 5),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.eng.RecordAnswer(ctx, 0, 3); err != nil {
		t.Fatalf("answer: %v", err)
	}

	be.mu.Lock()
	be.registerErr = errors.New("backend down")
	be.mu.Unlock()

	eng2 := NewEngine(testDef(model.TestDissonance), "r1", "device-1", be, f.registry, f.store, nil, zerolog.Nop())
	v, err := eng2.Start(ctx)
	if err != nil {
		t.Fatalf("restore should degrade, got %v", err)
	}
	if v.Stage != model.StageTest {
		t.Fatalf("stage = %s, want test", v.Stage)
	}
	if v.ParticipantID != "p1" {
		t.Fatalf("degraded restore lost cached participant: %q", v.ParticipantID)
	}
}

func TestRestorationRedirectsWhenCompletedOutOfBand(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 5, Open: true},
		registerResult: liveRegistration("p1", 5),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// The attempt finishes elsewhere; re-registration reports completed.
	be.mu.Lock()
	be.registerResult = &backend.RegisterResult{ParticipantID: "p1", Status: "completed"}
	be.mu.Unlock()

	eng2 := NewEngine(testDef(model.TestDissonance), "r1", "device-1", be, f.registry, f.store, nil, zerolog.Nop())
	v, err := eng2.Start(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if v.Stage != model.StageResult {
		t.Fatalf("stage = %s, want result", v.Stage)
	}
	if stored, _ := f.store.Load(ctx, string(model.TestDissonance), "r1"); stored != nil {
		t.Fatal("progress should be cleared for a completed attempt")
	}
	if !f.registry.HasCompleted(ctx, model.TestDissonance, "r1") {
		t.Fatal("completion should be recorded locally")
	}
}

func TestAlreadyCompletedBlocksEntry(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:      &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 5, Open: true},
		completed: map[string]bool{string(model.TestDissonance) + "/r1": true},
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	v, err := f.eng.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if v.Stage != model.StageResult {
		t.Fatalf("stage = %s, want result", v.Stage)
	}
	if be.registers != 0 {
		t.Fatal("registration must not be offered to a completed device")
	}
}

func TestRoomFetchFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{roomErr: errors.New("connection refused")}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	v, err := f.eng.Start(ctx)
	var re *RoomError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RoomError", err)
	}
	if v.Stage != model.StageError {
		t.Fatalf("stage = %s, want error", v.Stage)
	}
}

func TestSubmitGatingSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 3, Open: true},
		registerResult: liveRegistration("p1", 3),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.eng.RecordAnswer(ctx, 0, 1); err != nil {
		t.Fatalf("answer: %v", err)
	}

	_, err := f.eng.Submit(ctx)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if be.submits != 0 {
		t.Fatal("incomplete submit must not issue a network call")
	}
	if got := f.eng.View().Stage; got != model.StageTest {
		t.Fatalf("stage = %s, want test", got)
	}
}

func TestSubmitFailureRevertsAndRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 2, Open: true},
		registerResult: liveRegistration("p1", 2),
		submitPayload:  model.ResultPayload(`{"score": 7}`),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for pos, val := range []int{1, 2} {
		if _, err := f.eng.RecordAnswer(ctx, pos, val); err != nil {
			t.Fatalf("answer %d: %v", pos, err)
		}
	}

	be.mu.Lock()
	be.submitErr = errors.New("connection reset")
	be.mu.Unlock()

	v, err := f.eng.Submit(ctx)
	var se *SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SubmitError", err)
	}
	if v.Stage != model.StageTest {
		t.Fatalf("stage after failed submit = %s, want test", v.Stage)
	}
	if v.Answered != 2 {
		t.Fatalf("answers lost on failed submit: %d", v.Answered)
	}
	if stored, _ := f.store.Load(ctx, string(model.TestDissonance), "r1"); stored == nil {
		t.Fatal("progress must survive a failed submit")
	}

	be.mu.Lock()
	be.submitErr = nil
	be.mu.Unlock()

	v, err = f.eng.Submit(ctx)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if v.Stage != model.StageResult {
		t.Fatalf("stage = %s, want result", v.Stage)
	}
	if string(v.Result) != `{"score": 7}` {
		t.Fatalf("result payload = %s", v.Result)
	}
	if stored, _ := f.store.Load(ctx, string(model.TestDissonance), "r1"); stored != nil {
		t.Fatal("progress should be cleared after submission")
	}
	if !f.registry.HasCompleted(ctx, model.TestDissonance, "r1") {
		t.Fatal("completion should be recorded after submission")
	}
}

func TestSubmitConflictSettlesAttempt(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 1, Open: true},
		registerResult: liveRegistration("p1", 1),
		submitErr:      backend.ErrAlreadyCompleted,
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.eng.RecordAnswer(ctx, 0, 1); err != nil {
		t.Fatalf("answer: %v", err)
	}

	v, err := f.eng.Submit(ctx)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
	if v.Stage != model.StageResult {
		t.Fatalf("stage = %s, want result", v.Stage)
	}
	if !f.registry.HasCompleted(ctx, model.TestDissonance, "r1") {
		t.Fatal("conflict must still mark the device completed")
	}
}

func TestSubmitReentrancyGuard(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 1, Open: true},
		registerResult: liveRegistration("p1", 1),
		submitPayload:  model.ResultPayload(`{}`),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.eng.RecordAnswer(ctx, 0, 1); err != nil {
		t.Fatalf("answer: %v", err)
	}

	// First submit parks inside the backend call; the second must be
	// rejected by the submitting stage, not queued behind it.
	slow := &slowSubmitBackend{fakeBackend: be, gate: release, entered: make(chan struct{})}
	eng := NewEngine(testDef(model.TestDissonance), "r1", "device-1", slow, f.registry, f.store, nil, zerolog.Nop())
	// Adopt the live session by restoring from the shared progress store.
	if _, err := eng.Start(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := eng.Submit(ctx)
		done <- err
	}()
	<-slow.entered

	if _, err := eng.Submit(ctx); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("concurrent submit err = %v, want ErrWrongStage", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if got := eng.View().Stage; got != model.StageResult {
		t.Fatalf("stage = %s, want result", got)
	}
}

// slowSubmitBackend blocks Submit until gate closes, signalling entry.
type slowSubmitBackend struct {
	*fakeBackend
	gate    chan struct{}
	entered chan struct{}
}

func (s *slowSubmitBackend) Submit(ctx context.Context, participantID, token string, answers []int) (model.ResultPayload, error) {
	close(s.entered)
	<-s.gate
	return s.fakeBackend.Submit(ctx, participantID, token, answers)
}

func TestStepPersistedHoldsPositionOnFailure(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestProgramSuggestion, QuestionCount: 3, Open: true},
		registerResult: liveRegistration("p1", 3),
	}
	f := newFixture(t, testDef(model.TestProgramSuggestion), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	be.mu.Lock()
	be.stepErr = errors.New("backend down")
	be.mu.Unlock()

	v, err := f.eng.RecordAnswer(ctx, 0, 4)
	var se *StepSaveError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StepSaveError", err)
	}
	if v.Position != 0 {
		t.Fatalf("position advanced past failed step: %d", v.Position)
	}
	if v.Answers[0] == nil || *v.Answers[0] != 4 {
		t.Fatal("entered value discarded on step failure")
	}

	be.mu.Lock()
	be.stepErr = nil
	be.mu.Unlock()

	v, err = f.eng.RecordAnswer(ctx, 0, 4)
	if err != nil {
		t.Fatalf("retry step: %v", err)
	}
	if v.Position != 1 {
		t.Fatalf("position = %d, want 1", v.Position)
	}
	if be.steps[0] != 4 {
		t.Fatalf("backend step record = %v", be.steps)
	}
}

func TestRecordAnswerRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 2, Open: true},
		registerResult: liveRegistration("p1", 2),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var ve *ValidationError
	if _, err := f.eng.RecordAnswer(ctx, 2, 1); !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, err := f.eng.RecordAnswer(ctx, -1, 1); !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestResetAllowsRetake(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{
		room:           &model.RoomInfo{ID: "r1", TestType: model.TestDissonance, QuestionCount: 1, Open: true},
		registerResult: liveRegistration("p1", 1),
		submitPayload:  model.ResultPayload(`{}`),
	}
	f := newFixture(t, testDef(model.TestDissonance), "r1", be)

	if _, err := f.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.Register(ctx, model.RegistrationFields{Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.eng.RecordAnswer(ctx, 0, 1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := f.eng.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := f.eng.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// A supervised retake presumes the proctor also reset the backend
	// record; mirror that in the fake.
	be.mu.Lock()
	be.completed = nil
	be.registerResult = liveRegistration("p2", 1)
	be.mu.Unlock()

	v, err := f.eng.Start(ctx)
	if err != nil {
		t.Fatalf("restart after reset: %v", err)
	}
	if v.Stage != model.StageRegistration {
		t.Fatalf("stage after reset = %s, want registration", v.Stage)
	}
}

func TestManagerRejectsUnknownTest(t *testing.T) {
	m := NewManager("device-1", &fakeBackend{}, nil, nil, nil, zerolog.Nop())
	if _, err := m.Get("karaoke_test", "r1"); !errors.Is(err, ErrUnknownTest) {
		t.Fatalf("err = %v, want ErrUnknownTest", err)
	}
	if _, err := m.Lookup(string(model.TestDissonance), "r1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestManagerReusesEngine(t *testing.T) {
	m := NewManager("device-1", &fakeBackend{}, nil, nil, nil, zerolog.Nop())
	a, err := m.Get(string(model.TestDissonance), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := m.Get(string(model.TestDissonance), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a != b {
		t.Fatal("manager created a second engine for the same pair")
	}
	c, err := m.Get(string(model.TestDissonance), "r2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a == c {
		t.Fatal("different rooms must not share an engine")
	}
}
