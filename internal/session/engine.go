package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/backend"
	"github.com/educaition/station/internal/model"
	"github.com/educaition/station/internal/monitor"
)

// tokenLeeway is how close to expiry a cached participant token is still
// considered usable after a failed re-registration.
const tokenLeeway = 30 * time.Second

// Backend is the slice of the central backend contract the engine drives.
type Backend interface {
	GetRoomInfo(ctx context.Context, testKey, roomID string) (*model.RoomInfo, error)
	Register(ctx context.Context, testKey, roomID, deviceID string, fields model.RegistrationFields) (*backend.RegisterResult, error)
	SaveStep(ctx context.Context, participantID, token string, step int, value int) error
	Submit(ctx context.Context, participantID, token string, answers []int) (model.ResultPayload, error)
}

// CompletionRegistry enforces one attempt per device per (test, room).
type CompletionRegistry interface {
	HasCompleted(ctx context.Context, testType model.TestType, roomKey string) bool
	MarkCompleted(ctx context.Context, testType model.TestType, roomKey string)
	ClearLocal(ctx context.Context, testType model.TestType, roomKey string) error
}

// ProgressStore persists in-flight session data across restarts.
type ProgressStore interface {
	Load(ctx context.Context, testKey, roomID string) (*model.ParticipantSession, error)
	Put(ctx context.Context, sess *model.ParticipantSession) error
	Save(ctx context.Context, testKey, roomID string, patch model.SessionPatch) error
	Clear(ctx context.Context, testKey, roomID string) error
}

// Publisher pushes progress events to connected proctor dashboards.
type Publisher interface {
	Publish(ev monitor.Event)
}

// View is a read-only snapshot of the engine state, safe to serialize.
type View struct {
	TestKey       string                    `json:"test_key"`
	RoomID        string                    `json:"room_id"`
	Stage         model.Stage               `json:"stage"`
	Room          *model.RoomInfo           `json:"room,omitempty"`
	ParticipantID string                    `json:"participant_id,omitempty"`
	Registration  *model.RegistrationFields `json:"registration,omitempty"`
	Position      int                       `json:"position"`
	Answers       []*int                    `json:"answers,omitempty"`
	Answered      int                       `json:"answered"`
	Total         int                       `json:"total"`
	Result        model.ResultPayload       `json:"result,omitempty"`
	ErrorDetail   string                    `json:"error_detail,omitempty"`
}

// Engine drives one participant attempt at a (test, room) pair through the
// stage sequence loading → registration → test → submitting → result. It
// is the only writer of its session state; every mutation happens under
// the engine lock, and network calls run outside it so a concurrent
// operation observes the guarding stage (submitting, loading) instead of
// blocking behind another participant action.
type Engine struct {
	def      model.TestDefinition
	roomID   string
	roomKey  string
	deviceID string

	backend  Backend
	registry CompletionRegistry
	progress ProgressStore
	hub      Publisher
	log      zerolog.Logger

	mu        sync.Mutex
	stage     model.Stage
	room      *model.RoomInfo
	sess      *model.ParticipantSession
	total     int
	result    model.ResultPayload
	errDetail string
}

// NewEngine creates an engine in the loading stage. hub may be nil.
func NewEngine(
	def model.TestDefinition,
	roomID, deviceID string,
	be Backend,
	registry CompletionRegistry,
	progress ProgressStore,
	hub Publisher,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		def:      def,
		roomID:   roomID,
		roomKey:  model.RoomKey(roomID),
		deviceID: deviceID,
		backend:  be,
		registry: registry,
		progress: progress,
		hub:      hub,
		log: log.With().
			Str("component", "session_engine").
			Str("test", string(def.Type)).
			Str("room", model.RoomKey(roomID)).
			Logger(),
		stage: model.StageLoading,
		total: def.DefaultQuestionCount,
	}
}

// Start runs the loading stage once: fetch room metadata, enforce the
// completion guard, then restore cached progress or fall through to
// registration. Network failures while fetching room metadata are fatal
// for the attempt; everything in the restoration path degrades instead.
func (e *Engine) Start(ctx context.Context) (View, error) {
	e.mu.Lock()
	if e.stage != model.StageLoading {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrWrongStage
	}
	e.mu.Unlock()

	room, err := e.loadRoom(ctx)
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.failLocked(err.Error())
		return e.viewLocked(), &RoomError{Err: err}
	}

	if e.registry.HasCompleted(ctx, e.def.Type, e.roomKey) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.room = room
		e.transitionLocked(model.StageResult)
		e.log.Info().Msg("Entry blocked, attempt already completed")
		return e.viewLocked(), nil
	}

	cached, err := e.progress.Load(ctx, string(e.def.Type), e.roomID)
	if err != nil {
		// Unreadable storage degrades to a fresh attempt.
		e.log.Warn().Err(err).Msg("Progress load failed, starting fresh")
		cached = nil
	}

	if cached == nil || cached.ParticipantID == "" {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.room = room
		if room != nil && room.QuestionCount > 0 {
			e.total = room.QuestionCount
		}
		e.transitionLocked(model.StageRegistration)
		return e.viewLocked(), nil
	}

	return e.restore(ctx, room, cached)
}

// restore reconciles a cached session with the backend. Re-registration
// re-asserts this device's participant; the backend returns the existing
// in-progress attempt rather than a duplicate. A failed re-registration
// degrades to the cached identity instead of blocking the participant.
func (e *Engine) restore(ctx context.Context, room *model.RoomInfo, cached *model.ParticipantSession) (View, error) {
	res, err := e.backend.Register(ctx, string(e.def.Type), e.roomID, e.deviceID, cached.Registration)
	switch {
	case err != nil:
		e.log.Warn().Err(err).Msg("Re-registration failed, trusting cached participant")
		if backend.TokenExpired(cached.Token, tokenLeeway) {
			cached.Token = ""
		}
	case res.Completed():
		// Finished out-of-band (other device, admin action). Never resume
		// question answering for a completed attempt.
		e.registry.MarkCompleted(ctx, e.def.Type, e.roomKey)
		if err := e.progress.Clear(ctx, string(e.def.Type), e.roomID); err != nil {
			e.log.Warn().Err(err).Msg("Progress clear failed")
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		e.room = room
		e.transitionLocked(model.StageResult)
		return e.viewLocked(), nil
	default:
		cached.ParticipantID = res.ParticipantID
		if res.Token != "" {
			cached.Token = res.Token
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.room = room
	e.sess = cached
	e.total = len(cached.Answers)
	e.clampPositionLocked()
	e.transitionLocked(model.StageTest)
	e.log.Info().
		Int("answered", cached.AnsweredCount()).
		Int("position", cached.CurrentPosition).
		Msg("Session restored")
	return e.viewLocked(), nil
}

// Register creates the participant for a fresh attempt and enters the
// test stage. Only valid from the registration stage.
func (e *Engine) Register(ctx context.Context, fields model.RegistrationFields) (View, error) {
	e.mu.Lock()
	if e.stage != model.StageRegistration {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrWrongStage
	}
	e.mu.Unlock()

	res, err := e.backend.Register(ctx, string(e.def.Type), e.roomID, e.deviceID, fields)
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.viewLocked(), &RegisterError{Err: err}
	}

	if res.Completed() {
		e.registry.MarkCompleted(ctx, e.def.Type, e.roomKey)
		e.mu.Lock()
		defer e.mu.Unlock()
		e.transitionLocked(model.StageResult)
		return e.viewLocked(), ErrAlreadyCompleted
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage != model.StageRegistration {
		// A concurrent override or a second registration won the race.
		return e.viewLocked(), ErrWrongStage
	}

	total := res.QuestionCount
	if total <= 0 {
		total = e.total
	}
	e.sess = model.NewParticipantSession(string(e.def.Type), e.roomID, res.ParticipantID, res.Token, fields, total)
	e.total = total
	if err := e.progress.Put(ctx, e.sess); err != nil {
		// Durability lost for now; in-memory state stays authoritative.
		e.log.Warn().Err(err).Msg("Progress write failed")
	}
	e.transitionLocked(model.StageTest)
	e.log.Info().Str("participant_id", res.ParticipantID).Int("questions", total).Msg("Participant registered")
	return e.viewLocked(), nil
}

// RecordAnswer writes one answer and advances the position. The in-memory
// answers slice is the source of truth; the progress write mirrors it and
// its failure is absorbed. Step-persisted tests additionally write the
// step to the backend and hold the position on failure so the participant
// retries the same step.
func (e *Engine) RecordAnswer(ctx context.Context, position, value int) (View, error) {
	e.mu.Lock()
	if e.stage != model.StageTest || e.sess == nil {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrWrongStage
	}
	if position < 0 || position >= len(e.sess.Answers) {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, &ValidationError{Reason: fmt.Sprintf("position %d outside question range", position)}
	}

	v := value
	e.sess.Answers[position] = &v
	participantID, token := e.sess.ParticipantID, e.sess.Token
	e.mu.Unlock()

	if e.def.StepPersisted {
		if err := e.backend.SaveStep(ctx, participantID, token, position, value); err != nil {
			e.log.Warn().Err(err).Int("step", position).Msg("Step write failed")
			e.mu.Lock()
			defer e.mu.Unlock()
			e.persistLocked(ctx)
			return e.viewLocked(), &StepSaveError{Step: position, Err: err}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage != model.StageTest || e.sess == nil {
		return e.viewLocked(), ErrWrongStage
	}
	next := position + 1
	if last := len(e.sess.Answers) - 1; next > last {
		next = last
	}
	e.sess.CurrentPosition = next
	e.persistLocked(ctx)
	e.publishLocked(monitor.EventAnswerRecorded, "")
	return e.viewLocked(), nil
}

// Submit validates completeness, sends the full answer set and settles the
// attempt. An incomplete answer sheet fails before any network call. The
// submitting stage guards re-entrancy: a second Submit while one is in
// flight gets ErrWrongStage. On failure the stage reverts to test with
// every answer intact.
func (e *Engine) Submit(ctx context.Context) (View, error) {
	e.mu.Lock()
	if e.stage != model.StageTest || e.sess == nil {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrWrongStage
	}
	if !e.sess.Complete() {
		missing := len(e.sess.Answers) - e.sess.AnsweredCount()
		v := e.viewLocked()
		e.mu.Unlock()
		return v, &ValidationError{Reason: fmt.Sprintf("incomplete answers: %d unanswered", missing)}
	}

	participantID, token := e.sess.ParticipantID, e.sess.Token
	answers := e.sess.AnswerValues()
	e.transitionLocked(model.StageSubmitting)
	e.mu.Unlock()

	payload, err := e.backend.Submit(ctx, participantID, token, answers)

	e.mu.Lock()
	defer e.mu.Unlock()

	if errors.Is(err, backend.ErrAlreadyCompleted) {
		// The backend already holds a finished attempt for this
		// participant. Settle locally the same way a success would.
		e.settleLocked(ctx, nil)
		return e.viewLocked(), ErrAlreadyCompleted
	}
	if err != nil {
		e.transitionLocked(model.StageTest)
		e.log.Warn().Err(err).Msg("Submission failed, answers preserved")
		return e.viewLocked(), &SubmitError{Err: err}
	}

	e.settleLocked(ctx, payload)
	e.publishLocked(monitor.EventSubmitted, "")
	e.log.Info().Str("participant_id", participantID).Msg("Attempt submitted")
	return e.viewLocked(), nil
}

// Reset wipes the device-local completion marks and progress for a
// supervised retake. PIN verification happens at the API layer; this is
// the privileged path around the completion guard.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.ClearLocal(ctx, e.def.Type, e.roomKey); err != nil {
		return fmt.Errorf("clear completion marks: %w", err)
	}
	if err := e.progress.Clear(ctx, string(e.def.Type), e.roomID); err != nil {
		e.log.Warn().Err(err).Msg("Progress clear failed")
	}
	e.sess = nil
	e.result = nil
	e.errDetail = ""
	e.transitionLocked(model.StageLoading)
	e.log.Info().Msg("Session reset by proctor override")
	return nil
}

// View returns a snapshot of the current state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// loadRoom fetches room metadata for room-scoped attempts. Global attempts
// carry no room and fall back to the test's default question count.
func (e *Engine) loadRoom(ctx context.Context) (*model.RoomInfo, error) {
	if e.roomID == "" {
		return nil, nil
	}
	room, err := e.backend.GetRoomInfo(ctx, string(e.def.Type), e.roomID)
	if err != nil {
		return nil, fmt.Errorf("fetch room %s: %w", e.roomID, err)
	}
	if !room.Open {
		return nil, fmt.Errorf("room %s is closed", e.roomID)
	}
	if room.TestType != e.def.Type {
		return nil, fmt.Errorf("room %s hosts %s, not %s", e.roomID, room.TestType, e.def.Type)
	}
	return room, nil
}

// settleLocked finishes a submitted attempt: record the completion, drop
// the persisted progress, land on result. Caller holds e.mu.
func (e *Engine) settleLocked(ctx context.Context, payload model.ResultPayload) {
	e.registry.MarkCompleted(ctx, e.def.Type, e.roomKey)
	if err := e.progress.Clear(ctx, string(e.def.Type), e.roomID); err != nil {
		e.log.Warn().Err(err).Msg("Progress clear failed")
	}
	e.result = payload
	e.transitionLocked(model.StageResult)
}

// persistLocked mirrors the in-memory session into the progress store.
// Failures are absorbed: durability is lost this time, the in-memory
// state remains authoritative. Caller holds e.mu.
func (e *Engine) persistLocked(ctx context.Context) {
	if e.sess == nil {
		return
	}
	pos := e.sess.CurrentPosition
	patch := model.SessionPatch{Answers: e.sess.Answers, CurrentPosition: &pos}
	if err := e.progress.Save(ctx, string(e.def.Type), e.roomID, patch); err != nil {
		e.log.Warn().Err(err).Msg("Progress write failed")
	}
}

// failLocked lands on the terminal error stage. Caller holds e.mu.
func (e *Engine) failLocked(detail string) {
	e.errDetail = detail
	e.transitionLocked(model.StageError)
	e.log.Error().Str("detail", detail).Msg("Session entered error stage")
}

// transitionLocked switches the stage and notifies dashboards. Caller
// holds e.mu.
func (e *Engine) transitionLocked(next model.Stage) {
	if e.stage == next {
		return
	}
	e.stage = next
	switch next {
	case model.StageError:
		e.publishLocked(monitor.EventSessionError, e.errDetail)
	default:
		e.publishLocked(monitor.EventStageChange, "")
	}
}

func (e *Engine) publishLocked(typ monitor.EventType, detail string) {
	if e.hub == nil {
		return
	}
	ev := monitor.Event{
		Type:    typ,
		TestKey: string(e.def.Type),
		RoomID:  e.roomID,
		Stage:   e.stage,
		Total:   e.total,
		Detail:  detail,
	}
	if e.sess != nil {
		ev.Position = e.sess.CurrentPosition
		ev.Answered = e.sess.AnsweredCount()
		ev.Total = len(e.sess.Answers)
	}
	e.hub.Publish(ev)
}

func (e *Engine) clampPositionLocked() {
	if e.sess == nil || len(e.sess.Answers) == 0 {
		return
	}
	if e.sess.CurrentPosition < 0 {
		e.sess.CurrentPosition = 0
	}
	if last := len(e.sess.Answers) - 1; e.sess.CurrentPosition > last {
		e.sess.CurrentPosition = last
	}
}

func (e *Engine) viewLocked() View {
	v := View{
		TestKey:     string(e.def.Type),
		RoomID:      e.roomID,
		Stage:       e.stage,
		Room:        e.room,
		Total:       e.total,
		Result:      e.result,
		ErrorDetail: e.errDetail,
	}
	if e.sess != nil {
		cp := e.sess.Clone()
		v.ParticipantID = cp.ParticipantID
		v.Registration = &cp.Registration
		v.Position = cp.CurrentPosition
		v.Answers = cp.Answers
		v.Answered = cp.AnsweredCount()
		v.Total = len(cp.Answers)
	}
	return v
}
