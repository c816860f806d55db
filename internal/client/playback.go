package client

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-readroom/internal/protocol"
	"github.com/npezzotti/go-readroom/internal/types"
	"github.com/rs/zerolog"
)

const audioResolveTimeout = 15 * time.Second

// Cursor is the room's active paragraph: either Idle or Active(id).
type Cursor struct {
	paragraphId string
	active      bool
}

func Idle() Cursor {
	return Cursor{}
}

func Active(paragraphId string) Cursor {
	return Cursor{paragraphId: paragraphId, active: true}
}

func (c Cursor) IsActive() bool {
	return c.active
}

func (c Cursor) ParagraphId() (string, bool) {
	return c.paragraphId, c.active
}

func (c Cursor) String() string {
	if !c.active {
		return "idle"
	}
	return c.paragraphId
}

type PlaybackState struct {
	Status         types.RoomStatus
	Cursor         Cursor
	IsPlaying      bool
	IsAudioLoading bool
}

// Emitter sends a host command upstream. The command only takes effect once
// the server echoes it back on the room-status topic.
type Emitter interface {
	Emit(ctx context.Context, ev protocol.RoomEvent) error
}

// Engine is the per-room playback state machine. Incoming events are applied
// as committed facts; host commands are only emitted, never applied locally.
type Engine struct {
	mu           sync.Mutex
	player       MediaPlayer
	audio        AudioResolver
	emitter      Emitter
	isHost       func() bool
	log          zerolog.Logger
	voice        string
	paragraphs   []types.Paragraph
	status       types.RoomStatus
	cursor       Cursor
	audioLoading bool
	// gen increments on every cursor change so late audio resolutions can
	// tell they are stale
	gen uint64
	// playToken increments whenever playback must stop; a deferred Play
	// only runs if the token it captured is still current
	playToken uint64
	// statusSeen and cursorSeen record which halves of the state a pushed
	// event has set since the last snapshot was requested
	statusSeen bool
	cursorSeen bool
	inflight   sync.WaitGroup
	onChange func(PlaybackState)
}

func NewEngine(player MediaPlayer, audio AudioResolver, emitter Emitter, isHost func() bool, logger zerolog.Logger) *Engine {
	return &Engine{
		player:  player,
		audio:   audio,
		emitter: emitter,
		isHost:  isHost,
		log:     logger.With().Str("component", "playback").Logger(),
		status:  types.StatusWaiting,
	}
}

func (e *Engine) OnChange(fn func(PlaybackState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// Load sets the chapter sequence and voice the engine resolves audio for.
func (e *Engine) Load(voice string, paragraphs []types.Paragraph) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voice = voice
	e.paragraphs = append([]types.Paragraph(nil), paragraphs...)
}

func (e *Engine) State() PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() PlaybackState {
	return PlaybackState{
		Status:         e.status,
		Cursor:         e.cursor,
		IsPlaying:      e.status == types.StatusPlaying,
		IsAudioLoading: e.audioLoading,
	}
}

// CurrentParagraph returns the paragraph under the cursor.
func (e *Engine) CurrentParagraph() (types.Paragraph, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.cursor.ParagraphId()
	if !ok {
		return types.Paragraph{}, false
	}
	if i := e.indexLocked(id); i >= 0 {
		return e.paragraphs[i], true
	}
	return types.Paragraph{}, false
}

// ExpectSnapshot marks the start of a snapshot fetch. Events pushed after
// this call take precedence over the snapshot passed to Reconcile.
func (e *Engine) ExpectSnapshot() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusSeen = false
	e.cursorSeen = false
}

// Reconcile brings a freshly joined client to the snapshot's status and
// cursor without waiting for the next pushed event. Each half is only taken
// from the snapshot if no pushed event has already set it.
func (e *Engine) Reconcile(room types.Room) {
	status := room.Status
	if !status.Valid() {
		status = types.StatusWaiting
	}

	e.mu.Lock()
	e.voice = room.VoiceType

	var startPlay bool
	if !e.statusSeen && status != e.status {
		e.status = status
		if status == types.StatusPlaying {
			startPlay = true
		} else {
			e.playToken++
			e.player.Pause()
		}
	}

	var resolve *audioRequest
	switch {
	case e.cursorSeen:
	case room.ParagraphId == nil:
		if e.cursor.IsActive() || e.player.HasSource() {
			e.idleLocked()
		}
	case e.cursor == Active(*room.ParagraphId) && (e.audioLoading || e.player.HasSource()):
		// already on the snapshot's paragraph
	default:
		resolve = e.moveCursorLocked(*room.ParagraphId, false)
	}

	// a pending resolution plays on completion if the room is PLAYING
	if resolve == nil && startPlay && !e.audioLoading && e.player.HasSource() {
		e.playAsyncLocked(false)
	}
	state, fn := e.stateLocked(), e.onChange
	e.mu.Unlock()

	e.log.Info().Str("status", string(state.Status)).Stringer("cursor", state.Cursor).Msg("reconciled to room snapshot")
	if fn != nil {
		fn(state)
	}
	if resolve != nil {
		go e.resolveAudio(*resolve)
	}
}

// HandleEvent applies a room-status event pushed by the server.
func (e *Engine) HandleEvent(ev protocol.RoomEvent) {
	switch ev.Type {
	case protocol.EventStatusChange:
		e.applyStatus(ev.Status)
	case protocol.EventSyncParagraph:
		if ev.ParagraphId == nil {
			e.clearCursor()
			return
		}
		e.syncParagraph(*ev.ParagraphId, ev.ForcePlay)
	}
}

func (e *Engine) applyStatus(status types.RoomStatus) {
	if status != types.StatusPlaying && status != types.StatusPaused {
		e.log.Warn().Str("status", string(status)).Msg("ignoring status change")
		return
	}

	e.mu.Lock()
	e.status = status
	e.statusSeen = true
	switch status {
	case types.StatusPlaying:
		if e.player.HasSource() {
			e.playAsyncLocked(false)
		}
	case types.StatusPaused:
		e.playToken++
		e.player.Pause()
	}
	state, fn := e.stateLocked(), e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

func (e *Engine) clearCursor() {
	e.mu.Lock()
	e.cursorSeen = true
	e.idleLocked()
	state, fn := e.stateLocked(), e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

// idleLocked drops the cursor and the loaded source.
func (e *Engine) idleLocked() {
	e.gen++
	e.playToken++
	e.cursor = Idle()
	e.audioLoading = false
	e.player.Reset()
}

type audioRequest struct {
	gen         uint64
	paragraphId string
	voice       string
	forcePlay   bool
}

// moveCursorLocked places the cursor on paragraphId and returns the audio
// resolution the caller must start once the lock is released. It returns
// nil if the paragraph is not part of the loaded chapter.
func (e *Engine) moveCursorLocked(paragraphId string, forcePlay bool) *audioRequest {
	if len(e.paragraphs) > 0 && e.indexLocked(paragraphId) < 0 {
		e.log.Warn().Str("paragraph", paragraphId).Msg("paragraph not in loaded chapter, ignoring")
		return nil
	}

	e.gen++
	e.cursor = Active(paragraphId)
	e.audioLoading = true
	e.inflight.Add(1)
	return &audioRequest{gen: e.gen, paragraphId: paragraphId, voice: e.voice, forcePlay: forcePlay}
}

func (e *Engine) syncParagraph(paragraphId string, forcePlay bool) {
	e.mu.Lock()
	req := e.moveCursorLocked(paragraphId, forcePlay)
	if req == nil {
		e.mu.Unlock()
		return
	}
	e.cursorSeen = true
	state, fn := e.stateLocked(), e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn(state)
	}

	go e.resolveAudio(*req)
}

func (e *Engine) resolveAudio(req audioRequest) {
	defer e.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), audioResolveTimeout)
	defer cancel()

	paragraphId := req.paragraphId
	url, err := e.audio.GetAudioUrl(ctx, paragraphId, req.voice)

	e.mu.Lock()
	if req.gen != e.gen || e.cursor != Active(paragraphId) {
		e.mu.Unlock()
		e.log.Debug().Str("paragraph", paragraphId).Msg("discarding stale audio resolution")
		return
	}

	e.audioLoading = false
	if err != nil {
		state, fn := e.stateLocked(), e.onChange
		e.mu.Unlock()
		e.log.Warn().Err(&RecoverableFetchError{Resource: "audio", Err: err}).Str("paragraph", paragraphId).Msg("paragraph will not play")
		if fn != nil {
			fn(state)
		}
		return
	}

	e.player.Load(url)
	if e.status == types.StatusPlaying || req.forcePlay {
		e.playAsyncLocked(req.forcePlay)
	}
	state, fn := e.stateLocked(), e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

// playAsyncLocked starts playback without blocking the caller. The play
// is skipped if the cursor moved or playback was stopped in the meantime,
// and is issued under the lock so a later Pause always lands after it.
// Play errors (for example autoplay refusal) are dropped.
func (e *Engine) playAsyncLocked(forcePlay bool) {
	gen, token := e.gen, e.playToken
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()

		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.gen || token != e.playToken {
			return
		}
		if e.status != types.StatusPlaying && !forcePlay {
			return
		}

		if err := e.player.Play(context.Background()); err != nil {
			e.log.Debug().Err(err).Msg("play refused")
		}
	}()
}

// Reset returns the engine to WAITING with no cursor and drops any pending
// audio resolution.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.status = types.StatusWaiting
	e.idleLocked()
	state, fn := e.stateLocked(), e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

// Start asks the server to begin playback, placing the cursor on the first
// paragraph first when none is set so PLAYING never commits without one.
func (e *Engine) Start(ctx context.Context) error {
	if !e.isHost() {
		return ErrNotHost
	}

	e.mu.Lock()
	cursor := e.cursor
	var first string
	if len(e.paragraphs) > 0 {
		first = e.paragraphs[0].Id
	}
	e.mu.Unlock()

	if !cursor.IsActive() {
		if first == "" {
			return ErrNoParagraphs
		}
		if err := e.emitter.Emit(ctx, protocol.SyncParagraph(first, true)); err != nil {
			return err
		}
	}

	return e.emitter.Emit(ctx, protocol.StatusChange(types.StatusPlaying))
}

func (e *Engine) Pause(ctx context.Context) error {
	if !e.isHost() {
		return ErrNotHost
	}
	return e.emitter.Emit(ctx, protocol.StatusChange(types.StatusPaused))
}

// AdvanceToNext runs when the host's audio reaches its natural end. At the
// last paragraph playback pauses instead of wrapping around.
func (e *Engine) AdvanceToNext(ctx context.Context) error {
	if !e.isHost() {
		return ErrNotHost
	}

	e.mu.Lock()
	id, ok := e.cursor.ParagraphId()
	idx := -1
	if ok {
		idx = e.indexLocked(id)
	}
	var next string
	last := idx == len(e.paragraphs)-1
	if idx >= 0 && !last {
		next = e.paragraphs[idx+1].Id
	}
	e.mu.Unlock()

	if idx < 0 {
		e.log.Debug().Str("cursor", id).Msg("track ended without a known cursor")
		return nil
	}

	if last {
		return e.emitter.Emit(ctx, protocol.StatusChange(types.StatusPaused))
	}
	return e.emitter.Emit(ctx, protocol.SyncParagraph(next, true))
}

func (e *Engine) indexLocked(paragraphId string) int {
	for i, p := range e.paragraphs {
		if p.Id == paragraphId {
			return i
		}
	}
	return -1
}

// wait blocks until in-flight audio resolutions and play calls return.
func (e *Engine) wait() {
	e.inflight.Wait()
}
