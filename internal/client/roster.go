package client

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-readroom/internal/types"
	"github.com/rs/zerolog"
)

const (
	DefaultRosterDebounce = 300 * time.Millisecond
	rosterFetchTimeout    = 10 * time.Second
)

// Roster is the client's projection of a room's participants. Update
// notifications are treated as hints; the set is only ever replaced by an
// authoritative fetch.
type Roster struct {
	mu           sync.RWMutex
	roomId       string
	participants map[int]types.Participant
	rooms        RoomService
	scheduler    Scheduler
	debounce     time.Duration
	log          zerolog.Logger
	onChange     func(map[int]types.Participant)
	// gen is bumped by every update hint and fetch; a fetch only lands if
	// nothing newer started while it was in flight
	gen     uint64
	stopped bool
}

func NewRoster(roomId string, rooms RoomService, scheduler Scheduler, debounce time.Duration, logger zerolog.Logger) *Roster {
	if debounce <= 0 {
		debounce = DefaultRosterDebounce
	}

	return &Roster{
		roomId:       roomId,
		participants: make(map[int]types.Participant),
		rooms:        rooms,
		scheduler:    scheduler,
		debounce:     debounce,
		log:          logger.With().Str("component", "roster").Str("room", roomId).Logger(),
	}
}

// OnChange registers a callback invoked after every replacement.
func (r *Roster) OnChange(fn func(map[int]types.Participant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Roster) Replace(participants []types.Participant) {
	r.mu.Lock()
	r.setLocked(participants)
	fn := r.onChange
	r.mu.Unlock()

	r.notify(fn)
}

func (r *Roster) setLocked(participants []types.Participant) {
	next := make(map[int]types.Participant, len(participants))
	for _, p := range participants {
		next[p.UserId] = p
	}
	r.participants = next
	r.log.Debug().Int("count", len(next)).Msg("roster replaced")
}

func (r *Roster) notify(fn func(map[int]types.Participant)) {
	if fn != nil {
		fn(r.Participants())
	}
}

func (r *Roster) Participants() map[int]types.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int]types.Participant, len(r.participants))
	for id, p := range r.participants {
		out[id] = p
	}
	return out
}

func (r *Roster) Get(userId int) (types.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[userId]
	return p, ok
}

func (r *Roster) Host() (types.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.participants {
		if p.IsHost {
			return p, true
		}
	}
	return types.Participant{}, false
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// HandleUpdate schedules a re-fetch after the debounce window. Repeated
// notifications inside the window collapse into one fetch.
func (r *Roster) HandleUpdate() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.gen++
	r.mu.Unlock()

	r.log.Debug().Dur("delay", r.debounce).Msg("participant update, scheduling refetch")
	r.scheduler.Schedule(r.taskKey(), r.debounce, r.Refresh)
}

// Refresh fetches the roster and replaces the local set. On failure the
// current set is kept. A result superseded by a later fetch or update, or
// arriving after Stop, is dropped.
func (r *Roster) Refresh() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), rosterFetchTimeout)
	defer cancel()

	participants, err := r.rooms.GetParticipants(ctx, r.roomId)
	if err != nil {
		r.log.Warn().Err(&RecoverableFetchError{Resource: "participants", Err: err}).Msg("keeping stale roster")
		return
	}

	r.mu.Lock()
	if gen != r.gen || r.stopped {
		r.mu.Unlock()
		r.log.Debug().Msg("discarding superseded roster fetch")
		return
	}
	r.setLocked(participants)
	fn := r.onChange
	r.mu.Unlock()

	r.notify(fn)
}

// Stop cancels a pending refetch and drops any fetch still in flight.
func (r *Roster) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.gen++
	r.mu.Unlock()

	r.scheduler.Cancel(r.taskKey())
}

func (r *Roster) taskKey() string {
	return "roster:" + r.roomId
}
