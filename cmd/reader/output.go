package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-readroom/internal/client"
	"github.com/npezzotti/go-readroom/internal/types"
)

// printer writes room updates to the terminal.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

var _ client.Listener = (*printer)(nil)

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) OnRoster(participants map[int]types.Participant) {
	p.printf("* %d participant(s) in the room\n", len(participants))
}

func (p *printer) OnPlayback(state client.PlaybackState) {
	id, ok := state.Cursor.ParagraphId()
	if !ok {
		id = "-"
	}
	p.printf("* %s at %s\n", state.Status, id)
}

func (p *printer) OnChat(msg types.ChatMessage) {
	p.printf("<%s> %s\n", msg.SenderName, msg.Content)
}

func (p *printer) OnNotice(n client.Notice) {
	if n.Err != nil {
		p.printf("! %s: %s (%v)\n", n.RoomId, n.Kind, n.Err)
		return
	}
	p.printf("! %s: %s\n", n.RoomId, n.Kind)
}

// logPlayer stands in for an audio device: it records what would be played.
// Use the "next" command to signal the end of a paragraph.
type logPlayer struct {
	log zerolog.Logger

	mu      sync.Mutex
	source  string
	playing bool
}

var _ client.MediaPlayer = (*logPlayer)(nil)

func newLogPlayer(l zerolog.Logger) *logPlayer {
	return &logPlayer{log: l.With().Str("component", "player").Logger()}
}

func (p *logPlayer) Load(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = url
	p.playing = false
	p.log.Debug().Str("url", url).Msg("load")
}

func (p *logPlayer) HasSource() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source != ""
}

func (p *logPlayer) Play(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source == "" {
		return fmt.Errorf("no source loaded")
	}
	p.playing = true
	p.log.Info().Str("url", p.source).Msg("playing")
	return nil
}

func (p *logPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.log.Info().Msg("paused")
	}
	p.playing = false
}

func (p *logPlayer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = ""
	p.playing = false
}
