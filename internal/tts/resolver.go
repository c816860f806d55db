package tts

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/npezzotti/go-readroom/internal/types"
)

var (
	ErrUnknownVoice     = errors.New("unknown voice type")
	ErrMissingParagraph = errors.New("paragraph id is required")
)

// Voices lists the voice types rooms may be created with.
var Voices = []string{"alloy", "echo", "fable", "nova", "onyx", "shimmer"}

func ValidVoice(voice string) bool {
	for _, v := range Voices {
		if v == voice {
			return true
		}
	}
	return false
}

// Resolver maps a paragraph and voice to the URL of its pre-rendered audio.
type Resolver struct {
	base *url.URL
}

func NewResolver(baseURL string) (*Resolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse tts base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("tts base url must be absolute: %q", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &Resolver{base: u}, nil
}

func (r *Resolver) Resolve(paragraphId, voice string) (types.AudioResource, error) {
	if paragraphId == "" {
		return types.AudioResource{}, ErrMissingParagraph
	}
	if !ValidVoice(voice) {
		return types.AudioResource{}, fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
	}

	u := *r.base
	u.Path = u.Path + "/" + voice + "/" + paragraphId + ".mp3"
	return types.AudioResource{
		ParagraphId: paragraphId,
		VoiceType:   voice,
		Url:         u.String(),
	}, nil
}
