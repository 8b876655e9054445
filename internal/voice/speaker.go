package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Synthesizer renders text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sink receives each finished utterance, typically to push it down a
// websocket to whichever client is rendering the call.
type Sink func(audio []byte) error

// Speaker turns a Synthesizer and a Sink into a blocking speak-one-utterance
// primitive. Speak holds the caller for a playback window proportional to the
// utterance length so turn-taking has a speech phase; Stop releases it
// immediately.
type Speaker struct {
	synth   Synthesizer
	sink    Sink
	perWord time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// DefaultWordPace approximates conversational speech at ~150 words/minute.
const DefaultWordPace = 400 * time.Millisecond

func NewSpeaker(synth Synthesizer, sink Sink, perWord time.Duration) *Speaker {
	if perWord <= 0 {
		perWord = DefaultWordPace
	}
	return &Speaker{synth: synth, sink: sink, perWord: perWord}
}

// Speak synthesizes text, delivers it to the sink, then blocks for the
// simulated playback window or until Stop / context cancellation.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	if s.sink != nil {
		if err := s.sink(audio); err != nil {
			return fmt.Errorf("%w: deliver audio: %v", ErrUnavailable, err)
		}
	}

	playCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	select {
	case <-time.After(s.playbackWindow(text)):
	case <-playCtx.Done():
	}
	return nil
}

// Stop cuts the current playback window short. Safe to call at any time.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Speaker) playbackWindow(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return time.Duration(words) * s.perWord
}
