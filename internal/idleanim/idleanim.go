// Package idleanim is the idle animation player (spec.md §4.6): while the
// daemon is idle and the queue is empty, it round-robins through every
// registered info_id's animation, playing each once before advancing.
package idleanim

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/actuator"
)

// Frame is one animation tick: a color per LED, or nil meaning hold
// previous (spec.md §3 IdleAnimation).
type Frame struct {
	Left   *actuator.Color
	Center *actuator.Color
	Right  *actuator.Color
}

// Animation is a published idle animation (spec.md §3).
type Animation struct {
	Tempo  time.Duration // seconds per frame, as a duration
	Colors []Frame
}

// Player rotates registered animations round-robin whenever active
// (spec.md §4.6). Start/Stop are driven by the scheduler per I6.
type Player struct {
	leds actuator.LEDStrip
	log  zerolog.Logger

	mu         sync.Mutex
	order      []string
	animations map[string]Animation
	rotation   int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlayer(leds actuator.LEDStrip, log zerolog.Logger) *Player {
	return &Player{
		leds:       leds,
		log:        log,
		animations: make(map[string]Animation),
	}
}

// Publish registers or replaces infoID's animation, inserting it into the
// rotation if new (spec.md §4.6 "Publishing an info packet with a new
// info_id inserts into the rotation").
func (p *Player) Publish(infoID string, anim Animation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.animations[infoID]; !exists {
		p.order = append(p.order, infoID)
	}
	p.animations[infoID] = anim
}

// Revoke removes infoID from the rotation ("publishing one without
// animation removes it").
func (p *Player) Revoke(infoID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.animations, infoID)
	for i, id := range p.order {
		if id == infoID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Start begins (or resumes) round-robin playback. A no-op if already
// running or no animation is registered.
func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || len(p.order) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop halts playback and clears the LEDs (spec.md §4.6 "the animator
// halts and clears LEDs").
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if p.leds != nil {
		_ = p.leds.Clear(context.Background())
	}
}

func (p *Player) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		p.mu.Lock()
		if len(p.order) == 0 {
			p.mu.Unlock()
			return
		}
		id := p.order[p.rotation%len(p.order)]
		anim := p.animations[id]
		p.rotation++
		p.mu.Unlock()

		if err := p.playOnce(ctx, anim); err != nil {
			return
		}
	}
}

func (p *Player) playOnce(ctx context.Context, anim Animation) error {
	tempo := anim.Tempo
	if tempo <= 0 {
		tempo = time.Second
	}
	snap := actuator.LEDSnapshot{}
	for _, frame := range anim.Colors {
		if p.leds != nil {
			if frame.Left != nil {
				snap.Left = *frame.Left
			}
			if frame.Center != nil {
				snap.Center = *frame.Center
			}
			if frame.Right != nil {
				snap.Right = *frame.Right
			}
			if err := p.leds.SetAll(ctx, snap); err != nil {
				p.log.Warn().Err(err).Msg("idle animation LED write failed")
			}
		}
		timer := time.NewTimer(tempo)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}
