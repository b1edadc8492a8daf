// Package sensor fans hardware event sources (button, ears, RFID, ASR) into
// a single in-process channel, stamps them, applies the handful of side
// effects spec.md §4.7 calls for, and broadcasts them through the writer
// registry's subscription filter. Grounded on the teacher's
// Hub.broadcast/ControlEvent shape, generalized from one event type to four.
package sensor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/metrics"
	"github.com/datagutt/pynab/internal/proto"
	"github.com/datagutt/pynab/internal/writer"
)

// Canceler is the subset of the scheduler the dispatcher needs: canceling
// the running cancelable item on a button click (I7).
type Canceler interface {
	CancelRunning()
}

// RFIDPictures looks up the stored tag picture for a known service, by the
// tag's app field (spec.md §4.7 "annotated with that service's stored tag
// picture").
type RFIDPictures interface {
	PictureFor(app string) (string, bool)
}

// Event is the union of everything a hardware source can push. Exactly one
// of the payload fields is set, selected by Kind.
type Event struct {
	Kind string // "button", "ear", "rfid", "asr"

	ButtonEvent string // down/up/click/double_click/triple_click/hold

	Ear         string // left/right
	EarPosition int16

	RFIDTech    string
	RFIDUID     string
	RFIDEvent   string // detected/removed
	RFIDSupport string
	RFIDApp     string
	RFIDData    string

	NLUIntent string
	NLUSlots  map[string]string
}

// Dispatcher owns the fan-in channel and the broadcast loop.
type Dispatcher struct {
	events   chan Event
	writers  *writer.Registry
	sched    Canceler
	pictures RFIDPictures
	log      zerolog.Logger
}

func NewDispatcher(writers *writer.Registry, sched Canceler, pictures RFIDPictures, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		events:   make(chan Event, 256),
		writers:  writers,
		sched:    sched,
		pictures: pictures,
		log:      log,
	}
}

// Push enqueues a hardware-observed event. Never blocks the caller for long:
// the channel is generously buffered and a full channel drops the event
// with a log line, since sensor events "are never queued against the
// scheduler; they are independent of it" (spec.md §4.7) and a stalled
// dispatcher must not stall hardware polling.
func (d *Dispatcher) Push(ev Event) {
	select {
	case d.events <- ev:
	default:
		metrics.SensorEventsDropped.Inc()
		d.log.Warn().Str("kind", ev.Kind).Msg("sensor event dropped: dispatcher backlog full")
	}
}

// Run drains the fan-in channel until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-d.events:
			d.handle(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handle(ev Event) {
	metrics.SensorEventsTotal.WithLabelValues(ev.Kind).Inc()
	now := float64(time.Now().UnixNano()) / 1e9

	switch ev.Kind {
	case "button":
		if ev.ButtonEvent == "click" && d.sched != nil {
			d.sched.CancelRunning()
		}
		d.broadcast(proto.ButtonEvent{Type: proto.TypeButtonEvent, Event: ev.ButtonEvent, Time: now})

	case "ear":
		d.broadcast(proto.EarEvent{Type: proto.TypeEarEvent, Ear: ev.Ear, Position: ev.EarPosition, Time: now})

	case "rfid":
		payload := proto.RFIDEvent{
			Type:    proto.TypeRFIDEvent,
			Tech:    ev.RFIDTech,
			UID:     ev.RFIDUID,
			Event:   ev.RFIDEvent,
			Support: ev.RFIDSupport,
			App:     ev.RFIDApp,
			Data:    ev.RFIDData,
			Time:    now,
		}
		if ev.RFIDSupport == "formatted" && ev.RFIDApp != "" && d.pictures != nil {
			if pic, ok := d.pictures.PictureFor(ev.RFIDApp); ok {
				payload.Picture = pic
			}
		}
		d.broadcast(payload)

	case "asr":
		d.broadcast(proto.ASREvent{
			Type: proto.TypeASREvent,
			NLU:  proto.NLU{Intent: ev.NLUIntent, Slots: ev.NLUSlots},
			Time: now,
		})
	}
}

func (d *Dispatcher) broadcast(named interface{ EventName() string }) {
	payload, err := json.Marshal(named)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to marshal sensor event")
		return
	}
	d.writers.Broadcast(named.EventName(), payload)
}
