// Package frontend is the TCP multiplexer of spec.md §4.1: it listens on a
// loopback port, and for each accepted connection runs a reader (decode,
// validate, dispatch) and a writer (drain a bounded outbound queue) pump.
// Grounded on the tessro-fab pack example's accept-loop/per-connection
// goroutine/json-codec shape, combined with the teacher's Hub broadcast
// non-blocking-send-or-drop discipline for the outbound queue.
package frontend

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/actuator"
	"github.com/datagutt/pynab/internal/id"
	"github.com/datagutt/pynab/internal/idleanim"
	"github.com/datagutt/pynab/internal/proto"
	"github.com/datagutt/pynab/internal/queue"
	"github.com/datagutt/pynab/internal/writer"
)

const maxLineSize = 1 << 20 // 1MiB, generous ceiling for a single JSON frame

// Scheduler is the subset of *queue.Scheduler the front-end drives.
type Scheduler interface {
	Submit(item *queue.WorkItem)
	ReleaseInteractive(writerID uint64)
	Wakeup()
	Cancel(requestID string, requester uint64)
	DisconnectWriter(writerID uint64, wasOwner bool)
	State() queue.State
	QueueDepth() int
	Uptime() time.Duration
}

// Listener accepts writer connections (spec.md §4.1).
type Listener struct {
	writers   *writer.Registry
	sched     Scheduler
	idle      *idleanim.Player
	caps      actuator.Capabilities
	log       zerolog.Logger
	bufSize   int
	rfidDefTO time.Duration
}

func NewListener(writers *writer.Registry, sched Scheduler, idle *idleanim.Player, caps actuator.Capabilities, bufSize int, rfidDefaultTimeout time.Duration, log zerolog.Logger) *Listener {
	return &Listener{
		writers:   writers,
		sched:     sched,
		idle:      idle,
		caps:      caps,
		bufSize:   bufSize,
		rfidDefTO: rfidDefaultTimeout,
		log:       log,
	}
}

// ListenAndServe accepts connections on addr until ctx is canceled.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				l.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	wid := id.NextWriterID()
	w := writer.NewWriter(wid, l.bufSize)
	l.writers.Add(w)
	log := l.log.With().Uint64("writer", wid).Logger()

	writerDone := make(chan struct{})
	go l.writePump(conn, w, writerDone, log)

	// Handshake: send current state immediately on accept (spec.md §6.2).
	w.Send(mustMarshal(proto.NewStateEvent(string(l.sched.State()))))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		l.dispatch(w, scanner.Bytes(), log)
	}

	w.Close()
	<-writerDone
	wasOwner := l.writers.Remove(wid)
	l.sched.DisconnectWriter(wid, wasOwner)
	log.Debug().Msg("writer disconnected")
}

// writePump drains w.Out onto conn until Out closes, then closes conn
// itself. Out can close two ways: handle()'s own cleanup once its read loop
// ends, or Writer.Send closing it unilaterally on outbound-queue overflow
// (spec.md §4.1, §7 QueueOverflow) — in the overflow case nothing else
// would ever unblock handle()'s blocking read, so closing conn here is what
// actually severs the connection.
func (l *Listener) writePump(conn net.Conn, w *writer.Writer, done chan struct{}, log zerolog.Logger) {
	defer close(done)
	defer conn.Close()
	bw := bufio.NewWriter(conn)
	for payload := range w.Out {
		bw.Write(payload)
		bw.WriteByte('\n')
		if err := bw.Flush(); err != nil {
			log.Debug().Err(err).Msg("write failed, disconnecting")
			return
		}
	}
	if w.Overflowed() {
		log.Warn().Msg("writer outbound queue overflow, disconnecting")
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error"}`)
	}
	return b
}

func (l *Listener) sendError(w *writer.Writer, requestID string, class proto.ErrorClass, msg string) {
	w.Send(mustMarshal(proto.Fail(requestID, proto.NewError(class, msg))))
}

func (l *Listener) sendAck(w *writer.Writer, requestID, status string) {
	if requestID == "" {
		return
	}
	w.Send(mustMarshal(proto.Ack(requestID, status)))
}

// dispatch decodes one inbound line and either answers it inline (gestalt,
// info, wakeup, mode idle or a bare subscription update), hands a cancel to
// Scheduler.Cancel, which sends the reply itself, or turns it into a
// *queue.WorkItem and submits it to the scheduler, whose own response
// eventually reaches this
// writer via Registry.Get/Writer.Send in Scheduler.respond. Malformed or
// invalid packets get an inline error response and are never queued
// (spec.md §6.1, §7).
func (l *Listener) dispatch(w *writer.Writer, line []byte, log zerolog.Logger) {
	env, err := proto.Decode(line)
	if err != nil {
		l.sendError(w, "", proto.ErrProtocolError, err.Error())
		return
	}

	switch env.Type {
	case proto.TypeMode:
		l.handleMode(w, env)

	case proto.TypeCommand:
		if len(env.Sequence) == 0 {
			l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "command requires a non-empty sequence")
			return
		}
		for _, ci := range env.Sequence {
			if ci.Empty() {
				l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "sequence item must set audio and/or choreography")
				return
			}
		}
		l.sched.Submit(&queue.WorkItem{
			Kind:       queue.KindCommand,
			Origin:     w.ID,
			RequestID:  env.RequestID,
			Sequence:   env.Sequence,
			Cancelable: env.Cancelable,
			Expiration: env.Expiration,
		})

	case proto.TypeMessage:
		if env.Signature == nil && len(env.Body) == 0 {
			l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "message requires a signature and/or body")
			return
		}
		if env.Signature != nil && env.Signature.Empty() {
			l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "signature must set audio and/or choreography")
			return
		}
		for _, ci := range env.Body {
			if ci.Empty() {
				l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "body item must set audio and/or choreography")
				return
			}
		}
		l.sched.Submit(&queue.WorkItem{
			Kind:       queue.KindMessage,
			Origin:     w.ID,
			RequestID:  env.RequestID,
			Signature:  env.Signature,
			Body:       env.Body,
			Cancelable: env.Cancelable,
			Expiration: env.Expiration,
		})

	case proto.TypeSleep:
		l.sched.Submit(&queue.WorkItem{
			Kind:       queue.KindSleep,
			Origin:     w.ID,
			RequestID:  env.RequestID,
			Expiration: env.Expiration,
		})

	case proto.TypeWakeup:
		l.sched.Wakeup()
		l.sendAck(w, env.RequestID, proto.StatusOK)

	case proto.TypeCancel:
		if env.RequestID == "" {
			l.sendError(w, "", proto.ErrInvalidParameter, "cancel requires request_id")
			return
		}
		l.sched.Cancel(env.RequestID, w.ID)

	case proto.TypeTest:
		if env.Test != proto.TestLEDs && env.Test != proto.TestEars {
			l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "unknown test target: "+env.Test)
			return
		}
		l.sched.Submit(&queue.WorkItem{
			Kind:       queue.KindTest,
			Origin:     w.ID,
			RequestID:  env.RequestID,
			TestTarget: env.Test,
		})

	case proto.TypeGestalt:
		l.handleGestalt(w, env)

	case proto.TypeRFIDWrite:
		if env.UID == "" || env.Tech == "" {
			l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "rfid_write requires tech and uid")
			return
		}
		timeout := l.rfidDefTO
		if env.Timeout != nil {
			timeout = time.Duration(*env.Timeout * float64(time.Second))
		}
		l.sched.Submit(&queue.WorkItem{
			Kind:      queue.KindRFIDWrite,
			Origin:    w.ID,
			RequestID: env.RequestID,
			Tech:      env.Tech,
			UID:       env.UID,
			Picture:   env.Picture,
			App:       env.App,
			Data:      env.Data,
			Timeout:   timeout,
		})

	case proto.TypeConfigUpdate:
		if env.Service == "" {
			l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "config-update requires service")
			return
		}
		l.sched.Submit(&queue.WorkItem{
			Kind:      queue.KindConfigUpdate,
			Origin:    w.ID,
			RequestID: env.RequestID,
			Service:   env.Service,
			Slot:      env.Slot,
		})

	case proto.TypeShutdown:
		if env.Mode != proto.ShutdownHalt && env.Mode != proto.ShutdownReboot {
			l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "unknown shutdown mode: "+env.Mode)
			return
		}
		l.sched.Submit(&queue.WorkItem{
			Kind:         queue.KindShutdown,
			Origin:       w.ID,
			RequestID:    env.RequestID,
			ShutdownMode: env.Mode,
		})

	case proto.TypeInfo:
		l.handleInfo(w, env, log)

	default:
		l.sendError(w, env.RequestID, proto.ErrProtocolError, "unknown packet type: "+env.Type)
	}
}

func (l *Listener) handleMode(w *writer.Writer, env *proto.Envelope) {
	switch env.Mode {
	case proto.ModeInteractive:
		w.Subscribe(env.Events)
		l.sched.Submit(&queue.WorkItem{
			Kind:      queue.KindModeSwitch,
			Origin:    w.ID,
			RequestID: env.RequestID,
		})

	case proto.ModeIdle:
		w.Subscribe(env.Events)
		l.sched.ReleaseInteractive(w.ID)
		l.sendAck(w, env.RequestID, proto.StatusOK)

	default:
		// A bare subscription update: neither interactive nor idle, just a
		// new set of event patterns.
		if env.Mode == "" {
			w.Subscribe(env.Events)
			l.sendAck(w, env.RequestID, proto.StatusOK)
			return
		}
		l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "unknown mode: "+env.Mode)
	}
}

func (l *Listener) handleInfo(w *writer.Writer, env *proto.Envelope, log zerolog.Logger) {
	if env.InfoID == nil || *env.InfoID == "" {
		// A bare info with a request_id is a gestalt-style query.
		if env.RequestID != "" {
			l.handleGestalt(w, env)
			return
		}
		l.sendError(w, env.RequestID, proto.ErrInvalidParameter, "info requires info_id")
		return
	}
	if l.idle == nil {
		l.sendAck(w, env.RequestID, proto.StatusOK)
		return
	}
	if env.Animation == nil {
		l.idle.Revoke(*env.InfoID)
		l.sendAck(w, env.RequestID, proto.StatusOK)
		return
	}
	l.idle.Publish(*env.InfoID, toIdleAnimation(*env.Animation))
	l.sendAck(w, env.RequestID, proto.StatusOK)
}

func toIdleAnimation(a proto.Animation) idleanim.Animation {
	out := idleanim.Animation{
		Tempo:  time.Duration(a.Tempo * float64(time.Second)),
		Colors: make([]idleanim.Frame, 0, len(a.Colors)),
	}
	for _, f := range a.Colors {
		out.Colors = append(out.Colors, idleanim.Frame{
			Left:   toColor(f.Left),
			Center: toColor(f.Center),
			Right:  toColor(f.Right),
		})
	}
	return out
}

func toColor(s *string) *actuator.Color {
	if s == nil {
		return nil
	}
	c := actuator.Color(*s)
	return &c
}

func (l *Listener) handleGestalt(w *writer.Writer, env *proto.Envelope) {
	owner := l.writers.InteractiveOwner()
	writers := l.writers.List()
	summaries := make([]proto.WriterSummary, 0, len(writers))
	for _, other := range writers {
		summaries = append(summaries, proto.WriterSummary{
			ID:          other.ID,
			Subscribed:  other.Patterns(),
			Interactive: owner != 0 && owner == other.ID,
		})
	}

	info := proto.GestaltInfo{
		UptimeSeconds: l.sched.Uptime().Seconds(),
		State:         string(l.sched.State()),
		Writers:       summaries,
		Hardware: proto.HardwareSummary{
			LEDs:       boolToCount(l.caps.LEDs != nil),
			Ears:       boolToCount(l.caps.Ears != nil),
			AudioSink:  l.caps.Sink != nil,
			AudioInput: l.caps.Source != nil,
			RFID:       l.caps.RFID != nil,
			Button:     l.caps.Button != nil,
		},
	}
	w.Send(mustMarshal(proto.Response{
		Type:      proto.TypeResponse,
		Status:    proto.StatusOK,
		RequestID: env.RequestID,
		Info:      info,
	}))
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
