package virtual

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Socket is the auxiliary TCP listener of spec.md §6.4: it renders an ANSI
// view of the backend's state to every connected viewer and accepts
// scripted input lines (button/ear/rfid/asr/fail/delay) on the same
// connection.
type Socket struct {
	backend *Backend
	log     zerolog.Logger

	mu      sync.Mutex
	viewers map[net.Conn]struct{}
}

// NewSocket attaches a Socket to backend, wiring its render hook so every
// actuator write pushes a fresh ANSI frame to connected viewers.
func NewSocket(backend *Backend, log zerolog.Logger) *Socket {
	s := &Socket{backend: backend, log: log, viewers: make(map[net.Conn]struct{})}
	backend.onRender = s.broadcastSnapshot
	return s
}

// ListenAndServe accepts connections on addr until ctx is canceled.
func (s *Socket) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("virtual: listen %s: %w", addr, err)
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
				s.log.Warn().Err(err).Msg("virtual socket accept failed")
				return err
			}
		}
		s.addViewer(conn)
		go s.serve(conn)
	}
}

func (s *Socket) addViewer(conn net.Conn) {
	s.mu.Lock()
	s.viewers[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Socket) removeViewer(conn net.Conn) {
	s.mu.Lock()
	delete(s.viewers, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Socket) serve(conn net.Conn) {
	defer s.removeViewer(conn)
	s.writeSnapshot(conn)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		s.handleLine(strings.TrimSpace(scanner.Text()))
	}
}

func (s *Socket) broadcastSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.viewers {
		s.writeSnapshot(conn)
	}
}

func (s *Socket) writeSnapshot(conn net.Conn) {
	snap := s.backend.snapshot()
	_, _ = fmt.Fprintf(conn, "leds l=%s lm=%s c=%s rm=%s r=%s ears l=%d r=%d clips=%s\n",
		orDash(string(snap.LEDs.Left)), orDash(string(snap.LEDs.LeftMiddle)), orDash(string(snap.LEDs.Center)),
		orDash(string(snap.LEDs.RightMiddle)), orDash(string(snap.LEDs.Right)),
		snap.Ears[0], snap.Ears[1], strings.Join(snap.Clips, ","))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// handleLine parses one scripted input/control line. Unrecognized or
// malformed lines are ignored — this is a test harness, not a protocol
// surface held to spec.md §7's validation discipline.
func (s *Socket) handleLine(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "button":
		if len(fields) >= 2 {
			select {
			case s.backend.buttonEvents <- fields[1]:
			default:
			}
		}
	case "ear":
		if len(fields) >= 3 {
			pos, err := strconv.Atoi(fields[2])
			if err != nil {
				return
			}
			select {
			case s.backend.earEvents <- EarEvent{Ear: fields[1], Position: int16(pos)}:
			default:
			}
		}
	case "rfid":
		if len(fields) >= 4 {
			ev := RFIDEvent{Tech: fields[1], UID: fields[2], Event: fields[3]}
			if len(fields) >= 5 {
				ev.Support = fields[4]
			}
			if len(fields) >= 6 {
				ev.App = fields[5]
			}
			if len(fields) >= 7 {
				ev.Data = fields[6]
			}
			select {
			case s.backend.rfidEvents <- ev:
			default:
			}
		}
	case "asr":
		if len(fields) >= 2 {
			ev := ASREvent{Intent: fields[1], Slots: map[string]string{}}
			for _, kv := range fields[2:] {
				if k, v, ok := strings.Cut(kv, "="); ok {
					ev.Slots[k] = v
				}
			}
			select {
			case s.backend.asrEvents <- ev:
			default:
			}
		}
	case "fail":
		if len(fields) >= 3 {
			s.setFault(fields[1], fields[2] == "on")
		}
	case "delay":
		if len(fields) >= 2 {
			if d, err := time.ParseDuration(fields[1]); err == nil {
				s.backend.mu.Lock()
				s.backend.ActuatorDelay = d
				s.backend.mu.Unlock()
			}
		}
	}
}

func (s *Socket) setFault(target string, on bool) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	switch target {
	case "leds":
		s.backend.FailLEDs = on
	case "ears":
		s.backend.FailEars = on
	case "audio":
		s.backend.FailAudio = on
	case "rfid":
		s.backend.FailRFID = on
	}
}
