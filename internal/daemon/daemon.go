// Package daemon wires every component into the running rabbitd process:
// config, logging, the resource resolver, actuator capabilities (real or
// virtual), the writer registry, scheduler, choreography engine, idle
// animator, sensor dispatcher and the front-end listener. Analogous to the
// teacher's top-level Server struct, generalized from one subsystem
// (terminal sessions) to the daemon's full component graph.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/datagutt/pynab/internal/actuator"
	"github.com/datagutt/pynab/internal/choreo"
	"github.com/datagutt/pynab/internal/config"
	"github.com/datagutt/pynab/internal/frontend"
	"github.com/datagutt/pynab/internal/idleanim"
	"github.com/datagutt/pynab/internal/queue"
	"github.com/datagutt/pynab/internal/resource"
	"github.com/datagutt/pynab/internal/sensor"
	"github.com/datagutt/pynab/internal/virtual"
	"github.com/datagutt/pynab/internal/writer"
)

// Daemon is the assembled process: every component plus what it takes to
// run and stop it.
type Daemon struct {
	cfg config.Config
	log zerolog.Logger

	writers    *writer.Registry
	resolver   resource.Resolver
	sched      *queue.Scheduler
	idle       *idleanim.Player
	dispatcher *sensor.Dispatcher
	listener   *frontend.Listener

	virtualBackend *virtual.Backend
	virtualSocket  *virtual.Socket

	pictures *rfidPictureStore

	shutdownOnce chan string
}

// New assembles a Daemon from cfg. Hardware capabilities come from the
// virtual/TUI backend when cfg.Virtual.Enabled; concrete real-device
// drivers are out of scope (spec.md §1 "Out of scope: concrete drivers").
func New(cfg config.Config, log zerolog.Logger) (*Daemon, error) {
	resolver := resource.NewFSResolver(cfg.ResourceRoots, cfg.Locale, cfg.Virtual.Seed)

	writers := writer.NewRegistry()
	pictures := newRFIDPictureStore(cfg.RFIDServices)

	var caps actuator.Capabilities
	var vbackend *virtual.Backend
	var vsocket *virtual.Socket
	if cfg.Virtual.Enabled {
		vbackend = virtual.NewBackend(cfg.Virtual.Seed, log.With().Str("component", "virtual").Logger())
		vsocket = virtual.NewSocket(vbackend, log.With().Str("component", "virtual_socket").Logger())
		caps = actuator.Capabilities{
			LEDs:   vbackend,
			Ears:   vbackend,
			Sink:   vbackend,
			Source: vbackend,
			RFID:   vbackend,
			Button: vbackend,
		}
	}

	idle := idleanim.NewPlayer(caps.LEDs, log.With().Str("component", "idleanim").Logger())
	engine := &choreo.Engine{Caps: caps, Clock: choreo.SystemClock}

	d := &Daemon{
		cfg:            cfg,
		log:            log,
		writers:        writers,
		resolver:       resolver,
		idle:           idle,
		virtualBackend: vbackend,
		virtualSocket:  vsocket,
		pictures:       pictures,
		shutdownOnce:   make(chan string, 1),
	}

	sched := queue.NewScheduler(writers, resolver, engine, idle, log.With().Str("component", "scheduler").Logger(), d.onConfigUpdate, d.onShutdown, pictures.Set)
	d.sched = sched

	dispatcher := sensor.NewDispatcher(writers, sched, pictures, log.With().Str("component", "sensor").Logger())
	d.dispatcher = dispatcher

	listener := frontend.NewListener(writers, sched, idle, caps, cfg.Queue.OutboundBufferSize, cfg.Queue.RFIDWriteDefaultTimeout, log.With().Str("component", "frontend").Logger())
	d.listener = listener

	return d, nil
}

// Run starts every component and blocks until ctx is canceled or a fatal
// component error occurs (e.g. the listen address is already in use). A
// shutdown packet (spec.md §6.1 "shutdown") also unblocks Run via its own
// cancellation; the requested mode is logged, not returned.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		d.sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		d.dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return d.listener.ListenAndServe(gctx, fmt.Sprintf("127.0.0.1:%d", d.cfg.Port))
	})

	if d.virtualBackend != nil {
		g.Go(func() error { return d.pumpVirtualEvents(gctx) })
	}
	if d.virtualSocket != nil {
		g.Go(func() error {
			return d.virtualSocket.ListenAndServe(gctx, fmt.Sprintf("127.0.0.1:%d", d.cfg.Port+1))
		})
	}

	g.Go(func() error {
		select {
		case mode := <-d.shutdownOnce:
			d.log.Info().Str("mode", mode).Msg("shutdown requested")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	return g.Wait()
}

// pumpVirtualEvents adapts the virtual backend's raw event channels into
// sensor.Event pushes, the same translation a real hardware driver's own
// polling loop would perform — the virtual backend itself has no
// dependency on internal/sensor (spec.md §4.10).
func (d *Daemon) pumpVirtualEvents(ctx context.Context) error {
	for {
		select {
		case ev := <-d.virtualBackend.Events():
			d.dispatcher.Push(sensor.Event{Kind: "button", ButtonEvent: ev})
		case ev := <-d.virtualBackend.EarEvents():
			d.dispatcher.Push(sensor.Event{Kind: "ear", Ear: earName(ev.Ear), EarPosition: ev.Position})
		case ev := <-d.virtualBackend.RFIDEvents():
			d.dispatcher.Push(sensor.Event{
				Kind:        "rfid",
				RFIDTech:    ev.Tech,
				RFIDUID:     ev.UID,
				RFIDEvent:   ev.Event,
				RFIDSupport: ev.Support,
				RFIDApp:     ev.App,
				RFIDData:    ev.Data,
			})
		case ev := <-d.virtualBackend.ASREvents():
			d.dispatcher.Push(sensor.Event{Kind: "asr", NLUIntent: ev.Intent, NLUSlots: ev.Slots})
		case <-ctx.Done():
			return nil
		}
	}
}

func earName(ear string) string {
	if ear == "" {
		return "left"
	}
	return ear
}

// onShutdown implements the scheduler's shutdown hook (spec.md §6.1
// "shutdown"): it hands the requested mode back to Run's select loop
// rather than calling os.Exit directly, so cmd/rabbitd controls the actual
// process exit and can still flush logs/metrics.
func (d *Daemon) onShutdown(mode string) {
	select {
	case d.shutdownOnce <- mode:
	default:
	}
}

// onConfigUpdate implements the scheduler's config-update hook
// (spec.md §6.1 "config-update"). Concrete per-service reload mechanics are
// out of scope (spec.md §1); this only logs the request.
func (d *Daemon) onConfigUpdate(service, slot string) error {
	d.log.Info().Str("service", service).Str("slot", slot).Msg("config-update requested")
	return nil
}

// Uptime reports process uptime once the scheduler is running; zero before
// Run is called.
func (d *Daemon) Uptime() time.Duration {
	return d.sched.Uptime()
}
