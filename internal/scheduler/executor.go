package scheduler

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pulsecoach/pulse-coach-app/internal/events"
	"github.com/pulsecoach/pulse-coach-app/internal/goutil"
	"github.com/pulsecoach/pulse-coach-app/internal/history"
	"github.com/pulsecoach/pulse-coach-app/internal/hr"
	"github.com/pulsecoach/pulse-coach-app/internal/link"
	"github.com/pulsecoach/pulse-coach-app/internal/notify"
	"github.com/pulsecoach/pulse-coach-app/internal/plan"
	"github.com/pulsecoach/pulse-coach-app/internal/session"
)

type executorCommand int

const (
	cmdPause executorCommand = iota
	cmdResume
	cmdStop
)

// Config tunes the executor. Zero values select the defaults.
type Config struct {
	// TickInterval is the cadence of the processing loop.
	TickInterval time.Duration
	// CheckpointEvery is the tick count between checkpoint writes.
	CheckpointEvery int
	// StallTimeout is how long the stream may go silent before the
	// connection is treated as lost.
	StallTimeout time.Duration
	// BatteryPollEvery is the tick count between battery reads.
	BatteryPollEvery int
	// RRWindowCapacity bounds the variability window.
	RRWindowCapacity int
	// DeviationThreshold is handed to the session machine.
	DeviationThreshold int
	// Backoff governs reconnect pacing after a lost link.
	Backoff link.BackoffPolicy
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 10
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Second
	}
	if c.BatteryPollEvery <= 0 {
		c.BatteryPollEvery = 60
	}
	if c.RRWindowCapacity <= 0 {
		c.RRWindowCapacity = 30
	}
	if c.Backoff.MaxAttempts <= 0 {
		c.Backoff = link.DefaultBackoffPolicy()
	}
	return c
}

// Executor wires the whole pipeline together: it is the sole owner of the
// link adapter and the notification sink, drives the connection machine,
// and runs the per-session tick loop that parses, filters, updates
// variability, feeds the session machine, streams progress and writes
// checkpoints.
type Executor struct {
	logger      *log.Logger
	cfg         Config
	adapter     link.Adapter
	notifier    notify.Notifier
	conn        *link.Machine
	checkpoints *CheckpointStore
	archive     *history.Repository
	progress    *events.ChannelEvent[session.Progress]

	mu                 sync.Mutex
	sess               *session.Machine
	filter             *hr.KalmanFilter
	rrWindow           *hr.RRWindow
	cmdChan            chan executorCommand
	doneChan           chan struct{}
	running            bool
	tickCount          int
	lastDataAt         time.Time
	batteryLow         bool
	batteryUnsupported bool
	reconnectAt        time.Time
	resumable          *Checkpoint
}

// NewExecutor builds an executor and loads any existing checkpoint so a
// crashed session can be resumed. archive may be nil to disable session
// archiving.
func NewExecutor(logger *log.Logger, cfg Config, adapter link.Adapter, notifier notify.Notifier,
	checkpoints *CheckpointStore, archive *history.Repository) *Executor {
	if logger == nil {
		panic("scheduler.Executor: logger cannot be nil")
	}
	if adapter == nil {
		panic("scheduler.Executor: adapter cannot be nil")
	}
	if notifier == nil {
		panic("scheduler.Executor: notifier cannot be nil")
	}
	if checkpoints == nil {
		panic("scheduler.Executor: checkpoint store cannot be nil")
	}
	cfg = cfg.withDefaults()

	e := &Executor{
		logger:      logger,
		cfg:         cfg,
		adapter:     adapter,
		notifier:    notifier,
		conn:        link.NewMachine(logger, adapter, cfg.Backoff),
		checkpoints: checkpoints,
		archive:     archive,
		progress:    events.NewChannelEvent[session.Progress](true),
	}

	cp, err := checkpoints.Load()
	if err != nil {
		logger.Printf("Executor: checkpoint load failed, starting clean: %v", err)
	}
	e.resumable = cp
	if cp != nil {
		logger.Printf("Executor: found mid-flight checkpoint for plan %q (phase %d, %ds elapsed)",
			cp.Plan.Name, cp.PhaseIndex, cp.TotalElapsedSecs)
	}
	return e
}

// ResumableCheckpoint returns the checkpoint found at construction, if
// any.
func (e *Executor) ResumableCheckpoint() *Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resumable == nil {
		return nil
	}
	cp := *e.resumable
	return &cp
}

// ListenProgress registers ch for per-tick progress snapshots.
func (e *Executor) ListenProgress(ch chan<- session.Progress) func() {
	return e.progress.Listen(ch)
}

// ConnectionSnapshot exposes the link machine's position for display.
func (e *Executor) ConnectionSnapshot() link.Snapshot {
	return e.conn.Snapshot()
}

// StartScan drives the link machine out of Idle or terminal Disconnected.
func (e *Executor) StartScan() error {
	_, err := e.conn.Handle(link.Event{Type: link.EventStartScan})
	return err
}

// DiscoveredDevices lists current scan results.
func (e *Executor) DiscoveredDevices() []link.DiscoveredDevice {
	return e.adapter.DiscoveredDevices()
}

// StartSession validates the plan, brings the link to Streaming and
// starts a fresh session loop. Any stale checkpoint is discarded.
func (e *Executor) StartSession(p plan.TrainingPlan, deviceID link.DeviceID) error {
	sess, err := session.NewMachine(e.logger, p, session.Config{DeviationThreshold: e.cfg.DeviationThreshold})
	if err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		return err
	}
	if err := e.checkpoints.Clear(); err != nil {
		e.logger.Printf("Executor: clearing stale checkpoint: %v", err)
	}
	return e.launch(sess, deviceID, nil)
}

// ResumeSession restarts the checkpointed session found at construction.
func (e *Executor) ResumeSession(deviceID link.DeviceID) error {
	e.mu.Lock()
	cp := e.resumable
	e.mu.Unlock()
	if cp == nil {
		return fmt.Errorf("executor: no checkpoint to resume")
	}

	sess, err := session.NewMachine(e.logger, cp.Plan, session.Config{DeviationThreshold: e.cfg.DeviationThreshold})
	if err != nil {
		return err
	}
	if err := sess.Restore(cp.PhaseIndex, cp.PhaseElapsedSecs, cp.TotalElapsedSecs, cp.Paused); err != nil {
		return err
	}
	return e.launch(sess, deviceID, cp)
}

// launch opens the connection and spawns the tick loop.
func (e *Executor) launch(sess *session.Machine, deviceID link.DeviceID, resumed *Checkpoint) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("executor: a session is already running")
	}
	e.mu.Unlock()

	if err := e.openStream(deviceID); err != nil {
		return err
	}

	e.mu.Lock()
	e.sess = sess
	e.filter = hr.NewKalmanFilter()
	e.rrWindow = hr.NewRRWindow(e.cfg.RRWindowCapacity)
	e.cmdChan = make(chan executorCommand, 4)
	e.doneChan = make(chan struct{})
	e.running = true
	e.tickCount = 0
	e.lastDataAt = time.Now()
	e.batteryLow = false
	e.batteryUnsupported = false
	e.resumable = nil
	done := e.doneChan
	cmds := e.cmdChan
	e.mu.Unlock()

	if resumed != nil {
		e.logger.Printf("Executor: resuming plan %q at phase %d", resumed.Plan.Name, resumed.PhaseIndex)
	} else {
		e.logger.Printf("Executor: starting plan %q", sess.Plan().Name)
	}

	goutil.SafeGo(e.logger, func() { e.runLoop(done, cmds) })
	return nil
}

// openStream walks the connection machine to Streaming. The adapter's
// operations are synchronous, so the executor feeds the machine each
// lifecycle event in turn.
func (e *Executor) openStream(deviceID link.DeviceID) error {
	if snap := e.conn.Snapshot(); snap.State != link.StateScanning {
		if _, err := e.conn.Handle(link.Event{Type: link.EventStartScan}); err != nil {
			var iterr *link.InvalidTransitionError
			if !errors.As(err, &iterr) {
				return err
			}
		}
	}
	if _, err := e.conn.Handle(link.Event{Type: link.EventConnect, DeviceID: deviceID}); err != nil {
		return err
	}
	if _, err := e.conn.Handle(link.Event{Type: link.EventConnected}); err != nil {
		return err
	}
	if _, err := e.conn.Handle(link.Event{Type: link.EventStartStream}); err != nil {
		return err
	}
	return nil
}

// Pause suspends the running session.
func (e *Executor) Pause() error {
	return e.sendCommand(cmdPause)
}

// Resume continues a paused session.
func (e *Executor) Resume() error {
	return e.sendCommand(cmdResume)
}

// Stop ends the session and tears the connection down within one tick.
func (e *Executor) Stop() error {
	return e.sendCommand(cmdStop)
}

func (e *Executor) sendCommand(cmd executorCommand) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("executor: no session running")
	}
	ch := e.cmdChan
	e.mu.Unlock()

	select {
	case ch <- cmd:
		return nil
	case <-time.After(2 * e.cfg.TickInterval):
		return fmt.Errorf("executor: command queue stalled")
	}
}

// Wait blocks until the current session loop exits. Returns immediately
// when nothing is running.
func (e *Executor) Wait() {
	e.mu.Lock()
	done := e.doneChan
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Progress returns the latest session snapshot.
func (e *Executor) Progress() (session.Progress, bool) {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return session.Progress{}, false
	}
	return sess.Progress(), true
}

// runLoop is the cooperative event loop: one tick at a time, commands
// honored between ticks, until the session reaches a terminal state.
func (e *Executor) runLoop(done chan struct{}, cmds chan executorCommand) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-cmds:
			if !e.handleCommand(cmd) {
				return
			}
		case <-ticker.C:
			if !e.handleTick() {
				return
			}
		}
	}
}

// handleCommand returns false when the loop should exit.
func (e *Executor) handleCommand(cmd executorCommand) bool {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()

	switch cmd {
	case cmdPause:
		if err := sess.Pause(); err != nil {
			e.logger.Printf("Executor: pause rejected: %v", err)
		} else {
			e.writeCheckpoint()
		}
	case cmdResume:
		if err := sess.Resume(); err != nil {
			e.logger.Printf("Executor: resume rejected: %v", err)
		}
	case cmdStop:
		if err := sess.Stop(); err != nil {
			e.logger.Printf("Executor: stop rejected: %v", err)
		}
		e.finish(false)
		return false
	}
	return true
}

// handleTick runs one processing step. Returns false when the session has
// reached a terminal state and the loop should exit.
func (e *Executor) handleTick() bool {
	e.drainMeasurements()
	e.checkStall()
	e.maybeReconnect()

	e.mu.Lock()
	sess := e.sess
	e.tickCount++
	tick := e.tickCount
	e.mu.Unlock()

	completed := false
	res, err := sess.Tick()
	if err != nil {
		// Paused sessions reject ticks; time simply does not accrue.
		var serr *session.StateError
		if !errors.As(err, &serr) {
			e.logger.Printf("Executor: tick failed: %v", err)
		}
	} else if res.PhaseChanged {
		e.notify(notify.Event{
			Type:      notify.TypePhaseTransition,
			FromPhase: res.FromPhase,
			ToPhase:   res.ToPhase,
			PhaseName: res.PhaseName,
		})
		if res.TimedOut {
			e.notify(notify.Event{Type: notify.TypePhaseTimeout, PhaseName: sess.Plan().Phases[res.FromPhase].Name})
		}
	} else if res.Completed {
		if res.TimedOut {
			e.notify(notify.Event{Type: notify.TypePhaseTimeout, PhaseName: sess.Plan().Phases[res.FromPhase].Name})
		}
		completed = true
	}

	// Progress is emitted every tick regardless of data so the UI never
	// stalls on a sparse stream.
	e.progress.Notify(sess.Progress())

	if completed {
		e.finish(true)
		return false
	}

	if tick%e.cfg.CheckpointEvery == 0 {
		e.writeCheckpoint()
	}
	if tick%e.cfg.BatteryPollEvery == 0 {
		e.pollBattery()
	}
	return true
}

// drainMeasurements pulls every queued payload without blocking and runs
// the parse → filter → variability → session pipeline on each.
func (e *Executor) drainMeasurements() {
	measurements := e.conn.Measurements()
	if measurements == nil {
		return
	}

	e.mu.Lock()
	sess, filter, window := e.sess, e.filter, e.rrWindow
	e.mu.Unlock()

	for {
		var payload []byte
		select {
		case payload = <-measurements:
		default:
			return
		}

		raw, err := hr.ParsePacket(payload)
		if err != nil {
			// Drop the sample; a malformed payload never tears down the
			// connection.
			e.logger.Printf("Executor: dropping sample: %v", err)
			continue
		}

		e.mu.Lock()
		e.lastDataAt = time.Now()
		e.mu.Unlock()

		for _, rr := range raw.RRIntervalsMS {
			if !window.Push(float64(rr)) {
				e.logger.Printf("Executor: dropping implausible RR interval %dms", rr)
			}
		}

		filtered := filter.Update(float64(raw.BPM))
		fm := hr.FilteredMeasurement{
			RawBPM:         raw.BPM,
			FilteredBPM:    filtered,
			FilterVariance: filter.Variance(),
			ReceivedAt:     raw.ReceivedAt,
		}
		if rmssd, ok := window.RMSSD(); ok {
			fm.RMSSD = &rmssd
		}

		res, err := sess.HeartRateUpdate(fm)
		if err != nil {
			e.logger.Printf("Executor: heart rate update rejected: %v", err)
			continue
		}
		if res.Edge {
			e.notify(notify.Event{
				Type:       notify.TypeZoneDeviation,
				Deviation:  res.Deviation.String(),
				CurrentBPM: uint16(filtered + 0.5),
				TargetZone: sess.Plan().Phases[sess.Progress().PhaseIndex].TargetZone,
			})
		}
	}
}

// checkStall feeds the connection-loss path when the sensor has gone
// silent for too long. The session keeps ticking; only the link retries.
func (e *Executor) checkStall() {
	if e.conn.Snapshot().State != link.StateStreaming {
		return
	}

	e.mu.Lock()
	stalled := time.Since(e.lastDataAt) > e.cfg.StallTimeout
	if stalled {
		e.lastDataAt = time.Now()
	}
	e.mu.Unlock()

	if !stalled {
		return
	}

	e.logger.Printf("Executor: no data for %s, treating connection as lost", e.cfg.StallTimeout)
	if _, err := e.conn.Handle(link.Event{Type: link.EventConnectionLost,
		Reason: link.Unreachable("stream", fmt.Errorf("no data for %s", e.cfg.StallTimeout))}); err != nil {
		e.logger.Printf("Executor: connection-lost handling: %v", err)
	}
	e.notify(notify.Event{Type: notify.TypeConnectionLost})
	e.scheduleReconnect()
}

// maybeReconnect re-drives the connect/subscribe sequence once the
// backoff delay for the current retry attempt has passed. The link
// machine owns the retry budget; the executor only paces the attempts.
func (e *Executor) maybeReconnect() {
	snap := e.conn.Snapshot()
	if snap.State != link.StateScanning || snap.DeviceID == "" {
		return
	}

	e.mu.Lock()
	due := !time.Now().Before(e.reconnectAt)
	e.mu.Unlock()
	if !due {
		return
	}

	if _, err := e.conn.Handle(link.Event{Type: link.EventConnect, DeviceID: snap.DeviceID}); err != nil {
		e.scheduleReconnect()
		return
	}
	if _, err := e.conn.Handle(link.Event{Type: link.EventConnected}); err != nil {
		e.scheduleReconnect()
		return
	}
	if _, err := e.conn.Handle(link.Event{Type: link.EventStartStream}); err != nil {
		e.scheduleReconnect()
		return
	}

	e.mu.Lock()
	e.lastDataAt = time.Now()
	e.mu.Unlock()
	e.logger.Printf("Executor: reconnected to %s", snap.DeviceID)
}

// scheduleReconnect sets the earliest next attempt from the machine's
// retry count.
func (e *Executor) scheduleReconnect() {
	snap := e.conn.Snapshot()
	if snap.State != link.StateScanning {
		return
	}
	delay := e.cfg.Backoff.DelayFor(snap.RetryCount)
	e.mu.Lock()
	e.reconnectAt = time.Now().Add(delay)
	e.mu.Unlock()
}

// pollBattery does a one-shot read of the battery characteristic and
// emits at most one low warning per depletion.
func (e *Executor) pollBattery() {
	e.mu.Lock()
	skip := e.batteryUnsupported
	e.mu.Unlock()
	if skip || e.conn.Snapshot().State != link.StateStreaming {
		return
	}

	data, err := e.adapter.ReadCharacteristic(link.ServiceUUIDBattery, link.CharUUIDBatteryLevel)
	if err != nil {
		if link.IsUnsupported(err) {
			e.logger.Printf("Executor: battery reporting unsupported, polling disabled")
			e.mu.Lock()
			e.batteryUnsupported = true
			e.mu.Unlock()
		} else {
			e.logger.Printf("Executor: battery read failed: %v", err)
		}
		return
	}

	level, err := hr.ParseBatteryLevel(data, time.Now())
	if err != nil {
		e.logger.Printf("Executor: battery parse failed: %v", err)
		return
	}

	e.mu.Lock()
	fireLow := level.IsLow() && !e.batteryLow
	e.batteryLow = level.IsLow()
	e.mu.Unlock()

	if fireLow {
		e.notify(notify.Event{Type: notify.TypeAuxiliaryLow, Percent: *level.Percent})
	}
}

// writeCheckpoint persists the current position. Failures degrade crash
// recovery only; the live session continues.
func (e *Executor) writeCheckpoint() {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()

	p := sess.Progress()
	if p.Status != session.StatusRunning && p.Status != session.StatusPaused {
		return
	}
	cp := Checkpoint{
		Plan:             sess.Plan(),
		PhaseIndex:       p.PhaseIndex,
		PhaseElapsedSecs: p.PhaseElapsedSecs,
		TotalElapsedSecs: p.TotalElapsedSecs,
		Paused:           p.Status == session.StatusPaused,
		SavedAt:          time.Now(),
	}
	if err := e.checkpoints.Save(cp); err != nil {
		e.logger.Printf("Executor: %v", err)
	}
}

// finish archives a completed session, clears the checkpoint and releases
// the link.
func (e *Executor) finish(completed bool) {
	e.mu.Lock()
	sess := e.sess
	e.running = false
	e.mu.Unlock()

	if completed {
		if summary := sess.Summary(); summary != nil && e.archive != nil {
			if _, err := e.archive.Save(*summary); err != nil {
				e.logger.Printf("Executor: archiving session: %v", err)
			}
		}
	}
	if err := e.checkpoints.Clear(); err != nil {
		e.logger.Printf("Executor: clearing checkpoint: %v", err)
	}
	if _, err := e.conn.Handle(link.Event{Type: link.EventDisconnect}); err != nil {
		var iterr *link.InvalidTransitionError
		if !errors.As(err, &iterr) {
			e.logger.Printf("Executor: disconnect: %v", err)
		}
	}
	e.progress.Notify(sess.Progress())
	e.logger.Printf("Executor: session finished (completed=%v)", completed)
}

func (e *Executor) notify(ev notify.Event) {
	if err := e.notifier.Notify(ev); err != nil {
		e.logger.Printf("Executor: notification failed: %v", err)
	}
}
