package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/pulsecoach/pulse-coach-app/internal/ble"
	"github.com/pulsecoach/pulse-coach-app/internal/config"
	"github.com/pulsecoach/pulse-coach-app/internal/goutil"
	"github.com/pulsecoach/pulse-coach-app/internal/history"
	"github.com/pulsecoach/pulse-coach-app/internal/link"
	"github.com/pulsecoach/pulse-coach-app/internal/notify"
	"github.com/pulsecoach/pulse-coach-app/internal/plan"
	"github.com/pulsecoach/pulse-coach-app/internal/scheduler"
	"github.com/pulsecoach/pulse-coach-app/internal/session"
	"github.com/pulsecoach/pulse-coach-app/internal/sim"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to config file (default: search ./pulse-coach.yaml)")
		useSim     = pflag.Bool("sim", false, "use the simulated sensor instead of the radio")
		planName   = pflag.String("plan", "", "plan to preselect (builtin or from the plans directory)")
		maxHR      = pflag.Uint16("max-hr", 190, "maximum heart rate for the builtin plans")
		logFile    = pflag.String("log-file", "", "log file path (overrides config)")
		listPlans  = pflag.Bool("list-plans", false, "list available plans and exit")
		exportCSV  = pflag.Bool("export-history", false, "write the session history as CSV to stdout and exit")
	)
	pflag.Parse()

	boot := log.New(os.Stderr, "", log.LstdFlags)
	cfg, err := config.Load(boot, *configPath)
	if err != nil {
		boot.Fatalf("pulse-coach: %v", err)
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	logger := log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
	}, "", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("pulse-coach starting")

	library, err := loadLibrary(logger, cfg, *maxHR)
	if err != nil {
		boot.Fatalf("pulse-coach: %v", err)
	}

	if *listPlans {
		for _, p := range library {
			fmt.Printf("%-20s %2d phase(s)  %s\n", p.Name, len(p.Phases), formatDuration(p.TotalDurationSecs()))
		}
		return
	}

	archive := history.NewRepository(logger, cfg.HistoryDir)
	if *exportCSV {
		records, err := archive.List()
		if err != nil {
			boot.Fatalf("pulse-coach: %v", err)
		}
		if err := history.ExportCSV(os.Stdout, records); err != nil {
			boot.Fatalf("pulse-coach: %v", err)
		}
		return
	}

	adapter, shutdown, err := buildAdapter(logger, *useSim)
	if err != nil {
		boot.Fatalf("pulse-coach: %v", err)
	}
	defer shutdown()

	alerts := notify.NewChannelNotifier()
	checkpoints := scheduler.NewCheckpointStore(logger, cfg.CheckpointPath)
	exec := scheduler.NewExecutor(logger, cfg.ExecutorConfig(), adapter, alerts, checkpoints, archive)

	sched := scheduler.NewSchedule(logger, alerts, cfg.GraceWindow)
	for _, entry := range cfg.Schedules {
		if err := sched.Add(entry.Cron, entry.Plan); err != nil {
			boot.Fatalf("pulse-coach: %v", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	ui := newDashboard(logger, exec, sched, alerts, library, *planName)
	if err := ui.run(); err != nil {
		boot.Fatalf("pulse-coach: UI error: %v", err)
	}
	logger.Printf("pulse-coach exiting")
}

// loadLibrary merges the builtin plans with the plan directory. A custom
// plan with a builtin's name replaces it.
func loadLibrary(logger *log.Logger, cfg config.Config, maxHR uint16) ([]plan.TrainingPlan, error) {
	library := plan.BuiltinPlans(maxHR)
	custom, err := plan.NewStore(logger, cfg.PlansDir).LoadAll()
	if err != nil {
		return nil, err
	}
	for _, c := range custom {
		replaced := false
		for i, b := range library {
			if b.Name == c.Name {
				library[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			library = append(library, c)
		}
	}
	return library, nil
}

func buildAdapter(logger *log.Logger, useSim bool) (link.Adapter, func(), error) {
	if useSim {
		logger.Printf("using simulated sensor")
		a := sim.NewAdapter(logger, sim.Config{})
		return a, func() {}, nil
	}
	a := ble.NewAdapter(logger, bluetooth.DefaultAdapter, ble.Config{})
	if err := a.Enable(); err != nil {
		return nil, nil, err
	}
	return a, a.Shutdown, nil
}

func formatDuration(secs uint32) string {
	d := time.Duration(secs) * time.Second
	return d.String()
}

// dashboard is the terminal frontend: device pane, live session pane and
// alert pane over the executor.
type dashboard struct {
	logger  *log.Logger
	exec    *scheduler.Executor
	sched   *scheduler.Schedule
	alerts  *notify.ChannelNotifier
	library []plan.TrainingPlan

	app        *tview.Application
	deviceList *tview.List
	statusView *tview.TextView
	alertView  *tview.TextView

	selectedPlan int
	pendingPlan  string
	devices      []link.DiscoveredDevice
}

func newDashboard(logger *log.Logger, exec *scheduler.Executor, sched *scheduler.Schedule,
	alerts *notify.ChannelNotifier, library []plan.TrainingPlan, preselect string) *dashboard {
	d := &dashboard{
		logger:  logger,
		exec:    exec,
		sched:   sched,
		alerts:  alerts,
		library: library,
		app:     tview.NewApplication(),
	}
	for i, p := range library {
		if p.Name == preselect {
			d.selectedPlan = i
		}
	}
	return d
}

func (d *dashboard) run() error {
	d.statusView = tview.NewTextView().SetDynamicColors(true)
	d.statusView.SetBorder(true).SetTitle(" Session ")

	d.alertView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() { d.app.Draw() })
	d.alertView.SetBorder(true).SetTitle(" Alerts ")

	d.deviceList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			d.startOnDevice(index)
		})
	d.deviceList.SetBorder(true).SetTitle(" Sensors (Enter to start, s to scan) ")

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.deviceList, 0, 1, true).
		AddItem(d.alertView, 0, 1, false)
	flex := tview.NewFlex().
		AddItem(left, 0, 1, true).
		AddItem(d.statusView, 0, 1, false)

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab:
			if d.deviceList.HasFocus() {
				d.app.SetFocus(d.alertView)
			} else {
				d.app.SetFocus(d.deviceList)
			}
			return nil
		case tcell.KeyEscape:
			d.app.Stop()
			return nil
		}
		switch event.Rune() {
		case 's':
			if err := d.exec.StartScan(); err != nil {
				d.alert("scan: %v", err)
			} else {
				d.alert("scanning...")
			}
			return nil
		case 'n':
			d.selectedPlan = (d.selectedPlan + 1) % len(d.library)
			d.renderStatus()
			return nil
		case 'c':
			d.alert("%s", d.confirmPending())
			d.renderStatus()
			return nil
		case 'p':
			if err := d.exec.Pause(); err != nil {
				d.alert("pause: %v", err)
			}
			return nil
		case 'r':
			if err := d.exec.Resume(); err != nil {
				d.alert("resume: %v", err)
			}
			return nil
		case 'x':
			if err := d.exec.Stop(); err != nil {
				d.alert("stop: %v", err)
			}
			return nil
		}
		return event
	})

	d.spawnRefreshers()
	d.renderStatus()
	if cp := d.exec.ResumableCheckpoint(); cp != nil {
		d.alert("found interrupted session %q (phase %d) - Enter on a sensor resumes it", cp.Plan.Name, cp.PhaseIndex)
	} else {
		d.alert("plan: %q (n cycles, Enter on a sensor starts)", d.library[d.selectedPlan].Name)
	}

	return d.app.SetRoot(flex, true).SetFocus(d.deviceList).Run()
}

// startOnDevice resumes the checkpointed session if one exists, otherwise
// starts the selected plan.
func (d *dashboard) startOnDevice(index int) {
	if index >= len(d.devices) {
		return
	}
	device := d.devices[index]

	if cp := d.exec.ResumableCheckpoint(); cp != nil {
		if err := d.exec.ResumeSession(device.ID); err != nil {
			d.alert("resume: %v", err)
			return
		}
		d.alert("resumed %q on %s", cp.Plan.Name, device.Name)
		return
	}

	p := d.library[d.selectedPlan]
	if err := d.exec.StartSession(p, device.ID); err != nil {
		d.alert("start: %v", err)
		return
	}
	d.alert("started %q on %s", p.Name, device.Name)
}

func (d *dashboard) spawnRefreshers() {
	// Device pane: poll scan results like the link layer sees them.
	goutil.SafeGo(d.logger, func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			devices := d.exec.DiscoveredDevices()
			d.app.QueueUpdateDraw(func() {
				d.devices = devices
				d.deviceList.Clear()
				for _, dev := range devices {
					d.deviceList.AddItem(formatDevice(dev), "", 0, nil)
				}
			})
		}
	})

	// Session pane: redraw on every progress snapshot.
	progressCh := make(chan session.Progress, 16)
	d.exec.ListenProgress(progressCh)
	goutil.SafeGo(d.logger, func() {
		for range progressCh {
			d.app.QueueUpdateDraw(d.renderStatus)
		}
	})

	// Alert pane.
	alertCh := make(chan notify.Event, 16)
	d.alerts.Listen(alertCh)
	goutil.SafeGo(d.logger, func() {
		for ev := range alertCh {
			if ev.Type == notify.TypeWorkoutReady {
				planName := ev.PlanName
				d.app.QueueUpdateDraw(func() { d.pendingPlan = planName })
				d.alert("%s (c confirms)", ev)
				continue
			}
			d.alert("%s", ev)
		}
	})
}

// confirmPending claims the due scheduled workout within its grace
// window and preselects its plan, returning the message to display.
func (d *dashboard) confirmPending() string {
	name := d.pendingPlan
	if name == "" {
		return "no scheduled workout pending"
	}
	d.pendingPlan = ""

	p, ok := d.sched.Confirm(name)
	if !ok {
		return fmt.Sprintf("scheduled %q already expired", name)
	}
	for i, pl := range d.library {
		if pl.Name == p.PlanName {
			d.selectedPlan = i
			return fmt.Sprintf("confirmed %q - Enter on a sensor starts", p.PlanName)
		}
	}
	return fmt.Sprintf("confirmed %q, but no such plan is loaded", p.PlanName)
}

func (d *dashboard) alert(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	fmt.Fprint(d.alertView, line)
}

func (d *dashboard) renderStatus() {
	var b strings.Builder
	snap := d.exec.ConnectionSnapshot()
	fmt.Fprintf(&b, "Link: %s", snap.State)
	if snap.DeviceID != "" {
		fmt.Fprintf(&b, " (%s)", snap.DeviceID)
	}
	b.WriteString("\n\n")

	p, ok := d.exec.Progress()
	if !ok {
		fmt.Fprintf(&b, "No session.\n\nPlan: %s\n", d.library[d.selectedPlan].Name)
		fmt.Fprintf(&b, "\nKeys: s scan  n next plan  c confirm scheduled  Enter start\n      p pause  r resume  x stop  Esc quit\n")
		d.statusView.SetText(b.String())
		return
	}

	fmt.Fprintf(&b, "Status: %s\n", p.Status)
	fmt.Fprintf(&b, "Phase:  %d %q (target %s)\n", p.PhaseIndex, p.PhaseName, p.TargetZone)
	fmt.Fprintf(&b, "Phase:  %s / %s  %s\n",
		formatDuration(p.PhaseElapsedSecs),
		formatDuration(p.PhaseElapsedSecs+p.PhaseRemainingSecs),
		progressBar(p.PhaseFraction()))
	fmt.Fprintf(&b, "Total:  %s / %s  %s\n",
		formatDuration(p.TotalElapsedSecs),
		formatDuration(p.TotalElapsedSecs+p.TotalRemainingSecs),
		progressBar(p.Fraction()))
	fmt.Fprintf(&b, "\nHR: %d bpm (%s)\n", p.CurrentBPM, p.ZoneStatus)
	fmt.Fprintf(&b, "\nKeys: p pause  r resume  x stop  Esc quit\n")
	d.statusView.SetText(b.String())
}

func formatDevice(dev link.DiscoveredDevice) string {
	name := dev.Name
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("%s (%s) [RSSI: %d]", name, dev.ID, dev.RSSI)
}

func progressBar(fraction float64) string {
	const width = 20
	filled := int(fraction*width + 0.5)
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}
