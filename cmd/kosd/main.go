package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	systemd "github.com/coreos/go-systemd/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/kos-sim/kos/boot"
	"github.com/kos-sim/kos/device"
	"github.com/kos-sim/kos/irq"
	"github.com/kos-sim/kos/kclock"
	"github.com/kos-sim/kos/security/audit"
	"github.com/kos-sim/kos/security/capability"
	"github.com/kos-sim/kos/security/policy"
	"github.com/kos-sim/kos/security/seccomp"
	"github.com/kos-sim/kos/sysctl"
	"github.com/kos-sim/kos/timer"
)

const usage = `kosd kernel simulator

kosd drives an in-process simulation of an OS kernel: a boot
orchestrator, a device/driver registry with per-class pipelines, an
interrupt engine, a timer subsystem and a security core, all exposed
through a sysctl parameter tree.
`

// kernel bundles every subsystem the boot orchestrator wires
// together, so the exit handler and the emergency-mode prompt can
// reach them without threading a dozen parameters through main.
type kernel struct {
	orch     *boot.Orchestrator
	sysctl   *sysctl.Tree
	irq      *irq.Engine
	timers   *timer.Subsystem
	devices  *device.Registry
	caps     *capability.Store
	policy   *policy.Engine
	seccomp  *seccomp.Engine
	auditLog *audit.Ring
}

func buildKernel(emergencyAuto bool, auditSink *os.File) *kernel {
	k := &kernel{
		sysctl:  sysctl.New(),
		irq:     irq.New(irq.Config{Policy: irq.PolicyRoundRobin}),
		timers:  timer.New(kclock.NewDefault()),
		devices: device.New(),
		caps:    capability.New(),
		policy:  policy.New(),
		seccomp: seccomp.New(),
	}
	if auditSink != nil {
		k.auditLog = audit.New(0, kclock.NewDefault(), auditSink)
	} else {
		k.auditLog = audit.New(0, kclock.NewDefault(), nil)
	}

	modules := []*boot.Module{
		{
			Name: "sysctl", Priority: 10, Critical: true,
			Init:    func() error { return nil },
			Cleanup: func() error { return nil },
		},
		{
			Name: "irq", Priority: 20, Critical: true,
			Init:    func() error { k.irq.StartBalancer(); return nil },
			Cleanup: func() error { k.irq.StopBalancer(); return nil },
		},
		{
			Name: "timers", Priority: 30, Critical: true,
			Init:    func() error { k.timers.StartDriver(); return nil },
			Cleanup: func() error { k.timers.StopDriver(); return nil },
		},
		{
			Name: "devices", Priority: 40, Critical: false,
			Init:    func() error { return nil },
			Cleanup: func() error { return nil },
		},
		{
			Name: "security", Priority: 50, Critical: false,
			Init:    func() error { return nil },
			Cleanup: func() error { return k.auditLog.Close() },
		},
	}

	k.orch = boot.New(modules)
	k.orch.Prompt = func() boot.EmergencyAction {
		if emergencyAuto {
			return boot.ActionShutdown
		}
		return promptOperator()
	}
	return k
}

// promptOperator is the minimal interactive emergency-mode prompt
// (spec §4.1): accepts {reboot, shutdown, continue}.
func promptOperator() boot.EmergencyAction {
	fmt.Fprintln(os.Stderr, "kosd: entered emergency mode; choose [reboot/shutdown/continue]:")
	var answer string
	fmt.Scanln(&answer)
	switch answer {
	case "reboot":
		return boot.ActionReboot
	case "continue":
		return boot.ActionContinue
	default:
		return boot.ActionShutdown
	}
}

func exitHandler(signalChan chan os.Signal, k *kernel, prof interface{ Stop() }, pidFile string) {
	var printStack bool

	s := <-signalChan
	logrus.Warnf("kosd caught signal: %s", s)
	logrus.Info("stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}
	if printStack {
		stacktrace := make([]byte, 32768)
		n := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:n]))
	}

	k.orch.Shutdown()

	if prof != nil {
		prof.Stop()
	}

	if pidFile != "" {
		if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("failed to remove pid file: %v", err)
		}
	}

	logrus.Info("exiting ...")
	os.Exit(0)
}

func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuProfOn := ctx.Bool("cpu-profile")
	memProfOn := ctx.Bool("mem-profile")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func main() {
	app := cli.NewApp()
	app.Name = "kosd"
	app.Usage = usage

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level: debug, info, warning, error, fatal"},
		cli.StringFlag{Name: "log-file", Value: "", Usage: "log file path, or empty for stderr"},
		cli.StringFlag{Name: "pid-file", Value: "", Usage: "pid file path, or empty to skip writing one"},
		cli.StringFlag{Name: "sysctl-seed", Value: "", Usage: "path to a JSON sysctl.Tree.Snapshot() file (path -> value) to restore at boot"},
		cli.BoolFlag{Name: "emergency-auto", Usage: "answer emergency-mode prompts with shutdown automatically"},
		cli.StringFlag{Name: "audit-log", Value: "", Usage: "append-only audit log file path, or empty to disable the file sink"},
		cli.BoolFlag{Name: "cpu-profile", Hidden: true},
		cli.BoolFlag{Name: "mem-profile", Hidden: true},
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.String("log-file"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				return fmt.Errorf("opening log file %s: %w", path, err)
			}
			logrus.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
		}

		logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})

		level, err := logrus.ParseLevel(ctx.String("log-level"))
		if err != nil {
			return fmt.Errorf("log-level %q not recognized: %w", ctx.String("log-level"), err)
		}
		logrus.SetLevel(level)
		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("initiating kosd ...")

		var auditSink *os.File
		if path := ctx.String("audit-log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err != nil {
				return fmt.Errorf("opening audit log %s: %w", path, err)
			}
			auditSink = f
		}

		k := buildKernel(ctx.Bool("emergency-auto"), auditSink)

		if seedPath := ctx.String("sysctl-seed"); seedPath != "" {
			data, err := os.ReadFile(seedPath)
			if err != nil {
				return fmt.Errorf("reading sysctl seed %s: %w", seedPath, err)
			}
			var snap map[string]string
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("parsing sysctl seed %s: %w", seedPath, err)
			}
			k.sysctl.Restore(snap)
		}

		action := k.orch.Boot()
		if k.orch.Emergency() {
			k.orch.Resolve(action)
			if action == boot.ActionShutdown {
				k.orch.Shutdown()
				return fmt.Errorf("kosd: shutting down from emergency mode")
			}
		}

		prof, err := runProfiler(ctx)
		if err != nil {
			return err
		}

		if err := writePidFile(ctx.String("pid-file")); err != nil {
			return fmt.Errorf("writing pid file: %w", err)
		}

		exitChan := make(chan os.Signal, 1)
		signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
		go exitHandler(exitChan, k, prof, ctx.String("pid-file"))

		systemd.SdNotify(false, systemd.SdNotifyReady)
		logrus.Info("ready ...")

		select {}
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
