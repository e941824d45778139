// Command glowlink drives the LED mask over BLE and submits face photos to
// the analysis backend.
//
// Usage:
//
//	glowlink [-config path] <command> [flags]
//
// Commands: init, scan, run, stop, modes, capture, ping.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/glowlink/internal/api"
	"github.com/chaz8081/glowlink/internal/ble"
	"github.com/chaz8081/glowlink/internal/ble/protocol"
	"github.com/chaz8081/glowlink/internal/capture"
	"github.com/chaz8081/glowlink/internal/config"
	"github.com/chaz8081/glowlink/internal/logging"
)

const usage = `usage: glowlink [-config path] <command> [flags]

commands:
  init                                  write the default config file
  scan    [-timeout 10s]                list nearby LED masks
  run     [-device ID] -mode M -duration N
                                        start an LED program
  stop    [-device ID]                  stop the running program
  modes                                 list LED modes offered by the backend
  capture [-gallery path] [-user id]    take a photo and submit it for analysis
  ping                                  check the backend is reachable
`

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/glowlink/config.yaml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "init" {
		runInit()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation: %v", err)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fatal("logging: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "scan":
		err = runScan(ctx, cfg, args)
	case "run":
		err = runProgram(ctx, cfg, args)
	case "stop":
		err = runStop(ctx, cfg, args)
	case "modes":
		err = runModes(ctx, cfg)
	case "capture":
		err = runCapture(ctx, cfg, args)
	case "ping":
		err = newClient(cfg).Ping(ctx)
		if err == nil {
			fmt.Printf("%s is reachable\n", cfg.API.BaseURL)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		closeLog()
		fatal("%s: %v", cmd, err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "glowlink: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}

func runInit() {
	path, err := config.WriteDefault()
	if err != nil {
		fatal("init: %v", err)
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return
	}
	fmt.Printf("Wrote default config to %s\n", path)
}

// newBLE builds the session manager and starts waiting for the adapter in
// the background.
func newBLE(ctx context.Context, cfg *config.Config) *ble.Manager {
	var adapter ble.Adapter = ble.NewNativeAdapter()
	if cfg.BLE.Mock {
		sim := ble.NewSimulatedAdapter()
		sim.ServiceUUID = cfg.BLE.ServiceUUID
		sim.CharacteristicUUID = cfg.BLE.CharacteristicUUID
		adapter = sim
	}
	mgr := ble.NewManager(adapter, ble.Options{
		ServiceUUID:        cfg.BLE.ServiceUUID,
		CharacteristicUUID: cfg.BLE.CharacteristicUUID,
		ResponseUUID:       cfg.BLE.ResponseUUID,
		NameMarker:         cfg.BLE.NameMarker,
		ReadyWait:          cfg.BLE.ReadyWait,
		Logger:             slog.Default(),
	})
	go mgr.Init(ctx)
	return mgr
}

func newClient(cfg *config.Config) *api.Client {
	return api.NewClient(api.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Breaker: api.BreakerConfig{
			MaxFailures: cfg.API.Breaker.MaxFailures,
			Timeout:     cfg.API.Breaker.Timeout,
			Interval:    cfg.API.Breaker.Interval,
		},
		Logger: slog.Default(),
	})
}

func runScan(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	timeout := fs.Duration("timeout", cfg.BLE.ScanTimeout, "how long to scan")
	fs.Parse(args)

	mgr := newBLE(ctx, cfg)
	fmt.Printf("Scanning for %s...\n", *timeout)
	devices, err := mgr.Scan(ctx, *timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Printf("No devices matching %q found\n", cfg.BLE.NameMarker)
		return nil
	}
	for _, d := range devices {
		fmt.Printf("  %-40s %-24s %d dBm\n", d.ID, d.Name, d.RSSI)
	}
	return nil
}

// connect connects to id, or to the first matching device a scan finds.
func connect(ctx context.Context, cfg *config.Config, mgr *ble.Manager, id string) (ble.Device, error) {
	if id == "" {
		devices, err := mgr.Scan(ctx, cfg.BLE.ScanTimeout)
		if err != nil {
			return ble.Device{}, err
		}
		if len(devices) == 0 {
			return ble.Device{}, fmt.Errorf("no devices matching %q found", cfg.BLE.NameMarker)
		}
		id = devices[0].ID
	}
	return mgr.Connect(ctx, id)
}

func runProgram(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	device := fs.String("device", "", "device id (default: first device found)")
	mode := fs.String("mode", "", "LED mode, e.g. red, blue, gold")
	duration := fs.String("duration", "", "program duration")
	wait := fs.Duration("wait", 2*time.Second, "how long to wait for the mask's reply")
	fs.Parse(args)

	if *mode == "" || *duration == "" {
		return errors.New("-mode and -duration are required")
	}
	return withDevice(ctx, cfg, *device, *wait, func(mgr *ble.Manager) error {
		return mgr.SendCommand(ctx, *mode, *duration)
	})
}

func runStop(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	device := fs.String("device", "", "device id (default: first device found)")
	wait := fs.Duration("wait", 2*time.Second, "how long to wait for the mask's reply")
	fs.Parse(args)

	return withDevice(ctx, cfg, *device, *wait, func(mgr *ble.Manager) error {
		return mgr.Stop(ctx)
	})
}

// withDevice connects, runs send, prints the first reply and disconnects.
func withDevice(ctx context.Context, cfg *config.Config, id string, wait time.Duration, send func(*ble.Manager) error) error {
	mgr := newBLE(ctx, cfg)
	dev, err := connect(ctx, cfg, mgr, id)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s (%s)\n", dev.Name, dev.ID)
	defer func() {
		if err := mgr.Disconnect(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "disconnect: %v\n", err)
			mgr.Forget()
		}
	}()

	replies := make(chan protocol.Response, 1)
	if err := mgr.Subscribe(func(r protocol.Response) {
		select {
		case replies <- r:
		default:
		}
	}); err != nil {
		slog.Warn("[BLE] replies unavailable", "error", err)
	}

	if err := send(mgr); err != nil {
		return err
	}
	fmt.Println("Command sent")

	select {
	case r := <-replies:
		fmt.Printf("Mask replied: %s\n", r.Raw)
	case <-time.After(wait):
	case <-ctx.Done():
	}
	return nil
}

func runModes(ctx context.Context, cfg *config.Config) error {
	modes, err := newClient(cfg).DeviceModes(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := modes[name]
		fmt.Printf("  %-6s %4dnm  %s\n", name, m.Wavelength, strings.Join(m.Benefits, ", "))
	}
	return nil
}

func runCapture(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	gallery := fs.String("gallery", "", "use this image instead of the camera")
	user := fs.String("user", cfg.UserID, "user id sent with the photo")
	fs.Parse(args)

	src := &capture.HostSource{
		CameraCommand: cfg.Capture.CameraCommand,
		GalleryPath:   *gallery,
		GalleryDir:    cfg.Capture.GalleryDir,
	}
	mgr := capture.NewManager(src, newClient(cfg), capture.Config{
		Options: capture.Options{
			Quality:            cfg.Capture.Quality,
			Width:              cfg.Capture.Width,
			Height:             cfg.Capture.Height,
			Encoding:           cfg.Capture.Encoding,
			CorrectOrientation: cfg.Capture.CorrectOrientation,
		},
		ReadyWait: cfg.Capture.ReadyWait,
		Logger:    slog.Default(),
	})
	go mgr.Init(ctx)

	var payload string
	var err error
	if *gallery != "" || len(cfg.Capture.CameraCommand) == 0 {
		payload, err = mgr.SelectFromGallery(ctx)
	} else {
		payload, err = mgr.TakePicture(ctx)
	}
	if err != nil {
		return err
	}

	result, err := mgr.Upload(ctx, payload, *user)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
