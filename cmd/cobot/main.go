package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cobotics/go-cobot/internal/config"
	"github.com/cobotics/go-cobot/internal/log"
	"github.com/cobotics/go-cobot/pkg/arm"
	"github.com/cobotics/go-cobot/pkg/audio"
	"github.com/cobotics/go-cobot/pkg/calibration"
	"github.com/cobotics/go-cobot/pkg/fusion"
	"github.com/cobotics/go-cobot/pkg/hardware"
	"github.com/cobotics/go-cobot/pkg/motion"
	"github.com/cobotics/go-cobot/pkg/vision"
	"github.com/cobotics/go-cobot/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	port := flag.String("port", "", "Dashboard HTTP port (default from config)")
	calibFile := flag.String("calibration", "", "Hand-eye calibration file (default from config)")
	noCamera := flag.Bool("no-camera", false, "Run without the camera")
	noAudio := flag.Bool("no-audio", false, "Run without audio monitoring")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if *port == "" {
		*port = cfg.WebPort
	}
	if *calibFile == "" {
		*calibFile = cfg.CalibrationFile
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	// Hardware backend
	var hw hardware.Arm
	switch cfg.Hardware.Backend {
	case "serial":
		hw = hardware.NewSerialArm(hardware.SerialConfig{
			Port:     cfg.Hardware.Port,
			BaudRate: cfg.Hardware.BaudRate,
		}, hardware.DefaultCapabilities())
	default:
		hw = hardware.NewSim()
	}
	log.Info("hardware backend selected", "backend", cfg.Hardware.Backend)

	// Calibration, planner, controller
	calib := calibration.NewWithFile(*calibFile)
	planner := motion.NewPlanner(cfg.Motion)
	controller := arm.New(hw, planner, calib, cfg.Motion, cfg.Hardware.MaxSpeed)

	if err := controller.Connect(ctx); err != nil {
		log.Error("arm connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := controller.Shutdown(shutdownCtx); err != nil {
			log.Error("arm shutdown failed", "error", err)
		}
	}()

	// Vision
	var detector vision.Detector
	if !*noCamera {
		d, err := vision.NewColorDetector(cfg.Camera)
		if err != nil {
			log.Warn("camera unavailable, continuing without vision", "error", err)
		} else {
			detector = d
			defer d.Close()
		}
	}

	// Audio. The monitor and recorder each consume their own source
	// stream; chunks are not shareable between readers.
	var monitor *audio.LevelMonitor
	if !*noAudio {
		source := audio.NewMockSource()
		monitor = audio.NewLevelMonitor(source, cfg.Audio.ActivationThreshold)
		if err := monitor.Start(ctx); err != nil {
			log.Warn("audio monitor unavailable", "error", err)
			monitor = nil
		} else {
			defer monitor.Stop()
		}

		recSource := audio.NewMockSource()
		if err := recSource.Start(ctx); err != nil {
			log.Warn("voice recorder unavailable", "error", err)
		} else {
			recorder := audio.NewRecorder(recSource, audio.RecorderConfig{
				ActivationThreshold: cfg.Audio.ActivationThreshold,
				SilenceDuration:     cfg.Audio.SilenceDuration,
				MaxDuration:         cfg.Audio.MaxRecordDuration,
				SaveDirectory:       cfg.Audio.SaveDirectory,
			})
			if err := recorder.Start(); err != nil {
				log.Warn("voice recorder failed to arm", "error", err)
			} else {
				defer recorder.Stop()
			}
			defer recSource.Close()
		}
	}

	// Scene fusion
	fusionOpts := []fusion.Option{fusion.WithRobot(controller)}
	if detector != nil {
		fusionOpts = append(fusionOpts, fusion.WithDetector(detector, cfg.Camera.ColorRanges))
	}
	if monitor != nil {
		fusionOpts = append(fusionOpts, fusion.WithAudioMonitor(monitor))
	}
	engine := fusion.New(cfg.Fusion, fusionOpts...)

	// Dashboard
	webOpts := []web.ServerOption{
		web.WithArm(&armStatus{controller: controller}),
		web.WithScene(engine),
	}
	if detector != nil {
		webOpts = append(webOpts, web.WithFrames(detector))
	}
	server := web.NewServer(*port, webOpts...)
	engine.OnContext = server.BroadcastScene

	if err := engine.Start(ctx); err != nil {
		log.Error("fusion start failed", "error", err)
		os.Exit(1)
	}
	defer engine.Stop()

	server.StartAsync()
	defer server.Shutdown()

	fmt.Printf("cobot running, dashboard on http://localhost:%s\n", *port)
	<-ctx.Done()
}

// armStatus adapts the controller to the dashboard's read-only view.
type armStatus struct {
	controller *arm.Controller
}

func (a *armStatus) State() string {
	return string(a.controller.State())
}

func (a *armStatus) Position() (x, y, z float64, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pose, err := a.controller.CurrentPosition(ctx)
	if err != nil {
		return 0, 0, 0, false
	}
	return pose.X, pose.Y, pose.Z, true
}
