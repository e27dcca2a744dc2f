package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ayusman/gymbuddy/internal/app"
	"github.com/ayusman/gymbuddy/internal/config"
	"github.com/ayusman/gymbuddy/internal/log"
	"github.com/ayusman/gymbuddy/internal/server"
	"github.com/ayusman/gymbuddy/internal/session"
	"github.com/ayusman/gymbuddy/internal/store"
	"github.com/ayusman/gymbuddy/internal/tray"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	camera := flag.Bool("camera", false, "coach from the local camera")
	withTray := flag.Bool("tray", false, "show the system tray menu (implies -camera)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gymbuddy: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *camera || *withTray {
		cfg.Camera.Enabled = true
	}

	log.Init(cfg.LogLevel)

	if err := run(cfg, *withTray); err != nil {
		log.Error("gymbuddy failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, withTray bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(cfg.Store.DBPath())
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	factory := session.NewFactory(session.Config{
		Pose:       cfg.PoseConfig(),
		Thresholds: cfg.Squat,
		Store:      st,
	})
	hub := server.NewHub()

	webDir := cfg.Server.WebDir
	if webDir == "" {
		webDir = findWebDir()
	}
	if webDir != "" {
		log.Info("serving static files", "dir", webDir)
	}

	srvCfg := server.Config{
		StaticDir:     webDir,
		Store:         st,
		Factory:       factory,
		Live:          hub,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
	}

	var (
		coach *app.App
		menu  *tray.Tray
	)
	if cfg.Camera.Enabled {
		coach = app.New(app.Config{
			Factory:       factory,
			Store:         st,
			PluginDir:     cfg.Plugins.Dir,
			PluginTimeout: cfg.Plugins.Timeout,
			MotionThresh:  cfg.Camera.MotionThreshold,
			Capture:       cfg.Camera.Capture(),
			Live:          hub,
		})
		if err := coach.DiscoverPlugins(); err != nil {
			log.Warn("plugin discovery failed", "dir", cfg.Plugins.Dir, "error", err)
		}
		if err := coach.Start(); err != nil {
			return fmt.Errorf("start camera: %w", err)
		}
		defer coach.Stop()

		srvCfg.Camera = coach.Camera()
		srvCfg.OnCoaching = coach.SetEnabled

		if withTray {
			menu = tray.New(coach.IsEnabled())
			menu.OnToggle(coach.SetEnabled)
			coach.OnRep(func(f session.Frame) { menu.SetLastRep(f.Reps, f.Feedback) })
			srvCfg.OnCoaching = func(enabled bool) {
				coach.SetEnabled(enabled)
				menu.SetEnabled(enabled)
			}
		}
	}

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(srvCfg),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.Server.Addr, "camera", cfg.Camera.Enabled)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if menu != nil {
		menu.OnDashboard(func() { openBrowser(dashboardURL(cfg.Server.Addr)) })
		menu.OnQuit(stop)
		go func() {
			<-ctx.Done()
			menu.Quit()
		}()
		// systray needs the main goroutine
		menu.Run()
		stop()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func dashboardURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn("failed to open browser", "url", url, "error", err)
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.gymbuddy/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".gymbuddy", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
