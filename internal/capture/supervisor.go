package capture

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ChronoCap/internal/config"
)

// CaptureProcessEnv marks a spawned process as the capture child rather
// than the supervisor.
const CaptureProcessEnv = "CHRONOCAP_CAPTURE_PROCESS"

// Supervisor is the long-lived parent process. It exists only to hold the
// service lifetime: it forwards reload signals to the current capture child,
// replaces the child on reload, and reaps exit statuses.
type Supervisor struct {
	configPath string
	logMode    string
	cfg        *config.Config
	log        *zap.SugaredLogger

	childExit  chan error
	lastReload int64
}

// NewSupervisor builds a supervisor for the given configuration.
func NewSupervisor(configPath, logMode string, cfg *config.Config, log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		logMode:    logMode,
		cfg:        cfg,
		log:        log,
		childExit:  make(chan error, 4),
		lastReload: -1,
	}
}

// Run supervises capture children until a termination signal arrives or a
// child exits unexpectedly. Returns the process exit code.
//
// A child that dies outside a reload is NOT restarted: silently respawning
// would mask whatever killed it.
func (s *Supervisor) Run() int {
	sigc := make(chan os.Signal, 4)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)

	if err := s.spawnChild(); err != nil {
		s.log.Errorf("failed to start capture process: %v", err)
		return 1
	}

	restartTriggered := false
	for {
		select {
		case sig := <-sigc:
			if sig != syscall.SIGHUP {
				s.terminateChild()
				return 0
			}
			// Rate-limit reloads: at most one is accepted per whole
			// second of the monotonic clock.
			now := monotonicSeconds()
			if now <= s.lastReload {
				continue
			}
			s.lastReload = now

			if err := s.reload(); err != nil {
				s.log.Errorf("reload failed: %v", err)
				return 1
			}
			restartTriggered = true

		case err := <-s.childExit:
			if restartTriggered {
				// The old child finished its drain and exited by design.
				restartTriggered = false
				continue
			}
			s.log.Errorf("capture process terminated unexpectedly? (%v)", err)
			return 1
		}
	}
}

// reload forwards the hangup to the running child (which drains and exits on
// its own), re-reads the configuration in case the pidfile location changed,
// and spawns a replacement child.
func (s *Supervisor) reload() error {
	pid, err := readPidFile(s.cfg.PidFile)
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to send HUP to running capture pid %d: %w", pid, err)
	}

	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to re-read config: %w", err)
	}
	s.cfg = cfg

	return s.spawnChild()
}

func (s *Supervisor) spawnChild() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("unable to locate own executable: %w", err)
	}
	args := []string{"-c", s.configPath}
	if s.logMode != "" {
		args = append(args, "-l", s.logMode)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), CaptureProcessEnv+"=1")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn capture process: %w", err)
	}
	s.log.Infof("started capture process pid %d", cmd.Process.Pid)

	go func() {
		s.childExit <- cmd.Wait()
	}()
	return nil
}

// terminateChild signals the current child through the pidfile, mirroring
// how operators interact with the daemon.
func (s *Supervisor) terminateChild() {
	pid, err := readPidFile(s.cfg.PidFile)
	if err != nil {
		s.log.Errorf("%v", err)
		return
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		s.log.Errorf("failed to send TERM to running capture pid %d: %v", pid, err)
	}
}

func readPidFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pidfile %s: %w", path, err)
	}
	defer f.Close()

	var pid int
	if _, err := fmt.Fscanf(f, "%d", &pid); err != nil {
		return 0, fmt.Errorf("failed to read pid from %s: %w", path, err)
	}
	return pid, nil
}
