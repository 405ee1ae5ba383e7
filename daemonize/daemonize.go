// Copyright (c) 2023 BVK Chaitanya

package daemonize

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"log/syslog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/kucing007/lelang-cli/ctxutil"
	"golang.org/x/sys/unix"
)

// DaemonizeEnvKey identifies if current process is a parent or child process.
// When it's value is non-empty, it contains the parent process pid.
var DaemonizeEnvKey = "LELANG_DAEMONIZE"

// IsBackground returns true in the background process started by Daemonize.
func IsBackground() bool {
	return len(os.Getenv(DaemonizeEnvKey)) != 0
}

// ParentPID returns the pid of the process that started the background
// process, or zero.
func ParentPID() int {
	pid, _ := strconv.Atoi(os.Getenv(DaemonizeEnvKey))
	return pid
}

// Daemonize respawns the current program in the background with the same
// command-line arguments and environment. Daemonize *must* be called during
// the program startup before opening databases, starting servers, etc.
//
// Standard input and standard outputs in the background process are replaced
// with /dev/null and standard library log is redirected to use the syslog
// backend.
//
// Parent process uses the check function to wait for the background process
// to initialize successfully or die unsuccessfully.
//
// When successful, Daemonize returns nil to the background process and exits
// the parent process (i.e., never returns). When unsuccessful, Daemonize
// returns non-nil error to the parent process and exits the background process
// (i.e., never returns).
func Daemonize(ctx context.Context, check func(context.Context) error) error {
	if !IsBackground() {
		if err := daemonizeParent(ctx, check); err != nil {
			return err
		}
		os.Exit(0)
	}
	if err := daemonizeChild(); err != nil {
		os.Exit(1)
	}
	return nil
}

func daemonizeParent(ctx context.Context, check func(context.Context) error) error {
	binary, err := exec.LookPath(os.Args[0])
	if err != nil {
		return fmt.Errorf("could not lookup binary: %w", err)
	}
	binaryPath, err := filepath.Abs(binary)
	if err != nil {
		return fmt.Errorf("could not determine absolute path for binary: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("could not determine working directory: %w", err)
	}

	file, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", os.DevNull, err)
	}
	defer file.Close()

	// Receive signal when child-process dies.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGCHLD, os.Interrupt)
	defer stop()

	// Relative paths in the arguments stay valid in the working directory.
	attr := &os.ProcAttr{
		Dir:   cwd,
		Env:   append(os.Environ(), fmt.Sprintf("%s=%d", DaemonizeEnvKey, os.Getpid())),
		Files: []*os.File{file, file, file},
	}
	proc, err := os.StartProcess(binaryPath, os.Args, attr)
	if err != nil {
		return fmt.Errorf("could not start process: %w", err)
	}

	if check != nil {
		ctxutil.Sleep(ctx, time.Second)
		for ctx.Err() == nil {
			if err := check(ctx); err != nil {
				slog.WarnContext(ctx, "background process not yet initialized", "pid", proc.Pid, "err", err)
				ctxutil.Sleep(ctx, time.Second)
				continue
			}
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("could not initialize the background process: %w", err)
	}
	fmt.Printf("background process started with pid %d\n", proc.Pid)
	return nil
}

func daemonizeChild() error {
	syslogger, err := syslog.New(syslog.LOG_INFO, "lelang")
	if err != nil {
		return fmt.Errorf("could not create syslog: %w", err)
	}
	log.SetOutput(syslogger)

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("could not set session id: %w", err)
	}
	return nil
}
