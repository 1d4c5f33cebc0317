// Package shutdown wires SIGINT/SIGTERM into a cancellable context and
// writes a short-lived diagnostic dump if the process must abort during
// startup.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a cancellable context. The returned context is cancelled when
// SIGINT or SIGTERM arrives; SIGPIPE only logs a goroutine stack dump and
// does not cancel it.
func SetupSignalHandler(parent context.Context, log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		log.Info("signal_received", zap.String("signal", s.String()), zap.String("msg", "shutdown requested"))
		cancel()
	}()

	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		s := <-sigpipe
		log.Warn("signal_received", zap.String("signal", s.String()), zap.String("msg", "SIGPIPE - dumping goroutine stacks"))
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		log.Warn("goroutine_stack_dump", zap.ByteString("dump", buf[:n]))
	}()

	return ctx, cancel
}

// Abort logs a fatal startup error, writes a crash dump under dbPath, and
// exits the process with status 2 as soon as the logger has been synced.
func Abort(log *zap.Logger, contextMsg string, err error, dbPath string) {
	log.Error("startup_fatal", zap.String("msg", contextMsg), zap.Error(err))
	if dumpPath, derr := writeCrashDump(dbPath, contextMsg, err); derr != nil {
		fmt.Fprintf(os.Stderr, "failed to write crash dump: %v\n", derr)
	} else {
		log.Error("startup_fatal_crashdump", zap.String("path", dumpPath))
	}
	_ = log.Sync()
	os.Exit(2)
}

func writeCrashDump(dbPath, reason string, err error) (string, error) {
	crashDir := "./crash"
	if dbPath != "" {
		crashDir = filepath.Join(dbPath, "state", "crash")
	}
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", fmt.Errorf("create crash dir: %w", e)
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", ts))
	f, ferr := os.OpenFile(dumpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if ferr != nil {
		return "", ferr
	}
	defer f.Close()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	f.Write(buf[:n])
	return dumpPath, nil
}
