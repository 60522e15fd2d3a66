// Package sentinel keeps a child copy of the current binary running: it
// restarts the child when it crashes, with exponential backoff, and swaps
// it out when the binary on disk is replaced by a deploy.
package sentinel

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// GracePeriod is how long a child gets between SIGTERM and SIGKILL.
	GracePeriod = 10 * time.Second

	// InitialBackoff and MaxBackoff bound the restart delay after a
	// crash; each crash multiplies the delay by BackoffFactor.
	InitialBackoff = 5 * time.Second
	MaxBackoff     = 10 * time.Minute
	BackoffFactor  = 2.0

	// SuccessRunTime is how long a child must stay up for the next crash
	// to start over from InitialBackoff.
	SuccessRunTime = 30 * time.Second

	// DebounceInterval lets a deploy's burst of file events settle before
	// the binary is re-hashed.
	DebounceInterval = 100 * time.Millisecond
)

// Sentinel supervises one child copy of the current binary running the
// configured subcommand.
type Sentinel struct {
	binaryPath string
	subcommand string
	lastHash   [sha256.Size]byte
	backoff    time.Duration
	stopCh     chan struct{} // closed to stop the watcher and any backoff wait
}

// Run supervises the current executable until SIGINT or SIGTERM: it
// spawns `<binary> <subcommand>` as a child, restarts it on crash, and
// restarts it onto the new binary when the file on disk changes.
func Run(subcommand string) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[sentinel] ")

	path, err := executablePath()
	if err != nil {
		log.Fatalf("failed to locate own binary: %v", err)
	}

	s := &Sentinel{
		binaryPath: path,
		subcommand: subcommand,
		backoff:    InitialBackoff,
		stopCh:     make(chan struct{}),
	}
	if s.lastHash, err = HashFile(path); err != nil {
		log.Fatalf("failed to hash binary: %v", err)
	}
	log.Printf("supervising %s %s (binary %x)", path, subcommand, s.lastHash[:8])

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	updateCh := make(chan struct{}, 1)
	go s.watchBinary(updateCh)

	for s.cycle(sigCh, updateCh) {
		select {
		case <-s.stopCh:
			return
		default:
		}
	}
	log.Println("sentinel exiting")
}

// executablePath locates the running binary with symlinks resolved, so
// the watcher sees the real file a deploy replaces.
func executablePath() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(path)
}

// cycle runs one child until it exits, the binary changes, or a signal
// arrives. It reports whether the sentinel should start another child.
func (s *Sentinel) cycle(sigCh <-chan os.Signal, updateCh <-chan struct{}) bool {
	child, err := s.startChild()
	if err != nil {
		log.Printf("failed to start child: %v", err)
		s.sleepBackoff()
		s.increaseBackoff()
		return true
	}

	started := time.Now()
	exited := make(chan error, 1)
	go func() {
		exited <- child.Wait()
	}()

	select {
	case err := <-exited:
		s.afterExit(err, time.Since(started))
		return true

	case <-updateCh:
		log.Println("binary replaced on disk, restarting child...")
		s.stopChild(child)
		select {
		case <-exited:
		case sig := <-sigCh:
			log.Printf("received %v while waiting for the old child, exiting", sig)
			<-exited
			return false
		}
		if h, err := HashFile(s.binaryPath); err == nil {
			s.lastHash = h
			log.Printf("now supervising binary %x", h[:8])
		}
		s.backoff = InitialBackoff
		return true

	case sig := <-sigCh:
		log.Printf("received %v, stopping child...", sig)
		s.stopChild(child)
		<-exited
		return false
	}
}

// afterExit decides how soon the next child starts. Crashes back off
// exponentially until a child survives SuccessRunTime; a clean exit
// restarts promptly, since the supervised subcommand is a daemon that
// is not supposed to return at all.
func (s *Sentinel) afterExit(err error, alive time.Duration) {
	if err == nil {
		log.Printf("child exited cleanly after %v, restarting", alive)
		s.backoff = InitialBackoff
		time.Sleep(time.Second)
		return
	}
	log.Printf("child died after %v: %v", alive, err)
	if alive >= SuccessRunTime {
		s.backoff = InitialBackoff
	}
	s.sleepBackoff()
	s.increaseBackoff()
}

func (s *Sentinel) startChild() (*exec.Cmd, error) {
	cmd := exec.Command(s.binaryPath, s.subcommand)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// The child sees the full environment, BRIDGE_* configuration included.
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec %s %s: %w", s.binaryPath, s.subcommand, err)
	}
	log.Printf("started child (pid: %d)", cmd.Process.Pid)
	return cmd, nil
}

// stopChild asks the child to stop with SIGTERM and schedules a SIGKILL
// for after the grace period. It never waits on the command; the caller
// owns draining the exit channel.
func (s *Sentinel) stopChild(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	log.Printf("sending SIGTERM to child (pid: %d)", pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("SIGTERM failed, child probably already gone: %v", err)
		return
	}

	time.AfterFunc(GracePeriod, func() {
		// Signal 0 probes whether the process still exists.
		if cmd.Process.Signal(syscall.Signal(0)) == nil {
			log.Printf("child ignored SIGTERM for %v, killing (pid: %d)", GracePeriod, pid)
			if err := cmd.Process.Kill(); err != nil {
				log.Printf("SIGKILL failed: %v", err)
			}
		}
	})
}

// watchBinary reports on updateCh whenever the binary's checksum
// changes. Deploys replace the binary by rename, which swaps the inode,
// so the watch goes on the directory and events are filtered by name.
func (s *Sentinel) watchBinary(updateCh chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("failed to create watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(s.binaryPath)
	name := filepath.Base(s.binaryPath)
	if err := watcher.Add(dir); err != nil {
		log.Printf("failed to watch %s: %v", dir, err)
		return
	}
	log.Printf("watching %s for changes to %s", dir, name)

	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			log.Printf("binary event: %s", ev.Op)
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(DebounceInterval, func() {
				s.checkForUpdate(updateCh)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)

		case <-s.stopCh:
			return
		}
	}
}

// checkForUpdate re-hashes the binary and notifies when it differs from
// the one the current child was started from. Touches that leave the
// content identical are ignored.
func (s *Sentinel) checkForUpdate(updateCh chan<- struct{}) {
	h, err := HashFile(s.binaryPath)
	if err != nil {
		log.Printf("failed to hash binary after change: %v", err)
		return
	}
	if h == s.lastHash {
		return
	}
	log.Printf("binary checksum changed (%x -> %x)", s.lastHash[:8], h[:8])
	select {
	case updateCh <- struct{}{}:
	default:
	}
}

// HashFile returns the SHA256 digest of the file at path.
func HashFile(path string) (sum [sha256.Size]byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return sum, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, fmt.Errorf("read %s: %w", path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// sleepBackoff waits out the current backoff, returning early when the
// sentinel is stopping.
func (s *Sentinel) sleepBackoff() {
	log.Printf("next restart in %v", s.backoff)
	select {
	case <-time.After(s.backoff):
	case <-s.stopCh:
	}
}

func (s *Sentinel) increaseBackoff() {
	s.backoff = time.Duration(float64(s.backoff) * BackoffFactor)
	if s.backoff > MaxBackoff {
		s.backoff = MaxBackoff
	}
}
