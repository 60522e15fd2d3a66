package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/opshub/bridge/internal/client"
	"github.com/opshub/bridge/internal/heartbeat"
	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/shellcmd"
)

const (
	maxConsecutiveErrors = 5
	initialBackoff       = 5 * time.Second
	maxBackoff           = 5 * time.Minute

	// How long a session gets between SIGTERM and SIGKILL.
	sessionGracePeriod = 10 * time.Second
	shutdownTimeout    = 15 * time.Second
)

type worker struct {
	slot       string
	api        *client.Client
	beats      *heartbeat.Writer
	sessionTpl *template.Template
	workDir    string
	beatEvery  time.Duration
	pollEvery  time.Duration
	meta       map[string]string

	current     *task.Task
	sessionID   string
	sessionDone chan sessionResult

	// pendingReport holds a finished session whose result the server has
	// not acknowledged yet. No new session starts until it is delivered.
	pendingReport *sessionResult

	pollFailures int
	backoff      time.Duration
}

type sessionResult struct {
	task     *task.Task
	exitCode int
	err      error
}

func runWorker() {
	log.SetPrefix(fmt.Sprintf("[worker:%s] ", *slotID))

	tpl, err := template.New("session").Parse(*sessionCmd)
	if err != nil {
		log.Fatalf("invalid session command template: %v", err)
	}

	absWorkDir, err := filepath.Abs(*workDir)
	if err != nil {
		log.Fatalf("failed to resolve work dir: %v", err)
	}

	hostname, _ := os.Hostname()

	w := &worker{
		slot:        *slotID,
		api:         client.New(*serverURL, *apiKey),
		beats:       heartbeat.NewWriter(*heartbeatDir, *slotID),
		sessionTpl:  tpl,
		workDir:     absWorkDir,
		beatEvery:   *beatEvery,
		pollEvery:   *pollEvery,
		meta: map[string]string{
			"pid":      strconv.Itoa(os.Getpid()),
			"hostname": hostname,
		},
		sessionDone: make(chan sessionResult, 1),
		backoff:     initialBackoff,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log.Printf("worker started (server: %s, work dir: %s)", *serverURL, absWorkDir)
	w.run(ctx)
}

func (w *worker) run(ctx context.Context) {
	beatTicker := time.NewTicker(w.beatEvery)
	defer beatTicker.Stop()
	pollTicker := time.NewTicker(w.pollEvery)
	defer pollTicker.Stop()

	// Announce the slot before the first tick so the board sees it right away.
	w.beat(ctx)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-beatTicker.C:
			w.beat(ctx)
		case <-pollTicker.C:
			w.poll(ctx)
		case res := <-w.sessionDone:
			w.finishSession(ctx, res)
		}
	}
}

// poll looks for a task assigned to this slot and starts a session for it.
// Only one session runs at a time.
func (w *worker) poll(ctx context.Context) {
	if w.pendingReport != nil {
		if w.report(ctx, *w.pendingReport) {
			w.pendingReport = nil
		}
		return
	}
	if w.current != nil {
		return
	}

	tasks, err := w.api.ListTasks(ctx, task.LaneDevelopment, w.slot)
	if err != nil {
		w.pollFailures++
		log.Printf("failed to poll for tasks: %v", err)
		if w.pollFailures >= maxConsecutiveErrors {
			log.Printf("%d consecutive poll failures, backing off %v", w.pollFailures, w.backoff)
			select {
			case <-time.After(w.backoff):
			case <-ctx.Done():
			}
			w.backoff *= 2
			if w.backoff > maxBackoff {
				w.backoff = maxBackoff
			}
		}
		return
	}
	w.pollFailures = 0
	w.backoff = initialBackoff

	if len(tasks) == 0 {
		return
	}
	w.startSession(ctx, tasks[0])
}

func (w *worker) startSession(ctx context.Context, t *task.Task) {
	args, err := w.sessionArgs(t)
	if err != nil {
		log.Printf("cannot build session command for task %s: %v", t.ID, err)
		w.failSpawn(ctx, t, err)
		return
	}

	sessionID := uuid.NewString()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = w.workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"BRIDGE_TASK_ID="+t.ID,
		"BRIDGE_TASK_TITLE="+t.Title,
		"BRIDGE_SLOT="+w.slot,
		"BRIDGE_SESSION_ID="+sessionID,
	)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = sessionGracePeriod

	if err := cmd.Start(); err != nil {
		log.Printf("failed to start session for task %s: %v", t.ID, err)
		w.failSpawn(ctx, t, err)
		return
	}

	w.current = t
	w.sessionID = sessionID
	log.Printf("started session %s for task %s (pid: %d)", sessionID, t.ID, cmd.Process.Pid)
	w.beat(ctx)

	go func() {
		err := cmd.Wait()
		res := sessionResult{task: t}
		if err != nil {
			res.err = err
			res.exitCode = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				res.exitCode = exitErr.ExitCode()
			}
		}
		w.sessionDone <- res
	}()
}

// sessionArgs renders the command template for a task and splits it into
// argv. Title and Detail are quoted first so free text stays a single word.
func (w *worker) sessionArgs(t *task.Task) ([]string, error) {
	title, err := shellcmd.Quote(t.Title)
	if err != nil {
		return nil, fmt.Errorf("quote title: %w", err)
	}
	detail, err := shellcmd.Quote(t.Detail)
	if err != nil {
		return nil, fmt.Errorf("quote detail: %w", err)
	}

	var buf bytes.Buffer
	data := struct {
		TaskID string
		Title  string
		Detail string
		Slot   string
	}{TaskID: t.ID, Title: title, Detail: detail, Slot: w.slot}
	if err := w.sessionTpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render session command: %w", err)
	}
	return shellcmd.Split(buf.String())
}

func (w *worker) failSpawn(ctx context.Context, t *task.Task, spawnErr error) {
	if _, err := w.api.FailTask(ctx, t.ID, fmt.Sprintf("spawn: %v", spawnErr)); err != nil {
		log.Printf("failed to report spawn failure for task %s: %v", t.ID, err)
	}
}

func (w *worker) finishSession(ctx context.Context, res sessionResult) {
	w.current = nil
	w.sessionID = ""
	if !w.report(ctx, res) {
		w.pendingReport = &res
	}
	w.beat(ctx)
}

// report delivers a session result to the server. It returns false only
// when the attempt should be retried later.
func (w *worker) report(ctx context.Context, res sessionResult) bool {
	var err error
	if res.err == nil {
		_, err = w.api.CompleteTask(ctx, res.task.ID, "")
		if err == nil {
			log.Printf("task %s completed, moved to review", res.task.ID)
		}
	} else {
		reason := fmt.Sprintf("session exited %d", res.exitCode)
		_, err = w.api.FailTask(ctx, res.task.ID, reason)
		if err == nil {
			log.Printf("task %s failed: %s", res.task.ID, reason)
		}
	}
	if err == nil {
		return true
	}
	// A task that vanished or already moved lanes cannot be reported.
	if cerr.IsCode(err, cerr.NotFound) || cerr.IsCode(err, cerr.FailedPrecondition) {
		log.Printf("dropping session report for task %s: %v", res.task.ID, err)
		return true
	}
	log.Printf("failed to report session result for task %s: %v", res.task.ID, err)
	return false
}

func (w *worker) beat(ctx context.Context) {
	rec := heartbeat.Record{Status: heartbeat.AgentIdle, Meta: w.meta}
	if w.current != nil {
		rec = heartbeat.Record{
			Status:    heartbeat.AgentRunning,
			TaskID:    w.current.ID,
			TaskTitle: w.current.Title,
			SessionID: w.sessionID,
			Meta:      w.meta,
		}
	}
	if err := w.beats.Beat(ctx, rec); err != nil {
		log.Printf("heartbeat error: %v", err)
	}
}

// shutdown waits for a running session to die, reports its result, and
// removes the slot's heartbeat so the board shows it offline immediately.
func (w *worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopping := heartbeat.Record{Status: heartbeat.AgentStopping, Meta: w.meta}
	if w.current != nil {
		stopping.TaskID = w.current.ID
		stopping.TaskTitle = w.current.Title
		stopping.SessionID = w.sessionID
	}
	if err := w.beats.Beat(ctx, stopping); err != nil {
		log.Printf("heartbeat error: %v", err)
	}

	if w.current != nil {
		log.Printf("waiting for session of task %s to stop...", w.current.ID)
		select {
		case res := <-w.sessionDone:
			if !w.report(ctx, res) {
				log.Printf("session report for task %s lost on shutdown", res.task.ID)
			}
		case <-ctx.Done():
			log.Printf("session did not stop in time")
		}
	}

	if err := w.beats.Clear(ctx); err != nil {
		log.Printf("failed to clear heartbeat: %v", err)
	}
	log.Println("worker stopped")
}
