package main

import (
	"log"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/opshub/bridge/pkg/sentinel"
)

var (
	app = kingpin.New("bridge-worker", "Session worker that fills one roster slot on the bridge board")

	runCmd       = app.Command("run", "Run the worker loop").Default()
	slotID       = runCmd.Flag("slot", "Roster slot ID this worker fills").Envar("BRIDGE_SLOT").Required().String()
	serverURL    = runCmd.Flag("server", "Bridge server base URL").Envar("BRIDGE_SERVER_URL").Default("http://localhost:3100").String()
	apiKey       = runCmd.Flag("api-key", "API key sent with every request").Envar("BRIDGE_API_KEY").String()
	sessionCmd   = runCmd.Flag("session-command", "Template for the session command; fields: {{.TaskID}} {{.Title}} {{.Detail}} {{.Slot}}").Envar("BRIDGE_SESSION_COMMAND").Default("claude -p {{.Title}}").String()
	heartbeatDir = runCmd.Flag("heartbeat-dir", "Directory holding the shared heartbeat file").Envar("BRIDGE_HEARTBEAT_DIR").Default(".bridge/heartbeats").String()
	workDir      = runCmd.Flag("work-dir", "Working directory for sessions").Envar("BRIDGE_WORK_DIR").Default(".").String()
	beatEvery    = runCmd.Flag("beat-interval", "How often to write a heartbeat").Envar("BRIDGE_BEAT_INTERVAL").Default("15s").Duration()
	pollEvery    = runCmd.Flag("poll-interval", "How often to poll for assigned work").Envar("BRIDGE_POLL_INTERVAL").Default("5s").Duration()

	sentinelCmd = app.Command("sentinel", "Supervise a worker, restarting it on crash or binary update")
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case sentinelCmd.FullCommand():
		// The child reads its configuration from BRIDGE_* env vars.
		sentinel.Run("run")
	case runCmd.FullCommand():
		runWorker()
	}
}
