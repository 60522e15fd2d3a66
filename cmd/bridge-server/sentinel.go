package main

import "github.com/opshub/bridge/pkg/sentinel"

// runSentinel supervises a bridge-server child, restarting it when the
// binary on disk is replaced or the child crashes.
func runSentinel() {
	sentinel.Run("serve")
}
