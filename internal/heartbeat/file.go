package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
)

// FileName is the shared heartbeat file inside the heartbeat directory.
// Every worker on the host writes its own entry into this one file.
const FileName = "heartbeats.json"

// File maps slot IDs to their latest heartbeat.
type File map[string]Record

// ReadFile loads the heartbeat file. A missing or empty file is not an
// error; it just means no worker has beaten yet.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return nil, fmt.Errorf("failed to read heartbeat file: %w", err)
	}
	if len(data) == 0 {
		return File{}, nil
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse heartbeat file: %w", err)
	}
	if f == nil {
		f = File{}
	}
	return f, nil
}
