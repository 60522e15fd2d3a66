// Package shellcmd turns shell one-liners into argv slices and back.
//
// It parses commands using mvdan.cc/sh/v3 (the shfmt parser), so quoting,
// escaping and environment expansion behave the way a POSIX shell would
// behave, not the way a naive strings.Fields split would.
package shellcmd

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// Split parses a shell one-liner into an argv slice suitable for
// exec.Command. Environment variables are expanded from the process
// environment. An empty or whitespace-only command yields an error.
func Split(command string) ([]string, error) {
	fields, err := shell.Fields(command, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return fields, nil
}

// Quote returns the argument quoted so that a shell reads it back as a
// single field. Plain words are returned unchanged.
func Quote(arg string) (string, error) {
	quoted, err := syntax.Quote(arg, syntax.LangBash)
	if err != nil {
		return "", fmt.Errorf("failed to quote %q: %w", arg, err)
	}
	return quoted, nil
}

// Join renders an argv slice as a copy-pasteable shell one-liner.
// It is the inverse of Split for arguments without expansions.
func Join(args []string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := Quote(arg)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}
