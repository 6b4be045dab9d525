// Package iflowtest provides a scripted stand-in for the iflow binary.
package iflowtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// Environment switches understood by the fake.
const (
	EnvLog          = "FAKE_IFLOW_LOG"            // append every argv to this file
	EnvFailResume   = "FAKE_IFLOW_FAIL_RESUME"    // -r turns exit 1
	EnvNoSession    = "FAKE_IFLOW_NO_SESSION"     // -p omits the execution info
	EnvShort        = "FAKE_IFLOW_SHORT"          // -r turns answer "ok"
	EnvPlainResume  = "FAKE_IFLOW_PLAIN_RESUME"   // -r turns omit the execution info and mention "session-based"
	EnvSilentPTY    = "FAKE_IFLOW_SILENT_PTY"     // interactive answers lack a boundary
	EnvMuteAfterOne = "FAKE_IFLOW_MUTE_AFTER_ONE" // interactive mode answers only the first line
	EnvIgnoreInt    = "FAKE_IFLOW_IGNORE_INT"     // interactive mode ignores Ctrl-C
	EnvFailVersion  = "FAKE_IFLOW_FAIL_VERSION"   // --version exits 127
)

const SessionID = "session-0a1b2c3d"

const script = `#!/bin/sh
if [ -n "$FAKE_IFLOW_LOG" ]; then
  printf '%s\n' "$*" >> "$FAKE_IFLOW_LOG"
fi
case "$1" in
  --version)
    if [ -n "$FAKE_IFLOW_FAIL_VERSION" ]; then
      echo "iflow: command not found" >&2
      exit 127
    fi
    echo "0.3.0"
    exit 0
    ;;
  -p)
    echo "I have reviewed the pull request context and the repository layout. READY_FOR_QUESTIONS"
    if [ -z "$FAKE_IFLOW_NO_SESSION" ]; then
      printf '<Execution Info>\n{"session-id": "` + SessionID + `", "assistantRounds": 1}\n</Execution Info>\n'
    fi
    exit 0
    ;;
  -r)
    if [ -n "$FAKE_IFLOW_FAIL_RESUME" ]; then
      echo "session $2 not found" >&2
      exit 1
    fi
    if [ -n "$FAKE_IFLOW_SHORT" ]; then
      echo "ok"
      exit 0
    fi
    if [ -n "$FAKE_IFLOW_PLAIN_RESUME" ]; then
      echo "Answer to [$4]: upload.go now keeps retry state in a session-based store for PR #42."
      exit 0
    fi
    echo "Answer to [$4]: the change is in upload.go where the retry loop was added for PR #42."
    printf '<Execution Info>\n{"session-id": "%s"}\n</Execution Info>\n' "$2"
    exit 0
    ;;
esac
if [ -n "$FAKE_IFLOW_IGNORE_INT" ]; then
  trap '' INT
fi
echo "iFlow CLI interactive"
n=0
while IFS= read -r line; do
  n=$((n + 1))
  if [ -n "$FAKE_IFLOW_MUTE_AFTER_ONE" ] && [ "$n" -gt 1 ]; then
    continue
  fi
  echo "Interactive reply about PR #42 covering upload.go and the retry function in detail."
  if [ -z "$FAKE_IFLOW_SILENT_PTY" ]; then
    echo '<Execution Info>{"session-id": "session-feed01"}</Execution Info>'
  fi
done
`

// Write installs the fake into dir and returns its path. It skips the test
// when no POSIX shell is available.
func Write(t testing.TB, dir string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(dir, "iflow")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake iflow: %v", err)
	}
	return path
}
