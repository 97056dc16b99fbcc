package tracker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	args, err := BuildArgs(Request{SettingsPath: "settings/a.toml", OutputRoot: "/ws/sessions"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--load", "settings/a.toml", "--track", "--output_dir", "/ws/sessions"}, args)

	args, err = BuildArgs(Request{
		SettingsPath:      "a.toml",
		OutputRoot:        "out",
		KnowledgeTransfer: " /ws/sessions/session_ref ",
		ExtraArgs:         []string{"--verbose"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"--load", "a.toml", "--track", "--output_dir", "out", "--knowledge_transfer_folder", "/ws/sessions/session_ref", "--verbose"}, args)

	_, err = BuildArgs(Request{OutputRoot: "out"})
	assert.Error(t, err)
	_, err = BuildArgs(Request{SettingsPath: "a.toml"})
	assert.Error(t, err)
}

func installFakeTracker(t *testing.T, script string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	path := filepath.Join(bin, "fake-tracker")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestTrack_StreamsOutputAndReportsAbnormalExit(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	binary := installFakeTracker(t, `#!/usr/bin/env bash
printf '%s\n' "$@" > "$ARGS_FILE"
echo "Tracking 50%"
echo "warning line" >&2
exit 3
`)
	t.Setenv("ARGS_FILE", argsFile)

	var logBuf bytes.Buffer
	var mu sync.Mutex
	var lines []string
	client := NewClient(binary)
	err := client.Track(context.Background(), Request{
		SettingsPath: "a.toml",
		OutputRoot:   "out",
		LogWriter:    &logBuf,
		Progress: func(_ OutputStream, line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited abnormally")
	assert.Contains(t, err.Error(), "warning line")

	assert.Contains(t, logBuf.String(), "Tracking 50%")
	assert.Contains(t, logBuf.String(), "warning line")
	assert.Len(t, lines, 2)

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "--load\na.toml\n--track\n--output_dir\nout", strings.TrimSpace(string(got)))
}

func TestDependencyStatus(t *testing.T) {
	binary := installFakeTracker(t, "#!/usr/bin/env bash\nexit 0\n")
	t.Setenv("PATH", filepath.Dir(binary)+":"+os.Getenv("PATH"))

	report := NewClient("fake-tracker").DependencyStatus()
	assert.True(t, report.TrackerFound)
	assert.Equal(t, binary, report.TrackerPath)

	missing := NewClient("definitely-not-a-tracker-binary")
	assert.False(t, missing.DependencyStatus().TrackerFound)
	assert.Error(t, missing.CheckDependencies())
}

func TestTrack_InterruptSendsSigintWithinGrace(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "stopped")
	binary := installFakeTracker(t, `#!/usr/bin/env bash
trap 'touch "$STOP_MARKER"; exit 130' INT
echo "started"
while true; do sleep 0.1; done
`)
	t.Setenv("STOP_MARKER", marker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &Client{Binary: binary, KillGrace: 5 * time.Second}
	err := client.Track(ctx, Request{
		SettingsPath: "a.toml",
		OutputRoot:   "out",
		Progress: func(_ OutputStream, line string) {
			if line == "started" {
				cancel()
			}
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.FileExists(t, marker)
}

func TestTrack_OverlongLineDoesNotBlockChild(t *testing.T) {
	binary := installFakeTracker(t, `#!/usr/bin/env bash
head -c 2097152 /dev/zero | tr '\0' 'a'
echo
for i in $(seq 1 2000); do echo "frame $i of 2000 after the long line"; done
exit 0
`)
	var logBuf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- NewClient(binary).Track(context.Background(), Request{
			SettingsPath: "a.toml",
			OutputRoot:   "out",
			LogWriter:    &logBuf,
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("tracker invocation did not return after an overlong output line")
	}
	assert.Contains(t, logBuf.String(), "output reader stopped")
}
