package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/dt-engine/internal/config"
)

func TestLoggerPrint(t *testing.T) {
	if os.Getenv("TEST_LOGGER_PRINT") == "1" {
		Printf("Test Printf %d", 123)
		Println("Test Println")
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=TestLoggerPrint")
	cmd.Env = append(os.Environ(), "TEST_LOGGER_PRINT=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	output := string(out)
	assert.Contains(t, output, "[dt] ")
	assert.Contains(t, output, "Test Printf 123")
	assert.Contains(t, output, "Test Println")
}

func TestLoggerFatal(t *testing.T) {
	if os.Getenv("TEST_LOGGER_FATAL") == "1" {
		Fatal("Test Fatal")
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=TestLoggerFatal")
	cmd.Env = append(os.Environ(), "TEST_LOGGER_FATAL=1")
	err := cmd.Run()
	if e, ok := err.(*exec.ExitError); ok && !e.Success() {
		return
	}
	t.Fatalf("process ran with err %v, want exit status 1", err)
}

func TestLoggerFatalf(t *testing.T) {
	if os.Getenv("TEST_LOGGER_FATALF") == "1" {
		Fatalf("Test Fatalf %d", 456)
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=TestLoggerFatalf")
	cmd.Env = append(os.Environ(), "TEST_LOGGER_FATALF=1")
	err := cmd.Run()
	if e, ok := err.(*exec.ExitError); ok && !e.Success() {
		return
	}
	t.Fatalf("process ran with err %v, want exit status 1", err)
}

func TestSetupLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		Setup(config.Default())
	})

	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	Setup(cfg)

	Info("hidden")
	Warn("case label compared as string", "case", "fire")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "case label compared as string", rec["msg"])
	assert.Equal(t, "fire", rec["case"])

	buf.Reset()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "text"
	Setup(cfg)
	Debug("loading", "file", "units.def")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "file=units.def")
}
