package logger

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "app.log")

	log := Logger()
	require.NoError(t, log.Configure("debug", "json", path, 0))
	log.WithComponent("session").WithFields(Fields{"req_id": 7}).Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"session"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestWarnAndErrorAreCounted(t *testing.T) {
	log := Logger()
	log.SetOutput(&strings.Builder{})
	log.WithComponent("counted").Warn("w")
	log.WithComponent("counted").Error("e")
	log.WithComponent("counted").Error("e")

	var found bool
	for _, c := range Snapshot().Components {
		if c.Component == "counted" {
			found = true
			assert.EqualValues(t, 1, c.Warns)
			assert.EqualValues(t, 2, c.Errors)
		}
	}
	assert.True(t, found)
}

func TestRecordMessage(t *testing.T) {
	RecordMessage("test_kind", 10)
	RecordMessage("test_kind", 5)
	for _, m := range Snapshot().Messages {
		if m.Kind == "test_kind" {
			assert.EqualValues(t, 2, m.Messages)
			assert.EqualValues(t, 15, m.Bytes)
			return
		}
	}
	t.Fatal("message kind not recorded")
}

var errorLine = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} - (INFO|WARNING|ERROR) - .+$`)

func TestErrorLogFormatAndModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")

	el, err := OpenErrorLog(path, "w")
	require.NoError(t, err)
	el.Errorf("Error. Id: %d, Code: %d, Msg: %s", 3, 200, "No security definition")
	el.Infof("Connection closed")
	require.NoError(t, el.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Regexp(t, errorLine, l)
	}
	assert.Contains(t, lines[0], "ERROR - Error. Id: 3, Code: 200")

	el, err = OpenErrorLog(path, "a")
	require.NoError(t, err)
	el.Warnf("appended")
	require.NoError(t, el.Close())
	assert.Len(t, readLines(t, path), 3)

	el, err = OpenErrorLog(path, "w")
	require.NoError(t, err)
	require.NoError(t, el.Close())
	assert.Empty(t, readLines(t, path))
}

func TestErrorLogClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	el, err := OpenErrorLog(path, "a")
	require.NoError(t, err)
	defer el.Close()

	el.Infof("one")
	require.NoError(t, el.Clear())
	el.Infof("two")

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "INFO - two"))

	_, err = OpenErrorLog(path, "x")
	assert.Error(t, err)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
