package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer

	logger, closer, err := NewLogger(Options{}, &buf)
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	verbose, closer2, err := NewLogger(Options{Verbose: true}, &buf)
	require.NoError(t, err)
	defer closer2.Close()
	assert.Equal(t, logrus.DebugLevel, verbose.GetLevel())
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger, closer, err := NewLogger(Options{Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.WithField("icao", "4840D6").Info("Decoded")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Decoded", entry["msg"])
	assert.Equal(t, "4840D6", entry["icao"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewLogger_UnknownFormat(t *testing.T) {
	logger, closer, err := NewLogger(Options{Format: "xml"}, nil)
	assert.Error(t, err)
	assert.Nil(t, logger)
	assert.Nil(t, closer)
}

func TestNewLogger_File(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "ssrmixer.log")

	logger, closer, err := NewLogger(Options{Format: "text", File: path}, &buf)
	require.NoError(t, err)

	logger.Info("written twice")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written twice")
	assert.Contains(t, buf.String(), "written twice")
}
