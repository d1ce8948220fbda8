package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Level(t *testing.T) {
	log, err := New(Options{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	_, err = New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinharvest.log")

	log, err := New(Options{File: path})
	require.NoError(t, err)
	log.WithField("component", "test").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestNew_WritesToStderrByDefault(t *testing.T) {
	log, err := New(Options{})
	require.NoError(t, err)
	assert.Same(t, os.Stderr, log.Out)
}

func TestNew_Output(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "pinharvest.log")

	log, err := New(Options{File: path, Output: &buf})
	require.NoError(t, err)
	log.WithField("component", "test").Info("hello")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`, "the file sink is teed")
}
