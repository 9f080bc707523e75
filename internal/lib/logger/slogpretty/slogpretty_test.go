package slogpretty

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestPrettyHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug}}
	log := slog.New(opts.NewPrettyHandler(&buf)).With("device_type", "camera")

	log.Info("run finished", "devices", 3)

	out := buf.String()
	assert.Contains(t, out, "INFO:")
	assert.Contains(t, out, "run finished")
	assert.Contains(t, out, `"device_type": "camera"`)
	assert.Contains(t, out, `"devices": 3`)
}
