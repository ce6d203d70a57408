package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONCarriesBaseFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Service: "dinein", Terminal: "T1", Level: "debug", Format: "json", Output: &buf})

	log.WithField("table_id", "A3").Warn("printer offline")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dinein", line["service"])
	assert.Equal(t, "T1", line["terminal"])
	assert.Equal(t, "A3", line["table_id"])
	assert.Equal(t, "warning", line["level"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}
