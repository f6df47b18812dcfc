package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFormats(t *testing.T) {
	t.Cleanup(func() { _ = InitTo(&bytes.Buffer{}, "info", FormatText) })

	var buf bytes.Buffer
	require.NoError(t, InitTo(&buf, "debug", FormatJSON))
	log.WithFields(log.Fields{"tenant": "acme", "resource": "warehouses"}).Debug("fetched")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fetched", line["message"])
	assert.Equal(t, "debug", line["level"])
	fields, _ := line["fields"].(map[string]any)
	assert.Equal(t, "acme", fields["tenant"])

	buf.Reset()
	require.NoError(t, InitTo(&buf, "warn", FormatCompact))
	log.WithField("key", "suppliers").Info("hidden")
	log.WithField("key", "suppliers").Warn("fetch failed")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), " W fetch failed key=suppliers\n")
}

func TestInitRejectsUnknownInput(t *testing.T) {
	assert.Error(t, InitTo(&bytes.Buffer{}, "chatty", FormatText))
	assert.Error(t, InitTo(&bytes.Buffer{}, "info", "xml"))
}
