package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-router/internal/common/errors"
)

type probeDoc struct {
	Path     string `yaml:"path" validate:"required,path_prefix"`
	Interval string `yaml:"interval" validate:"duration"`
	Header   string `yaml:"header" validate:"omitempty,header_name"`
	Schedule string `yaml:"schedule" validate:"omitempty,cron_expression"`
	LB       string `yaml:"lb" validate:"omitempty,oneof=round_robin least_connections"`
	Attempts int    `yaml:"attempts" validate:"min=1,max=10"`
}

func TestValidateStruct_Valid(t *testing.T) {
	doc := probeDoc{
		Path:     "/healthz",
		Interval: "5s",
		Header:   "X-Session-ID",
		Schedule: "@every 1m",
		LB:       "least_connections",
		Attempts: 3,
	}
	assert.NoError(t, ValidateStruct(doc))
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *probeDoc)
		message string
	}{
		{"missing path", func(d *probeDoc) { d.Path = "" }, "field 'path' is required"},
		{"relative path", func(d *probeDoc) { d.Path = "healthz" }, "field 'path' must start with '/'"},
		{"bad duration", func(d *probeDoc) { d.Interval = "soon" }, "field 'interval' must be a valid duration"},
		{"negative duration", func(d *probeDoc) { d.Interval = "-1s" }, "field 'interval' must be a valid duration"},
		{"bad header", func(d *probeDoc) { d.Header = "x session" }, "field 'header' must be a valid header name"},
		{"bad cron", func(d *probeDoc) { d.Schedule = "every minute" }, "field 'schedule' must be a valid cron expression"},
		{"bad lb", func(d *probeDoc) { d.LB = "random" }, "field 'lb' must be one of: round_robin least_connections"},
		{"attempts too high", func(d *probeDoc) { d.Attempts = 11 }, "field 'attempts' must be at most 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := probeDoc{Path: "/healthz", Interval: "1s", Attempts: 1}
			tt.mutate(&doc)

			err := ValidateStruct(doc)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	err := ValidateStruct(probeDoc{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "'path'")
	assert.Contains(t, err.Error(), "'attempts'")
}

func TestFields(t *testing.T) {
	fields := New().Fields(probeDoc{Path: "/h", Attempts: 0})
	require.Len(t, fields, 1)
	assert.Equal(t, "min", fields[0].Tag)
	assert.Equal(t, "probeDoc.attempts", fields[0].Field)
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("10.0.0.1:8080", "hostname_port"))
	assert.Error(t, ValidateVar("10.0.0.1", "hostname_port"))
}
