package main

import (
	"bytes"
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/udpburst/internal/config"
)

func TestApplyPortArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{"no argument keeps default", nil, 31341, false},
		{"valid port", []string{"4000"}, 4000, false},
		{"upper bound", []string{"65535"}, 65535, false},
		{"zero", []string{"0"}, 0, true},
		{"too large", []string{"65536"}, 0, true},
		{"negative", []string{"-5"}, 0, true},
		{"not a number", []string{"http"}, 0, true},
		{"too many", []string{"1", "2"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			err := applyPortArg(cfg, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, 31341, cfg.Burst.Port, "config untouched on error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Burst.Port)
		})
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantArgs []string
		wantErr  bool
		wantHelp bool
	}{
		{"no arguments", nil, nil, false, false},
		{"config and port", []string{"-config", "udpburst.yaml", "4000"}, []string{"4000"}, false, false},
		{"negative port looks like a flag", []string{"-1"}, nil, true, false},
		{"unknown flag", []string{"-bogus"}, nil, true, false},
		{"help", []string{"-h"}, nil, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			opts, err := parseFlags(tt.args, &out)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantHelp, errors.Is(err, flag.ErrHelp))
				assert.Contains(t, out.String(), "Usage:")
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.wantArgs, opts.args)
		})
	}
}
