package commands

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
)

func TestNewVersionCommand(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantOut []string
		wantErr bool
	}{
		{
			name:    "default version",
			version: "0.1.0",
			wantOut: []string{"sqlsense v0.1.0", "postgres"},
		},
		{
			name:    "custom version",
			version: "1.2.3",
			wantOut: []string{"sqlsense v1.2.3"},
		},
		{
			name:    "dev version",
			version: "dev",
			wantOut: []string{"sqlsense vdev"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewVersionCommand(tt.version)
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)

			err := cmd.Execute()
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			output := buf.String()
			for _, want := range tt.wantOut {
				if !strings.Contains(output, want) {
					t.Errorf("output should contain %q, got: %s", want, output)
				}
			}
		})
	}
}

func TestVersionListsCatalogDrivers(t *testing.T) {
	cmd := NewVersionCommand("0.1.0")
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), lines)
	}
	if !strings.HasSuffix(lines[1], runtime.Version()) {
		t.Errorf("build line = %q, want suffix %q", lines[1], runtime.Version())
	}

	want := fmt.Sprintf("Catalog drivers: %v", catalog.Dialects())
	if lines[2] != want {
		t.Errorf("drivers line = %q, want %q", lines[2], want)
	}
	for _, name := range []string{"duckdb", "postgres", "sqlite"} {
		if !strings.Contains(lines[2], name) {
			t.Errorf("drivers line %q is missing %q", lines[2], name)
		}
	}
}

func TestVersionCommandMetadata(t *testing.T) {
	cmd := NewVersionCommand("test")

	if cmd.Use != "version" {
		t.Errorf("Use = %q, want %q", cmd.Use, "version")
	}

	if cmd.Short == "" {
		t.Error("Short should not be empty")
	}

	if cmd.Long == "" {
		t.Error("Long should not be empty")
	}
}
