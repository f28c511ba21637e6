package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	prevLevel := log.GetLevel()
	prevFormatter := log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetLevel(prevLevel)
		log.SetFormatter(prevFormatter)
	})

	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel log.Level
		wantJSON  bool
	}{
		{name: "text info", level: "info", format: "text", wantLevel: log.InfoLevel},
		{name: "json debug", level: "DEBUG", format: " JSON ", wantLevel: log.DebugLevel, wantJSON: true},
		{name: "unknown level", level: "loud", format: "", wantLevel: log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupLogger(tt.level, tt.format)

			if got := log.GetLevel(); got != tt.wantLevel {
				t.Fatalf("unexpected level: got=%s want=%s", got, tt.wantLevel)
			}
			_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
			if isJSON != tt.wantJSON {
				t.Fatalf("unexpected formatter: json=%v want=%v", isJSON, tt.wantJSON)
			}
		})
	}
}
