package config

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func mustLevel(t *testing.T, s string) zapcore.Level {
	t.Helper()
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		t.Fatal(err)
	}
	return l
}
