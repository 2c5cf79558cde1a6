// Copyright 2025 Relgate Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestDefaultConf(t *testing.T) {
	conf := SetDefaults()

	if conf.Output != "stdout" {
		t.Errorf("expected output to be stdout, got %s", conf.Output)
	}

	if conf.Level != "INFO" {
		t.Errorf("expected level to be INFO, got %s", conf.Level)
	}

	if conf.KeepDays != 7 {
		t.Errorf("expected KeepDays to be 7, got %d", conf.KeepDays)
	}
}

func TestValidateFileOutput(t *testing.T) {
	conf := &Conf{Output: "file"}
	if err := conf.Validate(); err == nil {
		t.Error("expected error for file output without path")
	}

	conf = &Conf{Output: "file", Path: t.TempDir()}
	if err := conf.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.RotateSize != 100 || conf.RotateNum != 10 {
		t.Errorf("expected rotation defaults, got size=%d num=%d", conf.RotateSize, conf.RotateNum)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"DEBUG":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"Warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"FATAL":   zapcore.FatalLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitStdout(t *testing.T) {
	if err := Init(SetDefaults()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if GetLogger() == nil {
		t.Fatal("expected global logger to be set")
	}
	Infof("logger ready: %s", "ok")
}
