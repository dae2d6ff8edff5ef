// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/deepresearch/pkg/logger"
)

const (
	logLevelEnvVar   = "LOG_LEVEL"
	logFileEnvVar    = "LOG_FILE"
	logFormatEnvVar  = "LOG_FORMAT"
	defaultLogFormat = "simple"
)

// initLogger initializes the process-wide logger from CLI flags, falling
// back to environment variables and then defaults. Priority: CLI flags >
// env vars > defaults. The config file's logger section is not consulted.
func initLogger(cliLogLevel, cliLogFile, cliLogFormat string) (func(), error) {
	level := cliLogLevel
	if level == "" {
		level = os.Getenv(logLevelEnvVar)
	}
	if level == "" {
		level = "info"
	}

	file := cliLogFile
	if file == "" {
		file = os.Getenv(logFileEnvVar)
	}

	format := cliLogFormat
	if format == "" {
		format = os.Getenv(logFormatEnvVar)
	}
	if format == "" {
		format = defaultLogFormat
	}

	return applyLogger(level, file, format)
}

func applyLogger(level, file, format string) (func(), error) {
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output *os.File
	var cleanup func()
	if file != "" {
		f, cleanupFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = cleanupFn
	} else {
		output = os.Stderr
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}
