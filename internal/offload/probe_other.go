// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

//go:build !linux

package offload

import (
	"github.com/pion/logging"
)

func candidates(_ Config, log logging.LeveledLogger) []Engine {
	return []Engine{NewNullEngine(log)}
}
