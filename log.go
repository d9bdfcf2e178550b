// Logs

package main

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

var LOG_MUTEX = sync.Mutex{}

func LogLine(line string) {
	tm := time.Now()
	LOG_MUTEX.Lock()
	defer LOG_MUTEX.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), line)
}

func LogWarning(line string) {
	LogLine("[WARNING] " + line)
}

func LogInfo(line string) {
	LogLine("[INFO] " + line)
}

func LogError(err error) {
	LogLine("[ERROR] " + err.Error())
}

func LogErrorMessage(line string) {
	LogLine("[ERROR] " + line)
}

// LOG_REQUESTS_ENABLED / LOG_DEBUG_ENABLED default to the teacher's
// fail-open/fail-closed behavior and are overwritten by ApplyLogConfig once
// the configuration has actually been loaded.
var LOG_REQUESTS_ENABLED = true
var LOG_DEBUG_ENABLED = false

// ApplyLogConfig wires the loaded configuration's logging flags into the
// package-level switches the Log* functions read. Must run before any
// session starts logging.
func ApplyLogConfig(cfg *Config) {
	LOG_REQUESTS_ENABLED = cfg.LogRequests
	LOG_DEBUG_ENABLED = cfg.LogDebug
}

func LogRequest(session_id uint64, ip string, line string) {
	if LOG_REQUESTS_ENABLED {
		LogLine("[REQUEST] #" + strconv.Itoa(int(session_id)) + " (" + ip + ") " + line)
	}
}

func LogDebug(line string) {
	if LOG_DEBUG_ENABLED {
		LogLine("[DEBUG] " + line)
	}
}

func LogDebugSession(session_id uint64, ip string, line string) {
	if LOG_DEBUG_ENABLED {
		LogLine("[DEBUG] #" + strconv.Itoa(int(session_id)) + " (" + ip + ") " + line)
	}
}
