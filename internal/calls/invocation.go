// ABOUTME: Invocation and reply types passed between caller, dispatcher and service.
// ABOUTME: Includes the reserved control call names and streaming name detection.

package calls

import (
	"log/slog"
	"strings"
)

// StreamSuffix marks a generic call name as streaming.
const StreamSuffix = "/cb"

// Reserved control call names.
const (
	ControlLocalIP      = "getLocalIpAddress"
	ControlDatabasePath = "databasePath"
	ControlInitialized  = "initialized"
	ControlSyncData     = "syncData"
	ControlRollbackData = "rollbackData"
	ControlResetData    = "resetData"
	ControlLog          = "log"
)

var controlNames = map[string]struct{}{
	ControlLocalIP:      {},
	ControlDatabasePath: {},
	ControlInitialized:  {},
	ControlSyncData:     {},
	ControlRollbackData: {},
	ControlResetData:    {},
	ControlLog:          {},
}

// Invocation is a single named call with opaque payload and parameters.
type Invocation struct {
	Name    string `cbor:"method"`
	Payload []byte `cbor:"data,omitempty"`
	Params  []byte `cbor:"params,omitempty"`
}

// IsStreaming reports whether the invocation is a streaming generic call.
func (inv Invocation) IsStreaming() bool {
	return IsStreaming(inv.Name)
}

// IsControl reports whether name is one of the reserved control names.
func IsControl(name string) bool {
	_, ok := controlNames[name]
	return ok
}

// IsStreaming reports whether name is a streaming generic call.
func IsStreaming(name string) bool {
	return !IsControl(name) && strings.HasSuffix(name, StreamSuffix)
}

// Kind is how a call was dispatched.
type Kind string

const (
	KindControl   Kind = "control"
	KindSimple    Kind = "simple"
	KindStreaming Kind = "streaming"
)

// KindOf classifies a call name.
func KindOf(name string) Kind {
	switch {
	case IsControl(name):
		return KindControl
	case IsStreaming(name):
		return KindStreaming
	default:
		return KindSimple
	}
}

// Reply is the successful answer to a dispatched call.
//
// Data carries raw bytes (simple results and stream acknowledgments). Value
// carries a typed answer for control calls (string, int). A Reply with
// neither set means "absent" and Silent means no response is sent at all.
type Reply struct {
	Data   []byte
	Value  any
	Silent bool
}

// Absent reports whether the reply carries no value.
func (r Reply) Absent() bool {
	return r.Data == nil && r.Value == nil
}

// LogRecord is the payload of the log control call.
type LogRecord struct {
	Level   int    `cbor:"level"`
	Message string `cbor:"message"`
}

// Log levels understood by the log control call.
const (
	LogVerbose = 2
	LogDebug   = 3
	LogInfo    = 4
	LogWarn    = 5
	LogError   = 6
)

// SlogLevel maps a log call level onto slog.
func SlogLevel(level int) slog.Level {
	switch {
	case level <= LogDebug:
		return slog.LevelDebug
	case level == LogInfo:
		return slog.LevelInfo
	case level == LogWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
