// Package protocol описывает JSON-сообщения между сервером и рендерером.
// Формат каждого сообщения зафиксирован JSON-схемой в каталоге schemas/.
package protocol

import "encoding/json"

const Version = "1.0"

// Типы сообщений.
const (
	TypeHello          = "HELLO"
	TypeWelcome        = "WELCOME"
	TypeViewerUpdate   = "VIEWER_UPDATE"
	TypeChunkReady     = "CHUNK_READY"
	TypeChunkUnloaded  = "CHUNK_UNLOADED"
	TypeProgress       = "PROGRESS"
	TypeZoneChanged    = "ZONE_CHANGED"
	TypeError          = "ERROR"
	TypeServerShutdown = "SERVER_SHUTDOWN"
)

// BaseMessage позволяет маршрутизировать входящий JSON по полю type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
