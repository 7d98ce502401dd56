package protocol

// HELLO (рендерер -> сервер)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ViewerName      string     `json:"viewer_name"`
	ViewerID        string     `json:"viewer_id,omitempty"` // для возобновления сессии
	Position        [3]float64 `json:"position"`
}

// WELCOME (сервер -> рендерер)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ViewerID        string      `json:"viewer_id"`
	WorldParams     WorldParams `json:"world_params"`
}

// WorldParams — параметры мира, которые нужны рендереру для проекции
type WorldParams struct {
	Name          string  `json:"name"`
	Topology      string  `json:"topology"` // flat | spherical
	Seed          int64   `json:"seed"`
	Radius        float64 `json:"radius,omitempty"`
	ChunkSize     float64 `json:"chunk_size"`
	ChunksPerFace int     `json:"chunks_per_face,omitempty"`
	TilesPerChunk int     `json:"tiles_per_chunk"`
}

// VIEWER_UPDATE (рендерер -> сервер): новая позиция камеры
type ViewerUpdateMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version,omitempty"`
	Position        [3]float64 `json:"position"`
	Dt              float64    `json:"dt,omitempty"` // секунды с прошлого обновления
}

// CHUNK_READY (сервер -> рендерер): чанк загружен и готов к отрисовке
type ChunkReadyMsg struct {
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	Side    int       `json:"side"`
	Tiles   []int32   `json:"tiles"`
	Heights []float32 `json:"heights"`
}

// CHUNK_UNLOADED (сервер -> рендерер)
type ChunkUnloadedMsg struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// PROGRESS (сервер -> рендерер): снимок состояния стриминга
type ProgressMsg struct {
	Type    string `json:"type"`
	Loaded  int    `json:"loaded"`
	Pending int    `json:"pending"`
	Queued  int    `json:"queued"`
}

// ZONE_CHANGED (сервер -> рендерер): наблюдатель сменил высотную зону
type ZoneChangedMsg struct {
	Type         string  `json:"type"`
	Zone         string  `json:"zone"`
	DetailLevel  int     `json:"detail_level"`
	Altitude     float64 `json:"altitude"`
	TerrainBlend float64 `json:"terrain_blend"`
	OrbitalBlend float64 `json:"orbital_blend"`
}

// ERROR (сервер -> рендерер)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Коды ошибок.
const (
	CodeBadKey          = "BAD_KEY"
	CodeBadMessage      = "BAD_MESSAGE"
	CodeVersionMismatch = "VERSION_MISMATCH"
	CodeProducerFailure = "PRODUCER_FAILURE"
	CodeInternal        = "INTERNAL"
)

// SERVER_SHUTDOWN (сервер -> рендерер)
type ServerShutdownMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}
