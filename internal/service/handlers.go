package service

import (
	"context"
	"encoding/json"
	"expvar"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annelo/go-planet-server/internal/protocol"
	"github.com/annelo/go-planet-server/internal/spheremath"
	"github.com/annelo/go-planet-server/internal/storage"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
}

// Handler возвращает http-обработчик websocket-соединений рендереров
func (s *WorldService) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}

		client, ok := s.handshake(conn)
		if !ok {
			_ = conn.Close()
			return
		}

		s.mu.Lock()
		s.conns[client.viewerID] = client
		s.mu.Unlock()
		expvar.Get("viewers_connected").(*expvar.Int).Add(1)

		go client.writeLoop()
		s.readLoop(client)

		// Cleanup после разрыва соединения
		s.dropConnection(client)
	}
}

// handshake принимает HELLO и отвечает WELCOME. Возвращает false, если
// рукопожатие не состоялось; причина уже отправлена клиенту.
func (s *WorldService) handshake(conn *websocket.Conn) (*clientConn, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}

	base, err := protocol.DecodeBase(raw)
	if err != nil || base.Type != protocol.TypeHello {
		writeErrorDirect(conn, protocol.CodeBadMessage, "ожидалось HELLO")
		return nil, false
	}
	if base.ProtocolVersion != protocol.Version {
		writeErrorDirect(conn, protocol.CodeVersionMismatch, "неподдерживаемая версия протокола: "+base.ProtocolVersion)
		return nil, false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(raw, &hello); err != nil {
		writeErrorDirect(conn, protocol.CodeBadMessage, "некорректное HELLO")
		return nil, false
	}
	if hello.ViewerName == "" {
		hello.ViewerName = "viewer"
	}

	pos := spheremath.Vec3{X: hello.Position[0], Y: hello.Position[1], Z: hello.Position[2]}

	// Возобновление сессии: восстанавливаем сохранённую позицию
	if hello.ViewerID != "" && s.storage != nil {
		if st, err := s.storage.LoadViewerState(context.Background(), hello.ViewerID); err == nil {
			pos = st.Position
			if hello.ViewerName == "viewer" && st.Name != "" {
				hello.ViewerName = st.Name
			}
			s.logger.Infof("Наблюдатель %s возобновляет сессию", hello.ViewerID)
		}
	}

	viewerID, err := s.viewers.AddViewer(hello.ViewerID, hello.ViewerName, pos)
	if err != nil {
		writeErrorDirect(conn, protocol.CodeInternal, err.Error())
		return nil, false
	}

	welcome := &protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ViewerID:        viewerID,
		WorldParams: protocol.WorldParams{
			Name:          s.world.Name,
			Topology:      s.world.Topology,
			Seed:          s.world.Seed,
			Radius:        s.world.Radius,
			ChunkSize:     s.chunkSize,
			ChunksPerFace: s.chunksPerFace,
			TilesPerChunk: s.tilesPerChunk,
		},
	}

	client := newClientConn(viewerID, conn)
	if err := client.writeJSON(welcome); err != nil {
		_ = s.viewers.RemoveViewer(viewerID)
		return nil, false
	}

	s.logger.Infof("Наблюдатель %s (%s) подключился", hello.ViewerName, viewerID)
	return client, true
}

// readLoop обрабатывает входящие сообщения одного соединения до разрыва
func (s *WorldService) readLoop(client *clientConn) {
	for {
		_ = client.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			s.logger.Infof("Соединение наблюдателя %s потеряно: %v", client.viewerID, err)
			return
		}

		base, err := protocol.DecodeBase(raw)
		if err != nil {
			client.send(&protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.CodeBadMessage, Message: "не удалось разобрать сообщение"}, false)
			continue
		}

		switch base.Type {
		case protocol.TypeViewerUpdate:
			var upd protocol.ViewerUpdateMsg
			if err := json.Unmarshal(raw, &upd); err != nil {
				client.send(&protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.CodeBadMessage, Message: "некорректное VIEWER_UPDATE"}, false)
				continue
			}
			s.handleViewerUpdate(client, &upd)
		default:
			client.send(&protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.CodeBadMessage, Message: "неизвестный тип сообщения: " + base.Type}, false)
		}
	}
}

// handleViewerUpdate обновляет позицию наблюдателя; при смене высотной
// зоны рендереру уходит ZONE_CHANGED.
func (s *WorldService) handleViewerUpdate(client *clientConn, upd *protocol.ViewerUpdateMsg) {
	pos := spheremath.Vec3{X: upd.Position[0], Y: upd.Position[1], Z: upd.Position[2]}
	res, err := s.viewers.UpdatePosition(client.viewerID, pos, upd.Dt)
	if err != nil {
		s.logger.Warnf("Ошибка при обновлении позиции наблюдателя %s: %v", client.viewerID, err)
		return
	}
	if res.ZoneChanged {
		client.send(&protocol.ZoneChangedMsg{
			Type:         protocol.TypeZoneChanged,
			Zone:         res.Zone.String(),
			DetailLevel:  res.DetailLevel,
			Altitude:     res.Altitude,
			TerrainBlend: res.TerrainBlend,
			OrbitalBlend: res.OrbitalBlend,
		}, false)
	}
}

// dropConnection снимает соединение с учёта и сохраняет состояние наблюдателя
func (s *WorldService) dropConnection(client *clientConn) {
	s.mu.Lock()
	if cur, ok := s.conns[client.viewerID]; ok && cur == client {
		delete(s.conns, client.viewerID)
	}
	s.mu.Unlock()
	client.close()
	expvar.Get("viewers_connected").(*expvar.Int).Add(-1)

	s.saveViewer(client.viewerID)
	_ = s.viewers.RemoveViewer(client.viewerID)
	s.logger.Infof("Наблюдатель %s отключился", client.viewerID)
}

// saveViewer сохраняет состояние наблюдателя, если есть хранилище
func (s *WorldService) saveViewer(viewerID string) {
	if s.storage == nil {
		return
	}
	v, err := s.viewers.GetViewer(viewerID)
	if err != nil {
		return
	}
	_ = s.storage.SaveViewerState(context.Background(), &storage.ViewerState{
		ID:       v.ID,
		Name:     v.Name,
		Position: v.Position,
		Zone:     int(v.Altitude.Zone()),
		LastSeen: time.Now().Unix(),
	})
}

// writeErrorDirect отправляет ERROR до того, как соединение получило
// очереди отправки (отказ рукопожатия).
func writeErrorDirect(conn *websocket.Conn, code, message string) {
	b, err := json.Marshal(&protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
