package service

import (
	"context"

	"github.com/annelo/go-planet-server/internal/protocol"
)

// Stop сохраняет состояние мира и наблюдателей и отключает всех клиентов
func (s *WorldService) Stop() {
	s.DisconnectAllClients("сервер останавливается")

	if s.generator != nil {
		s.generator.WaitSaves()
	}
	if s.storage != nil {
		if err := s.storage.Flush(context.Background()); err != nil {
			s.logger.Warnf("Ошибка при сохранении мира: %v", err)
		}
		if err := s.storage.Close(); err != nil {
			s.logger.Warnf("Ошибка при закрытии хранилища: %v", err)
		}
	}
	s.streamer.Close()
}

// DisconnectAllClients отключает всех клиентов, отправив SERVER_SHUTDOWN
func (s *WorldService) DisconnectAllClients(reason string) {
	shutdownMsg := &protocol.ServerShutdownMsg{Type: protocol.TypeServerShutdown, Reason: reason}

	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[string]*clientConn)
	s.mu.Unlock()

	for _, conn := range conns {
		// Прощальное сообщение дописывается циклом записи перед закрытием
		conn.send(shutdownMsg, true)
		s.saveViewer(conn.viewerID)
		conn.close()
	}

	s.logger.Infof("Отключено клиентов: %d", len(conns))
}
