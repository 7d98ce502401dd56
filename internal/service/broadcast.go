package service

import (
	"github.com/annelo/go-planet-server/internal/protocol"
)

// broadcastToAll отправляет сообщение всем подключённым рендерерам.
// Отправка неблокирующая: переполненная очередь соединения теряет событие.
func (s *WorldService) broadcastToAll(msg interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.conns {
		conn.send(msg, false)
	}
}

// broadcastError рассылает ошибку стриминга всем рендерерам
func (s *WorldService) broadcastError(code, message string) {
	s.broadcastToAll(&protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
}
