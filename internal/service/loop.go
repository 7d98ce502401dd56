package service

import (
	"context"
	"expvar"
	"time"

	"github.com/annelo/go-planet-server/internal/gameloop"
	"github.com/annelo/go-planet-server/internal/protocol"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

const tickInterval = 50 * time.Millisecond

// Start подписывает сервис на события стримера и запускает игровой цикл
// с системами из реестра плагинов.
func (s *WorldService) Start(ctx context.Context) {
	// События стримера уходят рендерерам
	s.streamer.OnChunkLoaded(func(data worldinterfaces.ChunkData) {
		expvar.Get("chunks_streamed").(*expvar.Int).Add(1)
		s.broadcastToAll(chunkReadyMsg(data))
	})
	s.streamer.OnChunkUnloaded(func(key string) {
		expvar.Get("chunks_unloaded").(*expvar.Int).Add(1)
		s.broadcastToAll(&protocol.ChunkUnloadedMsg{Type: protocol.TypeChunkUnloaded, Key: key})
	})
	s.streamer.OnChunkFailed(func(key string, err error) {
		s.logger.Warnf("Генерация чанка %s не удалась: %v", key, err)
		s.broadcastError(protocol.CodeProducerFailure, "чанк "+key+" не сгенерирован")
	})

	deps := gameloop.Dependencies{
		Viewers:   s.viewers,
		Streamer:  s.streamer,
		Storage:   s.storage,
		ChunkSize: s.chunkSize,
		Broadcast: s.broadcastToAll,
	}
	systems := s.registry.GameSystems()
	s.loop = gameloop.NewLoop(tickInterval, deps, systems...)
	go s.loop.Run(ctx)

	go s.monitorStreaming(ctx)
}

// chunkReadyMsg упаковывает чанк в сообщение протокола
func chunkReadyMsg(data worldinterfaces.ChunkData) *protocol.ChunkReadyMsg {
	side := data.TilesPerChunk()
	tiles := make([]int32, 0, side*side)
	heights := make([]float32, 0, side*side)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			tiles = append(tiles, data.Tile(x, y))
			heights = append(heights, data.Height(x, y))
		}
	}
	return &protocol.ChunkReadyMsg{
		Type:    protocol.TypeChunkReady,
		Key:     data.Address().Key(),
		Side:    side,
		Tiles:   tiles,
		Heights: heights,
	}
}

// monitorStreaming периодически пишет статистику стриминга в лог
func (s *WorldService) monitorStreaming(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p := s.streamer.Progress()
			s.logger.Infof("Стриминг: загружено=%d в работе=%d в очереди=%d наблюдателей=%d",
				p.Loaded, p.Pending, p.Queued, s.viewers.Count())
		case <-ctx.Done():
			return
		}
	}
}
