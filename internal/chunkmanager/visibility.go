package chunkmanager

import (
	"math"
	"sort"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/spheremath"
)

// UpdateVisible применяет диф видимости. visible — отображение ключа чанка
// в приоритет загрузки (0 под наблюдателем, больше — дальше).
//
//   - резидентные чанки вне видимости выгружаются;
//   - запросы в очереди вне видимости отменяются, их колбэки отбрасываются;
//   - чанки в работе завершаются естественно, диф следующего обновления
//     выгрузит лишние;
//   - видимые ключи, которых нет ни в одном множестве, ставятся в очередь.
//
// Пустое множество видимости валидно и выгружает всё резидентное.
func (s *ChunkStreamer) UpdateVisible(visible map[string]int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var toUnload []string
	for key := range s.loaded {
		if _, ok := visible[key]; !ok {
			toUnload = append(toUnload, key)
		}
	}

	var canceled []*ChunkRequest
	kept := s.queue[:0]
	for _, req := range s.queue {
		if _, ok := visible[req.key]; ok {
			kept = append(kept, req)
			continue
		}
		delete(s.queued, req.key)
		req.callbacks = nil
		canceled = append(canceled, req)
	}
	s.queue = kept

	type reqEntry struct {
		key      string
		priority int
	}
	var toRequest []reqEntry
	for key, priority := range visible {
		if _, ok := s.loaded[key]; ok {
			continue
		}
		if _, ok := s.pending[key]; ok {
			continue
		}
		if req, ok := s.queued[key]; ok {
			// Приоритет может только улучшаться
			if priority < req.priority {
				req.priority = priority
			}
			continue
		}
		toRequest = append(toRequest, reqEntry{key, priority})
	}
	s.sortQueueLocked()
	s.mu.Unlock()

	for _, key := range toUnload {
		s.Unload(key)
	}
	for _, req := range canceled {
		req.resolve(nil, ErrCanceled)
	}

	// Стабильный порядок постановки: по приоритету, затем по ключу
	sort.Slice(toRequest, func(i, j int) bool {
		if toRequest[i].priority != toRequest[j].priority {
			return toRequest[i].priority < toRequest[j].priority
		}
		return toRequest[i].key < toRequest[j].key
	})
	for _, e := range toRequest {
		// Ключи приходят из отображателя и уже каноничны; ошибка разбора
		// здесь означает ошибку вызывающего и просто пропускает ключ
		if _, err := s.RequestChunk(e.key, e.priority, nil); err != nil {
			continue
		}
	}
}

// FlatChunkDistances возвращает видимое множество плоской топологии:
// квадрат чанков вокруг позиции с запасом до viewDistance, приоритет —
// манхэттенское расстояние в чанках.
func FlatChunkDistances(pos spheremath.Vec3, viewDistance, chunkSize float64) map[string]int {
	if viewDistance <= 0 {
		return nil
	}
	ccx := int(math.Floor(pos.X / chunkSize))
	ccy := int(math.Floor(pos.Z / chunkSize))
	r := int(math.Ceil(viewDistance / chunkSize))

	out := make(map[string]int, (2*r+1)*(2*r+1))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			key := chunkaddress.Flat(ccx+dx, ccy+dy).Key()
			out[key] = abs(dx) + abs(dy)
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
