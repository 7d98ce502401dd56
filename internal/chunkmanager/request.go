package chunkmanager

import (
	"context"
	"sync"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

// ReadyFunc — одноразовый колбэк готовности чанка. При неуспехе генерации
// вызывается с nil: подписчик различает успех по ненулевому аргументу.
type ReadyFunc func(data worldinterfaces.ChunkData)

// ChunkRequest — будущий результат запроса чанка. Один и тот же экземпляр
// разделяется всеми вызывающими, запросившими один ключ до завершения.
type ChunkRequest struct {
	addr     chunkaddress.Address
	key      string
	priority int
	seq      uint64

	// Колбэки и приоритет защищены мьютексом стримера, не собственным
	callbacks []ReadyFunc

	once sync.Once
	done chan struct{}
	data worldinterfaces.ChunkData
	err  error
}

func newRequest(addr chunkaddress.Address, key string, priority int, seq uint64) *ChunkRequest {
	return &ChunkRequest{
		addr:     addr,
		key:      key,
		priority: priority,
		seq:      seq,
		done:     make(chan struct{}),
	}
}

// Key возвращает канонический ключ запрошенного чанка
func (r *ChunkRequest) Key() string { return r.key }

// Address возвращает разобранный адрес запрошенного чанка
func (r *ChunkRequest) Address() chunkaddress.Address { return r.addr }

// Done закрывается при завершении запроса (успех, ошибка или отмена)
func (r *ChunkRequest) Done() <-chan struct{} { return r.done }

// Result возвращает результат; валиден только после закрытия Done
func (r *ChunkRequest) Result() (worldinterfaces.ChunkData, error) {
	return r.data, r.err
}

// Await блокируется до завершения запроса или отмены контекста
func (r *ChunkRequest) Await(ctx context.Context) (worldinterfaces.ChunkData, error) {
	select {
	case <-r.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve фиксирует результат ровно один раз
func (r *ChunkRequest) resolve(data worldinterfaces.ChunkData, err error) {
	r.once.Do(func() {
		r.data = data
		r.err = err
		close(r.done)
	})
}
