// Package chunkmanager реализует стриминг чанков: диф видимости,
// планировщик запросов с приоритетами и ограниченным параллелизмом,
// кеш загруженных чанков.
package chunkmanager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/spheremap"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

// Значения конфигурации по умолчанию
const (
	DefaultMaxConcurrent = 2
	DefaultTilesPerChunk = 16
	DefaultChunkSize     = 64.0
)

var (
	// ErrClosed возвращается после остановки стримера
	ErrClosed = errors.New("chunkmanager: стример остановлен")
	// ErrCanceled фиксируется в запросе, вышедшем из видимости до запуска
	ErrCanceled = errors.New("chunkmanager: запрос отменён дифом видимости")
)

// Config задаёт параметры стримера. Нулевые значения заменяются
// значениями по умолчанию.
type Config struct {
	Producer      worldinterfaces.ChunkProducer
	MaxConcurrent int
	TilesPerChunk int
	ChunkSize     float64
	// UseSphericalProjection включает планетарный режим; Mapper обязателен
	UseSphericalProjection bool
	Mapper                 *spheremap.Mapper
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.TilesPerChunk <= 0 {
		c.TilesPerChunk = DefaultTilesPerChunk
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

// ChunkStreamer владеет жизненным циклом чанков: queued -> pending ->
// loaded -> unloaded. Все множества защищены одним мьютексом и попарно
// не пересекаются.
type ChunkStreamer struct {
	cfg      Config
	producer worldinterfaces.ChunkProducer

	mu      sync.Mutex
	loaded  map[string]worldinterfaces.ChunkData
	pending map[string]*ChunkRequest
	queued  map[string]*ChunkRequest
	// queue отсортирована по (приоритет, порядок поступления)
	queue      []*ChunkRequest
	seq        uint64
	processing bool
	closed     bool

	progressFns  []func(Progress)
	loadedFns    []func(data worldinterfaces.ChunkData)
	failedFns    []func(key string, err error)
	unloadingFns []func(key string)
	unloadFns    []func(key string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChunkStreamer создаёт стример. Producer обязателен; в планетарном
// режиме обязателен и Mapper.
func NewChunkStreamer(cfg Config) (*ChunkStreamer, error) {
	if cfg.Producer == nil {
		return nil, errors.New("chunkmanager: не задан генератор чанков")
	}
	if cfg.UseSphericalProjection && cfg.Mapper == nil {
		return nil, errors.New("chunkmanager: планетарный режим требует Mapper")
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &ChunkStreamer{
		cfg:      cfg,
		producer: cfg.Producer,
		loaded:   make(map[string]worldinterfaces.ChunkData),
		pending:  make(map[string]*ChunkRequest),
		queued:   make(map[string]*ChunkRequest),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Mode возвращает текущую топологию: flat или spherical
func (s *ChunkStreamer) Mode() string {
	if s.cfg.UseSphericalProjection {
		return "spherical"
	}
	return "flat"
}

// Mapper возвращает сферический маппер; nil в плоском режиме
func (s *ChunkStreamer) Mapper() *spheremap.Mapper {
	return s.cfg.Mapper
}

// RequestChunk запрашивает чанк по каноническому ключу. Лучший (меньший)
// приоритет обслуживается раньше; повторные запросы одного ключа
// склеиваются в один. onReady (может быть nil) вызывается по готовности;
// для уже загруженного чанка — немедленно.
func (s *ChunkStreamer) RequestChunk(key string, priority int, onReady ReadyFunc) (*ChunkRequest, error) {
	addr, err := chunkaddress.ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("chunkmanager: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	// Уже загружен: разрешаем синхронно
	if data, ok := s.loaded[key]; ok {
		s.mu.Unlock()
		req := newRequest(addr, key, priority, 0)
		req.resolve(data, nil)
		if onReady != nil {
			onReady(data)
		}
		return req, nil
	}

	// Уже в работе: подписываемся на существующий запрос
	if req, ok := s.pending[key]; ok {
		if onReady != nil {
			req.callbacks = append(req.callbacks, onReady)
		}
		s.mu.Unlock()
		return req, nil
	}

	// Уже в очереди: возможно повышаем приоритет
	if req, ok := s.queued[key]; ok {
		if priority < req.priority {
			req.priority = priority
			s.sortQueueLocked()
		}
		if onReady != nil {
			req.callbacks = append(req.callbacks, onReady)
		}
		s.mu.Unlock()
		return req, nil
	}

	s.seq++
	req := newRequest(addr, key, priority, s.seq)
	if onReady != nil {
		req.callbacks = append(req.callbacks, onReady)
	}
	s.queued[key] = req
	s.queue = append(s.queue, req)
	s.sortQueueLocked()
	s.mu.Unlock()

	s.processQueue()
	return req, nil
}

// sortQueueLocked сортирует очередь по приоритету, при равенстве — по
// порядку поступления. Вызывается под мьютексом.
func (s *ChunkStreamer) sortQueueLocked() {
	sort.SliceStable(s.queue, func(i, j int) bool {
		if s.queue[i].priority != s.queue[j].priority {
			return s.queue[i].priority < s.queue[j].priority
		}
		return s.queue[i].seq < s.queue[j].seq
	})
}

// processQueue переводит лучшие запросы из очереди в работу, пока есть
// свободные слоты. Флаг processing защищает от повторного входа.
func (s *ChunkStreamer) processQueue() {
	s.mu.Lock()
	if s.processing || s.closed {
		s.mu.Unlock()
		return
	}
	s.processing = true
	for len(s.pending) < s.cfg.MaxConcurrent && len(s.queue) > 0 {
		req := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, req.key)
		s.pending[req.key] = req
		s.wg.Add(1)
		go s.produce(req)
	}
	s.processing = false
	s.mu.Unlock()
}

func (s *ChunkStreamer) produce(req *ChunkRequest) {
	defer s.wg.Done()
	data, err := s.producer.Produce(s.ctx, req.addr)
	s.complete(req, data, err)
}

// complete доставляет результат генерации обратно в стример: единственная
// точка синхронизации на адрес.
func (s *ChunkStreamer) complete(req *ChunkRequest, data worldinterfaces.ChunkData, err error) {
	s.mu.Lock()
	delete(s.pending, req.key)
	if err == nil {
		s.loaded[req.key] = data
	}
	callbacks := req.callbacks
	req.callbacks = nil
	progress := s.progressLocked()
	progressFns := make([]func(Progress), len(s.progressFns))
	copy(progressFns, s.progressFns)
	var loadedFns []func(worldinterfaces.ChunkData)
	var failedFns []func(string, error)
	if err == nil {
		loadedFns = make([]func(worldinterfaces.ChunkData), len(s.loadedFns))
		copy(loadedFns, s.loadedFns)
	} else {
		failedFns = make([]func(string, error), len(s.failedFns))
		copy(failedFns, s.failedFns)
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("chunkmanager: генерация чанка %s не удалась: %v", req.key, err)
		data = nil
	}
	// Колбэки строго в порядке регистрации; при ошибке — с nil
	for _, cb := range callbacks {
		cb(data)
	}
	req.resolve(data, err)
	for _, fn := range loadedFns {
		fn(data)
	}
	for _, fn := range failedFns {
		fn(req.key, err)
	}
	for _, fn := range progressFns {
		fn(progress)
	}
	s.processQueue()
}

// Unload выгружает чанк и извещает подписчиков. Повторный вызов по
// неизвестному ключу — no-op.
func (s *ChunkStreamer) Unload(key string) {
	// Две фазы: подписчики OnChunkUnloading видят чанк ещё резидентным
	s.mu.Lock()
	_, ok := s.loaded[key]
	var unloadingFns []func(string)
	if ok {
		unloadingFns = make([]func(string), len(s.unloadingFns))
		copy(unloadingFns, s.unloadingFns)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range unloadingFns {
		fn(key)
	}

	s.mu.Lock()
	_, ok = s.loaded[key]
	if ok {
		delete(s.loaded, key)
	}
	unloadFns := make([]func(string), len(s.unloadFns))
	copy(unloadFns, s.unloadFns)
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range unloadFns {
		fn(key)
	}
}

// Chunk возвращает загруженный чанк или nil. Возвращённая ссылка
// действительна до выгрузки ключа.
func (s *ChunkStreamer) Chunk(key string) worldinterfaces.ChunkData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[key]
}

// IsLoaded сообщает, резидентен ли чанк
func (s *ChunkStreamer) IsLoaded(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loaded[key]
	return ok
}

// LoadedKeys возвращает снимок ключей резидентных чанков
func (s *ChunkStreamer) LoadedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.loaded))
	for k := range s.loaded {
		keys = append(keys, k)
	}
	return keys
}

// OnChunkLoaded регистрирует подписчика успешной загрузки чанка.
// Подписчики вызываются вне мьютекса после колбэков запроса.
func (s *ChunkStreamer) OnChunkLoaded(fn func(data worldinterfaces.ChunkData)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadedFns = append(s.loadedFns, fn)
}

// OnChunkFailed регистрирует подписчика неудачной генерации чанка.
func (s *ChunkStreamer) OnChunkFailed(fn func(key string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedFns = append(s.failedFns, fn)
}

// OnChunkUnloading регистрирует подписчика, вызываемого до удаления чанка
// из loaded: чанк ещё доступен через Chunk(key).
func (s *ChunkStreamer) OnChunkUnloading(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloadingFns = append(s.unloadingFns, fn)
}

// OnChunkUnloaded регистрирует подписчика выгрузки (освобождение ресурсов
// рендера). Подписчики вызываются вне мьютекса.
func (s *ChunkStreamer) OnChunkUnloaded(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloadFns = append(s.unloadFns, fn)
}

// OnProgress регистрирует подписчика прогресса; снимок публикуется после
// каждого завершения генерации.
func (s *ChunkStreamer) OnProgress(fn func(Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressFns = append(s.progressFns, fn)
}

// Close останавливает стример: отменяет контекст генерации и дожидается
// рабочих горутин. Новые запросы после Close получают ErrClosed.
func (s *ChunkStreamer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	canceled := s.queue
	s.queue = nil
	s.queued = make(map[string]*ChunkRequest)
	s.mu.Unlock()

	for _, req := range canceled {
		req.resolve(nil, ErrClosed)
	}
	s.cancel()
	s.wg.Wait()
}
