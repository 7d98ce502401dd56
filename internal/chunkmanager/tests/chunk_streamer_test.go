package chunkmanager_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/chunkmanager"
	"github.com/annelo/go-planet-server/internal/spheremath"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chunkSize = 64.0

// stubChunk — минимальный чанк для тестов планировщика
type stubChunk struct {
	addr chunkaddress.Address
}

func (c *stubChunk) Address() chunkaddress.Address { return c.addr }
func (c *stubChunk) Tile(x, y int) int32           { return int32(x + y) }
func (c *stubChunk) Height(x, y int) float32       { return 0 }
func (c *stubChunk) TilesPerChunk() int            { return 16 }

// stubProducer считает вызовы, запоминает их порядок и умеет блокироваться
// до выдачи токена и отказывать заданное число раз по ключу.
type stubProducer struct {
	mu       sync.Mutex
	calls    map[string]int
	order    []string
	failNext map[string]int
	tokens   chan struct{} // nil — без блокировки
}

func newStubProducer(blocking bool) *stubProducer {
	p := &stubProducer{
		calls:    make(map[string]int),
		failNext: make(map[string]int),
	}
	if blocking {
		p.tokens = make(chan struct{}, 1024)
	}
	return p
}

func (p *stubProducer) Produce(ctx context.Context, addr chunkaddress.Address) (worldinterfaces.ChunkData, error) {
	key := addr.Key()
	p.mu.Lock()
	p.calls[key]++
	p.order = append(p.order, key)
	fail := p.failNext[key] > 0
	if fail {
		p.failNext[key]--
	}
	p.mu.Unlock()

	if p.tokens != nil {
		select {
		case <-p.tokens:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("stub: отказ генерации")
	}
	return &stubChunk{addr: addr}, nil
}

func (p *stubProducer) release(n int) {
	for i := 0; i < n; i++ {
		p.tokens <- struct{}{}
	}
}

func (p *stubProducer) callCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

func (p *stubProducer) callOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

func newStreamer(t *testing.T, producer worldinterfaces.ChunkProducer, maxConcurrent int) *chunkmanager.ChunkStreamer {
	t.Helper()
	s, err := chunkmanager.NewChunkStreamer(chunkmanager.Config{
		Producer:      producer,
		MaxConcurrent: maxConcurrent,
		ChunkSize:     chunkSize,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func await(t *testing.T, req *chunkmanager.ChunkRequest) (worldinterfaces.ChunkData, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return req.Await(ctx)
}

// Начальный спавн в плоском режиме: радиус 160 м при чанке 64 м даёт
// квадрат 7x7 вокруг камеры.
func TestInitialSpawnFlat(t *testing.T) {
	visible := chunkmanager.FlatChunkDistances(spheremath.Vec3{}, 160, chunkSize)
	require.Len(t, visible, 49)
	for cx := -3; cx <= 3; cx++ {
		for cy := -3; cy <= 3; cy++ {
			key := chunkaddress.Flat(cx, cy).Key()
			require.Contains(t, visible, key)
		}
	}
	assert.Equal(t, 0, visible["0,0"])
	assert.Equal(t, 6, visible["3,3"])

	producer := newStubProducer(true)
	s := newStreamer(t, producer, 2)
	s.UpdateVisible(visible)

	producer.release(25)
	require.Eventually(t, func() bool {
		return s.Progress().Loaded >= 25
	}, 5*time.Second, time.Millisecond)

	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.Loaded, 25)
	assert.LessOrEqual(t, stats.Pending, 2)
	assert.Equal(t, 2, stats.MaxConcurrent)
	assert.Equal(t, "flat", stats.Mode)

	// Добираем остаток
	producer.release(49 - 25)
	require.Eventually(t, func() bool {
		return s.Progress().Loaded == 49 && s.Progress().Pending == 0 && s.Progress().Queued == 0
	}, 5*time.Second, time.Millisecond)
}

// Повышение приоритета: повторный запрос ключа с лучшим приоритетом
// обгоняет ранее поставленные, генерация вызывается один раз.
func TestPriorityUpgrade(t *testing.T) {
	producer := newStubProducer(true)
	s := newStreamer(t, producer, 1)

	// Занимаем единственный слот
	blocker, err := s.RequestChunk("9,9", 0, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return producer.callCount("9,9") == 1 }, time.Second, time.Millisecond)

	_, err = s.RequestChunk("5,5", 5, nil)
	require.NoError(t, err)
	reqA1, err := s.RequestChunk("1,1", 10, nil)
	require.NoError(t, err)
	reqA2, err := s.RequestChunk("1,1", 1, nil)
	require.NoError(t, err)
	assert.Same(t, reqA1, reqA2, "повторный запрос должен склеиться с существующим")

	producer.release(3)
	_, err = await(t, blocker)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Progress().Loaded == 3
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, 1, producer.callCount("1,1"))
	assert.Equal(t, []string{"9,9", "1,1", "5,5"}, producer.callOrder())
}

// Отмена дифом: ключ, ушедший из видимости до запуска, выкидывается из
// очереди без вызова генерации, его колбэки отбрасываются.
func TestCancelByDiff(t *testing.T) {
	producer := newStubProducer(true)
	s := newStreamer(t, producer, 1)

	blockerKey := "9,9"
	_, err := s.RequestChunk(blockerKey, 0, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return producer.callCount(blockerKey) == 1 }, time.Second, time.Millisecond)

	cbCalled := false
	reqB, err := s.RequestChunk("2,2", 5, func(worldinterfaces.ChunkData) { cbCalled = true })
	require.NoError(t, err)

	// B пропал из видимости, блокирующий ключ остался
	s.UpdateVisible(map[string]int{blockerKey: 0})

	_, err = await(t, reqB)
	assert.ErrorIs(t, err, chunkmanager.ErrCanceled)
	assert.False(t, cbCalled, "колбэки отменённого запроса не должны вызываться")

	producer.release(1)
	require.Eventually(t, func() bool { return s.Progress().Loaded == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 0, producer.callCount("2,2"))
}

// Отказ генерации: чанк не попадает в кеш, следующий диф перезапрашивает,
// вторая попытка успешна и колбэки срабатывают в порядке регистрации.
func TestProducerFailureThenRetry(t *testing.T) {
	producer := newStubProducer(false)
	producer.failNext["3,3"] = 1
	s := newStreamer(t, producer, 2)

	visible := map[string]int{"3,3": 0}
	var mu sync.Mutex
	var got []worldinterfaces.ChunkData
	var failedKeys []string

	s.OnChunkFailed(func(key string, err error) {
		mu.Lock()
		failedKeys = append(failedKeys, key)
		mu.Unlock()
	})

	req, err := s.RequestChunk("3,3", 0, func(data worldinterfaces.ChunkData) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = await(t, req)
	require.Error(t, err)
	assert.False(t, s.IsLoaded("3,3"))
	mu.Lock()
	require.Len(t, got, 1)
	assert.Nil(t, got[0], "колбэк при отказе вызывается с nil")
	assert.Equal(t, []string{"3,3"}, failedKeys)
	mu.Unlock()

	// Ключ всё ещё видим: диф перезапрашивает
	s.UpdateVisible(visible)
	require.Eventually(t, func() bool { return s.IsLoaded("3,3") }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 2, producer.callCount("3,3"))
}

// Единственный слот сериализует работу и сохраняет FIFO при равном приоритете
func TestMaxConcurrentOneFIFO(t *testing.T) {
	producer := newStubProducer(true)
	s := newStreamer(t, producer, 1)

	keys := []string{"0,0", "1,0", "2,0", "3,0"}
	for _, k := range keys {
		_, err := s.RequestChunk(k, 7, nil)
		require.NoError(t, err)
	}
	producer.release(len(keys))
	require.Eventually(t, func() bool { return s.Progress().Loaded == len(keys) }, 5*time.Second, time.Millisecond)
	assert.Equal(t, keys, producer.callOrder())
}

// Повторный запрос одного ключа порождает ровно один вызов генерации
func TestCoalescingSingleProducerCall(t *testing.T) {
	producer := newStubProducer(true)
	s := newStreamer(t, producer, 2)

	var calls int
	var mu sync.Mutex
	onReady := func(worldinterfaces.ChunkData) {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	req1, err := s.RequestChunk("4,4", 3, onReady)
	require.NoError(t, err)
	req2, err := s.RequestChunk("4,4", 3, onReady)
	require.NoError(t, err)
	assert.Same(t, req1, req2)

	producer.release(1)
	_, err = await(t, req1)
	require.NoError(t, err)
	assert.Equal(t, 1, producer.callCount("4,4"))

	mu.Lock()
	assert.Equal(t, 2, calls, "оба колбэка должны сработать")
	mu.Unlock()

	// Уже загруженный ключ разрешается синхронно
	resolvedNow := false
	req3, err := s.RequestChunk("4,4", 3, func(data worldinterfaces.ChunkData) {
		resolvedNow = data != nil
	})
	require.NoError(t, err)
	assert.True(t, resolvedNow)
	data, err := req3.Result()
	require.NoError(t, err)
	assert.Equal(t, "4,4", data.Address().Key())
	assert.Equal(t, 1, producer.callCount("4,4"))
}

func TestUnloadIdempotent(t *testing.T) {
	producer := newStubProducer(false)
	s := newStreamer(t, producer, 2)

	req, err := s.RequestChunk("1,2", 0, nil)
	require.NoError(t, err)
	_, err = await(t, req)
	require.NoError(t, err)

	var events []string
	s.OnChunkUnloading(func(key string) {
		assert.True(t, s.IsLoaded(key), "до удаления чанк ещё резидентен")
		events = append(events, "unloading:"+key)
	})
	s.OnChunkUnloaded(func(key string) { events = append(events, key) })

	s.Unload("1,2")
	s.Unload("1,2") // повтор — no-op
	s.Unload("нет такого ключа")

	assert.False(t, s.IsLoaded("1,2"))
	assert.Equal(t, []string{"unloading:1,2", "1,2"}, events)
}

// Пустое множество видимости выгружает всё резидентное
func TestEmptyVisibleSetUnloadsAll(t *testing.T) {
	producer := newStubProducer(false)
	s := newStreamer(t, producer, 2)

	s.UpdateVisible(map[string]int{"0,0": 0, "1,0": 1, "0,1": 1})
	require.Eventually(t, func() bool { return s.Progress().Loaded == 3 }, 5*time.Second, time.Millisecond)

	s.UpdateVisible(map[string]int{})
	assert.Equal(t, 0, s.Progress().Loaded)
	assert.Empty(t, s.LoadedKeys())
}

func TestBadKeyRejected(t *testing.T) {
	producer := newStubProducer(false)
	s := newStreamer(t, producer, 2)

	_, err := s.RequestChunk("мусор", 0, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Progress().Queued)
}

// Прогресс публикуется после каждого завершения
func TestProgressNotifications(t *testing.T) {
	producer := newStubProducer(false)
	s := newStreamer(t, producer, 2)

	var mu sync.Mutex
	var snapshots []chunkmanager.Progress
	s.OnProgress(func(p chunkmanager.Progress) {
		mu.Lock()
		snapshots = append(snapshots, p)
		mu.Unlock()
	})

	s.UpdateVisible(map[string]int{"0,0": 0, "1,1": 1})
	require.Eventually(t, func() bool { return s.Progress().Loaded == 2 }, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 2)
	// Порядок доставки снимков между воркерами не гарантирован, но снимок
	// последнего завершения обязан присутствовать
	assert.Contains(t, snapshots, chunkmanager.Progress{Loaded: 2, Pending: 0, Queued: 0})
	for _, p := range snapshots {
		assert.LessOrEqual(t, p.Pending, 2)
	}
}

// Планетарный ключ разбирается и доходит до генератора типизированным адресом
func TestPlanetaryKeyDispatch(t *testing.T) {
	producer := newStubProducer(false)
	s := newStreamer(t, producer, 2)

	req, err := s.RequestChunk("4:15,8:0", 0, nil)
	require.NoError(t, err)
	data, err := await(t, req)
	require.NoError(t, err)
	addr := data.Address()
	assert.True(t, addr.Planetary)
	assert.Equal(t, spheremath.FacePosZ, addr.Face)
	assert.Equal(t, 15, addr.CX)
	assert.Equal(t, 8, addr.CY)
}

// TileAt в плоском режиме: известный чанк отдаёт тайл, незагруженный — сентинел
func TestTileAtFlat(t *testing.T) {
	producer := newStubProducer(false)
	s := newStreamer(t, producer, 2)

	assert.Equal(t, chunkmanager.TileUnknown, s.TileAt(spheremath.Vec3{X: 10, Z: 10}))

	req, err := s.RequestChunk("0,0", 0, nil)
	require.NoError(t, err)
	_, err = await(t, req)
	require.NoError(t, err)

	tile := s.TileAt(spheremath.Vec3{X: 10, Z: 10})
	assert.NotEqual(t, chunkmanager.TileUnknown, tile)

	// Отрицательные координаты попадают в чанк (-1,-1)
	assert.Equal(t, chunkmanager.TileUnknown, s.TileAt(spheremath.Vec3{X: -1, Z: -1}))
}

func TestRequestAfterClose(t *testing.T) {
	producer := newStubProducer(false)
	s, err := chunkmanager.NewChunkStreamer(chunkmanager.Config{Producer: producer})
	require.NoError(t, err)
	s.Close()

	_, err = s.RequestChunk("0,0", 0, nil)
	assert.ErrorIs(t, err, chunkmanager.ErrClosed)
}
