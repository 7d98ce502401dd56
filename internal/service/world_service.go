// Package service реализует websocket-поверхность мира: рукопожатие
// рендерера, приём обновлений позиции и рассылку событий стриминга.
package service

import (
	"expvar"
	"sync"

	"go.uber.org/zap"

	"github.com/annelo/go-planet-server/internal/altitude"
	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/chunkmanager"
	"github.com/annelo/go-planet-server/internal/gameloop"
	"github.com/annelo/go-planet-server/internal/plugin"
	"github.com/annelo/go-planet-server/internal/storage"
	"github.com/annelo/go-planet-server/internal/viewer"
	"github.com/annelo/go-planet-server/internal/worldgen"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

const (
	// sendQueueSize is the maximum number of messages in send queues per client.
	sendQueueSize = 1024
)

// Config собирает зависимости сервиса. Generator и Streamer обязательны,
// Storage может быть nil для неперсистентного мира.
type Config struct {
	Logger    *zap.SugaredLogger
	Registry  plugin.PluginRegistry
	Generator *worldgen.Generator
	Streamer  *chunkmanager.ChunkStreamer
	Storage   storage.WorldStorage
	// World — параметры мира, которые уходят рендереру в WELCOME
	World         storage.WorldInfo
	ChunkSize     float64
	TilesPerChunk int
	ChunksPerFace int

	// Altitude переопределяет пороги высотных зон; nil = значения по умолчанию
	Altitude *altitude.Config
}

// WorldService представляет собой websocket-сервис игрового мира
type WorldService struct {
	// logger for structured logging
	logger    *zap.SugaredLogger
	viewers   *viewer.ViewerManager
	streamer  *chunkmanager.ChunkStreamer
	generator *worldgen.Generator
	storage   storage.WorldStorage
	world     storage.WorldInfo

	chunkSize     float64
	tilesPerChunk int
	chunksPerFace int

	// Мьютекс для синхронизации доступа к карте соединений
	mu sync.RWMutex

	// Карта активных клиентских соединений по ID наблюдателя
	conns map[string]*clientConn

	// игровая петля
	loop *gameloop.Loop

	// Реестр плагинов с генераторами объектов и системами
	registry plugin.PluginRegistry
}

// NewWorldService создает новый экземпляр сервиса игрового мира.
// Core-системы цикла и генераторы объектов из реестра подключаются здесь.
func NewWorldService(cfg Config) *WorldService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = plugin.NewDefaultRegistry()
	}

	// Регистрируем core-системы в реестре
	reg.RegisterGameSystem(gameloop.NewStreamingSystem())
	reg.RegisterGameSystem(gameloop.NewProgressSystem())
	if cfg.Storage != nil {
		reg.RegisterGameSystem(gameloop.NewAutosaveSystem(0))
	}

	ws := &WorldService{
		logger:        logger,
		registry:      reg,
		viewers:       viewer.NewViewerManager(altitudeConfigFor(cfg)),
		streamer:      cfg.Streamer,
		generator:     cfg.Generator,
		storage:       cfg.Storage,
		world:         cfg.World,
		chunkSize:     cfg.ChunkSize,
		tilesPerChunk: cfg.TilesPerChunk,
		chunksPerFace: cfg.ChunksPerFace,
		conns:         make(map[string]*clientConn),
	}

	// Подключаем генераторы объектов поверхности из реестра плагинов
	if ws.generator != nil {
		for _, fg := range reg.FeatureGenerators() {
			ws.generator.AddFeatureGenerator(fg)
		}
	}
	ws.wireLifecycleHooks()
	return ws
}

// wireLifecycleHooks проводит хуки жизненного цикла чанков из реестра
// плагинов в генератор и стример. Список хуков запрашивается в момент
// события, поэтому перезагрузка плагинов не требует переподключения.
func (s *WorldService) wireLifecycleHooks() {
	if s.generator != nil {
		s.generator.OnBeforeProduce(func(addr chunkaddress.Address) {
			for _, fn := range s.registry.Hooks(plugin.HookBeforeChunkProduce) {
				fn(addr)
			}
		})
		s.generator.OnAfterProduce(func(chunk worldinterfaces.ChunkData) {
			for _, fn := range s.registry.Hooks(plugin.HookAfterChunkProduce) {
				fn(chunk)
			}
		})
	}
	if s.streamer != nil {
		s.streamer.OnChunkUnloading(func(key string) {
			for _, fn := range s.registry.Hooks(plugin.HookBeforeChunkUnload) {
				fn(key)
			}
		})
		s.streamer.OnChunkUnloaded(func(key string) {
			for _, fn := range s.registry.Hooks(plugin.HookAfterChunkUnload) {
				fn(key)
			}
		})
	}
}

// altitudeConfigFor строит конфигурацию высотных трекеров из параметров мира.
// Для плоского мира радиус нулевой: высота считается по оси Y.
func altitudeConfigFor(cfg Config) altitude.Config {
	ac := altitude.Config{ChunkSize: cfg.ChunkSize}
	if cfg.Altitude != nil {
		ac = *cfg.Altitude
		if ac.ChunkSize == 0 {
			ac.ChunkSize = cfg.ChunkSize
		}
	}
	if cfg.World.Topology == "spherical" && ac.Radius == 0 {
		ac.Radius = cfg.World.Radius
	}
	return ac
}

// Viewers возвращает менеджер наблюдателей сервиса
func (s *WorldService) Viewers() *viewer.ViewerManager { return s.viewers }

// Streamer возвращает стример чанков сервиса
func (s *WorldService) Streamer() *chunkmanager.ChunkStreamer { return s.streamer }

func init() {
	// Инициализируем expvar-счётчики, если приложение запускается без server/main (например, в тестах)
	ensureCounter := func(name string) {
		if expvar.Get(name) == nil {
			expvar.NewInt(name)
		}
	}
	ensureCounter("viewers_connected")
	ensureCounter("chunks_streamed")
	ensureCounter("chunks_unloaded")
}
