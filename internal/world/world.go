// Package world отвечает за инициализацию и связывание компонентов игрового мира
package world

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkmanager"
	"github.com/annelo/go-planet-server/internal/spheremap"
	"github.com/annelo/go-planet-server/internal/spheremath"
	"github.com/annelo/go-planet-server/internal/storage"
	"github.com/annelo/go-planet-server/internal/worldgen"
)

// Config описывает параметры создаваемого мира
type Config struct {
	Name     string
	Seed     int64
	Topology string // flat | spherical

	// Radius планеты в метрах; используется только в spherical
	Radius        float64
	ChunkSize     float64
	TilesPerChunk int
	ChunksPerFace int
	MaxConcurrent int

	// StoragePath — каталог хранилища; пустая строка отключает персистентность
	StoragePath string
}

// World связывает генератор, стример и хранилище одной вселенной
type World struct {
	Info      storage.WorldInfo
	Generator *worldgen.Generator
	Streamer  *chunkmanager.ChunkStreamer
	// Storage равен nil для неперсистентного мира
	Storage storage.WorldStorage
	// Mapper равен nil в плоской топологии
	Mapper *spheremap.Mapper

	// Действующие параметры сетки после подстановки значений по умолчанию
	ChunkSize     float64
	TilesPerChunk int
	ChunksPerFace int
}

// New создает игровой мир: открывает хранилище, восстанавливает параметры
// сохранённого мира и собирает цепочку генератор -> стример.
func New(cfg Config) (*World, error) {
	if cfg.Topology == "" {
		cfg.Topology = "flat"
	}
	if cfg.Topology != "flat" && cfg.Topology != "spherical" {
		return nil, fmt.Errorf("world: неизвестная топология %q", cfg.Topology)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunkmanager.DefaultChunkSize
	}
	if cfg.TilesPerChunk <= 0 {
		cfg.TilesPerChunk = chunkmanager.DefaultTilesPerChunk
	}
	if cfg.ChunksPerFace <= 0 {
		cfg.ChunksPerFace = worldgen.DefaultChunksPerFace
	}

	info := storage.WorldInfo{
		Name:      cfg.Name,
		Seed:      cfg.Seed,
		Version:   "1",
		Topology:  cfg.Topology,
		Radius:    cfg.Radius,
		CreatedAt: time.Now().Unix(),
	}

	var store *storage.BinaryStorage
	if cfg.StoragePath != "" {
		var err error
		store, err = storage.NewBinaryStorage(cfg.StoragePath, cfg.Name, cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("world: не удалось открыть хранилище: %w", err)
		}

		// Сохранённый мир первичен: его сид и топология перекрывают конфиг.
		// Пустое хранилище (ни одного чанка) ещё не мир, его параметры
		// перезаписываются конфигом.
		saved, loadErr := store.LoadWorld(context.Background())
		chunks, _ := store.ListChunks(context.Background())
		switch {
		case loadErr == nil && len(chunks) > 0:
			if saved.Topology != "" && saved.Topology != cfg.Topology {
				log.Printf("[World] хранилище содержит мир с топологией %s, конфиг %s игнорируется",
					saved.Topology, cfg.Topology)
			}
			info = *saved
			if info.Name == "" {
				info.Name = cfg.Name
			}
			if info.Radius == 0 {
				info.Radius = cfg.Radius
			}
		default:
			if err := store.SaveWorld(context.Background(), &info); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("world: не удалось сохранить параметры мира: %w", err)
			}
		}
	}

	genCfg := worldgen.Config{
		Seed:          info.Seed,
		TilesPerChunk: cfg.TilesPerChunk,
		ChunksPerFace: cfg.ChunksPerFace,
		ChunkSize:     cfg.ChunkSize,
	}
	if store != nil {
		genCfg.Store = store.ChunkStore()
	}
	gen := worldgen.NewGenerator(genCfg)

	var mapper *spheremap.Mapper
	streamerCfg := chunkmanager.Config{
		Producer:      gen,
		MaxConcurrent: cfg.MaxConcurrent,
		TilesPerChunk: cfg.TilesPerChunk,
		ChunkSize:     cfg.ChunkSize,
	}
	if info.Topology == "spherical" {
		mapper = spheremap.NewMapper(spheremath.Vec3{}, info.Radius, cfg.ChunkSize, cfg.ChunksPerFace)
		streamerCfg.UseSphericalProjection = true
		streamerCfg.Mapper = mapper
	}

	streamer, err := chunkmanager.NewChunkStreamer(streamerCfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	w := &World{
		Info:          info,
		Generator:     gen,
		Streamer:      streamer,
		Mapper:        mapper,
		ChunkSize:     cfg.ChunkSize,
		TilesPerChunk: cfg.TilesPerChunk,
		ChunksPerFace: cfg.ChunksPerFace,
	}
	if store != nil {
		w.Storage = store
	}
	return w, nil
}

// Close останавливает стример и закрывает хранилище
func (w *World) Close() {
	w.Streamer.Close()
	w.Generator.WaitSaves()
	if w.Storage != nil {
		if err := w.Storage.Flush(context.Background()); err != nil {
			log.Printf("[World] ошибка сохранения при закрытии: %v", err)
		}
		if err := w.Storage.Close(); err != nil {
			log.Printf("[World] ошибка закрытия хранилища: %v", err)
		}
	}
}
