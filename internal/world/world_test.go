package world_test

import (
	"context"
	"testing"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/world"
)

func TestNewFlatWorld(t *testing.T) {
	w, err := world.New(world.Config{Name: "flat-test", Seed: 1, Topology: "flat"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if w.Mapper != nil {
		t.Error("плоский мир не должен иметь сферического маппера")
	}
	if w.Storage != nil {
		t.Error("без StoragePath хранилище не создаётся")
	}
	if got := w.Streamer.Mode(); got != "flat" {
		t.Errorf("Mode() = %q, ожидалось flat", got)
	}
}

func TestNewSphericalWorld(t *testing.T) {
	w, err := world.New(world.Config{
		Name:     "planet-test",
		Seed:     7,
		Topology: "spherical",
		Radius:   100000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if w.Mapper == nil {
		t.Fatal("сферический мир обязан иметь маппер")
	}
	if got := w.Streamer.Mode(); got != "spherical" {
		t.Errorf("Mode() = %q, ожидалось spherical", got)
	}
}

func TestNewWorldRejectsUnknownTopology(t *testing.T) {
	if _, err := world.New(world.Config{Name: "bad", Topology: "donut"}); err == nil {
		t.Fatal("ожидалась ошибка для неизвестной топологии")
	}
}

func TestPersistentWorldKeepsSavedSeed(t *testing.T) {
	dir := t.TempDir()

	w1, err := world.New(world.Config{Name: "saved", Seed: 1234, Topology: "flat", StoragePath: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Хотя бы один сохранённый чанк делает мир обжитым
	if _, err := w1.Generator.Produce(context.Background(), chunkaddress.Flat(0, 0)); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	w1.Close()

	// Повторное открытие с другим сидом: побеждает сохранённый
	w2, err := world.New(world.Config{Name: "saved", Seed: 9999, Topology: "flat", StoragePath: dir})
	if err != nil {
		t.Fatalf("повторное New: %v", err)
	}
	defer w2.Close()

	if w2.Info.Seed != 1234 {
		t.Errorf("Seed = %d, ожидался сохранённый 1234", w2.Info.Seed)
	}
}
