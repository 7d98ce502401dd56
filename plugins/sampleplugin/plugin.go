package main

import (
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/plugin"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

// CraterPluginConfig is the YAML-configurable tuning for the crater generator.
type CraterPluginConfig struct {
	// CratersPerChunk is the average crater count seeded into each chunk.
	CratersPerChunk int `yaml:"craters_per_chunk"`
	// MaxRadiusTiles limits the crater radius in tiles.
	MaxRadiusTiles int `yaml:"max_radius_tiles"`
	// DepthMeters is the maximum depression depth at the crater center.
	DepthMeters float64 `yaml:"depth_meters"`
}

// craterGenerator carves bowl-shaped depressions into freshly produced chunks.
// Placement is deterministic per chunk address so reloads reproduce the terrain.
type craterGenerator struct {
	reg    plugin.PluginRegistry
	seeded int64
}

func (g *craterGenerator) Name() string { return "craters" }

// config returns the current plugin config. LoadPluginConfig may replace the
// stored pointer after YAML parsing, so it is fetched on every Apply.
func (g *craterGenerator) config() *CraterPluginConfig {
	cfg, _ := g.reg.PluginConfig("sampleplugin").(*CraterPluginConfig)
	return cfg
}

func (g *craterGenerator) Apply(chunk worldinterfaces.MutableChunkData) error {
	cfg := g.config()
	side := chunk.TilesPerChunk()
	if cfg == nil || side == 0 || cfg.MaxRadiusTiles <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(chunkSeed(chunk.Address())))
	for i := 0; i < cfg.CratersPerChunk; i++ {
		cx := rng.Intn(side)
		cy := rng.Intn(side)
		radius := 2 + rng.Intn(cfg.MaxRadiusTiles)
		g.carve(chunk, cx, cy, radius, cfg.DepthMeters)
		atomic.AddInt64(&g.seeded, 1)
	}
	return nil
}

// carve lowers heights inside the crater rim with a smooth falloff.
func (g *craterGenerator) carve(chunk worldinterfaces.MutableChunkData, cx, cy, radius int, depthMeters float64) {
	side := chunk.TilesPerChunk()
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if x < 0 || y < 0 || x >= side || y >= side {
				continue
			}
			dx := float64(x - cx)
			dy := float64(y - cy)
			dist := math.Sqrt(dx*dx+dy*dy) / float64(radius)
			if dist >= 1 {
				continue
			}
			depth := depthMeters * (1 - dist*dist)
			chunk.SetHeight(x, y, chunk.Height(x, y)-float32(depth))
		}
	}
}

// chunkSeed derives a stable RNG seed from a chunk address.
func chunkSeed(addr chunkaddress.Address) int64 {
	h := fnv.New64a()
	h.Write([]byte(addr.Key()))
	return int64(h.Sum64())
}

// Register is invoked by PluginManager to register feature generators and hooks.
func Register(reg plugin.PluginRegistry) {
	// Defaults; overridden by sampleplugin.yaml when present.
	reg.RegisterPluginConfig("sampleplugin", &CraterPluginConfig{
		CratersPerChunk: 2,
		MaxRadiusTiles:  6,
		DepthMeters:     12,
	})

	gen := &craterGenerator{reg: reg}
	reg.RegisterFeatureGenerator(gen)

	// Sample plugin hook: log every chunk the world produces
	reg.RegisterHook(plugin.HookAfterChunkProduce, func(args ...interface{}) {
		if len(args) == 1 {
			if chunk, ok := args[0].(worldinterfaces.ChunkData); ok {
				log.Printf("[SamplePlugin] chunk produced: %s", chunk.Address().Key())
			}
		}
	})

	// Sample plugin CLI command: show crater stats and config
	reg.RegisterCommand("craterinfo", "Show crater plugin stats", func(args []string) (string, error) {
		// Access loaded config (may have been replaced by YAML load)
		current := reg.PluginConfig("sampleplugin").(*CraterPluginConfig)
		return fmt.Sprintf("Craters seeded: %d (per chunk: %d, max radius: %d tiles, depth: %.1f m)\n",
			atomic.LoadInt64(&gen.seeded), current.CratersPerChunk, current.MaxRadiusTiles, current.DepthMeters), nil
	})
}

// main is required to link the package; it is never called when the
// package is built with -buildmode=plugin.
func main() {}
