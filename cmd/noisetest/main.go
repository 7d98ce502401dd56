package main

import (
	"flag"
	"fmt"
	"math"
	"time"

	"github.com/annelo/go-planet-server/internal/noisegeneration"
)

const (
	width  = 40
	height = 20
)

var (
	seedFlag = flag.Int64("seed", 0, "Сид генерации (0 = текущее время)")
	scale    = flag.Float64("scale", 5, "Шаг выборки шума в метрах")
	sphere   = flag.Bool("sphere", false, "Выборка по поверхности сферы вместо плоскости")
)

func main() {
	flag.Parse()

	seed := *seedFlag
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	fmt.Printf("Seed: %d\n", seed)

	noise := noisegeneration.NewTerrainNoise(seed)

	// Визуализируем карту высот
	fmt.Println("\nКарта высот:")
	visualizeHeightMap(noise)

	// Визуализируем карту тайлов
	fmt.Println("\nКарта тайлов:")
	visualizeTileMap(noise)
}

// sample выбирает шум либо на плоскости, либо на участке сферы вокруг экватора
func sample(noise *noisegeneration.TerrainNoise, x, y int) (float64, float64, float64) {
	if *sphere {
		// Переводим экранные координаты в направление на единичной сфере
		lon := float64(x) / float64(width) * math.Pi / 4
		lat := float64(y) / float64(height) * math.Pi / 4
		dx := math.Cos(lat) * math.Cos(lon)
		dy := math.Sin(lat)
		dz := math.Cos(lat) * math.Sin(lon)
		return noise.SampleSphere(dx, dy, dz)
	}
	return noise.SampleFlat(float64(x)**scale, float64(y)**scale)
}

// visualizeHeightMap визуализирует карту высот шума Перлина
func visualizeHeightMap(noise *noisegeneration.TerrainNoise) {
	// Символы для различных высот от низкой к высокой
	chars := []rune{'~', '.', '-', '=', '#', '^', '*', '@'}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			h, _, _ := sample(noise, x, y)

			// Определяем символ для визуализации на основе высоты
			idx := int(h * float64(len(chars)-1))
			if idx < 0 {
				idx = 0
			}
			if idx >= len(chars) {
				idx = len(chars) - 1
			}

			fmt.Print(string(chars[idx]))
		}
		fmt.Println()
	}
}

// visualizeTileMap визуализирует карту типов тайлов
func visualizeTileMap(noise *noisegeneration.TerrainNoise) {
	// Символы для различных типов тайлов
	tileChars := map[noisegeneration.TileType]rune{
		noisegeneration.TileOcean:    '~', // вода
		noisegeneration.TileBeach:    ',', // песок
		noisegeneration.TileDesert:   '.', // пустыня
		noisegeneration.TilePlains:   '_', // равнины
		noisegeneration.TileForest:   'f', // лес
		noisegeneration.TileTaiga:    't', // тайга
		noisegeneration.TileMountain: '^', // горы
		noisegeneration.TileSnow:     '*', // снег
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			h, moisture, temperature := sample(noise, x, y)

			tile := noisegeneration.ClassifyTile(h, moisture, temperature)

			fmt.Print(string(tileChars[tile]))
		}
		fmt.Println()
	}
}
