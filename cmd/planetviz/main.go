package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	termbox "github.com/nsf/termbox-go"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/noisegeneration"
	"github.com/annelo/go-planet-server/internal/storage"
	"github.com/annelo/go-planet-server/internal/worldgen"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

var (
	seed          = flag.Int64("seed", 42, "Сид генерации")
	topology      = flag.String("topology", "flat", "Топология: flat или spherical")
	face          = flag.Int("face", 0, "Грань кубосферы (0-5, только spherical)")
	tilesPerChunk = flag.Int("tiles", 16, "Тайлов на сторону чанка")
	chunksPerFace = flag.Int("chunksPerFace", 16, "Чанков на сторону грани (spherical)")
	worldPath     = flag.String("path", "", "Каталог хранилища; пустой = генерация на лету")
	worldName     = flag.String("name", "default", "Название мира в хранилище")
	zoom          = flag.Int("zoom", 1, "Коэффициент масштабирования тайла -> символов (1-4)")
	startX        = flag.Int("startX", 0, "Начальная тайловая координата X камеры")
	startY        = flag.Int("startY", 0, "Начальная тайловая координата Y камеры")
)

func main() {
	flag.Parse()

	gen := worldgen.NewGenerator(worldgen.Config{
		Seed:          *seed,
		TilesPerChunk: *tilesPerChunk,
		ChunksPerFace: *chunksPerFace,
	})

	// Если задан путь к хранилищу, сохранённые чанки первичны
	var store *storage.BinaryStorage
	if *worldPath != "" {
		var err error
		store, err = storage.NewBinaryStorage(*worldPath, *worldName, *seed)
		if err != nil {
			log.Fatalf("cannot open world storage: %v", err)
		}
		defer store.Close()
	}

	// Инициализируем termbox
	if err := termbox.Init(); err != nil {
		log.Fatalf("termbox init error: %v", err)
	}
	defer termbox.Close()

	// Кеш чанков в памяти
	chunkCache := make(map[string]worldinterfaces.ChunkData)

	// Позиция камеры и курсора
	camX, camY := *startX, *startY
	curX, curY := 0, 0 // экранные координаты курсора

	draw := func() {
		termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)

		width, height := termbox.Size()
		sx := *zoom
		sy := *zoom

		// Проходим по экранным координатам и выводим тайлы
		for py := 2; py < height; py += sy {
			for px := 0; px < width; px += sx {
				tileX := camX + px/sx
				tileY := camY + (py-2)/sy

				tile, _ := getTile(gen, store, chunkCache, tileX, tileY)
				ch, fg, bg := tileSymbol(tile)

				// Рисуем символы в пределах зума
				for dy := 0; dy < sy && py+dy < height; dy++ {
					for dx := 0; dx < sx && px+dx < width; dx++ {
						termbox.SetCell(px+dx, py+dy, ch, fg, bg)
					}
				}
			}
		}

		// Выделяем курсор (инвертируем цвета)
		if curX < width && curY+2 < height {
			cell := termbox.CellBuffer()[(curY+2)*width+curX]
			termbox.SetCell(curX, curY+2, cell.Ch, cell.Bg|termbox.AttrBold, cell.Fg)
		}

		// Заголовок
		header := fmt.Sprintf("Seed=%d %s face=%d  Cam=(%d,%d)  Zoom=%dx", *seed, *topology, *face, camX, camY, *zoom)
		for i, r := range header {
			termbox.SetCell(i, 0, r, termbox.ColorYellow|termbox.AttrBold, termbox.ColorBlack)
		}

		// Информация о тайле под курсором
		tx := camX + curX/sx
		ty := camY + curY/sy
		tile, h := getTile(gen, store, chunkCache, tx, ty)
		info := fmt.Sprintf("Tile (%d,%d) %s height=%.1fm chunk=%s", tx, ty, tileName(tile), h, addressFor(tx, ty).Key())
		for i, r := range info {
			if i >= width {
				break
			}
			termbox.SetCell(i, 1, r, termbox.ColorWhite, termbox.ColorBlack)
		}

		termbox.Flush()
	}

	draw()

	// Основной цикл
	for {
		switch ev := termbox.PollEvent(); ev.Type {
		case termbox.EventKey:
			switch ev.Key {
			case termbox.KeyEsc, termbox.KeyCtrlC:
				return
			case termbox.KeyArrowLeft:
				camX--
			case termbox.KeyArrowRight:
				camX++
			case termbox.KeyArrowUp:
				camY--
			case termbox.KeyArrowDown:
				camY++
			default:
				if ev.Ch == 'q' {
					return
				}
				if ev.Ch == '+' && *zoom < 4 {
					*zoom++
				}
				if ev.Ch == '-' && *zoom > 1 {
					*zoom--
				}
				// Цифры переключают грань кубосферы
				if ev.Ch >= '0' && ev.Ch <= '5' && *topology == "spherical" {
					*face = int(ev.Ch - '0')
					chunkCache = make(map[string]worldinterfaces.ChunkData)
				}
				// WASD для курсора
				width, height := termbox.Size()
				sx, sy := *zoom, *zoom
				if ev.Ch == 'a' && curX > 0 {
					curX -= sx
				}
				if ev.Ch == 'd' && curX < width-sx {
					curX += sx
				}
				if ev.Ch == 'w' && curY > 0 {
					curY -= sy
				}
				if ev.Ch == 's' && curY < height-sy {
					curY += sy
				}
			}
			draw()
		case termbox.EventError:
			log.Printf("termbox error: %v", ev.Err)
			return
		case termbox.EventResize:
			draw()
		}
	}
}

// Возвращает символ и цвета для типа тайла
func tileSymbol(tile int32) (rune, termbox.Attribute, termbox.Attribute) {
	switch noisegeneration.TileType(tile) {
	case noisegeneration.TileOcean:
		return '~', termbox.ColorBlue, termbox.ColorBlack
	case noisegeneration.TileBeach:
		return ',', termbox.ColorYellow, termbox.ColorBlack
	case noisegeneration.TileDesert:
		return '.', termbox.ColorYellow, termbox.ColorBlack
	case noisegeneration.TilePlains:
		return '_', termbox.ColorGreen, termbox.ColorBlack
	case noisegeneration.TileForest:
		return '@', termbox.ColorGreen, termbox.ColorBlack
	case noisegeneration.TileTaiga:
		return '|', termbox.ColorCyan, termbox.ColorBlack
	case noisegeneration.TileMountain:
		return '#', termbox.ColorWhite, termbox.ColorBlack
	case noisegeneration.TileSnow:
		return '*', termbox.ColorWhite, termbox.ColorBlue
	default:
		return ' ', termbox.ColorDefault, termbox.ColorDefault
	}
}

func tileName(tile int32) string {
	switch noisegeneration.TileType(tile) {
	case noisegeneration.TileOcean:
		return "ocean"
	case noisegeneration.TileBeach:
		return "beach"
	case noisegeneration.TileDesert:
		return "desert"
	case noisegeneration.TilePlains:
		return "plains"
	case noisegeneration.TileForest:
		return "forest"
	case noisegeneration.TileTaiga:
		return "taiga"
	case noisegeneration.TileMountain:
		return "mountain"
	case noisegeneration.TileSnow:
		return "snow"
	default:
		return "?"
	}
}

// addressFor переводит тайловые координаты камеры в адрес чанка
func addressFor(tx, ty int) chunkaddress.Address {
	cx := floorDiv(tx, *tilesPerChunk)
	cy := floorDiv(ty, *tilesPerChunk)
	if *topology == "spherical" {
		return chunkaddress.Planetary(*face, cx, cy, 0)
	}
	return chunkaddress.Flat(cx, cy)
}

// getTile возвращает тип тайла и высоту в метрах для мировых тайловых координат
func getTile(gen *worldgen.Generator, store *storage.BinaryStorage, cache map[string]worldinterfaces.ChunkData, tx, ty int) (int32, float64) {
	cx := floorDiv(tx, *tilesPerChunk)
	cy := floorDiv(ty, *tilesPerChunk)
	// Грань конечна, за её пределами чанков нет
	if *topology == "spherical" && (cx < 0 || cx >= *chunksPerFace || cy < 0 || cy >= *chunksPerFace) {
		return -1, 0
	}

	addr := addressFor(tx, ty)
	key := addr.Key()
	chunk, ok := cache[key]
	if !ok {
		// Сначала пробуем хранилище, потом генерацию
		if store != nil {
			if saved, err := store.ChunkStore().LoadChunk(addr); err == nil && saved != nil {
				chunk = saved
			}
		}
		if chunk == nil {
			c, err := gen.Produce(context.Background(), addr)
			if err != nil {
				cache[key] = nil
				return -1, 0
			}
			chunk = c
		}
		cache[key] = chunk
	}
	if chunk == nil {
		return -1, 0
	}

	lx := tx - cx**tilesPerChunk
	ly := ty - cy**tilesPerChunk
	return chunk.Tile(lx, ly), float64(chunk.Height(lx, ly))
}

// floorDiv делит с округлением вниз, чтобы отрицательные координаты попадали в свой чанк
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
