package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/annelo/go-planet-server/internal/altitude"
	"github.com/annelo/go-planet-server/internal/plugin"
	"github.com/annelo/go-planet-server/internal/service"
	"github.com/annelo/go-planet-server/internal/world"
)

var (
	listenAddr = flag.String("listen", ":8776", "Адрес websocket-сервера")
	configPath = flag.String("config", "", "Путь к yaml-конфигурации мира")
	worldPath  = flag.String("world", "/tmp/planet-world", "Путь для хранения данных мира")
	worldName  = flag.String("name", "default", "Название игрового мира")
	seed       = flag.Int64("seed", 0, "Сид для генерации мира (0 = случайный)")
	topology   = flag.String("topology", "flat", "Топология мира: flat или spherical")
	radius     = flag.Float64("radius", 100000, "Радиус планеты в метрах (spherical)")
	pluginsDir = flag.String("plugins", "./plugins", "Каталог с плагинами (.so)")
	noStorage  = flag.Bool("no-storage", false, "Запуск без хранилища данных")
)

// serverConfig — yaml-конфигурация мира; значения перекрывают флаги
type serverConfig struct {
	Listen        string         `yaml:"listen"`
	Name          string         `yaml:"name"`
	Seed          int64          `yaml:"seed"`
	Topology      string         `yaml:"topology"`
	Radius        float64        `yaml:"radius"`
	ChunkSize     float64        `yaml:"chunk_size"`
	TilesPerChunk int            `yaml:"tiles_per_chunk"`
	ChunksPerFace int            `yaml:"chunks_per_face"`
	MaxConcurrent int            `yaml:"max_concurrent"`
	WorldPath     string         `yaml:"world_path"`
	PluginsDir    string         `yaml:"plugins_dir"`
	Altitude      altitudeConfig `yaml:"altitude"`
}

// altitudeConfig задаёт пороги высотных зон в метрах
type altitudeConfig struct {
	SurfaceMax     float64 `yaml:"surface_max"`
	LowMax         float64 `yaml:"low_max"`
	MediumMax      float64 `yaml:"medium_max"`
	HighMax        float64 `yaml:"high_max"`
	TransitionBand float64 `yaml:"transition_band"`
}

func (a altitudeConfig) isZero() bool {
	return a == altitudeConfig{}
}

func loadConfig(path string) (serverConfig, error) {
	var cfg serverConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	cfg := serverConfig{
		Listen:     *listenAddr,
		Name:       *worldName,
		Seed:       *seed,
		Topology:   *topology,
		Radius:     *radius,
		WorldPath:  *worldPath,
		PluginsDir: *pluginsDir,
	}
	if *configPath != "" {
		fileCfg, err := loadConfig(*configPath)
		if err != nil {
			log.Fatalf("Не удалось прочитать конфигурацию: %v", err)
		}
		mergeConfig(&cfg, fileCfg)
	}

	// Если сид не указан, генерируем случайный
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Не удалось создать логгер: %v", err)
	}
	defer zlog.Sync()
	sugar := zlog.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1) Реестр плагинов; сами плагины загружаются после core-регистраций
	reg := plugin.NewDefaultRegistry()
	pm := plugin.NewPluginManager(cfg.PluginsDir)

	// 2) Собираем мир
	storagePath := cfg.WorldPath
	if *noStorage {
		log.Printf("Запуск в режиме без хранилища")
		storagePath = ""
	} else if err := ensureWritableDir(cfg.WorldPath); err != nil {
		log.Printf("Хранилище %s недоступно: %v", cfg.WorldPath, err)
		log.Printf("Продолжаем без хранилища...")
		storagePath = ""
	}

	w, err := world.New(world.Config{
		Name:          cfg.Name,
		Seed:          cfg.Seed,
		Topology:      cfg.Topology,
		Radius:        cfg.Radius,
		ChunkSize:     cfg.ChunkSize,
		TilesPerChunk: cfg.TilesPerChunk,
		ChunksPerFace: cfg.ChunksPerFace,
		MaxConcurrent: cfg.MaxConcurrent,
		StoragePath:   storagePath,
	})
	if err != nil {
		log.Fatalf("Не удалось создать мир: %v", err)
	}

	// 3) Поднимаем websocket-сервис поверх мира
	var altCfg *altitude.Config
	if !cfg.Altitude.isZero() {
		altCfg = &altitude.Config{
			SurfaceMax:     cfg.Altitude.SurfaceMax,
			LowMax:         cfg.Altitude.LowMax,
			MediumMax:      cfg.Altitude.MediumMax,
			HighMax:        cfg.Altitude.HighMax,
			TransitionBand: cfg.Altitude.TransitionBand,
		}
	}
	worldService := service.NewWorldService(service.Config{
		Logger:        sugar,
		Registry:      reg,
		Generator:     w.Generator,
		Streamer:      w.Streamer,
		Storage:       w.Storage,
		World:         w.Info,
		ChunkSize:     w.ChunkSize,
		TilesPerChunk: w.TilesPerChunk,
		ChunksPerFace: w.ChunksPerFace,
		Altitude:      altCfg,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", worldService.Handler())
	httpServer := &http.Server{Addr: cfg.Listen, Handler: mux}

	// Обрабатываем сигналы для корректного завершения
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Println("Получен сигнал завершения, останавливаем сервер...")
		cancel()
		worldService.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	// CLI для администратора: регистрируем встроенные команды
	reg.RegisterCommand("reload", "Reload plugins", func(args []string) (string, error) {
		if err := pm.ReloadPlugins(reg); err != nil {
			return "", err
		}
		// Повторная регистрация заменяет одноимённые генераторы
		for _, fg := range reg.FeatureGenerators() {
			w.Generator.AddFeatureGenerator(fg)
		}
		return "Plugins reloaded successfully\n", nil
	})
	reg.RegisterCommand("stop", "Stop server", func(args []string) (string, error) {
		signalChan <- syscall.SIGTERM
		return "Server stopping\n", nil
	})
	reg.RegisterCommand("help", "List commands", func(args []string) (string, error) {
		var sb strings.Builder
		for _, cmd := range reg.Commands() {
			sb.WriteString(fmt.Sprintf("%s - %s\n", cmd.Name, cmd.Description))
		}
		return sb.String(), nil
	})
	reg.RegisterCommand("plugins", "List loaded plugins", func(args []string) (string, error) {
		var sb strings.Builder
		for _, meta := range reg.PluginMetas() {
			sb.WriteString(fmt.Sprintf("%s v%s by %s: %s\n", meta.Name, meta.Version, meta.Author, meta.Description))
		}
		return sb.String(), nil
	})
	reg.RegisterCommand("config", "Show plugin config: config <pluginName>", func(args []string) (string, error) {
		if len(args) < 1 {
			return "Usage: config <pluginName>\n", nil
		}
		name := args[0]
		pluginCfg := reg.PluginConfig(name)
		if pluginCfg == nil {
			return fmt.Sprintf("No config for plugin %s\n", name), nil
		}
		data, err := yaml.Marshal(pluginCfg)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	reg.RegisterCommand("progress", "Show streaming progress", func(args []string) (string, error) {
		p := w.Streamer.Progress()
		return fmt.Sprintf("loaded=%d pending=%d queued=%d viewers=%d\n",
			p.Loaded, p.Pending, p.Queued, worldService.Viewers().Count()), nil
	})

	// Core-регистрации завершены; всё, что добавится дальше, снимается reload
	reg.MarkCore()
	if err := pm.LoadPlugins(reg); err != nil {
		log.Printf("Ошибка при загрузке плагинов: %v", err)
	}
	for _, fg := range reg.FeatureGenerators() {
		w.Generator.AddFeatureGenerator(fg)
	}

	worldService.Start(ctx)

	// CLI для администратора: REPL для команд
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			fmt.Print("> ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			input := strings.TrimSpace(line)
			parts := strings.Fields(input)
			if len(parts) == 0 {
				continue
			}
			name := parts[0]
			args := parts[1:]
			found := false
			for _, cmdReg := range reg.Commands() {
				if cmdReg.Name == name {
					found = true
					out, err := cmdReg.Handler(args)
					if err != nil {
						fmt.Printf("Error: %v\n", err)
					} else {
						fmt.Print(out)
					}
					break
				}
			}
			if !found {
				fmt.Printf("Неизвестная команда: %s\n", name)
			}
		}
	}()

	log.Printf("Сервер мира запущен на %s (топология %s)", cfg.Listen, w.Info.Topology)
	log.Printf("Используется сид мира: %d", w.Info.Seed)

	// Остановку мира (стример, сохранения, хранилище) выполняет worldService.Stop
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Ошибка запуска сервера: %v", err)
	}
	log.Printf("Сервер остановлен")
}

// mergeConfig накладывает непустые значения yaml-файла поверх флагов
func mergeConfig(dst *serverConfig, src serverConfig) {
	if src.Listen != "" {
		dst.Listen = src.Listen
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Seed != 0 {
		dst.Seed = src.Seed
	}
	if src.Topology != "" {
		dst.Topology = src.Topology
	}
	if src.Radius != 0 {
		dst.Radius = src.Radius
	}
	if src.ChunkSize != 0 {
		dst.ChunkSize = src.ChunkSize
	}
	if src.TilesPerChunk != 0 {
		dst.TilesPerChunk = src.TilesPerChunk
	}
	if src.ChunksPerFace != 0 {
		dst.ChunksPerFace = src.ChunksPerFace
	}
	if src.MaxConcurrent != 0 {
		dst.MaxConcurrent = src.MaxConcurrent
	}
	if src.WorldPath != "" {
		dst.WorldPath = src.WorldPath
	}
	if src.PluginsDir != "" {
		dst.PluginsDir = src.PluginsDir
	}
	if !src.Altitude.isZero() {
		dst.Altitude = src.Altitude
	}
}

// ensureWritableDir создаёт каталог и проверяет право на запись
func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	return os.Remove(testFile)
}
