package storage

import (
	"context"
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

// BinaryStorage реализует интерфейс WorldStorage поверх файлов регионов
// и глобального каталога чанков в sqlite
type BinaryStorage struct {
	basePath  string
	worldInfo *WorldInfo

	// Менеджер регионов для долговременного хранения
	regionManager *RegionManager

	// Каталог чанков и свойств мира
	index *IndexDB

	// Кеш записей чанков в памяти
	recordCache map[string]*ChunkRecord
	cacheMutex  sync.RWMutex

	// Ключи изменённых записей, ожидающих сохранения
	dirtyRecords map[string]time.Time

	// Канал для сохранения записей в фоне
	saveQueue chan string

	// Каналы для завершения работы
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Директория состояний наблюдателей
	viewersPath string

	closeOnce sync.Once
}

// NewBinaryStorage создаёт новое бинарное хранилище мира
func NewBinaryStorage(basePath string, worldName string, seed int64) (*BinaryStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища: %w", err)
	}

	viewersPath := filepath.Join(basePath, "viewers")
	if err := os.MkdirAll(viewersPath, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию наблюдателей: %w", err)
	}

	index, err := OpenIndexDB(basePath)
	if err != nil {
		return nil, err
	}

	storage := &BinaryStorage{
		basePath:      basePath,
		regionManager: NewRegionManager(basePath),
		index:         index,
		recordCache:   make(map[string]*ChunkRecord),
		dirtyRecords:  make(map[string]time.Time),
		saveQueue:     make(chan string, SaveQueueSize),
		stopChan:      make(chan struct{}),
		viewersPath:   viewersPath,
	}

	// Загружаем или создаём информацию о мире
	info, err := storage.LoadWorld(context.Background())
	if err != nil {
		now := time.Now().Unix()
		info = &WorldInfo{
			Name:       worldName,
			Seed:       seed,
			Version:    "preg-1",
			Topology:   "flat",
			CreatedAt:  now,
			LastSaveAt: now,
			Properties: make(map[string]string),
		}
		if err := storage.SaveWorld(context.Background(), info); err != nil {
			storage.regionManager.Close()
			index.Close()
			return nil, fmt.Errorf("ошибка при сохранении информации о мире: %w", err)
		}
	}
	storage.worldInfo = info

	storage.wg.Add(2)
	go storage.saveWorker()
	go storage.cleanupWorker()

	return storage, nil
}

// SaveChunk помещает чанк в кеш и планирует запись на диск
func (s *BinaryStorage) SaveChunk(ctx context.Context, chunk worldinterfaces.ChunkData) error {
	rec := NewChunkRecord(chunk)

	s.cacheMutex.Lock()
	s.recordCache[rec.Key] = rec
	s.dirtyRecords[rec.Key] = time.Now()
	s.cacheMutex.Unlock()

	s.queueForSaving(rec.Key)
	return nil
}

// LoadChunk загружает чанк из кеша или файла региона
func (s *BinaryStorage) LoadChunk(ctx context.Context, addr chunkaddress.Address) (worldinterfaces.ChunkData, error) {
	key := addr.Key()

	s.cacheMutex.RLock()
	rec, exists := s.recordCache[key]
	s.cacheMutex.RUnlock()

	if exists {
		rec.Touch()
		return rec.ToChunk()
	}

	region, err := s.regionManager.GetRegion(addr)
	if err != nil {
		return nil, err
	}
	payload, err := region.GetRecord(key)
	if err != nil {
		return nil, err
	}
	rec, err = DecodeRecord(payload)
	if err != nil {
		return nil, err
	}

	s.cacheMutex.Lock()
	s.recordCache[key] = rec
	s.cacheMutex.Unlock()

	return rec.ToChunk()
}

// HasChunk сообщает, сохранялся ли чанк ранее
func (s *BinaryStorage) HasChunk(ctx context.Context, addr chunkaddress.Address) bool {
	key := addr.Key()

	s.cacheMutex.RLock()
	_, exists := s.recordCache[key]
	s.cacheMutex.RUnlock()
	if exists {
		return true
	}

	has, err := s.index.HasChunk(ctx, key)
	if err != nil {
		log.Printf("Ошибка запроса каталога для чанка %s: %v", key, err)
		return false
	}
	return has
}

// DeleteChunk удаляет чанк из кеша, региона и каталога
func (s *BinaryStorage) DeleteChunk(ctx context.Context, addr chunkaddress.Address) error {
	key := addr.Key()

	s.cacheMutex.Lock()
	delete(s.recordCache, key)
	delete(s.dirtyRecords, key)
	s.cacheMutex.Unlock()

	region, err := s.regionManager.GetRegion(addr)
	if err != nil {
		return err
	}
	if err := region.DeleteRecord(key); err != nil {
		return err
	}
	s.regionManager.MarkDirty(RegionNameFor(addr))

	return s.index.DeleteChunk(ctx, key)
}

// ListChunks возвращает адреса всех сохранённых чанков из каталога
func (s *BinaryStorage) ListChunks(ctx context.Context) ([]chunkaddress.Address, error) {
	return s.index.ListChunks(ctx)
}

// SaveWorld сохраняет информацию о мире в каталог
func (s *BinaryStorage) SaveWorld(ctx context.Context, info *WorldInfo) error {
	info.LastSaveAt = time.Now().Unix()

	fields := map[string]string{
		"name":         info.Name,
		"seed":         strconv.FormatInt(info.Seed, 10),
		"version":      info.Version,
		"topology":     info.Topology,
		"radius":       strconv.FormatFloat(info.Radius, 'g', -1, 64),
		"created_at":   strconv.FormatInt(info.CreatedAt, 10),
		"last_save_at": strconv.FormatInt(info.LastSaveAt, 10),
	}
	for k, v := range fields {
		if err := s.index.SetWorldProperty(ctx, k, v); err != nil {
			return err
		}
	}
	for k, v := range info.Properties {
		if err := s.index.SetWorldProperty(ctx, "prop:"+k, v); err != nil {
			return err
		}
	}
	return nil
}

// LoadWorld загружает информацию о мире из каталога
func (s *BinaryStorage) LoadWorld(ctx context.Context) (*WorldInfo, error) {
	name, err := s.index.WorldProperty(ctx, "name")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("информация о мире не найдена")
	}

	get := func(key string) string {
		v, gerr := s.index.WorldProperty(ctx, key)
		if gerr != nil && err == nil {
			err = gerr
		}
		return v
	}

	info := &WorldInfo{
		Name:       name,
		Version:    get("version"),
		Topology:   get("topology"),
		Properties: make(map[string]string),
	}
	info.Seed, _ = strconv.ParseInt(get("seed"), 10, 64)
	info.Radius, _ = strconv.ParseFloat(get("radius"), 64)
	info.CreatedAt, _ = strconv.ParseInt(get("created_at"), 10, 64)
	info.LastSaveAt, _ = strconv.ParseInt(get("last_save_at"), 10, 64)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// SaveViewerState сохраняет состояние наблюдателя в бинарном (gob) виде
func (s *BinaryStorage) SaveViewerState(ctx context.Context, state *ViewerState) error {
	if state == nil {
		return nil
	}
	path := filepath.Join(s.viewersPath, fmt.Sprintf("viewer_%s.dat", sanitizeID(state.ID)))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewEncoder(f).Encode(state)
}

// LoadViewerState загружает состояние наблюдателя; ошибка, если файла нет
func (s *BinaryStorage) LoadViewerState(ctx context.Context, id string) (*ViewerState, error) {
	path := filepath.Join(s.viewersPath, fmt.Sprintf("viewer_%s.dat", sanitizeID(id)))
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var vs ViewerState
	if err := gob.NewDecoder(file).Decode(&vs); err != nil {
		return nil, err
	}
	return &vs, nil
}

// sanitizeID убирает из идентификатора символы, опасные для имён файлов
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.':
			return '_'
		}
		return r
	}, id)
}

// Flush синхронно сохраняет все несохранённые данные на диск
func (s *BinaryStorage) Flush(ctx context.Context) error {
	s.saveAllDirtyRecords()
	return s.regionManager.FlushAll()
}

// Close закрывает хранилище и освобождает ресурсы
func (s *BinaryStorage) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()

		s.saveAllDirtyRecords()

		if err := s.regionManager.Close(); err != nil {
			retErr = err
		}
		if err := s.index.Close(); err != nil && retErr == nil {
			retErr = err
		}
	})
	return retErr
}

// ChunkStore возвращает адаптер хранилища для генератора мира
func (s *BinaryStorage) ChunkStore() worldinterfaces.ChunkStore {
	return &chunkStoreAdapter{storage: s}
}

// chunkStoreAdapter адаптирует BinaryStorage к узкому интерфейсу генератора
type chunkStoreAdapter struct {
	storage *BinaryStorage
}

func (a *chunkStoreAdapter) LoadChunk(addr chunkaddress.Address) (worldinterfaces.ChunkData, error) {
	return a.storage.LoadChunk(context.Background(), addr)
}

func (a *chunkStoreAdapter) SaveChunk(chunk worldinterfaces.ChunkData) error {
	return a.storage.SaveChunk(context.Background(), chunk)
}

func (a *chunkStoreAdapter) HasChunk(addr chunkaddress.Address) bool {
	return a.storage.HasChunk(context.Background(), addr)
}

// queueForSaving добавляет ключ чанка в очередь на сохранение
func (s *BinaryStorage) queueForSaving(key string) {
	select {
	case s.saveQueue <- key:
		// Успешно добавлено
	default:
		// Очередь заполнена, запись останется грязной и уйдёт с автосохранением
		log.Printf("Очередь сохранения заполнена, откладываем чанк %s", key)
	}
}

// saveWorker обрабатывает очередь сохранения и периодическое автосохранение
func (s *BinaryStorage) saveWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case key := <-s.saveQueue:
			s.saveRecord(key)
		case <-ticker.C:
			s.saveAllDirtyRecords()
		case <-s.stopChan:
			return
		}
	}
}

// saveRecord записывает одну запись в файл региона и каталог
func (s *BinaryStorage) saveRecord(key string) {
	s.cacheMutex.RLock()
	rec, exists := s.recordCache[key]
	s.cacheMutex.RUnlock()
	if !exists {
		return
	}

	if err := s.persistRecord(rec); err != nil {
		log.Printf("Ошибка при сохранении чанка %s: %v", key, err)
		return
	}

	s.cacheMutex.Lock()
	delete(s.dirtyRecords, key)
	s.cacheMutex.Unlock()
}

// persistRecord кодирует запись и дозаписывает её в регион
func (s *BinaryStorage) persistRecord(rec *ChunkRecord) error {
	addr, err := chunkaddress.ParseKey(rec.Key)
	if err != nil {
		return err
	}

	payload, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	region, err := s.regionManager.GetRegion(addr)
	if err != nil {
		return err
	}
	if err := region.SaveRecord(rec.Key, payload, rec.SavedAt); err != nil {
		return err
	}
	s.regionManager.MarkDirty(RegionNameFor(addr))

	return s.index.PutChunk(context.Background(), rec.Key, RegionNameFor(addr), rec.SavedAt)
}

// saveAllDirtyRecords сохраняет все изменённые записи
func (s *BinaryStorage) saveAllDirtyRecords() {
	s.cacheMutex.RLock()
	dirtyKeys := make([]string, 0, len(s.dirtyRecords))
	for k := range s.dirtyRecords {
		dirtyKeys = append(dirtyKeys, k)
	}
	s.cacheMutex.RUnlock()

	for _, key := range dirtyKeys {
		s.cacheMutex.RLock()
		rec, exists := s.recordCache[key]
		s.cacheMutex.RUnlock()
		if !exists {
			continue
		}

		if err := s.persistRecord(rec); err != nil {
			log.Printf("Ошибка при сохранении чанка %s: %v", key, err)
			continue
		}

		s.cacheMutex.Lock()
		delete(s.dirtyRecords, key)
		s.cacheMutex.Unlock()
	}

	if len(dirtyKeys) > 0 && s.worldInfo != nil {
		s.worldInfo.LastSaveAt = time.Now().Unix()
		if err := s.SaveWorld(context.Background(), s.worldInfo); err != nil {
			log.Printf("Ошибка при обновлении информации о мире: %v", err)
		}
	}
}

// cleanupWorker периодически вытесняет давно не использовавшиеся записи из кеша
func (s *BinaryStorage) cleanupWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupUnusedRecords()
		case <-s.stopChan:
			return
		}
	}
}

// cleanupUnusedRecords вытесняет из кеша старые записи, если кеш переполнен
func (s *BinaryStorage) cleanupUnusedRecords() {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	if len(s.recordCache) <= MaxRecordCacheSize {
		return
	}

	type recordWithTime struct {
		key   string
		at    time.Time
		dirty bool
	}

	records := make([]recordWithTime, 0, len(s.recordCache))
	for k, r := range s.recordCache {
		_, isDirty := s.dirtyRecords[k]
		records = append(records, recordWithTime{k, r.accessTime, isDirty})
	}

	// Старые в начале; грязные в конце, чтобы не удалились
	sort.Slice(records, func(i, j int) bool {
		if records[i].dirty != records[j].dirty {
			return !records[i].dirty
		}
		return records[i].at.Before(records[j].at)
	})

	removed := 0
	for _, item := range records {
		if removed >= RecordCacheCleanupBatch {
			break
		}
		if item.dirty {
			continue
		}
		delete(s.recordCache, item.key)
		removed++
	}

	if removed > 0 {
		log.Printf("Удалено %d устаревших записей из кеша чанков", removed)
	}
}
