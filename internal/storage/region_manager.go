package storage

import (
	"container/list"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
)

// RegionManager управляет открытыми регионами и их LRU-кешем
type RegionManager struct {
	basePath       string
	regions        map[string]*RegionFile
	regionsMutex   sync.RWMutex
	maxOpenRegions int
	lruList        *list.List
	lruMap         map[string]*list.Element

	// Фоновый воркер компактизации
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	dirtyRegions map[string]bool // регионы с несохранёнными изменениями
}

// NewRegionManager создаёт новый менеджер регионов
func NewRegionManager(basePath string) *RegionManager {
	rm := &RegionManager{
		basePath:       basePath,
		regions:        make(map[string]*RegionFile),
		maxOpenRegions: MaxOpenRegions,
		lruList:        list.New(),
		lruMap:         make(map[string]*list.Element),

		stopChan:     make(chan struct{}),
		dirtyRegions: make(map[string]bool),
	}

	rm.wg.Add(1)
	go rm.compactionWorker()

	return rm
}

// floorDiv — целочисленное деление с округлением к минус бесконечности
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// RegionNameFor возвращает имя файла региона для адреса чанка.
// Плоский мир: flat_<rx>_<ry>. Планетарный: f<face>_l<lod>_<rx>_<ry>.
func RegionNameFor(addr chunkaddress.Address) string {
	rx := floorDiv(addr.CX, RegionSpan)
	ry := floorDiv(addr.CY, RegionSpan)
	if addr.Planetary {
		return fmt.Sprintf("f%d_l%d_%d_%d", addr.Face, addr.LOD, rx, ry)
	}
	return fmt.Sprintf("flat_%d_%d", rx, ry)
}

// GetRegion получает или открывает регион для адреса чанка
func (rm *RegionManager) GetRegion(addr chunkaddress.Address) (*RegionFile, error) {
	return rm.getRegionByName(RegionNameFor(addr))
}

func (rm *RegionManager) getRegionByName(name string) (*RegionFile, error) {
	// Быстрый путь: регион уже открыт
	rm.regionsMutex.RLock()
	region, exists := rm.regions[name]
	rm.regionsMutex.RUnlock()

	if exists {
		rm.touchRegion(name)
		return region, nil
	}

	rm.regionsMutex.Lock()
	defer rm.regionsMutex.Unlock()

	// Повторная проверка под полной блокировкой
	if region, exists = rm.regions[name]; exists {
		rm.touchRegionLocked(name)
		return region, nil
	}

	// Освобождаем место перед открытием нового файла
	for len(rm.regions) >= rm.maxOpenRegions {
		if !rm.closeOldestRegionLocked() {
			break
		}
	}

	path := filepath.Join(rm.basePath, "regions", name+".preg")
	region, err := OpenRegionFile(path)
	if err != nil {
		return nil, err
	}

	rm.regions[name] = region
	rm.lruMap[name] = rm.lruList.PushFront(name)
	return region, nil
}

// touchRegion перемещает регион в начало LRU-списка
func (rm *RegionManager) touchRegion(name string) {
	rm.regionsMutex.Lock()
	defer rm.regionsMutex.Unlock()
	rm.touchRegionLocked(name)
}

func (rm *RegionManager) touchRegionLocked(name string) {
	if elem, ok := rm.lruMap[name]; ok {
		rm.lruList.MoveToFront(elem)
	}
}

// MarkDirty помечает регион как изменённый
func (rm *RegionManager) MarkDirty(name string) {
	rm.regionsMutex.Lock()
	defer rm.regionsMutex.Unlock()
	rm.dirtyRegions[name] = true
}

// closeOldestRegionLocked закрывает самый давно не использовавшийся регион.
// Грязные регионы пропускаются, чтобы не потерять несинхронизированные данные.
func (rm *RegionManager) closeOldestRegionLocked() bool {
	for elem := rm.lruList.Back(); elem != nil; elem = elem.Prev() {
		name := elem.Value.(string)
		if rm.dirtyRegions[name] {
			continue
		}
		region := rm.regions[name]
		if err := region.Close(); err != nil {
			log.Printf("Ошибка закрытия региона %s: %v", name, err)
		}
		delete(rm.regions, name)
		delete(rm.lruMap, name)
		rm.lruList.Remove(elem)
		return true
	}
	return false
}

// compactionWorker периодически компактизирует разросшиеся регионы
func (rm *RegionManager) compactionWorker() {
	defer rm.wg.Done()

	ticker := time.NewTicker(RegionCompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.compactRegions()
		case <-rm.stopChan:
			return
		}
	}
}

// compactRegions проверяет открытые регионы и компактизирует нуждающиеся
func (rm *RegionManager) compactRegions() {
	rm.regionsMutex.RLock()
	candidates := make([]*RegionFile, 0)
	names := make([]string, 0)
	for name, region := range rm.regions {
		if region.NeedsCompaction() {
			candidates = append(candidates, region)
			names = append(names, name)
		}
	}
	rm.regionsMutex.RUnlock()

	for i, region := range candidates {
		if err := region.Compact(); err != nil {
			log.Printf("Ошибка компактизации региона %s: %v", names[i], err)
			continue
		}
		rm.regionsMutex.Lock()
		delete(rm.dirtyRegions, names[i])
		rm.regionsMutex.Unlock()
	}
}

// FlushAll синхронизирует все грязные регионы на диск
func (rm *RegionManager) FlushAll() error {
	rm.regionsMutex.Lock()
	defer rm.regionsMutex.Unlock()

	var firstErr error
	for name := range rm.dirtyRegions {
		region, ok := rm.regions[name]
		if !ok {
			delete(rm.dirtyRegions, name)
			continue
		}
		if err := region.Sync(); err != nil {
			log.Printf("Ошибка синхронизации региона %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(rm.dirtyRegions, name)
	}
	return firstErr
}

// OpenRegionNames возвращает имена открытых в данный момент регионов
func (rm *RegionManager) OpenRegionNames() []string {
	rm.regionsMutex.RLock()
	defer rm.regionsMutex.RUnlock()
	names := make([]string, 0, len(rm.regions))
	for name := range rm.regions {
		names = append(names, name)
	}
	return names
}

// Close останавливает воркер и закрывает все открытые регионы
func (rm *RegionManager) Close() error {
	rm.stopOnce.Do(func() {
		close(rm.stopChan)
	})
	rm.wg.Wait()

	rm.regionsMutex.Lock()
	defer rm.regionsMutex.Unlock()

	var firstErr error
	for name, region := range rm.regions {
		if err := region.Close(); err != nil {
			log.Printf("Ошибка закрытия региона %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(rm.regions, name)
	}
	rm.lruList.Init()
	rm.lruMap = make(map[string]*list.Element)
	rm.dirtyRegions = make(map[string]bool)
	return firstErr
}
