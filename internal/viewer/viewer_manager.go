package viewer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annelo/go-planet-server/internal/altitude"
	"github.com/annelo/go-planet-server/internal/spheremath"
)

var (
	// ErrViewerExists возвращается при попытке добавить наблюдателя с занятым ID
	ErrViewerExists = errors.New("наблюдатель с таким ID уже существует")
	// ErrViewerNotFound возвращается, когда наблюдатель не найден
	ErrViewerNotFound = errors.New("наблюдатель не найден")
)

// ViewerData содержит информацию о наблюдателе и его высотном состоянии
type ViewerData struct {
	ID       string
	Name     string
	Position spheremath.Vec3

	// Высотный трекер наблюдателя; не потокобезопасен,
	// все обращения идут под блокировкой менеджера
	Altitude *altitude.Manager

	LastUpdate time.Time
}

// ViewerManager управляет сессиями наблюдателей
type ViewerManager struct {
	viewers map[string]*ViewerData
	mu      sync.RWMutex

	// Конфигурация высотных трекеров, общая для всех наблюдателей
	altitudeConfig altitude.Config
}

// NewViewerManager создаёт новый менеджер наблюдателей
func NewViewerManager(altitudeConfig altitude.Config) *ViewerManager {
	return &ViewerManager{
		viewers:        make(map[string]*ViewerData),
		altitudeConfig: altitudeConfig,
	}
}

// AddViewer регистрирует нового наблюдателя и возвращает его ID.
// Если id пустой, генерируется новый UUID.
func (vm *ViewerManager) AddViewer(id, name string, position spheremath.Vec3) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if _, exists := vm.viewers[id]; exists {
		return "", ErrViewerExists
	}

	alt := altitude.NewManager(vm.altitudeConfig)
	alt.Update(position, 0)

	vm.viewers[id] = &ViewerData{
		ID:         id,
		Name:       name,
		Position:   position,
		Altitude:   alt,
		LastUpdate: time.Now(),
	}
	return id, nil
}

// PositionUpdate — результат обновления позиции наблюдателя
type PositionUpdate struct {
	Zone        altitude.Zone
	ZoneChanged bool
	Altitude    float64

	// Величины для рендерера при смене зоны
	DetailLevel  int
	TerrainBlend float64
	OrbitalBlend float64
}

// UpdatePosition обновляет позицию наблюдателя и его высотное состояние
func (vm *ViewerManager) UpdatePosition(id string, position spheremath.Vec3, dt float64) (PositionUpdate, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	v, exists := vm.viewers[id]
	if !exists {
		return PositionUpdate{}, ErrViewerNotFound
	}

	v.Position = position
	v.LastUpdate = time.Now()
	v.Altitude.Update(position, dt)

	return PositionUpdate{
		Zone:         v.Altitude.Zone(),
		ZoneChanged:  v.Altitude.ZoneChanged(),
		Altitude:     v.Altitude.Altitude(),
		DetailLevel:  v.Altitude.DetailLevel(),
		TerrainBlend: v.Altitude.TerrainBlend(),
		OrbitalBlend: v.Altitude.OrbitalBlend(),
	}, nil
}

// GetViewer возвращает данные наблюдателя по ID
func (vm *ViewerManager) GetViewer(id string) (*ViewerData, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	v, exists := vm.viewers[id]
	if !exists {
		return nil, ErrViewerNotFound
	}
	return v, nil
}

// RemoveViewer удаляет наблюдателя из менеджера
func (vm *ViewerManager) RemoveViewer(id string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if _, exists := vm.viewers[id]; !exists {
		return ErrViewerNotFound
	}
	delete(vm.viewers, id)
	return nil
}

// AllViewers возвращает список всех наблюдателей
func (vm *ViewerManager) AllViewers() []*ViewerData {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	viewers := make([]*ViewerData, 0, len(vm.viewers))
	for _, v := range vm.viewers {
		viewers = append(viewers, v)
	}
	return viewers
}

// Snapshot — согласованный срез состояния наблюдателя для игровых систем.
// Высотные величины снимаются под блокировкой менеджера, чтобы системы
// не трогали altitude.Manager напрямую.
type Snapshot struct {
	ID                 string
	Name               string
	Position           spheremath.Vec3
	Zone               altitude.Zone
	LoadRadiusChunks   int
	MaxVisibleDistance float64
}

// Snapshots возвращает срезы состояния всех наблюдателей
func (vm *ViewerManager) Snapshots() []Snapshot {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(vm.viewers))
	for _, v := range vm.viewers {
		snaps = append(snaps, Snapshot{
			ID:                 v.ID,
			Name:               v.Name,
			Position:           v.Position,
			Zone:               v.Altitude.Zone(),
			LoadRadiusChunks:   v.Altitude.RecommendedChunkLoadRadius(),
			MaxVisibleDistance: v.Altitude.MaxVisibleDistance(),
		})
	}
	return snaps
}

// Count возвращает число активных наблюдателей
func (vm *ViewerManager) Count() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return len(vm.viewers)
}
