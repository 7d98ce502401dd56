package storage

import "time"

// Параметры хранилища чанков
const (
	// RegionSpan — сторона региона в чанках
	RegionSpan = 16

	// MaxOpenRegions — максимум одновременно открытых файлов регионов
	MaxOpenRegions = 32

	// RegionCompactionInterval — период фоновой проверки регионов на компактизацию
	RegionCompactionInterval = 10 * time.Minute

	// RegionCompactionGrowFactor — допустимое отношение размера файла к
	// объёму живых записей, выше которого регион компактизируется
	RegionCompactionGrowFactor = 1.5

	// MaxRecordCacheSize — максимум записей чанков в памяти
	MaxRecordCacheSize = 1024

	// RecordCacheCleanupBatch — сколько записей вытесняется за один проход очистки
	RecordCacheCleanupBatch = 128

	// SaveQueueSize — ёмкость очереди фонового сохранения
	SaveQueueSize = 100

	// CleanupInterval — период фоновой очистки кеша записей
	CleanupInterval = 5 * time.Minute

	// AutosaveInterval — период сброса грязных записей на диск
	AutosaveInterval = 30 * time.Second
)
