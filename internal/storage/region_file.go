package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Формат файла региона PREG:
//
//	заголовок: магия "PREG" (4 байта), версия uint16, резерв (10 байт)
//	далее последовательность записей:
//	  keyLen uint16 | key []byte | payloadLen uint32 | savedAt int64 | payload []byte
//
// Файл ведётся как журнал с дозаписью: повторное сохранение чанка добавляет
// новую запись в конец, актуальной считается последняя по смещению. Индекс
// живых записей строится сканированием при открытии. Удаление помечается
// записью с payloadLen == 0.
const (
	regionMagic   = "PREG"
	regionVersion = uint16(1)
	regionHdrSize = 16
)

// recordRef — позиция живой записи внутри файла региона
type recordRef struct {
	offset  int64
	length  uint32
	savedAt int64
}

// RegionFile — один файл региона с индексом живых записей в памяти
type RegionFile struct {
	path string
	file *os.File
	mu   sync.RWMutex

	// Индекс: ключ чанка -> последняя живая запись
	index map[string]recordRef
	// Суммарный объём живых полезных данных, для оценки деградации журнала
	liveBytes int64
	// Текущий размер файла (конец журнала)
	size int64

	lastAccess time.Time
	dirty      bool
}

// OpenRegionFile открывает или создаёт файл региона и строит индекс
func OpenRegionFile(path string) (*RegionFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию региона: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть файл региона %s: %w", path, err)
	}

	rf := &RegionFile{
		path:       path,
		file:       file,
		index:      make(map[string]recordRef),
		lastAccess: time.Now(),
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("не удалось получить размер файла региона: %w", err)
	}

	if info.Size() == 0 {
		if err := rf.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		rf.size = regionHdrSize
		return rf, nil
	}

	if err := rf.scan(info.Size()); err != nil {
		file.Close()
		return nil, err
	}
	return rf, nil
}

// writeHeader пишет заголовок нового файла
func (rf *RegionFile) writeHeader() error {
	hdr := make([]byte, regionHdrSize)
	copy(hdr, regionMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], regionVersion)
	if _, err := rf.file.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("не удалось записать заголовок региона: %w", err)
	}
	return nil
}

// scan читает журнал от начала до конца и восстанавливает индекс живых записей
func (rf *RegionFile) scan(fileSize int64) error {
	hdr := make([]byte, regionHdrSize)
	if _, err := rf.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("не удалось прочитать заголовок региона: %w", err)
	}
	if string(hdr[:4]) != regionMagic {
		return fmt.Errorf("файл %s не является файлом региона", rf.path)
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != regionVersion {
		return fmt.Errorf("неподдерживаемая версия файла региона: %d", v)
	}

	offset := int64(regionHdrSize)
	var recHdr [14]byte

	for offset < fileSize {
		if _, err := rf.file.ReadAt(recHdr[:2], offset); err != nil {
			return fmt.Errorf("ошибка чтения журнала региона на %d: %w", offset, err)
		}
		keyLen := binary.LittleEndian.Uint16(recHdr[:2])
		if keyLen == 0 || offset+2+int64(keyLen)+12 > fileSize {
			// Оборванная запись в конце журнала: хвост игнорируется
			break
		}
		keyBuf := make([]byte, keyLen)
		if _, err := rf.file.ReadAt(keyBuf, offset+2); err != nil {
			return fmt.Errorf("ошибка чтения ключа записи: %w", err)
		}
		if _, err := rf.file.ReadAt(recHdr[2:14], offset+2+int64(keyLen)); err != nil {
			return fmt.Errorf("ошибка чтения заголовка записи: %w", err)
		}
		payloadLen := binary.LittleEndian.Uint32(recHdr[2:6])
		savedAt := int64(binary.LittleEndian.Uint64(recHdr[6:14]))

		recordEnd := offset + 2 + int64(keyLen) + 12 + int64(payloadLen)
		if recordEnd > fileSize {
			break
		}

		key := string(keyBuf)
		if old, ok := rf.index[key]; ok {
			rf.liveBytes -= int64(old.length)
		}
		if payloadLen == 0 {
			// Запись-надгробие: чанк удалён
			delete(rf.index, key)
		} else {
			rf.index[key] = recordRef{
				offset:  offset + 2 + int64(keyLen) + 12,
				length:  payloadLen,
				savedAt: savedAt,
			}
			rf.liveBytes += int64(payloadLen)
		}
		offset = recordEnd
	}

	rf.size = offset
	return nil
}

// SaveRecord дозаписывает сжатую запись чанка в журнал
func (rf *RegionFile) SaveRecord(key string, payload []byte, savedAt int64) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.appendLocked(key, payload, savedAt)
}

func (rf *RegionFile) appendLocked(key string, payload []byte, savedAt int64) error {
	buf := make([]byte, 2+len(key)+12+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(key)))
	copy(buf[2:], key)
	binary.LittleEndian.PutUint32(buf[2+len(key):], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[2+len(key)+4:], uint64(savedAt))
	copy(buf[2+len(key)+12:], payload)

	if _, err := rf.file.WriteAt(buf, rf.size); err != nil {
		return fmt.Errorf("не удалось дозаписать запись %s: %w", key, err)
	}

	if old, ok := rf.index[key]; ok {
		rf.liveBytes -= int64(old.length)
	}
	if len(payload) > 0 {
		rf.index[key] = recordRef{
			offset:  rf.size + 2 + int64(len(key)) + 12,
			length:  uint32(len(payload)),
			savedAt: savedAt,
		}
		rf.liveBytes += int64(len(payload))
	} else {
		delete(rf.index, key)
	}
	rf.size += int64(len(buf))
	rf.lastAccess = time.Now()
	rf.dirty = true
	return nil
}

// GetRecord возвращает сжатую полезную нагрузку последней живой записи чанка.
// Блокировка удерживается на время чтения: Compact подменяет rf.file.
func (rf *RegionFile) GetRecord(key string) ([]byte, error) {
	rf.mu.RLock()
	ref, ok := rf.index[key]
	if !ok {
		rf.mu.RUnlock()
		return nil, &ErrChunkNotFound{Key: key}
	}

	payload := make([]byte, ref.length)
	_, err := rf.file.ReadAt(payload, ref.offset)
	rf.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать запись %s: %w", key, err)
	}

	rf.mu.Lock()
	rf.lastAccess = time.Now()
	rf.mu.Unlock()
	return payload, nil
}

// HasRecord проверяет наличие живой записи чанка
func (rf *RegionFile) HasRecord(key string) bool {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	_, ok := rf.index[key]
	return ok
}

// DeleteRecord помечает чанк удалённым записью-надгробием
func (rf *RegionFile) DeleteRecord(key string) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if _, ok := rf.index[key]; !ok {
		return nil
	}
	return rf.appendLocked(key, nil, time.Now().Unix())
}

// Keys возвращает ключи всех живых записей региона
func (rf *RegionFile) Keys() []string {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	keys := make([]string, 0, len(rf.index))
	for k := range rf.index {
		keys = append(keys, k)
	}
	return keys
}

// Count возвращает число живых записей
func (rf *RegionFile) Count() int {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return len(rf.index)
}

// NeedsCompaction сообщает, разросся ли журнал относительно живых данных
func (rf *RegionFile) NeedsCompaction() bool {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	if rf.liveBytes == 0 {
		return rf.size > regionHdrSize
	}
	return float64(rf.size-regionHdrSize) > float64(rf.liveBytes)*RegionCompactionGrowFactor
}

// Compact переписывает журнал, оставляя только живые записи.
// Пишет во временный файл и атомарно подменяет исходный.
func (rf *RegionFile) Compact() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	tmpPath := rf.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("не удалось создать временный файл компактизации: %w", err)
	}

	hdr := make([]byte, regionHdrSize)
	copy(hdr, regionMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], regionVersion)
	if _, err := tmp.Write(hdr); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("не удалось записать заголовок: %w", err)
	}

	newIndex := make(map[string]recordRef, len(rf.index))
	offset := int64(regionHdrSize)
	var newLive int64

	for key, ref := range rf.index {
		payload := make([]byte, ref.length)
		if _, err := rf.file.ReadAt(payload, ref.offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("ошибка чтения при компактизации %s: %w", key, err)
		}
		buf := make([]byte, 2+len(key)+12+len(payload))
		binary.LittleEndian.PutUint16(buf[0:2], uint16(len(key)))
		copy(buf[2:], key)
		binary.LittleEndian.PutUint32(buf[2+len(key):], uint32(len(payload)))
		binary.LittleEndian.PutUint64(buf[2+len(key)+4:], uint64(ref.savedAt))
		copy(buf[2+len(key)+12:], payload)

		if _, err := tmp.WriteAt(buf, offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("ошибка записи при компактизации %s: %w", key, err)
		}
		newIndex[key] = recordRef{
			offset:  offset + 2 + int64(len(key)) + 12,
			length:  ref.length,
			savedAt: ref.savedAt,
		}
		newLive += int64(ref.length)
		offset += int64(len(buf))
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("не удалось синхронизировать временный файл: %w", err)
	}
	tmp.Close()
	rf.file.Close()

	if err := os.Rename(tmpPath, rf.path); err != nil {
		return fmt.Errorf("не удалось подменить файл региона: %w", err)
	}

	file, err := os.OpenFile(rf.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("не удалось переоткрыть файл региона: %w", err)
	}
	rf.file = file
	rf.index = newIndex
	rf.liveBytes = newLive
	rf.size = offset
	rf.dirty = false
	return nil
}

// Sync сбрасывает буферы файла на диск
func (rf *RegionFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if !rf.dirty {
		return nil
	}
	if err := rf.file.Sync(); err != nil {
		return fmt.Errorf("не удалось синхронизировать файл региона: %w", err)
	}
	rf.dirty = false
	return nil
}

// Close синхронизирует и закрывает файл региона
func (rf *RegionFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.dirty {
		if err := rf.file.Sync(); err != nil {
			rf.file.Close()
			return fmt.Errorf("не удалось синхронизировать файл региона при закрытии: %w", err)
		}
	}
	return rf.file.Close()
}
