package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	_ "modernc.org/sqlite"
)

// IndexDB — глобальный каталог чанков мира в sqlite. Хранит соответствие
// ключа чанка файлу региона и произвольные свойства мира. Каталог позволяет
// перечислять и проверять чанки без открытия файлов регионов.
type IndexDB struct {
	db *sql.DB
}

// OpenIndexDB открывает или создаёт каталог в директории мира
func OpenIndexDB(basePath string) (*IndexDB, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию мира: %w", err)
	}

	path := filepath.Join(basePath, "index.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть каталог чанков: %w", err)
	}
	// Драйвер не выносит конкурентных соединений на одном файле без WAL
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS chunks (
	key      TEXT PRIMARY KEY,
	region   TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_region ON chunks(region);
CREATE TABLE IF NOT EXISTS world_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать схему каталога: %w", err)
	}

	return &IndexDB{db: db}, nil
}

// PutChunk регистрирует чанк в каталоге
func (idx *IndexDB) PutChunk(ctx context.Context, key, region string, savedAt int64) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO chunks(key, region, saved_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET region = excluded.region, saved_at = excluded.saved_at`,
		key, region, savedAt)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать чанк %s: %w", key, err)
	}
	return nil
}

// HasChunk проверяет наличие чанка в каталоге
func (idx *IndexDB) HasChunk(ctx context.Context, key string) (bool, error) {
	var one int
	err := idx.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка запроса каталога: %w", err)
	}
	return true, nil
}

// RegionOf возвращает имя региона, в котором сохранён чанк
func (idx *IndexDB) RegionOf(ctx context.Context, key string) (string, error) {
	var region string
	err := idx.db.QueryRowContext(ctx,
		`SELECT region FROM chunks WHERE key = ?`, key).Scan(&region)
	if err == sql.ErrNoRows {
		return "", &ErrChunkNotFound{Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("ошибка запроса каталога: %w", err)
	}
	return region, nil
}

// DeleteChunk убирает чанк из каталога
func (idx *IndexDB) DeleteChunk(ctx context.Context, key string) error {
	if _, err := idx.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE key = ?`, key); err != nil {
		return fmt.Errorf("не удалось удалить чанк %s из каталога: %w", key, err)
	}
	return nil
}

// ListChunks возвращает адреса всех сохранённых чанков мира
func (idx *IndexDB) ListChunks(ctx context.Context) ([]chunkaddress.Address, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT key FROM chunks ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления чанков: %w", err)
	}
	defer rows.Close()

	var addrs []chunkaddress.Address
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки каталога: %w", err)
		}
		addr, err := chunkaddress.ParseKey(key)
		if err != nil {
			// Нечитаемые ключи пропускаем, каталог не должен ронять перечисление
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}

// ChunkCount возвращает число зарегистрированных чанков
func (idx *IndexDB) ChunkCount(ctx context.Context) (int, error) {
	var n int
	if err := idx.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта чанков: %w", err)
	}
	return n, nil
}

// SetWorldProperty сохраняет произвольное свойство мира
func (idx *IndexDB) SetWorldProperty(ctx context.Context, key, value string) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO world_info(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("не удалось сохранить свойство %s: %w", key, err)
	}
	return nil
}

// WorldProperty читает свойство мира; пустая строка если свойства нет
func (idx *IndexDB) WorldProperty(ctx context.Context, key string) (string, error) {
	var value string
	err := idx.db.QueryRowContext(ctx,
		`SELECT value FROM world_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения свойства %s: %w", key, err)
	}
	return value, nil
}

// Close закрывает каталог
func (idx *IndexDB) Close() error {
	return idx.db.Close()
}
