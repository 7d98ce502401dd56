package storage_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/annelo/go-planet-server/internal/storage"
)

// TestRegionFile_SaveLoad проверяет, что после сохранения записи её можно
// корректно прочитать обратно.
func TestRegionFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat_0_0.preg")

	region, err := storage.OpenRegionFile(path)
	if err != nil {
		t.Fatalf("cannot create region file: %v", err)
	}
	defer region.Close()

	payload := []byte("terrain-payload")
	if err := region.SaveRecord("1,2", payload, 100); err != nil {
		t.Fatalf("save record failed: %v", err)
	}

	got, err := region.GetRecord("1,2")
	if err != nil {
		t.Fatalf("get record failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got, payload)
	}
}

// TestRegionFile_ReopenRebuildsIndex проверяет восстановление индекса
// сканированием журнала при повторном открытии.
func TestRegionFile_ReopenRebuildsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f4_l0_0_0.preg")

	region, err := storage.OpenRegionFile(path)
	if err != nil {
		t.Fatalf("cannot create region file: %v", err)
	}

	if err := region.SaveRecord("4:1,2:0", []byte("v1"), 100); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// Повторное сохранение того же чанка дозаписывает новую версию
	if err := region.SaveRecord("4:1,2:0", []byte("v2-longer"), 200); err != nil {
		t.Fatalf("resave failed: %v", err)
	}
	if err := region.SaveRecord("4:3,3:0", []byte("other"), 300); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := region.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := storage.OpenRegionFile(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.Count() != 2 {
		t.Fatalf("expected 2 live records after reopen, got %d", reopened.Count())
	}
	got, err := reopened.GetRecord("4:1,2:0")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if string(got) != "v2-longer" {
		t.Fatalf("expected latest version, got %q", got)
	}
}

// TestRegionFile_DeleteTombstone проверяет, что удаление переживает переоткрытие.
func TestRegionFile_DeleteTombstone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat_0_0.preg")

	region, err := storage.OpenRegionFile(path)
	if err != nil {
		t.Fatalf("cannot create region file: %v", err)
	}

	if err := region.SaveRecord("5,5", []byte("doomed"), 100); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := region.DeleteRecord("5,5"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if region.HasRecord("5,5") {
		t.Fatal("record should be gone after delete")
	}
	if err := region.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := storage.OpenRegionFile(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.HasRecord("5,5") {
		t.Fatal("tombstone should survive reopen")
	}
	if _, err := reopened.GetRecord("5,5"); err == nil {
		t.Fatal("expected error reading deleted record")
	}
}

// TestRegionFile_Compact проверяет, что компактизация сжимает журнал
// и сохраняет живые записи.
func TestRegionFile_Compact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat_0_0.preg")

	region, err := storage.OpenRegionFile(path)
	if err != nil {
		t.Fatalf("cannot create region file: %v", err)
	}
	defer region.Close()

	// Много перезаписей одного чанка раздувают журнал
	for i := 0; i < 20; i++ {
		if err := region.SaveRecord("7,7", bytes.Repeat([]byte{byte(i)}, 64), int64(i)); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	if err := region.SaveRecord("8,8", []byte("keep"), 999); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if !region.NeedsCompaction() {
		t.Fatal("journal with 20 rewrites should need compaction")
	}

	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	if err := region.Compact(); err != nil {
		t.Fatalf("compact failed: %v", err)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if after.Size() >= before.Size() {
		t.Fatalf("compaction did not shrink file: %d -> %d", before.Size(), after.Size())
	}

	got, err := region.GetRecord("7,7")
	if err != nil {
		t.Fatalf("get after compact failed: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{19}, 64)) {
		t.Fatal("latest version lost during compaction")
	}
	if keep, err := region.GetRecord("8,8"); err != nil || string(keep) != "keep" {
		t.Fatalf("second record lost during compaction: %v", err)
	}
	if region.NeedsCompaction() {
		t.Fatal("freshly compacted region should not need compaction")
	}
}

// TestRegionFile_ConcurrentReadsDuringCompact гоняет читателей против
// перезаписей с компактизацией: компактизация подменяет файл, чтение
// не должно видеть закрытый дескриптор.
func TestRegionFile_ConcurrentReadsDuringCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat_0_0.preg")

	region, err := storage.OpenRegionFile(path)
	if err != nil {
		t.Fatalf("cannot create region file: %v", err)
	}
	defer region.Close()

	if err := region.SaveRecord("9,9", []byte("stable"), 1); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := region.GetRecord("9,9")
				if err != nil {
					t.Errorf("read during compaction failed: %v", err)
					return
				}
				if string(got) != "stable" {
					t.Errorf("payload corrupted: %q", got)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if err := region.SaveRecord("10,10", bytes.Repeat([]byte{byte(i)}, 128), int64(i)); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if err := region.Compact(); err != nil {
			t.Fatalf("compact failed: %v", err)
		}
	}
	close(done)
	wg.Wait()
}
