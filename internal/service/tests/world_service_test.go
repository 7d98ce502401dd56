package service_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/chunkmanager"
	"github.com/annelo/go-planet-server/internal/plugin"
	"github.com/annelo/go-planet-server/internal/protocol"
	"github.com/annelo/go-planet-server/internal/service"
	"github.com/annelo/go-planet-server/internal/storage"
	"github.com/annelo/go-planet-server/internal/worldgen"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

const (
	testChunkSize = 5000.0
	testTiles     = 4
	testSeed      = int64(42)
)

// newTestService поднимает плоский мир с крупными чанками (небольшое
// видимое множество) и websocket-сервер поверх него.
func newTestService(t *testing.T, store storage.WorldStorage) (*service.WorldService, *httptest.Server) {
	t.Helper()

	genCfg := worldgen.Config{
		Seed:          testSeed,
		TilesPerChunk: testTiles,
		ChunkSize:     testChunkSize,
	}
	if bs, ok := store.(*storage.BinaryStorage); ok {
		genCfg.Store = bs.ChunkStore()
	}
	gen := worldgen.NewGenerator(genCfg)

	streamer, err := chunkmanager.NewChunkStreamer(chunkmanager.Config{
		Producer:      gen,
		TilesPerChunk: testTiles,
		ChunkSize:     testChunkSize,
	})
	require.NoError(t, err)

	svc := service.NewWorldService(service.Config{
		Generator: gen,
		Streamer:  streamer,
		Storage:   store,
		World: storage.WorldInfo{
			Name:     "testworld",
			Topology: "flat",
			Seed:     testSeed,
		},
		ChunkSize:     testChunkSize,
		TilesPerChunk: testTiles,
	})

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		if store == nil {
			streamer.Close()
		}
	})
	return svc, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func readMsg(t *testing.T, conn *websocket.Conn) (protocol.BaseMessage, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	base, err := protocol.DecodeBase(raw)
	require.NoError(t, err)
	return base, raw
}

// waitForType читает сообщения, пока не встретит нужный тип
func waitForType(t *testing.T, conn *websocket.Conn, msgType string) []byte {
	t.Helper()
	for i := 0; i < 500; i++ {
		base, raw := readMsg(t, conn)
		if base.Type == msgType {
			return raw
		}
	}
	t.Fatalf("не дождались сообщения %s", msgType)
	return nil
}

func sayHello(t *testing.T, conn *websocket.Conn, name, viewerID string) protocol.WelcomeMsg {
	t.Helper()
	writeMsg(t, conn, &protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ViewerName:      name,
		ViewerID:        viewerID,
	})
	raw := waitForType(t, conn, protocol.TypeWelcome)
	var welcome protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(raw, &welcome))
	return welcome
}

func TestWorldService_HandshakeWelcome(t *testing.T) {
	_, srv := newTestService(t, nil)
	conn := dial(t, srv)

	welcome := sayHello(t, conn, "renderer", "")
	assert.NotEmpty(t, welcome.ViewerID)
	assert.Equal(t, protocol.Version, welcome.ProtocolVersion)
	assert.Equal(t, "testworld", welcome.WorldParams.Name)
	assert.Equal(t, "flat", welcome.WorldParams.Topology)
	assert.Equal(t, testSeed, welcome.WorldParams.Seed)
	assert.Equal(t, testChunkSize, welcome.WorldParams.ChunkSize)
	assert.Equal(t, testTiles, welcome.WorldParams.TilesPerChunk)
}

func TestWorldService_VersionMismatch(t *testing.T) {
	_, srv := newTestService(t, nil)
	conn := dial(t, srv)

	writeMsg(t, conn, &protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: "0.9",
		ViewerName:      "old-renderer",
	})
	raw := waitForType(t, conn, protocol.TypeError)
	var errMsg protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(raw, &errMsg))
	assert.Equal(t, protocol.CodeVersionMismatch, errMsg.Code)
}

func TestWorldService_RejectsNonHelloFirst(t *testing.T) {
	_, srv := newTestService(t, nil)
	conn := dial(t, srv)

	writeMsg(t, conn, &protocol.ViewerUpdateMsg{Type: protocol.TypeViewerUpdate, ProtocolVersion: protocol.Version})
	raw := waitForType(t, conn, protocol.TypeError)
	var errMsg protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(raw, &errMsg))
	assert.Equal(t, protocol.CodeBadMessage, errMsg.Code)
}

func TestWorldService_StreamsChunksAroundViewer(t *testing.T) {
	_, srv := newTestService(t, nil)
	conn := dial(t, srv)
	sayHello(t, conn, "renderer", "")

	// Позиция у поверхности: игровой цикл должен запросить чанки вокруг
	writeMsg(t, conn, &protocol.ViewerUpdateMsg{
		Type:     protocol.TypeViewerUpdate,
		Position: [3]float64{100, 10, 100},
		Dt:       0.05,
	})

	raw := waitForType(t, conn, protocol.TypeChunkReady)
	var ready protocol.ChunkReadyMsg
	require.NoError(t, json.Unmarshal(raw, &ready))

	addr, err := chunkaddress.ParseKey(ready.Key)
	require.NoError(t, err)
	assert.False(t, addr.Planetary, "плоский мир отдаёт плоские адреса")
	assert.Equal(t, testTiles, ready.Side)
	assert.Len(t, ready.Tiles, testTiles*testTiles)
	assert.Len(t, ready.Heights, testTiles*testTiles)
}

func TestWorldService_ZoneChangeNotifiesRenderer(t *testing.T) {
	_, srv := newTestService(t, nil)
	conn := dial(t, srv)
	sayHello(t, conn, "renderer", "")

	// Подъём с поверхности в среднюю зону
	writeMsg(t, conn, &protocol.ViewerUpdateMsg{
		Type:     protocol.TypeViewerUpdate,
		Position: [3]float64{0, 3000, 0},
		Dt:       0.05,
	})

	raw := waitForType(t, conn, protocol.TypeZoneChanged)
	var zone protocol.ZoneChangedMsg
	require.NoError(t, json.Unmarshal(raw, &zone))
	assert.Equal(t, "medium", zone.Zone)
	assert.Equal(t, 3000.0, zone.Altitude)
	assert.Greater(t, zone.TerrainBlend, 0.0)
}

func TestWorldService_ProgressBroadcast(t *testing.T) {
	_, srv := newTestService(t, nil)
	conn := dial(t, srv)
	sayHello(t, conn, "renderer", "")

	writeMsg(t, conn, &protocol.ViewerUpdateMsg{
		Type:     protocol.TypeViewerUpdate,
		Position: [3]float64{0, 10, 0},
		Dt:       0.05,
	})

	raw := waitForType(t, conn, protocol.TypeProgress)
	var prog protocol.ProgressMsg
	require.NoError(t, json.Unmarshal(raw, &prog))
	assert.GreaterOrEqual(t, prog.Loaded+prog.Pending+prog.Queued, 1)
}

func TestWorldService_UnknownMessageType(t *testing.T) {
	_, srv := newTestService(t, nil)
	conn := dial(t, srv)
	sayHello(t, conn, "renderer", "")

	writeMsg(t, conn, map[string]string{"type": "TELEPORT"})
	raw := waitForType(t, conn, protocol.TypeError)
	var errMsg protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(raw, &errMsg))
	assert.Equal(t, protocol.CodeBadMessage, errMsg.Code)
}

func TestWorldService_SessionResume(t *testing.T) {
	store, err := storage.NewBinaryStorage(t.TempDir(), "testworld", testSeed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, srv := newTestService(t, store)

	conn := dial(t, srv)
	welcome := sayHello(t, conn, "renderer", "")
	require.NoError(t, conn.Close())

	// Даём серверу зафиксировать отключение и сохранить состояние
	time.Sleep(200 * time.Millisecond)

	conn2 := dial(t, srv)
	welcome2 := sayHello(t, conn2, "renderer", welcome.ViewerID)
	assert.Equal(t, welcome.ViewerID, welcome2.ViewerID, "возобновлённая сессия сохраняет ID")
}

// TestWorldService_PluginChunkHooks проверяет, что хуки жизненного цикла
// чанков из реестра плагинов выполняются генератором и стримером.
func TestWorldService_PluginChunkHooks(t *testing.T) {
	reg := plugin.NewDefaultRegistry()

	var mu sync.Mutex
	events := make(map[plugin.HookType][]string)
	record := func(hook plugin.HookType) plugin.HookFunc {
		return func(args ...interface{}) {
			var key string
			switch v := args[0].(type) {
			case chunkaddress.Address:
				key = v.Key()
			case worldinterfaces.ChunkData:
				key = v.Address().Key()
			case string:
				key = v
			}
			mu.Lock()
			events[hook] = append(events[hook], key)
			mu.Unlock()
		}
	}
	for _, hook := range []plugin.HookType{
		plugin.HookBeforeChunkProduce,
		plugin.HookAfterChunkProduce,
		plugin.HookBeforeChunkUnload,
		plugin.HookAfterChunkUnload,
	} {
		reg.RegisterHook(hook, record(hook))
	}

	gen := worldgen.NewGenerator(worldgen.Config{
		Seed:          testSeed,
		TilesPerChunk: testTiles,
		ChunkSize:     testChunkSize,
	})
	streamer, err := chunkmanager.NewChunkStreamer(chunkmanager.Config{
		Producer:      gen,
		TilesPerChunk: testTiles,
		ChunkSize:     testChunkSize,
	})
	require.NoError(t, err)
	t.Cleanup(streamer.Close)

	service.NewWorldService(service.Config{
		Registry:  reg,
		Generator: gen,
		Streamer:  streamer,
		World:     storage.WorldInfo{Name: "testworld", Topology: "flat", Seed: testSeed},
		ChunkSize: testChunkSize,
	})

	req, err := streamer.RequestChunk("2,3", 0, nil)
	require.NoError(t, err)
	_, err = req.Await(context.Background())
	require.NoError(t, err)
	streamer.Unload("2,3")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"2,3"}, events[plugin.HookBeforeChunkProduce])
	assert.Equal(t, []string{"2,3"}, events[plugin.HookAfterChunkProduce])
	assert.Equal(t, []string{"2,3"}, events[plugin.HookBeforeChunkUnload])
	assert.Equal(t, []string{"2,3"}, events[plugin.HookAfterChunkUnload])
}

func TestWorldService_ShutdownNotifiesClients(t *testing.T) {
	svc, srv := newTestService(t, nil)
	conn := dial(t, srv)
	sayHello(t, conn, "renderer", "")

	go svc.Stop()

	raw := waitForType(t, conn, protocol.TypeServerShutdown)
	var down protocol.ServerShutdownMsg
	require.NoError(t, json.Unmarshal(raw, &down))
	assert.NotEmpty(t, down.Reason)
}
