package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annelo/go-planet-server/internal/protocol"
)

var (
	serverAddr   = flag.String("addr", "ws://localhost:8776/ws", "Адрес websocket-сервера")
	clientsCount = flag.Int("n", 100, "Количество эмулируемых наблюдателей")
	duration     = flag.Duration("duration", 30*time.Second, "Длительность теста")
	climb        = flag.Bool("climb", true, "Набирать высоту до орбиты во время теста")
)

// Суммарные счётчики по всем ботам
var (
	chunksReceived  int64
	zoneChanges     int64
	progressUpdates int64
)

func main() {
	flag.Parse()
	log.Printf("Запускаем bClient: %d наблюдателей на %s в течение %s", *clientsCount, *serverAddr, *duration)

	var wg sync.WaitGroup
	stopCtx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	for i := 0; i < *clientsCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(stopCtx, id)
		}(i)
	}

	wg.Wait()
	log.Printf("bClient завершил работу: чанков=%d смен зон=%d прогрессов=%d",
		atomic.LoadInt64(&chunksReceived), atomic.LoadInt64(&zoneChanges), atomic.LoadInt64(&progressUpdates))
}

func runClient(ctx context.Context, id int) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, *serverAddr, nil)
	if err != nil {
		log.Printf("[bot %d] dial error: %v", id, err)
		return
	}
	defer conn.Close()

	randSrc := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	// Разносим ботов по миру, чтобы они не грызли один и тот же чанк
	x := float64(randSrc.Intn(200000) - 100000)
	z := float64(randSrc.Intn(200000) - 100000)
	y := 100.0

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ViewerName:      fmt.Sprintf("bot-%d", id),
		Position:        [3]float64{x, y, z},
	}
	if err := conn.WriteJSON(hello); err != nil {
		log.Printf("[bot %d] hello error: %v", id, err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[bot %d] welcome read error: %v", id, err)
		return
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(raw, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		log.Printf("[bot %d] unexpected handshake reply: %s", id, string(raw))
		return
	}

	// Читатель: считает входящие сообщения до закрытия соединения
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(raw)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeChunkReady:
				atomic.AddInt64(&chunksReceived, 1)
			case protocol.TypeZoneChanged:
				atomic.AddInt64(&zoneChanges, 1)
				var zc protocol.ZoneChangedMsg
				if json.Unmarshal(raw, &zc) == nil {
					log.Printf("[bot %d] зона %s, высота %.0f м", id, zc.Zone, zc.Altitude)
				}
			case protocol.TypeProgress:
				atomic.AddInt64(&progressUpdates, 1)
			case protocol.TypeServerShutdown:
				log.Printf("[bot %d] сервер остановлен", id)
				return
			}
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			// Горизонтальный дрейф со случайным направлением
			x += float64(randSrc.Intn(3)-1) * 50
			z += float64(randSrc.Intn(3)-1) * 50

			// Постепенный набор высоты: за тест бот проходит все зоны
			if *climb {
				y *= 1.05
			}

			update := protocol.ViewerUpdateMsg{
				Type:     protocol.TypeViewerUpdate,
				Position: [3]float64{x, y, z},
				Dt:       dt,
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		}
	}
}
