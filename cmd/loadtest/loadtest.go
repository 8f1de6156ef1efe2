// Command loadtest opens many websocket sessions against a running chatterd
// and measures how long message:new events take to fan out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/chatterd/internal/auth"
	"github.com/johndosdos/chatterd/internal/model"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	addr := flag.String("addr", "ws://localhost:8080/ws", "websocket endpoint")
	site := flag.String("site", "loadtest", "site id")
	sessions := flag.Int("sessions", 50, "concurrent sessions")
	messages := flag.Int("messages", 10, "messages sent per session")
	room := flag.String("room", "room_loadtest", "room every session joins")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}
	v := auth.Verifier{Secret: secret, Issuer: os.Getenv("JWT_ISS")}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var received atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := range *sessions {
		g.Go(func() error {
			p := model.Participant{Kind: model.Employee, ID: fmt.Sprintf("lt-%d", i)}
			tok, err := v.MakeJWT(auth.Identity{Site: model.SiteID(*site), Participant: p}, 10*time.Minute)
			if err != nil {
				return err
			}
			return runSession(gctx, *addr+"?access_token="+tok, model.RoomID(*room), *messages, *sessions, &received)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("loadtest: %v", err)
	}

	elapsed := time.Since(start)
	want := int64(*sessions) * int64(*messages) * int64(*sessions)
	log.Printf("received %d/%d message:new events in %s", received.Load(), want, elapsed)
}

func runSession(ctx context.Context, url string, room model.RoomID, messages, sessions int, received *atomic.Int64) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	if err := write(ctx, conn, "room:join", map[string]any{"room": room}); err != nil {
		return err
	}

	// Give every session time to join before anyone sends.
	time.Sleep(time.Second)

	go func() {
		for i := range messages {
			err := write(ctx, conn, "message:send", map[string]any{
				"room":    room,
				"content": fmt.Sprintf("load %d", i),
			})
			if err != nil {
				return
			}
		}
	}()

	// Senders are room members too, so they see their own messages.
	want := messages * sessions
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for got := 0; got < want; {
		_, b, err := conn.Read(readCtx)
		if err != nil {
			return fmt.Errorf("read after %d events: %w", got, err)
		}
		var ev model.RawEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			continue
		}
		if ev.Type == model.EventMessageNew {
			got++
			received.Add(1)
		}
	}

	return conn.Close(websocket.StatusNormalClosure, "done")
}

func write(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	b, err := json.Marshal(map[string]any{"type": typ, "data": data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
