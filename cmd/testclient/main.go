package main

import (
	"flag"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"ai-voice-bridge-service/internal/service/turn"
)

// Sends a handshake and a few silent frames. With the mock STT provider every
// frame advances the scripted transcript, so a turn follows.
func main() {
	serverURL := flag.String("server", "ws://localhost:8000/ws", "Voice bridge websocket URL")
	frames := flag.Int("frames", 4, "Number of silent 100ms frames to send")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"authToken":"","projects":["Home"],"tasks":[]}`)); err != nil {
		log.Fatalf("failed to send handshake: %v", err)
	}

	silence := make([]byte, 3200)
	for i := 0; i < *frames; i++ {
		log.Printf("Sending frame %d", i+1)
		if err := conn.WriteMessage(websocket.BinaryMessage, silence); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		var ev turn.Event
		if err := conn.ReadJSON(&ev); err != nil {
			log.Fatalf("failed to read event: %v", err)
		}
		log.Printf("Event: type=%s text=%q transcript=%q", ev.Type, ev.Text, ev.Transcript)
		if ev.Terminal() {
			break
		}
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, nil); err != nil {
		log.Fatalf("failed to end stream: %v", err)
	}
	log.Println("Session ended")
}
