package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"ai-voice-bridge-service/internal/service/turn"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// At 16kHz 16-bit mono = 32000 bytes/second, so 100ms chunks are 3200 bytes.
const chunkSize = 3200
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8000/ws", "Voice bridge websocket URL")
	token := flag.String("token", "", "Bearer token forwarded to the task API")
	linger := flag.Duration("linger", 10*time.Second, "How long to wait for responses after the audio ends")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if sampleRate != 16000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 16000 Hz", sampleRate)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	handshake, _ := json.Marshal(map[string]any{
		"authToken": *token,
		"projects":  []string{},
		"tasks":     []any{},
	})
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		log.Fatalf("Failed to send handshake: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev turn.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Connection ended: %v", err)
				}
				return
			}
			switch ev.Type {
			case turn.EventStart:
				log.Printf("> %s", ev.Transcript)
			case turn.EventChunk:
				os.Stdout.WriteString(ev.Text)
			case turn.EventEnd:
				os.Stdout.WriteString("\n")
			case turn.EventError:
				log.Printf("! %s", ev.Text)
			}
		}
	}()

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))
	log.Printf("Waiting %v for responses...", *linger)

	select {
	case <-done:
		return
	case <-time.After(*linger):
	}

	// A zero-length frame ends the session.
	if err := conn.WriteMessage(websocket.BinaryMessage, nil); err != nil {
		log.Fatalf("Failed to end stream: %v", err)
	}
	<-done
	log.Println("Session closed")
}
