// voicecheck is a terminal client for the voice reception bridge: it starts
// a conversation, replays a recorded PCM file as the microphone, submits it,
// and speaks assistant replies through sox.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/smilecare/voice-reception/messages"
	"github.com/smilecare/voice-reception/playback"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "bridge WebSocket URL")
	audioFile := flag.String("file", "examples/user.pcm", "PCM file to send as the recording")
	exclusive := flag.Bool("exclusive", false, "pause other clips when one starts")
	flag.Parse()

	log.Printf("🔌 Connecting to %s...", *serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	stage := playback.NewStage(*exclusive)
	done := make(chan struct{})

	go readLoop(conn, stage, done)

	// Greeting first, then replay the file as one recording and submit it.
	sendControl(conn, messages.ActionStartConversation, "")
	time.Sleep(2 * time.Second)

	sendControl(conn, messages.ActionStartRecording, "")
	if err := streamFile(conn, *audioFile); err != nil {
		log.Fatalf("Failed to stream %s: %v", *audioFile, err)
	}
	sendControl(conn, messages.ActionStopRecording, "")
	sendControl(conn, messages.ActionSubmit, "")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	select {
	case <-sigChan:
	case <-done:
	}
	log.Println("👋 Done")
}

// streamFile pushes the file as binary microphone chunks.
func streamFile(conn *websocket.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	const chunkSize = 16 * 1024
	for pos := 0; pos < len(data); pos += chunkSize {
		end := pos + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data[pos:end]); err != nil {
			return err
		}
	}
	log.Printf("🎤 Sent %d bytes of audio", len(data))
	return nil
}

func sendControl(conn *websocket.Conn, action, messageID string) {
	payload, _ := sonic.Marshal(messages.ControlPayload{Action: action, MessageID: messageID})
	frame, _ := sonic.Marshal(messages.ClientMessage{Type: "control", Payload: payload})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("❌ Failed to send %s: %v", action, err)
	}
}

// readLoop prints transcript updates and auto-plays assistant clips.
func readLoop(conn *websocket.Conn, stage *playback.Stage, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var raw struct {
			Type string `json:"type"`
		}
		if err := sonic.Unmarshal(data, &raw); err != nil {
			continue
		}

		switch raw.Type {
		case messages.TypeTranscript:
			var frame struct {
				Payload messages.TranscriptPayload `json:"payload"`
			}
			if err := sonic.Unmarshal(data, &frame); err != nil {
				continue
			}
			handleTranscript(conn, stage, frame.Payload)

		case messages.TypeNotice:
			var frame struct {
				Payload messages.NoticePayload `json:"payload"`
			}
			if err := sonic.Unmarshal(data, &frame); err != nil {
				continue
			}
			if frame.Payload.Kind == "booking_confirmed" {
				log.Printf("📧 %s", frame.Payload.Text)
			}

		case messages.TypeError:
			var frame struct {
				Payload messages.ErrorPayload `json:"payload"`
			}
			if err := sonic.Unmarshal(data, &frame); err != nil {
				continue
			}
			log.Printf("❌ %s: %s", frame.Payload.Code, frame.Payload.Message)

		case messages.TypeSession:
			var frame struct {
				Payload messages.SessionPayload `json:"payload"`
			}
			if err := sonic.Unmarshal(data, &frame); err != nil {
				continue
			}
			log.Printf("ℹ️ session %s: %s", shortID(frame.Payload.SessionID), frame.Payload.State)
		}
	}
}

// handleTranscript mounts a player for playable assistant messages; the
// player's auto-play-once policy decides whether it speaks.
func handleTranscript(conn *websocket.Conn, stage *playback.Stage, payload messages.TranscriptPayload) {
	msg := payload.Message
	log.Printf("💬 [%s] %s", msg.Role, msg.Content)

	if msg.Role != messages.RoleAssistant || !msg.HasClip() {
		return
	}

	elem := playback.NewSoxElement(http.DefaultClient)
	player := playback.NewPlayer(elem, stage, msg,
		playback.WithOnPlaying(func(messageID string) {
			log.Printf("🔊 speaking: %s", shortID(messageID))
			sendControl(conn, messages.ActionMarkPlayed, messageID)
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := player.Mount(ctx, msg.ClipURL); err != nil {
		log.Printf("⚠️ failed to load clip: %v", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
