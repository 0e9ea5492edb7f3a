// Command parleyctl is a terminal voice client: it streams microphone
// utterances to a parley server and plays the synthesized replies, barging in
// when the user starts talking over the assistant.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/gorilla/websocket"

	"github.com/enijar/parley/internal/playback"
	"github.com/enijar/parley/internal/protocol"
	"github.com/enijar/parley/internal/vad"
)

const (
	sampleRate      = 16000
	framesPerBuffer = 1600 // 100ms
	reconnectDelay  = time.Second
	// playbackCapacity bounds buffered speech to ~10s; older audio is
	// dropped if the device stalls longer than that.
	playbackCapacity = sampleRate * 10
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "parley websocket URL")
	flag.Parse()

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("portaudio init: %v", err)
	}
	defer portaudio.Terminate()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nhanging up")
		close(done)
	}()

	player := playback.NewRingPlayer(playbackCapacity)
	startSpeaker(player)

	fmt.Println("connected mic; start talking (Ctrl+C to hang up)")
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := runSession(*serverURL, player, done); err != nil {
			log.Printf("session ended: %v; reconnecting in %s", err, reconnectDelay)
		}
		select {
		case <-done:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// startSpeaker opens the output stream and keeps it fed from the player.
func startSpeaker(player playback.Player) {
	out := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, out)
	if err != nil {
		log.Fatalf("open speaker stream: %v", err)
	}
	if err := stream.Start(); err != nil {
		log.Fatalf("start speaker stream: %v", err)
	}
	go func() {
		for {
			player.Render(out)
			if err := stream.Write(); err != nil {
				log.Printf("speaker write: %v", err)
			}
		}
	}()
}

// runSession drives one websocket connection until it fails or done closes.
func runSession(serverURL string, player playback.Player, done <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeText := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, payload)
	}
	writeBinary := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, payload)
	}

	// Incoming replies: binary PCM goes to the player, endOfTts marks the
	// turn finished.
	recvErr := make(chan error, 1)
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				recvErr <- err
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				player.Enqueue(data)
			case websocket.TextMessage:
				msg, err := protocol.ParseControl(data)
				if err == nil && msg.Event == protocol.EventEndOfTTS {
					fmt.Println("assistant finished speaking")
				}
			}
		}
	}()

	// Speech start barges in: drop local playback and tell the server to
	// stop synthesizing. Speech end ships the utterance.
	detector := vad.NewDetector(vad.Config{}, func() {
		player.Stop()
		if err := writeText([]byte(`{"event":"stopTts"}`)); err != nil {
			log.Printf("send stopTts: %v", err)
		}
	}, func(pcm []byte) {
		if len(pcm) == 0 {
			return
		}
		if err := writeBinary(pcm); err != nil {
			log.Printf("send utterance: %v", err)
		}
	})

	in := make([]int16, framesPerBuffer)
	mic, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, in)
	if err != nil {
		return fmt.Errorf("open mic stream: %w", err)
	}
	defer mic.Close()
	if err := mic.Start(); err != nil {
		return fmt.Errorf("start mic stream: %w", err)
	}
	defer mic.Stop()

	for {
		select {
		case <-done:
			detector.Flush()
			_ = writeText([]byte(`{"event":"endCall"}`))
			return nil
		case err := <-recvErr:
			return err
		default:
		}
		if err := mic.Read(); err != nil {
			log.Printf("mic read: %v", err)
			continue
		}
		detector.Process(playback.SamplesToBytes(in))
	}
}
