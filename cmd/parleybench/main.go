// Command parleybench replays synthetic utterances against a parley server
// and reports turn latency as seen by a client: time to first audio and time
// to the end-of-speech marker.
package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/enijar/parley/internal/audio"
	"github.com/enijar/parley/internal/protocol"
)

const wireSampleRate = 16000

type options struct {
	serverURL      string
	baseURL        string
	turns          int
	utteranceMS    int
	wavPath        string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

type turnResult struct {
	firstAudio time.Duration
	turnTotal  time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parleybench: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parleybench: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var interTurnMS, turnTimeoutMS int

	flag.StringVar(&cfg.serverURL, "server", "ws://127.0.0.1:8080/ws", "parley websocket URL")
	flag.StringVar(&cfg.baseURL, "base-url", "", "HTTP base URL for the latency debug endpoint (optional)")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&cfg.utteranceMS, "utterance-ms", 1500, "synthetic utterance length in milliseconds")
	flag.StringVar(&cfg.wavPath, "wav", "", "WAV file to replay instead of a synthetic tone")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "per-turn timeout in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.utteranceMS < 100 || cfg.utteranceMS > 30000 {
		return options{}, fmt.Errorf("utterance-ms must be in [100,30000]")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	utterance, err := loadUtterance(cfg)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.serverURL, err)
	}
	defer conn.Close()

	var results []turnResult
	for i := 0; i < cfg.turns; i++ {
		res, err := runTurn(conn, utterance, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("parleybench: turn %d/%d first_audio=%s total=%s\n", i+1, cfg.turns, res.firstAudio.Round(time.Millisecond), res.turnTotal.Round(time.Millisecond))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"endCall"}`))

	printSummary(results)
	if cfg.baseURL != "" {
		printServerLatency(strings.TrimRight(cfg.baseURL, "/"))
	}
	return nil
}

func runTurn(conn *websocket.Conn, utterance []byte, timeout time.Duration) (turnResult, error) {
	start := time.Now()
	if err := conn.WriteMessage(websocket.BinaryMessage, utterance); err != nil {
		return turnResult{}, fmt.Errorf("send utterance: %w", err)
	}

	var res turnResult
	deadline := start.Add(timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return turnResult{}, fmt.Errorf("read reply: %w", err)
		}
		switch msgType {
		case websocket.BinaryMessage:
			if res.firstAudio == 0 {
				res.firstAudio = time.Since(start)
			}
		case websocket.TextMessage:
			msg, err := protocol.ParseControl(data)
			if err != nil {
				continue
			}
			if msg.Event == protocol.EventEndOfTTS {
				res.turnTotal = time.Since(start)
				return res, nil
			}
		}
	}
}

func loadUtterance(cfg options) ([]byte, error) {
	if cfg.wavPath == "" {
		return syntheticTone(cfg.utteranceMS), nil
	}
	raw, err := os.ReadFile(cfg.wavPath)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	pcm, sampleRate, err := decodeWAVPCM16(raw)
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if sampleRate != wireSampleRate {
		pcm = audio.ResamplePCM16LE(pcm, sampleRate, wireSampleRate)
	}
	return pcm, nil
}

// syntheticTone produces an A4 sine with a fade-out tail of silence so the
// server's transcription sees a clean utterance boundary.
func syntheticTone(ms int) []byte {
	samples := wireSampleRate * ms / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/wireSampleRate))
		if i >= samples*4/5 {
			v = 0
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

// decodeWAVPCM16 extracts PCM16LE data from a WAV container, downmixing
// stereo to mono.
func decodeWAVPCM16(wav []byte) ([]byte, int, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		channels   int
		sampleRate int
		bits       int
		data       []byte
	)
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(wav[body:]); format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			bits = int(binary.LittleEndian.Uint16(wav[body+14:]))
		case "data":
			data = wav[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", bits)
	}
	if sampleRate <= 0 || data == nil {
		return nil, 0, errors.New("missing fmt or data chunk")
	}
	switch channels {
	case 1:
		return data, sampleRate, nil
	case 2:
		frames := len(data) / 4
		mono := make([]byte, frames*2)
		for i := 0; i < frames; i++ {
			l := int16(binary.LittleEndian.Uint16(data[i*4:]))
			r := int16(binary.LittleEndian.Uint16(data[i*4+2:]))
			binary.LittleEndian.PutUint16(mono[i*2:], uint16((int32(l)+int32(r))/2))
		}
		return mono, sampleRate, nil
	default:
		return nil, 0, fmt.Errorf("unsupported channel count %d", channels)
	}
}

func printSummary(results []turnResult) {
	firstAudio := make([]time.Duration, 0, len(results))
	totals := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.firstAudio > 0 {
			firstAudio = append(firstAudio, r.firstAudio)
		}
		totals = append(totals, r.turnTotal)
	}
	fmt.Printf("parleybench: %d turns\n", len(results))
	fmt.Printf("  first_audio p50=%s p95=%s\n", percentile(firstAudio, 50).Round(time.Millisecond), percentile(firstAudio, 95).Round(time.Millisecond))
	fmt.Printf("  turn_total  p50=%s p95=%s\n", percentile(totals, 50).Round(time.Millisecond), percentile(totals, 95).Round(time.Millisecond))
}

func percentile(values []time.Duration, p int) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*p + 99) / 100
	if idx < 1 {
		idx = 1
	}
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}

func printServerLatency(baseURL string) {
	resp, err := http.Get(baseURL + "/debug/latency")
	if err != nil {
		fmt.Fprintf(os.Stderr, "parleybench: fetch server latency: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return
	}
	var pretty json.RawMessage = body
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Printf("server-side stage latency:\n%s\n", out)
}
