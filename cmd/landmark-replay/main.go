// landmark-replay: streams recorded landmark frames to a fallwatch ingest
// endpoint. Input is JSON Lines, one protocol message per line, as written
// by an estimator or by hand for testing.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/fallwatch/internal/log"
	"github.com/teslashibe/fallwatch/pkg/protocol"
)

var (
	url      = flag.String("url", "ws://localhost:8090/ws/landmarks/replay", "Ingest WebSocket URL")
	file     = flag.String("file", "", "JSON Lines file of landmarks/no_detection messages (required)")
	fps      = flag.Float64("fps", 0, "Fixed send rate; 0 follows captured_at timestamps")
	loop     = flag.Bool("loop", false, "Restart from the top at end of file")
	command  = flag.String("command", "", "Command to send before replaying (e.g. calibrate)")
	logLevel = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	logger := log.Init(log.Options{Level: *logLevel})

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: landmark-replay -file frames.jsonl [-url ws://host:8090/ws/landmarks/id]")
		os.Exit(2)
	}

	msgs, err := readMessages(*file)
	if err != nil {
		logger.Error("read input", "file", *file, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded frames", "file", *file, "count", len(msgs))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("dial", "url", *url, "error", err)
		os.Exit(1)
	}
	defer ws.Close()
	logger.Info("connected", "url", *url)

	// Print acks and errors from the server.
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseMessage(data)
			if err != nil {
				continue
			}
			logger.Info("server", "type", msg.Type, "data", string(msg.Data))
		}
	}()

	if *command != "" {
		if err := sendCommand(ws, *command); err != nil {
			logger.Error("send command", "command", *command, "error", err)
			os.Exit(1)
		}
	}

	for {
		sent, err := replay(ctx, ws, msgs)
		logger.Info("replay finished", "sent", sent)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("replay", "error", err)
				os.Exit(1)
			}
			break
		}
		if !*loop {
			break
		}
	}

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	time.Sleep(200 * time.Millisecond)
}

func readMessages(path string) ([]*protocol.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var msgs []*protocol.Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		msg, err := protocol.ParseMessage(sc.Bytes())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, err := protocol.DecodeObservation(msg); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, sc.Err()
}

func sendCommand(ws *websocket.Conn, name string) error {
	if !protocol.IsCommand(name) {
		return fmt.Errorf("unknown command %q (want one of %v)", name, protocol.Commands)
	}
	msg, err := protocol.NewCommandMessage(name)
	if err != nil {
		return err
	}
	return send(ws, msg)
}

func send(ws *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

// replay sends msgs in order, pacing by fps or by captured timestamps.
// Sequence numbers are cleared so the server assigns fresh ones on every
// pass.
func replay(ctx context.Context, ws *websocket.Conn, msgs []*protocol.Message) (int, error) {
	var prev time.Time
	for i, msg := range msgs {
		obs, _ := protocol.DecodeObservation(msg)

		var wait time.Duration
		switch {
		case *fps > 0:
			wait = time.Duration(float64(time.Second) / *fps)
		case !prev.IsZero():
			wait = obs.Timestamp().Sub(prev)
		}
		prev = obs.Timestamp()
		if i > 0 && wait > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(wait):
			}
		}

		out, err := restamp(msg)
		if err != nil {
			return i, err
		}
		if err := send(ws, out); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

// restamp drops the recorded sequence number and capture time.
func restamp(msg *protocol.Message) (*protocol.Message, error) {
	switch msg.Type {
	case protocol.TypeLandmarks:
		var d protocol.LandmarksData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		d.Sequence, d.CapturedAt = 0, 0
		return protocol.NewMessage(msg.Type, d)
	default:
		var d protocol.NoDetectionData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		d.Sequence, d.CapturedAt = 0, 0
		return protocol.NewMessage(msg.Type, d)
	}
}
