// Command connect-host is the browser's native messaging host. It carries
// external redemption messages from the extension to the daemon.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/ipc"
	"github.com/rexliu/splitsconnect/pkg/storagerelay"
)

// message is the native messaging envelope. Origin is the sender origin the
// extension observed for the external message.
type message struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	Origin string `json:"origin,omitempty"`
}

type caller func(ctx context.Context, req ipc.Request) (*ipc.Response, error)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Profile directory")
	socket := flag.String("socket", "", "Override socket path")
	flag.Parse()

	socketPath := *socket
	if socketPath == "" {
		cfg, err := config.LoadProfile(*profile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "host: load config: %v\n", err)
			os.Exit(1)
		}
		socketPath = config.ResolvePath(*profile, cfg.IPC.SocketPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	call := func(ctx context.Context, req ipc.Request) (*ipc.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return ipc.Call(ctx, socketPath, req)
	}
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()
	if err := serve(ctx, bufio.NewReader(os.Stdin), writer, call); err != nil {
		fmt.Fprintf(os.Stderr, "host exiting: %v\n", err)
	}
}

// serve answers one framed reply per framed message until r is exhausted.
func serve(ctx context.Context, r io.Reader, w *bufio.Writer, call caller) error {
	for {
		frame, err := ipc.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		reply := handle(ctx, frame, call)
		payload, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		if err := ipc.WriteFrame(w, payload); err != nil {
			return fmt.Errorf("write error: %w", err)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

func handle(ctx context.Context, frame []byte, call caller) any {
	var msg message
	if err := json.Unmarshal(frame, &msg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid message: %v\n", err)
		return storagerelay.Reply{}
	}
	switch msg.Type {
	case "ping":
		if _, err := call(ctx, ipc.Request{Type: "ping"}); err != nil {
			return map[string]any{"ok": false}
		}
		return map[string]any{"ok": true}
	case storagerelay.MessageType:
		params, err := json.Marshal(storagerelay.Request{Type: msg.Type, Token: msg.Token})
		if err != nil {
			return storagerelay.Reply{}
		}
		resp, err := call(ctx, ipc.Request{Type: storagerelay.MessageType, Origin: msg.Origin, Params: params})
		if err != nil {
			fmt.Fprintf(os.Stderr, "daemon call: %v\n", err)
			return storagerelay.Reply{}
		}
		var reply storagerelay.Reply
		if err := json.Unmarshal(resp.Result, &reply); err != nil {
			return storagerelay.Reply{}
		}
		return reply
	default:
		return storagerelay.Reply{}
	}
}
