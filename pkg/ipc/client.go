package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Call sends one request over a fresh connection and waits for its response.
// A structured daemon error is returned as *Error.
func Call(ctx context.Context, socketPath string, req Request) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if req.ID == "" {
		req.ID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	respBytes, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return &resp, resp.Error
	}
	return &resp, nil
}

// Stream opens a streaming method and calls fn with each frame until ctx ends,
// the daemon closes the stream, or fn returns an error.
func Stream(ctx context.Context, socketPath string, req Request, fn func([]byte) error) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if req.ID == "" {
		req.ID = fmt.Sprintf("cli-stream-%d", time.Now().UnixNano())
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := WriteFrame(conn, payload); err != nil {
		return err
	}
	first, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	var resp Response
	if err := json.Unmarshal(first, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
