// File: client/client.go
// Package client provides a framed message client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frames are reassembled with the same Framer the server uses, so a client
// enforces the same size limit on replies.

package client

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/codec"
	"github.com/momentics/hioload-lua/core/buffer"
	"github.com/momentics/hioload-lua/core/protocol"
)

// Config holds all configurable parameters for the client.
type Config struct {
	Addr         string        // host:port, or a ws:// URL for WebSocket
	Codec        codec.Codec   // payload codec; JSON when nil
	MaxFrameLen  int           // reply size limit; default when 0
	DialTimeout  time.Duration // connect and handshake timeout
	ReadTimeout  time.Duration // per Recv; 0 waits forever
	WriteTimeout time.Duration // per Send; 0 waits forever
	ReadChunk    int           // socket read size for TCP
}

// DefaultConfig returns a config for addr.
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:        addr,
		Codec:       codec.JSON{},
		DialTimeout: 5 * time.Second,
		ReadChunk:   16 * 1024,
	}
}

// stream is one carrier of wire bytes.
type stream interface {
	read(deadline time.Time) ([]byte, error)
	write(p []byte, deadline time.Time) error
	close() error
}

// Client sends and receives framed messages. Send is safe for concurrent
// use; Recv must be called from one goroutine.
type Client struct {
	cfg    Config
	codec  codec.Codec
	framer protocol.Framer
	conn   stream
	in     *buffer.FrameBuffer

	wmu    sync.Mutex
	closed atomic.Bool
}

// Dial connects using cfg. ws:// and wss:// addresses use WebSocket.
func Dial(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("client: %w: empty address", api.ErrInvalidArgument)
	}
	c := &Client{
		cfg:    *cfg,
		codec:  cfg.Codec,
		framer: protocol.NewFramer(cfg.MaxFrameLen),
		in:     buffer.NewFrameBuffer(0),
	}
	if c.codec == nil {
		c.codec = codec.JSON{}
	}
	if c.cfg.ReadChunk <= 0 {
		c.cfg.ReadChunk = 16 * 1024
	}

	var err error
	if strings.HasPrefix(cfg.Addr, "ws://") || strings.HasPrefix(cfg.Addr, "wss://") {
		c.conn, err = dialWebSocket(cfg.Addr, cfg.DialTimeout)
	} else {
		c.conn, err = dialTCP(cfg.Addr, cfg.DialTimeout, c.cfg.ReadChunk)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	return c, nil
}

// Send encodes name and payload into one frame and writes it.
func (c *Client) Send(name string, payload any) error {
	body, err := c.codec.EncodeMessage(name, payload)
	if err != nil {
		return err
	}
	return c.SendRaw(body)
}

// SendRaw frames body as is.
func (c *Client) SendRaw(body []byte) error {
	return c.SendWire(protocol.Encode(body))
}

// SendWire writes pre-framed bytes, which need not be a whole frame.
func (c *Client) SendWire(p []byte) error {
	if c.closed.Load() {
		return api.ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.write(p, deadline(c.cfg.WriteTimeout))
}

// RecvFrame returns the next complete frame body.
func (c *Client) RecvFrame() ([]byte, error) {
	for {
		frame, err := c.framer.TryExtract(c.in)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return protocol.Body(frame), nil
		}
		if c.closed.Load() {
			return nil, api.ErrClosed
		}
		chunk, err := c.conn.read(deadline(c.cfg.ReadTimeout))
		if err != nil {
			return nil, err
		}
		_, _ = c.in.Write(chunk)
	}
}

// Recv returns the next decoded message.
func (c *Client) Recv() (string, any, error) {
	body, err := c.RecvFrame()
	if err != nil {
		return "", nil, err
	}
	return c.codec.DecodeMessage(body)
}

// Close shuts the connection down; idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.close()
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

type tcpStream struct {
	conn net.Conn
	buf  []byte
}

func dialTCP(addr string, timeout time.Duration, chunk int) (*tcpStream, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &tcpStream{conn: conn, buf: make([]byte, chunk)}, nil
}

func (s *tcpStream) read(dl time.Time) ([]byte, error) {
	_ = s.conn.SetReadDeadline(dl)
	n, err := s.conn.Read(s.buf)
	if n > 0 {
		return s.buf[:n], nil
	}
	return nil, err
}

func (s *tcpStream) write(p []byte, dl time.Time) error {
	_ = s.conn.SetWriteDeadline(dl)
	_, err := s.conn.Write(p)
	return err
}

func (s *tcpStream) close() error { return s.conn.Close() }

type wsStream struct {
	conn *websocket.Conn
}

func dialWebSocket(url string, timeout time.Duration) (*wsStream, error) {
	d := websocket.Dialer{HandshakeTimeout: timeout, EnableCompression: true}
	conn, resp, err := d.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

func (s *wsStream) read(dl time.Time) ([]byte, error) {
	_ = s.conn.SetReadDeadline(dl)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, fmt.Errorf("%w: %s", api.ErrClosed, ce.Text)
			}
			return nil, err
		}
		if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) write(p []byte, dl time.Time) error {
	_ = s.conn.SetWriteDeadline(dl)
	return s.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (s *wsStream) close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
