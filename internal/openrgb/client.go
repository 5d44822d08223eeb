package openrgb

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/render"
)

// DefaultAddr is the stock OpenRGB SDK server endpoint.
const DefaultAddr = "127.0.0.1:6742"

// Client is a connection to one OpenRGB SDK server. Methods are safe for
// concurrent use; requests are serialized on the single connection.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	ver     uint32
	timeout time.Duration
}

// Dial connects, negotiates the protocol version and announces the client
// name. The timeout bounds every individual read/write on the connection.
func Dial(ctx context.Context, addr, name string, timeout time.Duration) (*Client, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("openrgb dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, timeout: timeout}

	if err := c.negotiate(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.SetName(name); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info().Str("addr", addr).Str("name", name).Uint32("protocol", c.ver).
		Msg("connected to openrgb server")
	return c, nil
}

func (c *Client) negotiate() error {
	var req [4]byte
	binary.LittleEndian.PutUint32(req[:], clientProtocolVersion)
	payload, err := c.request(0, cmdRequestProtocolVersion, req[:])
	if err != nil {
		return fmt.Errorf("protocol version: %w", err)
	}
	if len(payload) < 4 {
		return fmt.Errorf("protocol version: short reply (%d bytes)", len(payload))
	}
	server := binary.LittleEndian.Uint32(payload)
	c.ver = min(server, clientProtocolVersion)
	return nil
}

// Version reports the negotiated protocol version.
func (c *Client) Version() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ver
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// send writes one packet under the client lock.
func (c *Client) send(deviceID, packetID uint32, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(deviceID, packetID, payload)
}

func (c *Client) sendLocked(deviceID, packetID uint32, payload []byte) error {
	if c.conn == nil {
		return net.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	pkt := append(encodeHeader(deviceID, packetID, uint32(len(payload))), payload...)
	_, err := c.conn.Write(pkt)
	return err
}

// request sends a packet and reads the reply with the same packet ID.
func (c *Client) request(deviceID, packetID uint32, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendLocked(deviceID, packetID, payload); err != nil {
		return nil, err
	}
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
		var hdr [16]byte
		if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
			return nil, err
		}
		h, err := decodeHeader(hdr[:])
		if err != nil {
			return nil, err
		}
		body := make([]byte, h.Length)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return nil, err
		}
		if h.PacketID == packetID {
			return body, nil
		}
		// Unsolicited packet (e.g. device list updated); skip it.
		log.Debug().Uint32("packet", h.PacketID).Msg("skipping unsolicited openrgb packet")
	}
}

// SetName announces the client name shown in the OpenRGB UI.
func (c *Client) SetName(name string) error {
	return c.send(0, cmdSetClientName, append([]byte(name), 0))
}

// ControllerCount asks how many controllers the server exposes.
func (c *Client) ControllerCount() (int, error) {
	payload, err := c.request(0, cmdRequestControllerCount, nil)
	if err != nil {
		return 0, err
	}
	if len(payload) < 4 {
		return 0, fmt.Errorf("controller count: short reply")
	}
	return int(binary.LittleEndian.Uint32(payload)), nil
}

// Controller fetches and decodes one controller's full data.
func (c *Client) Controller(id int) (*Controller, error) {
	var req [4]byte
	binary.LittleEndian.PutUint32(req[:], c.Version())
	payload, err := c.request(uint32(id), cmdRequestControllerData, req[:])
	if err != nil {
		return nil, err
	}
	return decodeController(payload, c.Version())
}

// UpdateLEDs writes all LEDs of a controller.
func (c *Client) UpdateLEDs(id int, colors []render.Color) error {
	return c.send(uint32(id), cmdUpdateLEDs, encodeLEDColors(colors))
}

// UpdateZoneLEDs writes one zone of a controller.
func (c *Client) UpdateZoneLEDs(id, zone int, colors []render.Color) error {
	return c.send(uint32(id), cmdUpdateZoneLEDs, encodeZoneColors(uint32(zone), colors))
}

// UpdateMode activates the controller mode at index, echoing its definition.
func (c *Client) UpdateMode(id, index int, m Mode) error {
	return c.send(uint32(id), cmdUpdateMode, encodeModeUpdate(index, m, c.Version()))
}

// SetCustomMode asks the controller to enter its software/custom mode.
func (c *Client) SetCustomMode(id int) error {
	return c.send(uint32(id), cmdSetCustomMode, nil)
}
