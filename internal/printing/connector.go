package printing

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
)

const (
	KindNetwork = "network"
	KindUSB     = "usb"
	KindNone    = "none"

	defaultPort = "9100"
)

// Handle is an open connection to one printer.
type Handle interface {
	PrintRaw(ctx context.Context, data []byte) error
	Cut(ctx context.Context) error
	OpenCashDrawer(ctx context.Context) error
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, printer domain.Printer) (Handle, error)
}

// DeviceConnector reaches network printers over TCP and USB printers through
// their device file.
type DeviceConnector struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewDeviceConnector() *DeviceConnector {
	return &DeviceConnector{DialTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}
}

func (c *DeviceConnector) Connect(ctx context.Context, p domain.Printer) (Handle, error) {
	switch p.Kind {
	case KindNetwork:
		if p.DeviceID == "" {
			return nil, apperror.Hardware(nil, "network printer address is required")
		}
		addr := p.DeviceID
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(strings.Trim(addr, "[]"), defaultPort)
		}
		dialer := net.Dialer{Timeout: c.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, apperror.Hardware(err, fmt.Sprintf("connect printer %s", addr))
		}
		return &streamHandle{w: conn, name: addr, deadline: conn.SetWriteDeadline, timeout: c.WriteTimeout}, nil
	case KindUSB:
		if p.DeviceID == "" {
			return nil, apperror.Hardware(nil, "usb printer device path is required")
		}
		f, err := os.OpenFile(p.DeviceID, os.O_WRONLY, 0)
		if err != nil {
			return nil, apperror.Hardware(err, fmt.Sprintf("open printer device %s", p.DeviceID))
		}
		return &streamHandle{w: f, name: p.DeviceID}, nil
	case KindNone, "":
		return NullHandle{}, nil
	default:
		return nil, apperror.Hardware(nil, fmt.Sprintf("unknown printer kind %q", p.Kind))
	}
}

type writeCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

type streamHandle struct {
	w        writeCloser
	name     string
	deadline func(time.Time) error
	timeout  time.Duration
}

func (h *streamHandle) write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.deadline != nil && h.timeout > 0 {
		_ = h.deadline(time.Now().Add(h.timeout))
	}
	if _, err := h.w.Write(data); err != nil {
		return apperror.Hardware(err, fmt.Sprintf("write printer %s", h.name))
	}
	return nil
}

func (h *streamHandle) PrintRaw(ctx context.Context, data []byte) error {
	return h.write(ctx, data)
}

func (h *streamHandle) Cut(ctx context.Context) error {
	return h.write(ctx, cmdCut)
}

func (h *streamHandle) OpenCashDrawer(ctx context.Context) error {
	return h.write(ctx, cmdDrawer)
}

func (h *streamHandle) Close() error {
	return h.w.Close()
}

// NullHandle accepts and discards everything.
type NullHandle struct{}

func (NullHandle) PrintRaw(context.Context, []byte) error { return nil }
func (NullHandle) Cut(context.Context) error              { return nil }
func (NullHandle) OpenCashDrawer(context.Context) error   { return nil }
func (NullHandle) Close() error                           { return nil }
