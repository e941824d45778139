package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// NativeAdapter wraps tinygo-org/bluetooth (CoreBluetooth on macOS, BlueZ
// on Linux, WinRT on Windows). On macOS device ids are CoreBluetooth UUIDs
// rather than MAC addresses.
type NativeAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*nativeConnection // keyed by device id
	handlerSet  bool
}

// NewNativeAdapter creates a BLE adapter backed by the default system radio.
func NewNativeAdapter() *NativeAdapter {
	return &NativeAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*nativeConnection),
	}
}

func (a *NativeAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handlerSet {
		return nil
	}
	a.handlerSet = true

	// The stack reports link loss through the adapter-level handler
	// with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})
	return nil
}

func (a *NativeAdapter) Scan(found func(Device)) error {
	return a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		found(Device{
			ID:   result.Address.String(),
			Name: result.LocalName(),
			RSSI: int(result.RSSI),
		})
	})
}

func (a *NativeAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *NativeAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect ctx cancellation.
	device, err := dialWithContext(ctx,
		func() (bluetooth.Device, error) {
			return a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		},
		func(d bluetooth.Device) { d.Disconnect() },
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect to %s: %w", id, err)
		}
		return nil, err
	}
	conn := &nativeConnection{device: &device}

	a.mu.Lock()
	a.connections[id] = conn
	a.mu.Unlock()

	return conn, nil
}

// dialWithContext runs dial on its own goroutine and returns early when
// ctx ends. A link that dial completes after that has no owner and is
// handed to release.
func dialWithContext[T any](ctx context.Context, dial func() (T, error), release func(T)) (T, error) {
	type result struct {
		link T
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		link, err := dial()
		ch <- result{link, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				release(r.link)
			}
		}()
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.link, r.err
	}
}

// Compile-time check that NativeAdapter implements Adapter.
var _ Adapter = (*NativeAdapter)(nil)

type nativeConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *nativeConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service UUID: %w", err)
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic UUID: %w", err)
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found", charUUID)
	}

	return &nativeCharacteristic{char: &chars[0]}, nil
}

func (c *nativeConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *nativeConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *nativeConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type nativeCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

// Write uses a write request so the call returns after the peripheral
// acknowledged it.
func (c *nativeCharacteristic) Write(data []byte) error {
	_, err := c.char.Write(data)
	return err
}

func (c *nativeCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
