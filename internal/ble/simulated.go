package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimulatedAdapter is an in-process stand-in for the BLE radio. It
// advertises a fixed set of peripherals and emulates the LED mask
// firmware's replies. It is used by the CLI's -mock mode when no radio is
// available.
type SimulatedAdapter struct {
	Devices       []Device
	AdvertiseEach time.Duration // delay between advertisements during Scan
	ConnectDelay  time.Duration
	WriteDelay    time.Duration

	// ServiceUUID and CharacteristicUUID are the UART the simulated mask
	// exposes. Empty values mean the stock ffe0/ffe1 pair.
	ServiceUUID        string
	CharacteristicUUID string

	mu          sync.Mutex
	stop        chan struct{}
	running     bool
	stopPending bool // StopScan raced ahead of Scan
}

// NewSimulatedAdapter returns a simulator with one LED mask and one
// unrelated device in range.
func NewSimulatedAdapter() *SimulatedAdapter {
	return &SimulatedAdapter{
		Devices: []Device{
			{ID: "SIM:E8:31:CD:12:34:56", Name: "Seeed Xiao BLE", RSSI: -45},
			{ID: "SIM:AA:BB:CC:DD:EE:FF", Name: "Other_Device", RSSI: -67},
		},
		AdvertiseEach:      50 * time.Millisecond,
		ConnectDelay:       500 * time.Millisecond,
		WriteDelay:         300 * time.Millisecond,
		ServiceUUID:        ServiceUUID,
		CharacteristicUUID: CharacteristicUUID,
	}
}

func (a *SimulatedAdapter) Enable() error { return nil }

func (a *SimulatedAdapter) Scan(found func(Device)) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("simulator: scan already running")
	}
	if a.stopPending {
		a.stopPending = false
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.stop = make(chan struct{})
	stop := a.stop
	a.mu.Unlock()

	interval := a.AdvertiseEach
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		if len(a.Devices) > 0 {
			found(a.Devices[i%len(a.Devices)])
		}
		select {
		case <-stop:
			return nil
		case <-ticker.C:
		}
	}
}

func (a *SimulatedAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		a.stopPending = true
		return nil
	}
	a.running = false
	close(a.stop)
	return nil
}

func (a *SimulatedAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var dev *Device
	for i := range a.Devices {
		if a.Devices[i].ID == id {
			dev = &a.Devices[i]
			break
		}
	}
	if dev == nil {
		return nil, fmt.Errorf("simulator: device %s not in range", id)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.ConnectDelay):
	}
	conn := &simulatedConnection{
		writeDelay:  a.WriteDelay,
		serviceUUID: a.ServiceUUID,
		charUUID:    a.CharacteristicUUID,
	}
	if conn.serviceUUID == "" {
		conn.serviceUUID = ServiceUUID
	}
	if conn.charUUID == "" {
		conn.charUUID = CharacteristicUUID
	}
	return conn, nil
}

var _ Adapter = (*SimulatedAdapter)(nil)

type simulatedConnection struct {
	writeDelay  time.Duration
	serviceUUID string
	charUUID    string

	mu     sync.Mutex
	closed bool
	uart   *simulatedUART
}

func (c *simulatedConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if !strings.EqualFold(serviceUUID, c.serviceUUID) || !strings.EqualFold(charUUID, c.charUUID) {
		return nil, fmt.Errorf("simulator: characteristic %s/%s not found", serviceUUID, charUUID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uart == nil {
		c.uart = &simulatedUART{conn: c}
	}
	return c.uart, nil
}

func (c *simulatedConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// OnDisconnect is a no-op: simulated links never drop on their own.
func (c *simulatedConnection) OnDisconnect(func()) {}

// simulatedUART emulates the mask's single read/write/notify characteristic.
type simulatedUART struct {
	conn *simulatedConnection

	mu       sync.Mutex
	notify   func([]byte)
	mode     string
	duration string
}

func (u *simulatedUART) Write(data []byte) error {
	u.conn.mu.Lock()
	closed := u.conn.closed
	u.conn.mu.Unlock()
	if closed {
		return fmt.Errorf("simulator: not connected")
	}
	time.Sleep(u.conn.writeDelay)

	cmd := string(data)
	var reply string
	u.mu.Lock()
	switch {
	case strings.HasPrefix(cmd, "START:"):
		parts := strings.SplitN(cmd, ":", 3)
		if len(parts) == 3 {
			u.mode, u.duration = parts[1], parts[2]
			reply = fmt.Sprintf("OK:STARTED:%s:%s", u.mode, u.duration)
		} else {
			reply = "OK"
		}
	case cmd == "STOP":
		u.mode, u.duration = "", ""
		reply = "OK:STOPPED"
	case cmd == "STATUS":
		if u.mode != "" {
			reply = fmt.Sprintf("ACTIVE:%s:%s", u.mode, u.duration)
		} else {
			reply = "IDLE"
		}
	default:
		reply = "OK"
	}
	notify := u.notify
	u.mu.Unlock()

	if notify != nil {
		notify([]byte(reply))
	}
	return nil
}

func (u *simulatedUART) Subscribe(cb func([]byte)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notify = cb
	return nil
}
