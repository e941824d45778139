package ble

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/glowlink/internal/ble/protocol"
	"github.com/chaz8081/glowlink/internal/ready"
)

// DefaultScanTimeout is used when Scan is called with a non-positive timeout.
const DefaultScanTimeout = 10 * time.Second

// State is the session state of a Manager.
type State int

const (
	// StateDisconnected means no device is held.
	StateDisconnected State = iota
	// StateConnected means a device is held and commands may be sent.
	StateConnected
	// StateDisconnectFailed means a disconnect request failed. The stale
	// device is kept until Disconnect succeeds or Forget is called.
	StateDisconnectFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateDisconnectFailed:
		return "disconnecting-failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures the session manager.
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string
	ResponseUUID       string        // notification source for Subscribe; empty disables it
	NameMarker         string        // advertised-name substring a device must carry
	ReadyWait          time.Duration // how long operations wait for the adapter; 0 fails fast
	Logger             *slog.Logger
}

// DefaultOptions returns the LED mask defaults.
func DefaultOptions() Options {
	return Options{
		ServiceUUID:        ServiceUUID,
		CharacteristicUUID: CharacteristicUUID,
		ResponseUUID:       ResponseCharUUID,
		NameMarker:         DefaultNameMarker,
	}
}

// session is the state of one connection. A new session is created for
// every successful Connect.
type session struct {
	id      string
	device  Device
	conn    Connection
	txChar  Characteristic
	closing atomic.Bool
}

// Manager owns the BLE session with a single peripheral.
type Manager struct {
	adapter Adapter
	opts    Options
	gate    *ready.Gate
	log     *slog.Logger

	mu      sync.Mutex
	state   State
	current *session
	names   map[string]string // device id -> advertised name, from scans

	writing atomic.Bool
}

// NewManager creates a session manager on top of adapter. The manager
// rejects operations until Init has seen the adapter become usable.
func NewManager(adapter Adapter, opts Options) *Manager {
	def := DefaultOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = def.CharacteristicUUID
	}
	if opts.NameMarker == "" {
		opts.NameMarker = def.NameMarker
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		adapter: adapter,
		opts:    opts,
		gate:    ready.NewGate("ble", log),
		log:     log,
		names:   make(map[string]string),
	}
}

// Init polls the adapter until it can be enabled, then opens the readiness
// gate. It blocks until that happens or ctx is cancelled.
func (m *Manager) Init(ctx context.Context) error {
	return ready.Poll(ctx, m.gate, ready.DefaultInterval, m.adapter.Enable)
}

// Ready reports whether the adapter has become usable.
func (m *Manager) Ready() bool {
	return m.gate.Ready()
}

func (m *Manager) requireReady(ctx context.Context, op string) error {
	if err := m.gate.Require(ctx, m.opts.ReadyWait); err != nil {
		m.log.Error("[BLE] adapter not ready", "op", op)
		return fmt.Errorf("ble: %s: %w", op, err)
	}
	return nil
}

// MatchesName reports whether an advertised name belongs to the target
// peripheral family.
func MatchesName(name, marker string) bool {
	return name != "" && strings.Contains(name, marker)
}

// Scan discovers peripherals for timeout and returns those whose name
// carries the configured marker, in discovery order. Discovery is stopped
// explicitly when the timeout elapses; cancelling ctx stops it early.
// On any failure the matches gathered so far are discarded.
func (m *Manager) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	if err := m.requireReady(ctx, "scan"); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	m.log.Info("[BLE] scan started", "timeout", timeout, "marker", m.opts.NameMarker)

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	scanDone := make(chan error, 1)
	go func() {
		scanDone <- m.adapter.Scan(func(d Device) {
			m.log.Debug("[BLE] advertisement", "id", d.ID, "name", d.Name, "rssi", d.RSSI)
			if !MatchesName(d.Name, m.opts.NameMarker) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[d.ID] {
				return
			}
			seen[d.ID] = true
			devices = append(devices, d)
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-scanDone:
		// Discovery ended on its own before the timeout.
		if err != nil {
			m.log.Error("[BLE] scan failed", "error", err)
			return nil, &OpError{Op: "scan", Err: err}
		}
		return m.finishScan(&mu, devices), nil
	case <-timer.C:
	case <-ctx.Done():
		m.log.Info("[BLE] scan cancelled", "reason", ctx.Err())
	}

	if err := m.adapter.StopScan(); err != nil {
		m.log.Error("[BLE] stop scan failed", "error", err)
		return nil, &OpError{Op: "stop scan", Err: err}
	}
	if err := <-scanDone; err != nil {
		m.log.Error("[BLE] scan failed", "error", err)
		return nil, &OpError{Op: "scan", Err: err}
	}
	return m.finishScan(&mu, devices), nil
}

// finishScan snapshots the matches and remembers their names for Connect.
func (m *Manager) finishScan(mu *sync.Mutex, devices []Device) []Device {
	mu.Lock()
	out := make([]Device, len(devices))
	copy(out, devices)
	mu.Unlock()

	m.mu.Lock()
	for _, d := range out {
		m.names[d.ID] = d.Name
	}
	m.mu.Unlock()

	m.log.Info("[BLE] scan complete", "matches", len(out))
	return out
}

// Connect makes a single connection attempt to the device with id. On
// success the device becomes the session's connected device, replacing any
// earlier one. On failure any held device is cleared.
func (m *Manager) Connect(ctx context.Context, id string) (Device, error) {
	if err := m.requireReady(ctx, "connect"); err != nil {
		return Device{}, err
	}

	m.mu.Lock()
	if m.state == StateDisconnectFailed {
		m.mu.Unlock()
		m.log.Error("[BLE] connect refused", "id", id, "error", ErrDisconnectPending)
		return Device{}, ErrDisconnectPending
	}
	m.mu.Unlock()

	m.log.Info("[BLE] connecting", "id", id)
	conn, err := m.adapter.Connect(ctx, id)
	if err != nil {
		m.mu.Lock()
		prev := m.current
		m.current = nil
		m.state = StateDisconnected
		m.mu.Unlock()
		m.release(prev, id)

		m.log.Error("[BLE] connect failed", "id", id, "error", err)
		return Device{}, &OpError{Op: "connect", DeviceID: id, Err: err}
	}

	m.mu.Lock()
	name := m.names[id]
	sess := &session{
		id:     newSessionID(),
		device: Device{ID: id, Name: name},
		conn:   conn,
	}
	prev := m.current
	m.current = sess
	m.state = StateConnected
	m.mu.Unlock()
	m.release(prev, id)

	conn.OnDisconnect(func() { m.linkLost(sess) })

	m.log.Info("[BLE] connected", "id", id, "name", name, "session", sess.id)
	return sess.device, nil
}

// release drops a superseded session's link unless it is the device being
// connected, which the stack reuses.
func (m *Manager) release(prev *session, id string) {
	if prev == nil || prev.device.ID == id {
		return
	}
	prev.closing.Store(true)
	if err := prev.conn.Disconnect(); err != nil {
		m.log.Warn("[BLE] release previous connection failed", "id", prev.device.ID, "error", err)
	}
}

// linkLost clears the session when the peripheral drops the link. No
// reconnect is attempted.
func (m *Manager) linkLost(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != sess {
		return
	}
	if !sess.closing.Load() {
		m.log.Warn("[BLE] link lost", "id", sess.device.ID, "session", sess.id)
	}
	m.current = nil
	m.state = StateDisconnected
}

// Disconnect disconnects the held device. With no device it is a no-op.
// If the stack reports a failure the session moves to
// StateDisconnectFailed and keeps the device; call Disconnect again or
// Forget to resolve it.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	sess := m.current
	m.mu.Unlock()
	if sess == nil {
		return nil
	}

	m.log.Info("[BLE] disconnecting", "id", sess.device.ID, "session", sess.id)
	sess.closing.Store(true)
	err := callNative(ctx, sess.conn.Disconnect)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		sess.closing.Store(false)
		if m.current == sess {
			m.state = StateDisconnectFailed
		}
		m.log.Error("[BLE] disconnect failed", "id", sess.device.ID, "error", err)
		return &OpError{Op: "disconnect", DeviceID: sess.device.ID, Err: err}
	}
	if m.current == sess {
		m.current = nil
		m.state = StateDisconnected
	}
	m.log.Info("[BLE] disconnected", "id", sess.device.ID)
	return nil
}

// Forget drops a device left behind by a failed disconnect without talking
// to the peripheral. It reports whether anything was dropped; in any other
// state it does nothing.
func (m *Manager) Forget() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDisconnectFailed {
		return false
	}
	m.log.Warn("[BLE] forgetting device after failed disconnect", "id", m.current.device.ID)
	m.current = nil
	m.state = StateDisconnected
	return true
}

// connected returns the live session or the error explaining its absence.
func (m *Manager) connected() (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateConnected:
		return m.current, nil
	case StateDisconnectFailed:
		return nil, ErrDisconnectPending
	default:
		return nil, ErrNoActiveConnection
	}
}

// txCharacteristic returns the command characteristic, discovering it on
// first use within a session.
func (m *Manager) txCharacteristic(sess *session) (Characteristic, error) {
	m.mu.Lock()
	char := sess.txChar
	m.mu.Unlock()
	if char != nil {
		return char, nil
	}

	// Discovery runs over the air; the lock stays free meanwhile.
	char, err := sess.conn.DiscoverCharacteristic(m.opts.ServiceUUID, m.opts.CharacteristicUUID)
	if err != nil {
		return nil, &OpError{Op: "discover", DeviceID: sess.device.ID, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.txChar == nil {
		sess.txChar = char
	}
	return sess.txChar, nil
}

// SendCommand writes an LED command to the connected device. See
// protocol.BuildCommand for the command grammar. Only one write may be in
// flight; an overlapping call fails with ErrWriteInFlight.
func (m *Manager) SendCommand(ctx context.Context, mode, duration string) error {
	sess, err := m.connected()
	if err != nil {
		m.log.Error("[BLE] send command refused", "mode", mode, "error", err)
		return err
	}

	if !m.writing.CompareAndSwap(false, true) {
		m.log.Error("[BLE] send command refused", "mode", mode, "error", ErrWriteInFlight)
		return ErrWriteInFlight
	}
	handedOff := false
	defer func() {
		if !handedOff {
			m.writing.Store(false)
		}
	}()

	cmd := protocol.BuildCommand(mode, duration)
	data, err := protocol.Encode(cmd)
	if err != nil {
		m.log.Error("[BLE] encode command failed", "command", cmd, "error", err)
		return fmt.Errorf("ble: send command: %w", err)
	}

	char, err := m.txCharacteristic(sess)
	if err != nil {
		m.log.Error("[BLE] discover characteristic failed", "error", err)
		return err
	}

	m.log.Info("[BLE] sending command", "command", cmd, "session", sess.id)
	handedOff = true
	err = callNative(ctx, func() error {
		defer m.writing.Store(false)
		return char.Write(data)
	})
	if err != nil {
		m.log.Error("[BLE] write failed", "command", cmd, "error", err)
		return &OpError{Op: "write", DeviceID: sess.device.ID, Err: err}
	}
	m.log.Info("[BLE] command acknowledged", "command", cmd)
	return nil
}

// Stop sends the STOP command.
func (m *Manager) Stop(ctx context.Context) error {
	return m.SendCommand(ctx, protocol.StopCommand, "")
}

// Subscribe delivers parsed firmware notifications from the response
// characteristic to fn for the rest of the session.
func (m *Manager) Subscribe(fn func(protocol.Response)) error {
	if m.opts.ResponseUUID == "" {
		return fmt.Errorf("ble: subscribe: no response characteristic configured")
	}
	sess, err := m.connected()
	if err != nil {
		return err
	}
	char, err := sess.conn.DiscoverCharacteristic(m.opts.ServiceUUID, m.opts.ResponseUUID)
	if err != nil {
		m.log.Error("[BLE] discover response characteristic failed", "error", err)
		return &OpError{Op: "discover", DeviceID: sess.device.ID, Err: err}
	}
	err = char.Subscribe(func(data []byte) {
		resp, err := protocol.ParseResponse(data)
		if err != nil {
			m.log.Warn("[BLE] unreadable notification", "error", err)
			return
		}
		fn(resp)
	})
	if err != nil {
		m.log.Error("[BLE] subscribe failed", "error", err)
		return &OpError{Op: "subscribe", DeviceID: sess.device.ID, Err: err}
	}
	return nil
}

// IsConnected reports whether a device is connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// ConnectedDevice returns the connected device, if any.
func (m *Manager) ConnectedDevice() (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return Device{}, false
	}
	return m.current.device, true
}

// State returns the session state and the device it refers to. The device
// is the stale one in StateDisconnectFailed.
func (m *Manager) State() (State, Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return m.state, Device{}
	}
	return m.state, m.current.device
}

// callNative runs fn and waits for it or ctx. The stack call itself cannot
// be cancelled; when ctx wins, fn keeps running in the background.
func callNative(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newSessionID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
