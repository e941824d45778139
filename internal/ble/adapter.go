// Package ble manages the Bluetooth Low Energy session with the LED mask
// (a Seeed Xiao BLE board). It handles discovery, the connection
// lifecycle and command transmission to one peripheral at a time.
package ble

import "context"

// LED mask BLE UUIDs (HM-10 style UART service).
const (
	ServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
	ResponseCharUUID   = CharacteristicUUID
)

// DefaultNameMarker identifies the target peripheral family in advertised names.
const DefaultNameMarker = "Xiao"

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic and waits for the acknowledgment.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	ID   string // platform address: MAC on Linux/Windows, CoreBluetooth UUID on macOS
	Name string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. It fails until the radio is usable.
	Enable() error
	// Scan reports every advertisement to found. It blocks until StopScan
	// is called or the scan fails.
	Scan(found func(Device)) error
	// StopScan ends a running Scan.
	StopScan() error
	// Connect establishes a connection to the device with the given id.
	Connect(ctx context.Context, id string) (Connection, error)
}
