// Command test-ble is a manual test for the LED mask link.
// It scans, connects to the first matching device, sends one command,
// prints any reply and disconnects.
//
// Usage:
//
//	go run ./cmd/test-ble [--mock] [--mode red] [--duration 10] [--marker Xiao]
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/glowlink/internal/ble"
	"github.com/chaz8081/glowlink/internal/ble/protocol"
)

func main() {
	mock := flag.Bool("mock", false, "use the simulated mask")
	mode := flag.String("mode", "red", "LED mode, or STOP")
	duration := flag.String("duration", "10", "program duration")
	marker := flag.String("marker", ble.DefaultNameMarker, "advertised-name marker")
	flag.Parse()

	var adapter ble.Adapter = ble.NewNativeAdapter()
	if *mock {
		adapter = ble.NewSimulatedAdapter()
	}
	mgr := ble.NewManager(adapter, ble.Options{NameMarker: *marker, ReadyWait: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	go mgr.Init(ctx)

	fmt.Println("Scanning for 5s...")
	devices, err := mgr.Scan(ctx, 5*time.Second)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Printf("No device with %q in its name\n", *marker)
		return
	}
	for _, d := range devices {
		fmt.Printf("  %s  %s  %d dBm\n", d.ID, d.Name, d.RSSI)
	}

	dev, err := mgr.Connect(ctx, devices[0].ID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Connected to %s\n", dev.Name)

	replies := make(chan protocol.Response, 4)
	if err := mgr.Subscribe(func(r protocol.Response) { replies <- r }); err != nil {
		fmt.Printf("Subscribe: %v\n", err)
	}

	fmt.Printf("Sending %q\n", protocol.BuildCommand(*mode, *duration))
	if err := mgr.SendCommand(ctx, *mode, *duration); err != nil {
		fmt.Printf("Error: %v\n", err)
	}

	select {
	case r := <-replies:
		fmt.Printf("Reply: %s (%s)\n", r.Raw, r.Kind)
	case <-time.After(3 * time.Second):
		fmt.Println("No reply")
	}

	if err := mgr.Disconnect(ctx); err != nil {
		fmt.Printf("Disconnect error: %v\n", err)
		return
	}
	fmt.Println("\nDone!")
}
