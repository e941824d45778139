// Command test-capture is a manual test for photo capture.
// It takes a picture with the given camera command (or picks the newest
// image in a directory), applies the upload processing and writes the
// result to a file.
//
// Usage:
//
//	go run ./cmd/test-capture [--camera "imagesnap -q {output}"] [--gallery ~/Pictures] [--out photo.jpg]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chaz8081/glowlink/internal/capture"
)

func main() {
	camera := flag.String("camera", "", "camera command; {output} marks the image path")
	gallery := flag.String("gallery", "", "gallery directory to pick the newest image from")
	out := flag.String("out", "photo.jpg", "where to write the processed image")
	flag.Parse()

	src := &capture.HostSource{CameraCommand: strings.Fields(*camera), GalleryDir: *gallery}
	if err := src.Available(); err != nil {
		fmt.Printf("Source unavailable: %v\n", err)
		return
	}

	mgr := capture.NewManager(src, nil, capture.Config{ReadyWait: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go mgr.Init(ctx)

	start := time.Now()
	var payload string
	var err error
	if *camera != "" {
		fmt.Println("Smile! Taking picture...")
		payload, err = mgr.TakePicture(ctx)
	} else {
		payload, err = mgr.SelectFromGallery(ctx)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	img, err := capture.Decode(payload)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if err := os.WriteFile(*out, img.Data, 0644); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Wrote %s (%s, %d bytes) in %s\n", *out, img.MIME, len(img.Data), time.Since(start).Round(time.Millisecond))
}
