package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	sse "github.com/go-eventsource/eventsource/pkg"
)

type printHandler struct{}

func (printHandler) OnOpen() {
	fmt.Println("connected")
}

func (printHandler) OnClosed() {
	fmt.Println("disconnected")
}

func (printHandler) OnMessage(eventName string, event sse.MessageEvent) {
	fmt.Printf("[%s] id=%q %s\n", eventName, event.LastEventID, event.Data.String())
}

func (printHandler) OnComment(text string) {
	fmt.Printf("comment: %s\n", text)
}

func (printHandler) OnError(err error) {
	fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
}

func main() {
	url := flag.String("url", "", "SSE endpoint to connect to")
	lastEventID := flag.String("last-event-id", "", "seed the Last-Event-ID header")
	streaming := flag.Bool("stream-data", false, "enable streaming-data mode")
	readTimeout := flag.Duration("read-timeout", 0, "idle-read timeout, 0 uses the library default")
	flag.Parse()

	if *url == "" {
		log.Fatal("-url is required")
	}

	client, err := sse.New(sse.Config{
		URL:             *url,
		LastEventID:     *lastEventID,
		Handler:         printHandler{},
		StreamEventData: *streaming,
		ReadTimeout:     *readTimeout,
	})
	if err != nil {
		log.Fatalf("sse.New: %v", err)
	}

	client.Start()
	log.Println("starting SSE stream; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	client.Close()
	if !client.AwaitClosed(5 * time.Second) {
		log.Println("timed out waiting for clean shutdown")
	}
}
