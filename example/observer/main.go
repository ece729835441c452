package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"hookpulse/pkg/storage"
)

func main() {
	url := flag.String("url", "http://localhost:8080/events/stream", "Event stream URL")
	flag.Parse()

	log.SetPrefix("hookpulse/observer-example ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *url, nil)
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("unexpected status: %s", resp.Status)
	}
	log.Printf("connected to %s", *url)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		// The first frame is the backfill array; every later frame is a
		// single event.
		if strings.HasPrefix(data, "[") {
			var backfill []storage.EventView
			if err := json.Unmarshal([]byte(data), &backfill); err != nil {
				log.Printf("decode backfill: %v", err)
				continue
			}
			log.Printf("backfill: %d events", len(backfill))
			for _, view := range backfill {
				printEvent(view)
			}
			continue
		}

		var view storage.EventView
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			log.Printf("decode event: %v", err)
			continue
		}
		printEvent(view)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Fatalf("stream: %v", err)
	}
}

func printEvent(view storage.EventView) {
	action := ""
	if view.Action != nil {
		action = " action=" + *view.Action
	}
	log.Printf("event=%s%s repo=%s delivery=%s", view.EventType, action, view.Repository.FullName, view.DeliveryID)
}
