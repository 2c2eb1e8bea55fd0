package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"pixelmolt.ai/internal/protocol"
)

// A demo agent: registers over HTTP, places a random pixel whenever its
// cooldown allows, and logs the events it sees on the websocket feed.
func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8080", "server base url")
		wsURL   = flag.String("ws", "ws://localhost:8080/v1/ws", "ws url")
		name    = flag.String("name", fmt.Sprintf("bot-%04d", rand.Intn(10000)), "agent name")
		size    = flag.Int("size", 64, "assumed canvas size")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	agentID, apiKey, err := register(*baseURL, *name)
	if err != nil {
		logger.Fatalf("register: %v", err)
	}
	logger.Printf("registered as %s (%s)", *name, agentID)

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	go func() {
		for {
			var ev protocol.PixelEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			if ev.Type == "pixel-update" {
				logger.Printf("saw %s at (%d,%d) by %s", ev.Outcome, ev.Pixel.X, ev.Pixel.Y, ev.Pixel.AgentID)
			}
		}
	}()

	palette := []string{"#EF4444", "#3B82F6", "#22C55E", "#EAB308", "#A855F7", "#FFFFFF"}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			x, y := rand.Intn(*size), rand.Intn(*size)
			wait, err := place(*baseURL, apiKey, x, y, palette[rand.Intn(len(palette))])
			if err != nil {
				logger.Printf("place: %v", err)
				continue
			}
			if wait > 0 {
				// Sit out the cooldown instead of hammering the endpoint.
				time.Sleep(wait)
			}
		}
	}
}

func register(baseURL, name string) (agentID, apiKey string, err error) {
	body, _ := json.Marshal(protocol.RegisterAgentRequest{Name: name})
	resp, err := http.Post(baseURL+"/api/auth", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		AgentID string `json:"agentId"`
		APIKey  string `json:"apiKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.AgentID, out.APIKey, nil
}

func place(baseURL, apiKey string, x, y int, color string) (time.Duration, error) {
	body, _ := json.Marshal(protocol.PlacePixelRequest{X: &x, Y: &y, Color: color})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/pixel", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out protocol.PlacePixelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Code == protocol.ErrRateLimit {
		return time.Duration(out.RetryAfter) * time.Millisecond, nil
	}
	if !out.Success {
		return 0, fmt.Errorf("%s: %s", out.Code, out.Error)
	}
	return 0, nil
}
