package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// report matches the JSON upload format the interceptor decodes.
type report struct {
	ID           string   `json:"id"`
	UTMS         string   `json:"utms"`
	Battery      string   `json:"battery"`
	Temperature1 *float64 `json:"temperature1,omitempty"`
	Humidity1    *float64 `json:"humidity1,omitempty"`
	WindSpeed    *float64 `json:"windspeed,omitempty"`
	WindGust     *float64 `json:"windgust,omitempty"`
	WindDir      *float64 `json:"winddirection,omitempty"`
}

func main() {
	var (
		target   = flag.String("target", "http://127.0.0.1:8880/", "Interceptor URL to upload to")
		deviceID = flag.String("id", "11566802925f", "Device ID to report as")
		interval = flag.Duration("interval", 7*time.Minute, "Interval between uploads")
		wind     = flag.Bool("wind", false, "Emulate the wind sensor instead of temperature/humidity")
	)
	flag.Parse()

	log.Printf("Weather gateway emulator")
	log.Printf("Uploading to %s every %v as device %s", *target, *interval, *deviceID)

	client := &http.Client{Timeout: 10 * time.Second}

	send(client, *target, *deviceID, *wind)
	for range time.Tick(*interval) {
		send(client, *target, *deviceID, *wind)
	}
}

func send(client *http.Client, target, deviceID string, wind bool) {
	r := generateReport(deviceID, wind)

	body, err := json.Marshal(r)
	if err != nil {
		log.Printf("Failed to encode report: %v", err)
		return
	}

	resp, err := client.Post(target, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("Upload failed: %v", err)
		return
	}
	resp.Body.Close()
	log.Printf("Sent report, status %s", resp.Status)
}

func generateReport(deviceID string, wind bool) report {
	now := time.Now().UTC()
	r := report{
		ID:      deviceID,
		UTMS:    now.Format(time.RFC3339),
		Battery: "ok",
	}

	// Diurnal temperature curve with some noise.
	hour := float64(now.Hour()) + float64(now.Minute())/60
	if wind {
		speed := math.Abs(rand.NormFloat64()*2 + 3)
		gust := speed + rand.Float64()*3
		dir := rand.Float64() * 360
		r.WindSpeed = &speed
		r.WindGust = &gust
		r.WindDir = &dir
	} else {
		temp := 12 + 8*math.Sin((hour-9)/24*2*math.Pi) + rand.NormFloat64()
		humidity := 65 - (temp-12)*1.5 + rand.NormFloat64()*5
		r.Temperature1 = &temp
		r.Humidity1 = &humidity
	}

	return r
}
