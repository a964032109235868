package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (l Location) known() bool {
	return l.Lat != 0 || l.Lon != 0
}

// Job is the part of the job read model the simulator needs.
type Job struct {
	ID        int64    `json:"id"`
	JobNumber string   `json:"job_number"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	Site      Location `json:"site"`
	Customer  Customer `json:"customer"`
}

// Customer is the customer snapshot carried on a job.
type Customer struct {
	Name string `json:"name"`
}

// Asset is the part of the asset read model the simulator needs.
type Asset struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Consumable is the part of the consumable read model the simulator needs.
type Consumable struct {
	Code         string  `json:"code"`
	CurrentStock float64 `json:"current_stock"`
	Unit         string  `json:"unit"`
	LowStock     bool    `json:"low_stock"`
}

// apiError is a failure answered by the API.
type apiError struct {
	Method string
	Path   string
	Status int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// rejected reports whether the API refused the operation on business grounds.
func rejected(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && (ae.Status == http.StatusConflict || ae.Status == http.StatusBadRequest)
}

// Client talks to the fieldops API on behalf of one technician.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &apiError{Method: method, Path: path, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	var envelope struct {
		OK   bool            `json:"ok"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(envelope.Data, out)
}

// Login signs the technician in and keeps the session token.
func (c *Client) Login(username, pin string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(http.MethodPost, "/auth/login", map[string]string{"username": username, "pin": pin}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// --- Travel ---

func haversineKm(a, b Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

// travelTime estimates the drive between two sites at urban speed. Unknown
// sites count as a short hop.
func travelTime(from, to Location, speedKmh float64) time.Duration {
	if !from.known() || !to.known() {
		return 10 * time.Minute
	}
	hours := haversineKm(from, to) / speedKmh
	return time.Duration(hours * float64(time.Hour))
}

// Simulator works through one technician's day.
type Simulator struct {
	client   *Client
	rng      *rand.Rand
	speedup  float64
	speedKmh float64
	position Location
}

// Stats summarises a simulated day.
type Stats struct {
	Completed int
	Skipped   int
	Checkouts int
	Draws     int
	Rejected  int
}

// wait sleeps for a simulated duration compressed by the speedup factor.
func (s *Simulator) wait(d time.Duration) {
	if s.speedup <= 0 {
		return
	}
	time.Sleep(time.Duration(float64(d) / s.speedup))
}

// RunDay works every open job scheduled for day, in schedule order.
func (s *Simulator) RunDay(day time.Time) (Stats, error) {
	var stats Stats
	var jobs []Job
	if err := s.client.do(http.MethodGet, "/jobs?day="+day.Format("2006-01-02"), nil, &jobs); err != nil {
		return stats, err
	}
	log.WithFields(log.Fields{"day": day.Format("2006-01-02"), "jobs": len(jobs)}).Info("Starting technician day")

	for _, job := range jobs {
		switch job.Status {
		case "COMPLETED", "CANCELLED":
			stats.Skipped++
			continue
		}
		if err := s.workJob(job, &stats); err != nil {
			if rejected(err) {
				stats.Rejected++
				log.WithError(err).WithField("job", job.JobNumber).Warn("Job step rejected, moving on")
				continue
			}
			return stats, err
		}
		stats.Completed++
	}
	return stats, nil
}

func (s *Simulator) workJob(job Job, stats *Stats) error {
	path := fmt.Sprintf("/jobs/%d", job.ID)
	logger := log.WithFields(log.Fields{"job": job.JobNumber, "customer": job.Customer.Name})

	var view Job
	if err := s.client.do(http.MethodPost, path+"/en-route", nil, &view); err != nil {
		return err
	}
	drive := travelTime(s.position, job.Site, s.speedKmh)
	logger.WithField("drive", drive.Round(time.Minute)).Info("En route")
	s.wait(drive)
	if job.Site.known() {
		s.position = job.Site
	}

	if err := s.client.do(http.MethodPost, path+"/start", nil, &view); err != nil {
		return err
	}
	logger.Info("On site")

	if err := s.client.do(http.MethodPost, path+"/evidence", map[string]string{
		"category": "before", "uri": fmt.Sprintf("file:///sim/%s/before.jpg", job.JobNumber),
	}, nil); err != nil {
		return err
	}

	checkoutID, err := s.checkoutTool(job.ID)
	switch {
	case err == nil && checkoutID > 0:
		stats.Checkouts++
	case err != nil && rejected(err):
		stats.Rejected++
	case err != nil:
		return err
	}

	if err := s.drawConsumable(job.ID); err == nil {
		stats.Draws++
	} else if rejected(err) {
		stats.Rejected++
	} else {
		return err
	}

	// Now and then the technician waits on a part.
	if s.rng.Intn(4) == 0 {
		if err := s.client.do(http.MethodPost, path+"/pause", map[string]string{"reason": "waiting on parts"}, &view); err != nil {
			return err
		}
		logger.Info("Paused")
		s.wait(20 * time.Minute)
		if err := s.client.do(http.MethodPost, path+"/resume", nil, &view); err != nil {
			return err
		}
	}
	s.wait(time.Duration(30+s.rng.Intn(60)) * time.Minute)

	if err := s.client.do(http.MethodPost, path+"/evidence", map[string]string{
		"category": "after", "uri": fmt.Sprintf("file:///sim/%s/after.jpg", job.JobNumber),
	}, nil); err != nil {
		return err
	}
	if err := s.client.do(http.MethodPost, path+"/sign", map[string]string{
		"signed_by":     job.Customer.Name,
		"signature_uri": fmt.Sprintf("file:///sim/%s/signature.png", job.JobNumber),
	}, &view); err != nil {
		return err
	}
	if err := s.client.do(http.MethodPost, path+"/complete", map[string]string{
		"work_summary": "Completed: " + job.Title,
	}, &view); err != nil {
		return err
	}
	logger.WithField("status", view.Status).Info("Job finished")

	return s.client.do(http.MethodPost, path+"/synced", nil, nil)
}

// checkoutTool takes a random available asset for the job. It returns 0 when
// nothing is available.
func (s *Simulator) checkoutTool(jobID int64) (int64, error) {
	var assets []Asset
	if err := s.client.do(http.MethodGet, "/assets?available=true", nil, &assets); err != nil {
		return 0, err
	}
	if len(assets) == 0 {
		return 0, nil
	}
	asset := assets[s.rng.Intn(len(assets))]
	var checkout struct {
		ID int64 `json:"id"`
	}
	err := s.client.do(http.MethodPost, "/assets/"+asset.Code+"/checkout", map[string]interface{}{
		"job_id":    jobID,
		"condition": "Good",
		"reason":    "job work",
	}, &checkout)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"asset": asset.Code, "job_id": jobID}).Info("Checked out asset")
	return checkout.ID, nil
}

// drawConsumable draws a small random quantity of a random consumable.
func (s *Simulator) drawConsumable(jobID int64) error {
	var items []Consumable
	if err := s.client.do(http.MethodGet, "/consumables", nil, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	item := items[s.rng.Intn(len(items))]
	quantity := float64(1 + s.rng.Intn(3))
	var result struct {
		Consumable Consumable `json:"consumable"`
	}
	err := s.client.do(http.MethodPost, "/consumables/"+item.Code+"/draw", map[string]interface{}{
		"job_id":   jobID,
		"quantity": quantity,
	}, &result)
	if err != nil {
		return err
	}
	fields := log.Fields{"consumable": item.Code, "quantity": quantity, "remaining": result.Consumable.CurrentStock}
	if result.Consumable.LowStock {
		log.WithFields(fields).Warn("Drew consumable, stock is low")
	} else {
		log.WithFields(fields).Info("Drew consumable")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

type options struct {
	apiURL   string
	username string
	pin      string
	day      string
	speedup  float64
	seed     int64
}

func parseOptions(args []string) (*options, error) {
	o := &options{}
	fs := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	fs.StringVar(&o.apiURL, "api", getEnv("API_BASE_URL", "http://localhost:8080/api"), "API base URL")
	fs.StringVar(&o.username, "username", getEnv("SIM_USERNAME", "alex"), "technician username")
	fs.StringVar(&o.pin, "pin", getEnv("SIM_PIN", "1234"), "technician PIN")
	fs.StringVar(&o.day, "day", "", "day to work, YYYY-MM-DD (default today)")
	fs.Float64Var(&o.speedup, "speedup", 600, "simulated seconds per real second; 0 skips waiting")
	fs.Int64Var(&o.seed, "seed", time.Now().UnixNano(), "random seed")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func run(o *options) (Stats, error) {
	day := time.Now()
	if o.day != "" {
		parsed, err := time.Parse("2006-01-02", o.day)
		if err != nil {
			return Stats{}, fmt.Errorf("invalid --day: %w", err)
		}
		day = parsed
	}

	client := NewClient(o.apiURL)
	if err := client.Login(o.username, o.pin); err != nil {
		return Stats{}, fmt.Errorf("login as %s: %w", o.username, err)
	}
	sim := &Simulator{
		client:   client,
		rng:      rand.New(rand.NewSource(o.seed)),
		speedup:  o.speedup,
		speedKmh: 35,
	}
	return sim.RunDay(day)
}

func main() {
	o, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid flags: %v", err)
	}

	log.WithFields(log.Fields{
		"api_url":  o.apiURL,
		"username": o.username,
		"speedup":  o.speedup,
	}).Info("Starting field simulation")

	stats, err := run(o)
	if err != nil {
		log.WithError(err).Fatal("Simulation failed")
	}
	log.WithFields(log.Fields{
		"completed": stats.Completed,
		"skipped":   stats.Skipped,
		"checkouts": stats.Checkouts,
		"draws":     stats.Draws,
		"rejected":  stats.Rejected,
	}).Info("Technician day finished")
}
