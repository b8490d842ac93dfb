// Benchmark tool for load-testing the Kestrel rating endpoint.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -requests 10000 -workers 20
//
// This tool:
//   1. Generates synthetic quote requests across territories, vehicles and
//      driver profiles
//   2. Sends them to POST /rate with the configured concurrency
//   3. Reports throughput and latency percentiles against the 100ms target
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// QuoteRequest mirrors the POST /rate request body.
type QuoteRequest struct {
	Jurisdiction  string     `json:"jurisdiction"`
	ProductType   string     `json:"productType"`
	EffectiveDate string     `json:"effectiveDate"`
	Territory     string     `json:"territory"`
	Vehicle       Vehicle    `json:"vehicle"`
	Drivers       []Driver   `json:"drivers"`
	Coverages     []Coverage `json:"coverages"`
}

type Vehicle struct {
	VIN          string `json:"vin"`
	Type         string `json:"type"`
	ModelYear    int    `json:"modelYear"`
	SafetyRating string `json:"safetyRating"`
	AntiTheft    bool   `json:"antiTheft"`
}

type Driver struct {
	Age              int `json:"age"`
	YearsLicensed    int `json:"yearsLicensed"`
	Violations       int `json:"violations"`
	AtFaultAccidents int `json:"atFaultAccidents"`
}

type Coverage struct {
	Type       string `json:"type"`
	Level      string `json:"level"`
	Deductible *int64 `json:"deductible,omitempty"`
}

// RateResponse is the part of the response the benchmark inspects.
type RateResponse struct {
	Calculation struct {
		ID           string `json:"id"`
		TotalPremium string `json:"totalPremium"`
	} `json:"calculation"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalSent   int64
	TotalOK     int64
	TotalErrors int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) record(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

var (
	territories  = []string{"T-001", "T-002", "T-042", "T-107", "T-250"}
	vehicleTypes = []string{"sedan", "suv", "truck", "sports"}
	safety       = []string{"A", "B", "C"}
	levels       = []string{"basic", "standard", "premium"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	jurisdiction := flag.String("jurisdiction", "CA", "Jurisdiction to rate in")
	product := flag.String("product", "personal-auto", "Product type")
	requests := flag.Int("requests", 10000, "Total requests to send")
	workers := flag.Int("workers", 20, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Random seed for request generation")
	verbose := flag.Bool("verbose", false, "Print each failed request")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL BENCHMARK - Rating Latency                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL:  %s\n", *baseURL)
	fmt.Printf("Jurisdiction: %s / %s\n", *jurisdiction, *product)
	fmt.Printf("Requests:     %d\n", *requests)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	rng := rand.New(rand.NewSource(*seed))
	reqs := make([]QuoteRequest, *requests)
	for i := range reqs {
		reqs[i] = generateRequest(rng, *jurisdiction, *product)
	}
	fmt.Printf("✓ Generated %d synthetic quote requests\n", len(reqs))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(reqs, *baseURL, *workers, *verbose)
	duration := time.Since(start)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func generateRequest(rng *rand.Rand, jurisdiction, product string) QuoteRequest {
	collisionDeductible := []int64{250, 500, 1000}[rng.Intn(3)]

	drivers := []Driver{{
		Age:              18 + rng.Intn(60),
		YearsLicensed:    rng.Intn(40),
		Violations:       rng.Intn(4),
		AtFaultAccidents: rng.Intn(3),
	}}
	if rng.Intn(3) == 0 {
		drivers = append(drivers, Driver{
			Age:           25 + rng.Intn(40),
			YearsLicensed: 5 + rng.Intn(20),
		})
	}

	return QuoteRequest{
		Jurisdiction:  jurisdiction,
		ProductType:   product,
		EffectiveDate: time.Now().UTC().Format(time.RFC3339),
		Territory:     territories[rng.Intn(len(territories))],
		Vehicle: Vehicle{
			VIN:          "1HGBH41JXMN109186",
			Type:         vehicleTypes[rng.Intn(len(vehicleTypes))],
			ModelYear:    2005 + rng.Intn(20),
			SafetyRating: safety[rng.Intn(len(safety))],
			AntiTheft:    rng.Intn(2) == 0,
		},
		Drivers: drivers,
		Coverages: []Coverage{
			{Type: "liability", Level: levels[rng.Intn(len(levels))]},
			{Type: "collision", Level: "standard", Deductible: &collisionDeductible},
		},
	}
}

func runBenchmark(reqs []QuoteRequest, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan QuoteRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				err := rate(client, baseURL, req)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.TotalSent, 1)
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}
				atomic.AddInt64(&metrics.TotalOK, 1)
				metrics.record(elapsed)
			}
		}()
	}

	for _, req := range reqs {
		work <- req
	}
	close(work)
	wg.Wait()

	return metrics
}

func rate(client *http.Client, baseURL string, req QuoteRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/rate", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	var out RateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if out.Calculation.TotalPremium == "" {
		return fmt.Errorf("response missing totalPremium")
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        RESULTS                                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nDuration:    %s\n", duration.Round(time.Millisecond))
	fmt.Printf("Sent:        %d\n", m.TotalSent)
	fmt.Printf("Succeeded:   %d\n", m.TotalOK)
	fmt.Printf("Errors:      %d\n", m.TotalErrors)
	if duration > 0 {
		fmt.Printf("Throughput:  %.1f req/s\n", float64(m.TotalSent)/duration.Seconds())
	}

	if len(m.latencies) == 0 {
		fmt.Println("\nNo successful requests - no latency data.")
		return
	}

	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })

	fmt.Println("\nLatency:")
	fmt.Printf("  min:  %s\n", m.latencies[0].Round(time.Microsecond))
	fmt.Printf("  p50:  %s\n", percentile(m.latencies, 50).Round(time.Microsecond))
	fmt.Printf("  p90:  %s\n", percentile(m.latencies, 90).Round(time.Microsecond))
	fmt.Printf("  p95:  %s\n", percentile(m.latencies, 95).Round(time.Microsecond))
	fmt.Printf("  p99:  %s\n", percentile(m.latencies, 99).Round(time.Microsecond))
	fmt.Printf("  max:  %s\n", m.latencies[len(m.latencies)-1].Round(time.Microsecond))

	p95 := percentile(m.latencies, 95)
	if p95 <= 100*time.Millisecond {
		fmt.Printf("\n✓ p95 %s is within the 100ms target\n", p95.Round(time.Microsecond))
	} else {
		fmt.Printf("\n✗ p95 %s exceeds the 100ms target\n", p95.Round(time.Microsecond))
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
