// Load test tool for driving Kestrel with real listing data.
//
// Usage:
//   go run cmd/loadtest/main.go -csv /path/to/listings.csv -url http://localhost:8080
//
// This tool:
//   1. Reads hardware listing data (optionally with expected resale prices)
//   2. Sends each listing to Kestrel for appraisal
//   3. Compares Kestrel's adjusted price against the expected price
//   4. Calculates pricing error distribution, latency, and throughput
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ListingRow represents a row from the listings dataset
type ListingRow struct {
	Title         string
	Component     string
	Condition     string
	BasePrice     float64
	Currency      string
	Attributes    map[string]any
	ExpectedPrice float64
	HasExpected   bool
}

// AppraiseRequest is the Kestrel API request format
type AppraiseRequest struct {
	Listing InlineListing `json:"listing"`
}

type InlineListing struct {
	Title      string         `json:"title"`
	Component  string         `json:"component"`
	Condition  string         `json:"condition"`
	BasePrice  float64        `json:"basePrice"`
	Currency   string         `json:"currency"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// AppraiseResponse is the Kestrel API response format
type AppraiseResponse struct {
	ValuationID   string `json:"valuationId"`
	RulesetID     string `json:"rulesetId"`
	BasePrice     string `json:"basePrice"`
	AdjustedPrice string `json:"adjustedPrice"`
}

// Metrics tracks load test results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	TotalCompared  int64 // Rows with an expected price

	Within5Pct  int64 // |error| <= 5% of expected
	Within10Pct int64
	Beyond10Pct int64

	// Sum of absolute percentage error in basis points, for the mean
	AbsErrorBps int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to listings CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "loadtest", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum listings to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each listing result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: loadtest -csv /path/to/listings.csv [-url http://localhost:8080]")
		fmt.Println("\nExpected columns: title, component, condition, base_price,")
		fmt.Println("currency (optional), expected_price (optional). Any other numeric")
		fmt.Println("column becomes a listing attribute (e.g. ram_gb, storage_gb).")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL LOAD TEST - Listing Appraisals              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read listing data
	fmt.Printf("\nReading listings from %s...\n", *csvPath)
	listings, err := readListingsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d listings\n", len(listings))

	withExpected := 0
	for _, l := range listings {
		if l.HasExpected {
			withExpected++
		}
	}
	fmt.Printf("  - With expected price: %d\n", withExpected)
	fmt.Printf("  - Without:             %d\n", len(listings)-withExpected)

	// Run load test
	fmt.Printf("\nRunning load test with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runLoadTest(listings, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

// Columns consumed directly rather than mapped into attributes.
var reservedColumns = map[string]bool{
	"title":          true,
	"component":      true,
	"condition":      true,
	"base_price":     true,
	"currency":       true,
	"expected_price": true,
}

func readListingsCSV(path string, limit int) ([]ListingRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"title", "base_price"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var listings []ListingRow

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		basePrice, err := strconv.ParseFloat(record[colIndex["base_price"]], 64)
		if err != nil {
			continue
		}

		row := ListingRow{
			Title:      record[colIndex["title"]],
			BasePrice:  basePrice,
			Currency:   "USD",
			Attributes: make(map[string]any),
		}
		if i, ok := colIndex["component"]; ok {
			row.Component = record[i]
		}
		if i, ok := colIndex["condition"]; ok {
			row.Condition = record[i]
		}
		if i, ok := colIndex["currency"]; ok && record[i] != "" {
			row.Currency = record[i]
		}
		if i, ok := colIndex["expected_price"]; ok && record[i] != "" {
			if expected, err := strconv.ParseFloat(record[i], 64); err == nil {
				row.ExpectedPrice = expected
				row.HasExpected = true
			}
		}

		// Everything else becomes an attribute; numeric values parse as numbers
		for name, i := range colIndex {
			if reservedColumns[name] || i >= len(record) || record[i] == "" {
				continue
			}
			if v, err := strconv.ParseFloat(record[i], 64); err == nil {
				row.Attributes[name] = v
			} else {
				row.Attributes[name] = record[i]
			}
		}

		listings = append(listings, row)

		if limit > 0 && len(listings) >= limit {
			break
		}
	}

	return listings, nil
}

func runLoadTest(listings []ListingRow, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan ListingRow, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := appraiseListing(client, baseURL, tenantID, row)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.Title, err)
					}
					continue
				}

				adjusted, err := strconv.ParseFloat(result.AdjustedPrice, 64)
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}

				var errPct float64
				if row.HasExpected && row.ExpectedPrice > 0 {
					atomic.AddInt64(&metrics.TotalCompared, 1)

					errPct = (adjusted - row.ExpectedPrice) / row.ExpectedPrice * 100
					absErr := errPct
					if absErr < 0 {
						absErr = -absErr
					}
					atomic.AddInt64(&metrics.AbsErrorBps, int64(absErr*100))

					switch {
					case absErr <= 5:
						atomic.AddInt64(&metrics.Within5Pct, 1)
					case absErr <= 10:
						atomic.AddInt64(&metrics.Within10Pct, 1)
					default:
						atomic.AddInt64(&metrics.Beyond10Pct, 1)
					}
				}

				if verbose {
					title := row.Title
					if len(title) > 24 {
						title = title[:24]
					}
					if row.HasExpected {
						fmt.Printf("  %-24s | Base: $%10.2f | Adjusted: $%10.2f | Expected: $%10.2f | Err: %+6.2f%%\n",
							title, row.BasePrice, adjusted, row.ExpectedPrice, errPct)
					} else {
						fmt.Printf("  %-24s | Base: $%10.2f | Adjusted: $%10.2f\n",
							title, row.BasePrice, adjusted)
					}
				}
			}
		}()
	}

	// Send work
	for _, row := range listings {
		work <- row
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func appraiseListing(client *http.Client, baseURL, tenantID string, row ListingRow) (*AppraiseResponse, error) {
	req := AppraiseRequest{
		Listing: InlineListing{
			Title:      row.Title,
			Component:  row.Component,
			Condition:  row.Condition,
			BasePrice:  row.BasePrice,
			Currency:   row.Currency,
			Attributes: row.Attributes,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/valuations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AppraiseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      LOAD TEST RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Compared:         %d\n", m.TotalCompared)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	if m.TotalCompared > 0 {
		fmt.Printf("\n🎯 PRICING ACCURACY\n")
		fmt.Printf("   Within  5%%:  %6d (%.2f%%)\n", m.Within5Pct, 100*float64(m.Within5Pct)/float64(m.TotalCompared))
		fmt.Printf("   Within 10%%:  %6d (%.2f%%)\n", m.Within10Pct, 100*float64(m.Within10Pct)/float64(m.TotalCompared))
		fmt.Printf("   Beyond 10%%:  %6d (%.2f%%)\n", m.Beyond10Pct, 100*float64(m.Beyond10Pct)/float64(m.TotalCompared))

		meanAbsErr := float64(m.AbsErrorBps) / 100 / float64(m.TotalCompared)
		fmt.Printf("   Mean |error|: %.2f%%\n", meanAbsErr)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	// Interpretation
	if m.TotalCompared > 0 {
		fmt.Printf("\n💡 INTERPRETATION\n")
		within := float64(m.Within5Pct+m.Within10Pct) / float64(m.TotalCompared)
		if within >= 0.9 {
			fmt.Println("   ✅ Excellent accuracy - adjusted prices track expectations")
		} else if within >= 0.7 {
			fmt.Println("   ⚠️  Good accuracy - some listings drift beyond 10%")
		} else {
			fmt.Println("   ❌ Poor accuracy - review ruleset weights and multipliers")
		}
	}

	fmt.Println()
}
