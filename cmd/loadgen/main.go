// loadgen fires concurrent transfers at a running ledgerd to measure
// sustained throughput.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type transferRequest struct {
	From   int64  `json:"from"`
	To     int64  `json:"to"`
	Amount string `json:"amount"`
	Remark string `json:"remark"`
	RefID  string `json:"ref_id"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "ledgerd base URL")
	total := flag.Int("n", 100000, "total transfer requests")
	concurrency := flag.Int("c", 200, "concurrent in-flight requests")
	from := flag.Int64("from", 1001, "debit account id")
	to := flag.Int64("to", 1002, "credit account id")
	amount := flag.String("amount", "0.01", "amount per transfer")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := *baseURL + "/transfers"

	var wg sync.WaitGroup
	wg.Add(*total)
	sem := make(chan struct{}, *concurrency)

	var failures int64
	var mu sync.Mutex

	start := time.Now()
	for i := 0; i < *total; i++ {
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			body, _ := json.Marshal(transferRequest{
				From:   *from,
				To:     *to,
				Amount: *amount,
				Remark: "loadgen",
				RefID:  uuid.New().String(),
			})
			resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				if idx%10000 == 0 {
					log.Printf("transfer %d failed: %v", idx, err)
				}
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 400 {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("Completed %d requests in %v (%d failed)\n", *total, elapsed, failures)
	fmt.Printf("TPS: %.2f\n", float64(*total)/elapsed.Seconds())
}
