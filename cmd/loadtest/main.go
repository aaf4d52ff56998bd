package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/care-ai/gateway/internal/pipeline"
)

type options struct {
	gateway     string
	kind        string
	concurrency int
	duration    time.Duration
	file        string
	timeout     time.Duration
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Fire concurrent analyze requests and report latency and degradation",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.gateway, "gateway", "http://localhost:8000", "gateway base URL")
	f.StringVar(&opts.kind, "kind", "conversation", "pipeline kind")
	f.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent callers")
	f.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	f.StringVarP(&opts.file, "file", "f", "", "request JSON file; synthetic conversation turns when empty")
	f.DurationVar(&opts.timeout, "timeout", 35*time.Second, "per-request client timeout")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(out io.Writer, opts options) error {
	bodies, err := requestBodies(opts.file)
	if err != nil {
		return err
	}
	url := strings.TrimRight(opts.gateway, "/") + "/analyze/" + opts.kind
	client := &http.Client{Timeout: opts.timeout}

	fmt.Fprintf(out, "Load test: %d concurrent callers for %s\n", opts.concurrency, opts.duration)
	fmt.Fprintf(out, "Target: %s\n\n", url)

	var mu sync.Mutex
	var results []callResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(opts.duration)

	for range opts.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				r := runCall(client, url, bodies[rand.Intn(len(bodies))])
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(out, results)
	return nil
}

var syntheticTurns = []string{
	"I've had chest pain since this morning and my left arm feels heavy.",
	"Can you find me a dermatologist in Austin?",
	"My blood pressure reading was 150 over 95, should I worry?",
	"Necesito una cita con un cardiólogo la próxima semana.",
	"I keep coughing at night and I have a mild fever.",
}

func requestBodies(file string) ([][]byte, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	}
	bodies := make([][]byte, 0, len(syntheticTurns))
	for _, turn := range syntheticTurns {
		b, err := json.Marshal(pipeline.Request{Input: pipeline.Payload{Text: turn}})
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, b)
	}
	return bodies, nil
}

type callResult struct {
	success     bool
	status      int
	totalMs     float64
	degradation pipeline.Degradation
	stageMs     map[string]float64
	err         string
}

func runCall(client *http.Client, url string, body []byte) callResult {
	start := time.Now()
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return callResult{err: fmt.Sprintf("post: %v", err)}
	}
	defer resp.Body.Close()

	r := callResult{status: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	r.totalMs = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		r.err = fmt.Sprintf("read: %v", err)
		return r
	}
	if resp.StatusCode != http.StatusOK {
		r.err = fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		return r
	}
	var res pipeline.Result
	if err = json.Unmarshal(data, &res); err != nil {
		r.err = fmt.Sprintf("decode: %v", err)
		return r
	}
	r.success = true
	r.degradation = res.Degradation
	r.stageMs = make(map[string]float64, len(res.Stages))
	for _, s := range res.Stages {
		r.stageMs[s.Stage] = float64(s.LatencyMs)
	}
	return r
}

func printSummary(out io.Writer, results []callResult) {
	var succeeded, failed int
	statuses := map[int]int{}
	degradations := map[pipeline.Degradation]int{}
	stages := map[string][]float64{}
	var e2eAll []float64

	for _, r := range results {
		if !r.success {
			failed++
			statuses[r.status]++
			continue
		}
		succeeded++
		degradations[r.degradation]++
		e2eAll = append(e2eAll, r.totalMs)
		for name, ms := range r.stageMs {
			stages[name] = append(stages[name], ms)
		}
	}

	fmt.Fprintf(out, "\n=== Load Test Results ===\n")
	fmt.Fprintf(out, "Requests completed: %d\n", succeeded)
	fmt.Fprintf(out, "Requests failed:    %d\n", failed)
	for status, n := range statuses {
		label := fmt.Sprintf("HTTP %d", status)
		if status == 0 {
			label = "transport"
		}
		fmt.Fprintf(out, "  %-12s %d\n", label, n)
	}

	if len(e2eAll) == 0 {
		fmt.Fprintln(out, "No successful requests to report metrics")
		return
	}

	fmt.Fprintf(out, "\nDegradation: none=%d partial=%d full-fallback=%d\n",
		degradations[pipeline.DegradationNone],
		degradations[pipeline.DegradationPartial],
		degradations[pipeline.DegradationFullFallback])

	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "\n%-18s %8s %8s %8s\n", "Stage", "p50", "p95", "p99")
	for _, name := range names {
		printRow(out, name, stages[name])
	}
	printRow(out, "E2E", e2eAll)
}

func printRow(out io.Writer, name string, data []float64) {
	fmt.Fprintf(out, "%-18s %6.0fms %6.0fms %6.0fms\n", name, percentile(data, 50), percentile(data, 95), percentile(data, 99))
}

func percentile(data []float64, pct float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
