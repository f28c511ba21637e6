package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/intake/internal/transport"
)

const (
	methodScenario = "scenario"
	methodConverse = "Converse"
	methodCancel   = "Cancel"
)

// benchConfig: параметры нагрузочного прогона диалогов.
type benchConfig struct {
	sessions    int
	duration    time.Duration
	concurrency int
	connections int
	utterances  []string
	cancelRate  int
	sessionTag  string
	outputPath  string
}

func (c benchConfig) validate() error {
	if c.duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if c.duration == 0 && c.sessions <= 0 {
		return errors.New("sessions must be > 0 when duration is not set")
	}
	if c.concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if c.connections <= 0 {
		return errors.New("connections must be > 0")
	}
	if len(c.utterances) == 0 {
		return errors.New("at least one utterance is required")
	}
	if c.cancelRate < 0 || c.cancelRate > 100 {
		return errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(c.sessionTag) == "" {
		return errors.New("session-tag is required")
	}
	return nil
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type benchReport struct {
	StartedAt        time.Time               `json:"started_at"`
	DurationSeconds  float64                 `json:"duration_seconds"`
	Sessions         int64                   `json:"sessions"`
	Completed        int64                   `json:"completed"`
	Failed           int64                   `json:"failed"`
	ErrorRate        float64                 `json:"error_rate"`
	SessionsPerSec   float64                 `json:"sessions_per_second"`
	SessionLatencyMs latencySummary          `json:"session_latency_ms"`
	FinalStates      map[string]int64        `json:"final_states"`
	Methods          map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector копит латентности и коды ответов по методам.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
	states  map[string]int64
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
		states:  make(map[string]int64),
	}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}
	stats.calls++
	if code == codes.OK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordState(state string) {
	if state == "" {
		return
	}
	c.mu.Lock()
	c.states[state]++
	c.mu.Unlock()
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) benchReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := benchReport{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		FinalStates:     make(map[string]int64, len(c.states)),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for state, count := range c.states {
		result.FinalStates[state] = count
	}
	if scenario := c.methods[methodScenario]; scenario != nil {
		result.Sessions = scenario.calls
		result.Completed = scenario.success
		result.Failed = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.SessionLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.SessionsPerSec = float64(result.Sessions) / duration.Seconds()
	}
	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func (c *cli) newBenchCmd() *cobra.Command {
	cfg := benchConfig{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive concurrent scripted conversations against intake-service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			clients := make([]chatClient, 0, cfg.connections)
			for i := 0; i < cfg.connections; i++ {
				client, closeConn, err := c.client(cmd.Context())
				if err != nil {
					return err
				}
				defer closeConn()
				clients = append(clients, client)
			}

			result := c.runBench(cmd.Context(), cfg, clients)
			printBenchReport(cmd.OutOrStdout(), result)
			if cfg.outputPath != "" {
				if err := writeBenchReport(cfg.outputPath, result); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d sessions failed", result.Failed, result.Sessions)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&cfg.sessions, "sessions", 100, "sessions to run; with --duration it caps the run when set")
	cmd.Flags().DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration")
	cmd.Flags().IntVar(&cfg.concurrency, "concurrency", 10, "concurrent sessions")
	cmd.Flags().IntVar(&cfg.connections, "connections", 4, "gRPC connections")
	cmd.Flags().StringArrayVar(&cfg.utterances, "say", []string{"2 ROS-001", "non"}, "utterance sent on every session, in order (repeatable)")
	cmd.Flags().IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of sessions cancelled after the script (0..100)")
	cmd.Flags().StringVar(&cfg.sessionTag, "session-tag", "bench", "session id prefix")
	cmd.Flags().StringVar(&cfg.outputPath, "output", "", "optional JSON report path")
	return cmd
}

func (c *cli) runBench(ctx context.Context, cfg benchConfig, clients []chatClient) benchReport {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d", startedAt.UnixNano())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		client := clients[workerID%len(clients)]
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = c.runSession(ctx, client, cfg, fmt.Sprintf("%s-%s-%d", cfg.sessionTag, runID, id), id, col)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()
	return col.buildReport(startedAt, time.Since(startedAt))
}

// dispatchJobs раздаёт номера сессий до исчерпания --sessions или --duration.
func dispatchJobs(ctx context.Context, jobs chan<- int, cfg benchConfig) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.sessions > 0) && i >= cfg.sessions {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func (c *cli) runSession(ctx context.Context, client chatClient, cfg benchConfig, sessionID string, index int, col *collector) error {
	start := time.Now()
	code := codes.OK
	defer func() { col.record(methodScenario, time.Since(start), code) }()

	var last transport.ChatReply
	for _, utterance := range cfg.utterances {
		reply, err := c.timedCall(ctx, col, methodConverse, func(callCtx context.Context) (transport.ChatReply, error) {
			return client.Converse(callCtx, transport.ConverseRequest{SessionID: sessionID, Utterance: utterance})
		})
		if err != nil {
			code = status.Code(err)
			return err
		}
		last = reply
	}

	if shouldCancel(index, cfg.cancelRate) {
		reply, err := c.timedCall(ctx, col, methodCancel, func(callCtx context.Context) (transport.ChatReply, error) {
			return client.Cancel(callCtx, sessionID)
		})
		if err != nil {
			code = status.Code(err)
			return err
		}
		last = reply
	}
	col.recordState(last.State)
	return nil
}

func (c *cli) timedCall(ctx context.Context, col *collector, method string, call func(context.Context) (transport.ChatReply, error)) (transport.ChatReply, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	start := time.Now()
	reply, err := call(callCtx)
	col.record(method, time.Since(start), status.Code(err))
	return reply, err
}

func shouldCancel(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeBenchReport(path string, result benchReport) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}

	// #nosec G304 -- path is an explicit CLI output parameter.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()
	return writeJSON(file, result)
}

func printBenchReport(out io.Writer, result benchReport) {
	_, _ = fmt.Fprintf(out, "sessions=%d completed=%d failed=%d error_rate=%.4f\n",
		result.Sessions, result.Completed, result.Failed, result.ErrorRate)
	_, _ = fmt.Fprintf(out, "duration=%.2fs sessions_per_second=%.2f\n", result.DurationSeconds, result.SessionsPerSec)
	_, _ = fmt.Fprintf(out, "session latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.SessionLatencyMs.Min,
		result.SessionLatencyMs.Avg,
		result.SessionLatencyMs.P50,
		result.SessionLatencyMs.P95,
		result.SessionLatencyMs.P99,
		result.SessionLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != methodScenario {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}

	states := make([]string, 0, len(result.FinalStates))
	for state := range result.FinalStates {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		_, _ = fmt.Fprintf(out, "final state %s: %d\n", state, result.FinalStates[state])
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
