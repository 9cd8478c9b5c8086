// Нагрузочный генератор для HTTP API заказов. Гонит сценарии оформления
// через реальный цикл: создание заказа, при необходимости повторная оплата.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultQty          = int32(1)
	defaultUnitPrice    = int64(4990)
	maxResponseBodySize = 1 << 20
)

type loadMode string

const (
	modeCreate      loadMode = "create"
	modeCreateRetry loadMode = "create-retry"
)

// Способ оплаты, который шлюз отклоняет всегда. Нужен режиму create-retry,
// чтобы заказ гарантированно попал в payment_failed перед повторной оплатой.
const failingMethod = "simulate-failure"

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	currency    string
	productID   string
	quantity    int32
	amountMinor int64
	provider    string
	method      string
	customerTag string
	outputPath  string
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string
	var quantityValue int

	flag.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max HTTP connections per host")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-retry")
	flag.StringVar(&cfg.currency, "currency", "CNY", "order currency")
	flag.StringVar(&cfg.productID, "product-id", "demo-kettle", "product id to order")
	flag.IntVar(&quantityValue, "quantity", int(defaultQty), "quantity per order line")
	flag.Int64Var(&cfg.amountMinor, "amount-minor", defaultUnitPrice, "unit price of the ordered product in minor units")
	flag.StringVar(&cfg.provider, "provider", "loadgen", "payment channel label")
	flag.StringVar(&cfg.method, "method", "card", "payment method for settling attempts")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "user id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.quantity = int32(quantityValue)

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.amountMinor <= 0 {
		return cfg, errors.New("amount-minor must be > 0")
	}
	for name, value := range map[string]string{
		"addr":         cfg.addr,
		"currency":     cfg.currency,
		"product-id":   cfg.productID,
		"provider":     cfg.provider,
		"method":       cfg.method,
		"customer-tag": cfg.customerTag,
	} {
		if strings.TrimSpace(value) == "" {
			return cfg, fmt.Errorf("%s is required", name)
		}
	}
	if strings.EqualFold(cfg.method, failingMethod) {
		return cfg, errors.New("method must be a settling one, the failing method is injected by create-retry")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateRetry:
		return modeCreateRetry, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// tally копит исходы и задержки по шагам сценария. Сценарий целиком
// учитывается отдельно от составляющих его HTTP-вызовов.
type tally struct {
	mu       sync.Mutex
	scenario callStats
	steps    map[string]*callStats
}

type callStats struct {
	calls     int64
	failed    int64
	codes     map[string]int64
	latencies []time.Duration
}

func (s *callStats) add(latency time.Duration, status int) {
	if s.codes == nil {
		s.codes = make(map[string]int64)
	}
	s.calls++
	if status < 200 || status > 299 {
		s.failed++
	}
	s.codes[statusLabel(status)]++
	s.latencies = append(s.latencies, latency)
}

func newTally() *tally {
	return &tally{steps: make(map[string]*callStats)}
}

func (t *tally) recordScenario(latency time.Duration, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scenario.add(latency, status)
}

func (t *tally) recordStep(step string, latency time.Duration, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.steps[step]
	if !ok {
		stats = &callStats{}
		t.steps[step] = stats
	}
	stats.add(latency, status)
}

type latencyMs struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencyMs        `json:"latency_ms"`
}

type runReport struct {
	Mode            string                `json:"mode"`
	Target          string                `json:"target"`
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Scenarios       stepReport            `json:"scenarios"`
	ScenariosPerSec float64               `json:"scenarios_per_sec"`
	Steps           map[string]stepReport `json:"steps"`
}

func (t *tally) buildReport(cfg config, startedAt time.Time, duration time.Duration) runReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := runReport{
		Mode:            string(cfg.mode),
		Target:          runTarget(cfg),
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Scenarios:       t.scenario.report(),
		Steps:           make(map[string]stepReport, len(t.steps)),
	}
	if duration > 0 {
		result.ScenariosPerSec = float64(t.scenario.calls) / duration.Seconds()
	}
	for name, stats := range t.steps {
		result.Steps[name] = stats.report()
	}
	return result
}

func (s *callStats) report() stepReport {
	codes := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codes[code] = count
	}
	return stepReport{
		Calls:     s.calls,
		Failed:    s.failed,
		ErrorRate: errorRate(s.failed, s.calls),
		Codes:     codes,
		LatencyMs: summarizeLatencies(s.latencies),
	}
}

func summarizeLatencies(latencies []time.Duration) latencyMs {
	if len(latencies) == 0 {
		return latencyMs{}
	}

	ms := make([]float64, len(latencies))
	var sum float64
	for i, latency := range latencies {
		ms[i] = float64(latency.Microseconds()) / 1000.0
		sum += ms[i]
	}
	sort.Float64s(ms)

	return latencyMs{
		Min: ms[0],
		Avg: sum / float64(len(ms)),
		P50: percentile(ms, 50),
		P95: percentile(ms, 95),
		P99: percentile(ms, 99),
		Max: ms[len(ms)-1],
	}
}

// percentile берёт ближайший ранг без интерполяции; sorted обязан быть отсортирован.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func errorRate(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return fmt.Sprintf("%d", status)
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

// Payload-структуры повторяют формат HTTP API сервиса.
type orderLinePayload struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type paymentIntentPayload struct {
	AmountMinor int64  `json:"amount_minor"`
	Provider    string `json:"provider"`
	Method      string `json:"method"`
}

type placeOrderPayload struct {
	UserID   string                `json:"user_id"`
	Currency string                `json:"currency"`
	Lines    []orderLinePayload    `json:"lines"`
	Payment  *paymentIntentPayload `json:"payment"`
}

type payOrderPayload struct {
	AmountMinor int64  `json:"amount_minor"`
	Provider    string `json:"provider"`
	Method      string `json:"method"`
}

type paymentPayload struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

type orderPayload struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	TotalMinor int64           `json:"total_minor"`
	Payment    *paymentPayload `json:"payment"`
}

type errorPayload struct {
	Error string `json:"error"`
}

type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.message)
}

type orderAPI interface {
	placeOrder(ctx context.Context, req placeOrderPayload) (orderPayload, int, error)
	payOrder(ctx context.Context, orderID string, req payOrderPayload) (orderPayload, int, error)
}

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, connections int) *apiClient {
	transport := &http.Transport{
		MaxIdleConnsPerHost: connections,
		MaxConnsPerHost:     connections,
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Transport: transport},
	}
}

func (c *apiClient) placeOrder(ctx context.Context, req placeOrderPayload) (orderPayload, int, error) {
	return c.post(ctx, "/api/v1/orders", req)
}

func (c *apiClient) payOrder(ctx context.Context, orderID string, req payOrderPayload) (orderPayload, int, error) {
	return c.post(ctx, "/api/v1/orders/"+orderID+"/pay", req)
}

func (c *apiClient) post(ctx context.Context, path string, body interface{}) (orderPayload, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return orderPayload{}, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return orderPayload{}, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return orderPayload{}, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return orderPayload{}, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr errorPayload
		message := strings.TrimSpace(string(data))
		if unmarshalErr := json.Unmarshal(data, &apiErr); unmarshalErr == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return orderPayload{}, resp.StatusCode, &apiError{status: resp.StatusCode, message: message}
	}

	var out orderPayload
	if err := json.Unmarshal(data, &out); err != nil {
		return orderPayload{}, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return out, resp.StatusCode, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient(cfg.addr, cfg.connections)

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	stats := newTally()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(client, cfg, id, runID, stats)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := stats.buildReport(cfg, startedAt, time.Since(startedAt))

	printReport(result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.Scenarios.Failed > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(
	client orderAPI,
	cfg config,
	index int,
	runID string,
	stats *tally,
) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		stats.recordScenario(time.Since(scenarioStart), scenarioStatus)
	}()

	totalMinor := cfg.amountMinor * int64(cfg.quantity)
	placeMethod := cfg.method
	if cfg.mode == modeCreateRetry {
		placeMethod = failingMethod
	}

	placeReq := placeOrderPayload{
		UserID:   fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index),
		Currency: cfg.currency,
		Lines: []orderLinePayload{
			{
				ProductID: cfg.productID,
				Quantity:  cfg.quantity,
			},
		},
		Payment: &paymentIntentPayload{
			AmountMinor: totalMinor,
			Provider:    cfg.provider,
			Method:      placeMethod,
		},
	}

	placed, status, err := callPlaceOrder(client, cfg.timeout, placeReq, stats)
	if err != nil {
		scenarioStatus = status
		return err
	}
	if placed.ID == "" {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("place response returned empty order id")
	}

	if cfg.mode == modeCreate {
		if placed.Status != "paid" {
			scenarioStatus = http.StatusConflict
			return fmt.Errorf("order %s not paid after checkout: status=%s%s", placed.ID, placed.Status, failureSuffix(placed))
		}
		return nil
	}

	// Режим create-retry: оформление с отклоняемым способом оплаты, затем
	// повторная оплата уже настоящим.
	if placed.Status != "payment_failed" {
		scenarioStatus = http.StatusConflict
		return fmt.Errorf("order %s is not retryable: status=%s", placed.ID, placed.Status)
	}

	payReq := payOrderPayload{
		AmountMinor: totalMinor,
		Provider:    cfg.provider,
		Method:      cfg.method,
	}
	paid, status, err := callPayOrder(client, cfg.timeout, placed.ID, payReq, stats)
	if err != nil {
		scenarioStatus = status
		return err
	}
	if paid.Status != "paid" {
		scenarioStatus = http.StatusConflict
		return fmt.Errorf("retry payment declined for order %s%s", placed.ID, failureSuffix(paid))
	}

	return nil
}

func failureSuffix(resp orderPayload) string {
	if resp.Payment == nil || resp.Payment.FailureReason == "" {
		return ""
	}
	return ": " + resp.Payment.FailureReason
}

func callPlaceOrder(
	client orderAPI,
	timeout time.Duration,
	req placeOrderPayload,
	stats *tally,
) (orderPayload, int, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, status, err := client.placeOrder(ctx, req)
	stats.recordStep("PlaceOrder", time.Since(start), status)
	return resp, status, err
}

func callPayOrder(
	client orderAPI,
	timeout time.Duration,
	orderID string,
	req payOrderPayload,
	stats *tally,
) (orderPayload, int, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, status, err := client.payOrder(ctx, orderID, req)
	stats.recordStep("PayOrder", time.Since(start), status)
	return resp, status, err
}

func writeJSONReport(path string, result runReport) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result runReport) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s target=%s scenarios=%d failed=%d error_rate=%.4f\n",
		result.Mode,
		result.Target,
		result.Scenarios.Calls,
		result.Scenarios.Failed,
		result.Scenarios.ErrorRate,
	)
	fmt.Printf("duration=%.2fs scenarios/s=%.2f\n", result.DurationSeconds, result.ScenariosPerSec)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.Scenarios.LatencyMs.Min,
		result.Scenarios.LatencyMs.Avg,
		result.Scenarios.LatencyMs.P50,
		result.Scenarios.LatencyMs.P95,
		result.Scenarios.LatencyMs.P99,
		result.Scenarios.LatencyMs.Max,
	)

	steps := make([]string, 0, len(result.Steps))
	for name := range result.Steps {
		steps = append(steps, name)
	}
	sort.Strings(steps)
	for _, name := range steps {
		stats := result.Steps[name]
		fmt.Printf(
			"%s: calls=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}
