// Command confirm-storm fires concurrent confirmations at a single campaign
// and checks that no more doses were confirmed than the campaign holds.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/rpc"
	"github.com/kkkkikiki/vaxmatch/internal/service"
)

type stormConfig struct {
	Target     string        `env:"TARGET,default=http://localhost:8080"`
	Doses      int           `env:"DOSES,default=50"`
	Candidates int           `env:"CANDIDATES,default=1000"`
	RPS        int           `env:"RPS,default=700"`
	Workers    int           `env:"WORKERS,default=50"`
	Duration   time.Duration `env:"DURATION,default=30s"`
	// every RetryEvery-th request resends an earlier token
	RetryEvery int `env:"RETRY_EVERY,default=10"`
}

// StormResult gathers aggregated counters for the run. LatencySum and
// P95Latency are in nanoseconds.
type StormResult struct {
	TotalRequests  int64
	Confirmed      int64
	AlreadyByYou   int64
	Rejected       int64
	ErrorCount     int64
	LatencySum     int64
	P95Latency     int64
	rejectedByCode sync.Map
}

const defaultTimeout = 30 * time.Second

func main() {
	ctx := context.Background()

	var cfg stormConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("STORM_", envconfig.OsLookuper()),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 4,
		MaxIdleConnsPerHost: cfg.Workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: defaultTimeout}
	client := rpc.NewClient(httpClient, cfg.Target)

	campaignID, tickets, err := setupCampaign(ctx, client, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up campaign: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("==========================================")
	fmt.Println("confirm-storm")
	fmt.Println("==========================================")
	fmt.Printf("campaign   : %d\n", campaignID)
	fmt.Printf("doses      : %d\n", cfg.Doses)
	fmt.Printf("candidates : %d\n", len(tickets))
	fmt.Printf("rps        : %d\n", cfg.RPS)
	fmt.Printf("duration   : %v\n", cfg.Duration)
	fmt.Println("==========================================")

	burst := max(cfg.RPS/cfg.Workers, 1)
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		result StormResult
		next   atomic.Int64
		wg     sync.WaitGroup
	)
	latencyChan := make(chan time.Duration, 4096)
	p95Done := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(p95Done)
	}()

	start := time.Now()
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(runCtx); err != nil {
					return
				}
				n := next.Add(1) - 1
				idx := n
				if cfg.RetryEvery > 0 && n > 0 && n%int64(cfg.RetryEvery) == 0 {
					idx = n / 2
				}
				if idx >= int64(len(tickets)) {
					cancel()
					return
				}
				confirm(client, tickets[idx].ConfirmationToken, &result, latencyChan)
			}
		}()
	}

	wg.Wait()
	close(latencyChan)
	<-p95Done
	totalDur := time.Since(start)

	printReport(&result, totalDur)

	fmt.Println("==========================================")
	fmt.Println("consistency check")
	fmt.Println("==========================================")
	if err := verifyNoOverbooking(ctx, client, campaignID, cfg.Doses, &result); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK: confirmations never exceeded available doses")
}

// setupCampaign creates a campaign for today and one batch of matches.
func setupCampaign(ctx context.Context, client *rpc.Client, cfg stormConfig) (int64, []rpc.MatchTicket, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	created, err := client.CreateCampaign(ctx, connect.NewRequest(&rpc.CreateCampaignRequest{
		CampaignParams: model.CampaignParams{
			AvailableDoses:    cfg.Doses,
			MinAge:            18,
			MaxAge:            99,
			MaxDistanceMeters: 50000,
			StartsAt:          day,
			EndsAt:            day.Add(24*time.Hour - time.Second),
			VaccineType:       "load-test",
		},
	}))
	if err != nil {
		return 0, nil, fmt.Errorf("create campaign failed: %w", err)
	}
	campaignID := created.Msg.Campaign.ID

	users := make([]string, cfg.Candidates)
	for i := range users {
		users[i] = fmt.Sprintf("storm-%d-%d", campaignID, i)
	}
	matches, err := client.CreateMatches(ctx, connect.NewRequest(&rpc.CreateMatchesRequest{
		CampaignID: campaignID,
		UserIDs:    users,
	}))
	if err != nil {
		return 0, nil, fmt.Errorf("create matches failed: %w", err)
	}
	if len(matches.Msg.Matches) == 0 {
		return 0, nil, fmt.Errorf("no matches created")
	}
	return campaignID, matches.Msg.Matches, nil
}

// confirm performs a single ConfirmMatch RPC and collects metrics.
func confirm(client *rpc.Client, token string, result *StormResult, latencyChan chan<- time.Duration) {
	// Use independent context to avoid cancellation when the run ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.ConfirmMatch(ctx, connect.NewRequest(&rpc.ConfirmMatchRequest{Token: token}))
	latency := time.Since(start)
	if err != nil {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}

	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}

	switch {
	case resp.Msg.Outcome == rpc.OutcomeRejected:
		atomic.AddInt64(&result.Rejected, 1)
		counter, _ := result.rejectedByCode.LoadOrStore(resp.Msg.Reason, new(atomic.Int64))
		counter.(*atomic.Int64).Add(1)
	case resp.Msg.Outcome == string(service.OutcomeAlreadyConfirmedByYou):
		atomic.AddInt64(&result.AlreadyByYou, 1)
	case resp.Msg.Outcome == string(service.OutcomeConfirmed):
		atomic.AddInt64(&result.Confirmed, 1)
	default:
		atomic.AddInt64(&result.ErrorCount, 1)
	}
}

// trackP95 keeps a sample of latencies and refreshes the P95 estimate.
func trackP95(latencies <-chan time.Duration, result *StormResult) {
	const size = 1000
	buf := make([]int64, 0, size)
	seen := 0

	for lat := range latencies {
		seen++
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := seen % size; idx < size/10 {
			buf[idx] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && seen%100 == 0 {
			sorted := append([]int64(nil), buf...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
			atomic.StoreInt64(&result.P95Latency, sorted[p95Index])
		}
	}
}

func printReport(result *StormResult, totalDur time.Duration) {
	fmt.Println("==========================================")
	fmt.Println("results")
	fmt.Println("==========================================")
	fmt.Printf("elapsed             : %.2fs\n", totalDur.Seconds())
	fmt.Printf("requests            : %d\n", result.TotalRequests)
	fmt.Printf("confirmed           : %d\n", result.Confirmed)
	fmt.Printf("already confirmed   : %d\n", result.AlreadyByYou)
	fmt.Printf("rejected            : %d\n", result.Rejected)
	result.rejectedByCode.Range(func(k, v any) bool {
		fmt.Printf("  %-18s: %d\n", k, v.(*atomic.Int64).Load())
		return true
	})
	fmt.Printf("errors              : %d\n", result.ErrorCount)

	answered := result.TotalRequests - result.ErrorCount
	if answered > 0 {
		fmt.Printf("avg latency         : %v\n", time.Duration(result.LatencySum/answered))
	}
	fmt.Printf("p95 latency         : %v\n", time.Duration(result.P95Latency))
	fmt.Printf("throughput          : %.2f req/s\n", float64(answered)/totalDur.Seconds())
}

// verifyNoOverbooking compares the server's ledger with what the storm saw.
func verifyNoOverbooking(ctx context.Context, client *rpc.Client, campaignID int64, doses int, result *StormResult) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	report, err := client.GetCampaign(ctx, connect.NewRequest(&rpc.GetCampaignRequest{CampaignID: campaignID}))
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	exported, err := client.ListConfirmedMatches(ctx, connect.NewRequest(&rpc.ListConfirmedMatchesRequest{CampaignID: campaignID}))
	if err != nil {
		return fmt.Errorf("failed to list confirmed matches: %w", err)
	}

	confirmed := report.Msg.Report.Stats.Confirmed
	fmt.Printf("campaign            : %d\n", campaignID)
	fmt.Printf("doses               : %d\n", doses)
	fmt.Printf("confirmed (server)  : %d\n", confirmed)
	fmt.Printf("confirmed (storm)   : %d\n", result.Confirmed)
	fmt.Printf("exported            : %d\n", len(exported.Msg.Matches))
	fmt.Printf("remaining           : %d\n", report.Msg.Report.RemainingDoses)

	if confirmed > doses {
		return fmt.Errorf("overbooked: confirmed=%d > doses=%d", confirmed, doses)
	}
	if int64(confirmed) != result.Confirmed {
		return fmt.Errorf("mismatch: server=%d, storm=%d", confirmed, result.Confirmed)
	}
	if len(exported.Msg.Matches) != confirmed {
		return fmt.Errorf("export mismatch: exported=%d, confirmed=%d", len(exported.Msg.Matches), confirmed)
	}
	return nil
}
