package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/glucose-stats/internal/database"
	"github.com/smukkama/glucose-stats/internal/report"
	"github.com/smukkama/glucose-stats/internal/store"
	"github.com/smukkama/glucose-stats/internal/tracker"
	"github.com/smukkama/glucose-stats/pkg/config"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  demo      record two measurements and switch windows in memory")
	fmt.Fprintln(os.Stderr, "  report    summarize a subject's logged measurements")
	fmt.Fprintln(os.Stderr, "  history   list a subject's daily snapshots of one window")
	fmt.Fprintln(os.Stderr, "  rebuild   recompute a subject's tracker state from the measurement log")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch os.Args[1] {
	case "demo":
		runDemo(cfg)
	case "report":
		runReport(cfg, os.Args[2:])
	case "history":
		runHistory(cfg, os.Args[2:])
	case "rebuild":
		runRebuild(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func runDemo(cfg *config.Config) {
	state, err := tracker.NewState(cfg.Tracker.Options(), time.Now())
	if err != nil {
		log.Fatalf("Failed to create tracker state: %v", err)
	}

	if state, err = tracker.RecordMeasurement(state, 5.5, tracker.BeforeBreakfast.Ptr()); err != nil {
		log.Fatalf("Failed to record measurement: %v", err)
	}
	if state, err = tracker.RecordMeasurement(state, 7.8, tracker.AfterLunch.Ptr()); err != nil {
		log.Fatalf("Failed to record measurement: %v", err)
	}
	printWindow(state)

	if state, err = tracker.SwitchWindow(state, "14"); err != nil {
		log.Fatalf("Failed to switch window: %v", err)
	}
	printWindow(state)

	if _, err := tracker.SwitchWindow(state, "nonexistent"); err != nil {
		log.Printf("Switch rejected: %v", err)
	}
}

func printWindow(state tracker.State) {
	w, err := tracker.GetCurrentStats(state)
	if err != nil {
		log.Fatalf("Failed to read current stats: %v", err)
	}

	fmt.Printf("\n--- Window %s (%s to %s) ---\n", state.CurrentPeriod,
		w.StartDate.Format("2006-01-02"), w.EndDate.Format("2006-01-02"))
	fmt.Printf("Measurements: %d\n", w.Count())
	fmt.Printf("Average: %s  Lowest: %s  Highest: %s\n", formatLevel(w.Average), formatLevel(w.Lowest), formatLevel(w.Highest))
	fmt.Printf("Very high: %d  High: %d  Normal: %d  Low: %d  Unclassified: %d\n",
		w.Counters.VeryHigh, w.Counters.High, w.Counters.Normal, w.Counters.Low, w.Counters.Unclassified)
	for _, c := range tracker.AllTimeCategories {
		if cs, ok := w.TimeStats[c]; ok {
			fmt.Printf("  %-18s avg %.2f (%d)\n", c, cs.Average, cs.Count)
		}
	}
}

func formatLevel(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func runReport(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	subject := fs.String("subject", "", "subject id")
	days := fs.Int("window", 7, "window length in days")
	fs.Parse(args)

	if *subject == "" {
		log.Fatalf("-subject is required")
	}

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	to := time.Now()
	from := to.AddDate(0, 0, -*days)
	measurements, err := db.GetMeasurements(*subject, from, to)
	if err != nil {
		log.Fatalf("Failed to load measurements: %v", err)
	}

	summary, err := report.SummarizeMeasurements(measurements, cfg.Tracker.Thresholds, from, to)
	if err != nil {
		log.Fatalf("Failed to summarize measurements: %v", err)
	}

	fmt.Printf("\n--- %s, last %d days ---\n", *subject, *days)
	fmt.Printf("Measurements: %d\n", summary.Count)
	if summary.Count == 0 {
		return
	}
	fmt.Printf("Mean: %.2f  Std dev: %.2f  Median: %.2f  P90: %.2f\n",
		summary.Mean, summary.StdDev, summary.Median, summary.P90)
	fmt.Printf("Min: %.2f  Max: %.2f\n", summary.Min, summary.Max)
	for _, band := range []tracker.Band{tracker.BandVeryHigh, tracker.BandHigh, tracker.BandNormal, tracker.BandLow, tracker.BandUnclassified} {
		fmt.Printf("  %-13s %5.1f%%\n", band, summary.BandShare[band]*100)
	}
}

func runRebuild(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	subject := fs.String("subject", "", "subject id")
	fs.Parse(args)

	if *subject == "" {
		log.Fatalf("-subject is required")
	}

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	states := store.NewStateStore(redisClient, cfg.Redis.StateTTL)

	now := time.Now()
	measurements, err := db.GetMeasurements(*subject, time.Time{}, now)
	if err != nil {
		log.Fatalf("Failed to load measurements: %v", err)
	}

	// Nothing logged: drop whatever state is stored so the processor starts over
	if len(measurements) == 0 {
		if err := states.Delete(ctx, *subject); err != nil {
			log.Fatalf("Failed to delete state: %v", err)
		}
		fmt.Printf("No measurements logged for %s, stored state removed\n", *subject)
		return
	}

	state, skipped, err := report.Rebuild(measurements, cfg.Tracker.Options(), now)
	if err != nil {
		log.Fatalf("Failed to rebuild state: %v", err)
	}

	if err := states.Set(ctx, *subject, state); err != nil {
		log.Fatalf("Failed to save state: %v", err)
	}

	fmt.Printf("Rebuilt %s from %d measurements (%d skipped)\n", *subject, len(measurements), skipped)
	printWindow(state)
}

func runHistory(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	subject := fs.String("subject", "", "subject id")
	window := fs.String("window", "7", "window label")
	days := fs.Int("days", 30, "number of days to list")
	fs.Parse(args)

	if *subject == "" {
		log.Fatalf("-subject is required")
	}

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	to := time.Now()
	snapshots, err := db.GetDailySnapshots(*subject, *window, to.AddDate(0, 0, -*days), to)
	if err != nil {
		log.Fatalf("Failed to load snapshots: %v", err)
	}

	fmt.Printf("\n--- %s, window %s, last %d days ---\n", *subject, *window, *days)
	for _, s := range snapshots {
		fmt.Printf("%s  avg %-6s low %-6s high %-6s  vh=%d h=%d n=%d l=%d\n",
			s.SnapshotDate.Format("2006-01-02"),
			formatLevel(s.Average), formatLevel(s.Lowest), formatLevel(s.Highest),
			s.VeryHigh, s.High, s.Normal, s.Low)
	}
}
