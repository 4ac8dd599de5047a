package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"vigil/internal/alerting"
	"vigil/internal/config"
	"vigil/internal/database"
)

// vigil-report prints a freshness report for the configured database:
// how stale each enabled check's latest observation is, grouped into
// the configured age buckets.
func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	names := flag.Bool("names", false, "List check names per bucket instead of counts")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logrus.SetLevel(logrus.WarnLevel)

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	tracker := alerting.NewStateTracker(store)
	ctx := context.Background()
	ages := cfg.Processing.FreshnessAges

	if *names {
		report, err := tracker.FreshnessNames(ctx, ages)
		if err != nil {
			logrus.Fatalf("Failed to build report: %v", err)
		}
		for _, age := range sortedKeys(report) {
			fmt.Printf("%s\n", bucketLabel(age, ages))
			for _, name := range report[age] {
				fmt.Printf("  %s\n", name)
			}
		}
		os.Exit(0)
	}

	counts, err := tracker.FreshnessCounts(ctx, ages)
	if err != nil {
		logrus.Fatalf("Failed to build report: %v", err)
	}
	for _, age := range sortedCountKeys(counts) {
		fmt.Printf("%-20s %d\n", bucketLabel(age, ages), counts[age])
	}
}

func bucketLabel(age int, ages []int) string {
	max := 0
	for _, a := range ages {
		if a > max {
			max = a
		}
	}
	if age > 0 && age == max {
		return fmt.Sprintf(">= %ds:", age)
	}
	return fmt.Sprintf("%ds:", age)
}

func sortedKeys(m map[int][]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedCountKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
