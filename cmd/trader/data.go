package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"momentum-trader/config"
	"momentum-trader/internal/alert"
	"momentum-trader/internal/execution"
	"momentum-trader/internal/marketdata/history"
	"momentum-trader/internal/markethours"
	sqlitestore "momentum-trader/internal/store/sqlite"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, markethours.NewYork)
}

func newFetchCmd(cfg *config.Config) *cobra.Command {
	var (
		from, to   string
		barSeconds int
		resume     bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download historical bars into the candle database for backtesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.Symbols) == 0 {
				return fmt.Errorf("fetch: no symbols configured")
			}
			start, err := parseDate(from)
			if err != nil {
				return fmt.Errorf("fetch --from: %w", err)
			}
			end, err := parseDate(to)
			if err != nil {
				return fmt.Errorf("fetch --to: %w", err)
			}
			end = end.AddDate(0, 0, 1)

			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return err
			}
			w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, BarSeconds: barSeconds})
			if err != nil {
				return err
			}
			defer w.Close()

			fetcher := history.NewFetcher(history.Config{
				APIKey:    cfg.AlpacaAPIKey,
				APISecret: cfg.AlpacaSecretKey,
				Feed:      cfg.DataFeed,
			})
			for _, sym := range cfg.Symbols {
				symFrom := start
				if resume {
					if last, err := w.LastTimestamp(sym); err == nil && !last.IsZero() {
						if next := last.Add(time.Duration(barSeconds) * time.Second); next.After(symFrom) {
							symFrom = next
						}
					}
				}
				if !symFrom.Before(end) {
					log.Printf("[fetch] %s up to date", sym)
					continue
				}
				bars, err := fetcher.Fetch(cmd.Context(), sym, symFrom, end, barSeconds)
				if err != nil {
					return err
				}
				if err := w.Insert(bars); err != nil {
					return fmt.Errorf("fetch %s: %w", sym, err)
				}
				log.Printf("[fetch] %s: stored %d bars (%s .. %s)", sym, len(bars),
					symFrom.Format(dateLayout), end.AddDate(0, 0, -1).Format(dateLayout))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (US/Eastern)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (US/Eastern)")
	cmd.Flags().IntVar(&barSeconds, "bar-seconds", 60, "bar width, whole minutes")
	cmd.Flags().BoolVar(&resume, "resume", false, "start after the newest stored bar of each symbol")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	var date, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one day's journaled alerts to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().In(markethours.NewYork)
			if date != "" {
				d, err := parseDate(date)
				if err != nil {
					return fmt.Errorf("export --date: %w", err)
				}
				day = d
			}
			start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, markethours.NewYork)

			j, err := execution.NewJournal(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer j.Close()

			alerts, err := j.Alerts(cmd.Context(), start, start.AddDate(0, 0, 1))
			if err != nil {
				return err
			}
			l := alert.NewLog(markethours.NewYork)
			seen := make(map[string]bool)
			for _, a := range alerts {
				l.Record(a)
				seen[a.Symbol] = true
			}

			symbols := cfg.Symbols
			if len(symbols) == 0 {
				for s := range seen {
					symbols = append(symbols, s)
				}
				sort.Strings(symbols)
			}
			fmt.Print(l.Summary(symbols))
			path, err := l.WriteFile(out, start, symbols)
			if err != nil {
				return err
			}
			log.Printf("[export] %d alerts written to %s", l.Count(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "trading day, YYYY-MM-DD (today when empty)")
	cmd.Flags().StringVar(&out, "out", "", "output file (alerts_YYYYMMDD.json when empty)")
	return cmd
}
