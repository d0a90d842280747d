// Command recount rebuilds the stored reply count of every molt from the
// reply graph. Counts include all live descendants.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/config"
	"github.com/moltter-net/moltter/internal/store"
	"github.com/moltter-net/moltter/internal/thread"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Print the counts without writing them")
	top := flag.Int("top", 10, "Number of most-replied molts to print")
	flag.Parse()

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	links, err := db.ListReplyLinks(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load reply links failed")
	}
	counts := thread.CountDescendants(links)
	logger.Info().Int("replies", len(links)).Int("parents", len(counts)).Msg("reply graph loaded")

	if !*dryRun {
		if err := db.SetReplyCounts(ctx, counts); err != nil {
			logger.Fatal().Err(err).Msg("update reply counts failed")
		}
		logger.Info().Msg("reply counts updated")
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > *top {
		ids = ids[:*top]
	}
	for _, id := range ids {
		fmt.Printf("%6d  %s\n", counts[id], id)
	}
}
