// Package services holds the points economy: the ledger, the redemption workflow,
// the ranking queries and the catalog, all guarded by a single capability predicate
// and reporting failures as tagged *Error values.
package services

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/utils"
)

// Options tunes NewEconomy.
type Options struct {
	LeaderboardMaxN     int
	LeaderboardCacheTTL time.Duration
}

// Economy bundles the services that share one database and one leaderboard cache.
type Economy struct {
	Ledger      *LedgerService
	Redemptions *RedemptionService
	Ranking     *RankingService
	Catalog     *CatalogService
}

// NewEconomy wires all services. rdb may be nil, in which case leaderboards are not cached.
func NewEconomy(db *gorm.DB, rdb *redis.Client, log *zap.Logger, opts Options) *Economy {
	if log == nil {
		log = zap.NewNop()
	}
	cache := utils.NewCache(rdb, opts.LeaderboardCacheTTL, log.Named("cache"))
	return &Economy{
		Ledger:      NewLedgerService(db, cache, log.Named("ledger")),
		Redemptions: NewRedemptionService(db, cache, log.Named("redemption")),
		Ranking:     NewRankingService(db, cache, opts.LeaderboardMaxN, log.Named("ranking")),
		Catalog:     NewCatalogService(db, log.Named("catalog")),
	}
}
