package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/utils"
)

const (
	leaderboardCachePrefix = "cache:leaderboard:"
	defaultLeaderboardMaxN = 100
)

// leaderboardGenerationKey lives outside leaderboardCachePrefix so sweeps never reset it.
const leaderboardGenerationKey = "cache:leaderboard-gen"

func leaderboardKey(gen int64, scope Scope, n int) string {
	return fmt.Sprintf("%sg%d:tutor:%d:n:%d", leaderboardCachePrefix, gen, scope.TutorID, n)
}

// invalidateLeaderboards runs after every committed balance change. The generation bump
// orphans entries a concurrent TopN may still write; the sweep frees the old ones.
func invalidateLeaderboards(ctx context.Context, cache *utils.Cache) {
	cache.Bump(ctx, leaderboardGenerationKey)
	cache.InvalidateByPrefix(ctx, leaderboardCachePrefix)
}

// RankingService answers rank and leaderboard queries. Ranks are competition ranks:
// a student's rank is one plus the number of students with strictly more points,
// so tied students share a rank. Lists break ties by ascending student ID.
type RankingService struct {
	db    *gorm.DB
	cache *utils.Cache
	maxN  int
	log   *zap.Logger
}

// NewRankingService creates a RankingService. cache may be nil; maxN <= 0 means 100.
func NewRankingService(db *gorm.DB, cache *utils.Cache, maxN int, log *zap.Logger) *RankingService {
	if maxN <= 0 {
		maxN = defaultLeaderboardMaxN
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RankingService{db: db, cache: cache, maxN: maxN, log: log}
}

// Scope restricts a ranking to one tutor's students. The zero value ranks everyone.
type Scope struct {
	TutorID uint
}

func (sc Scope) apply(q *gorm.DB) *gorm.DB {
	q = q.Where("role = ?", models.RoleStudent)
	if sc.TutorID != 0 {
		q = q.Where("tutor_id = ?", sc.TutorID)
	}
	return q
}

// RankResult is one student's standing.
type RankResult struct {
	StudentID     uint  `json:"student_id"`
	Points        int64 `json:"points"`
	Rank          int64 `json:"rank"`
	TotalStudents int64 `json:"total_students"`
	TutorID       uint  `json:"tutor_id,omitempty"`
}

// Rank computes a student's rank within scope. It is always read from the database.
func (s *RankingService) Rank(ctx context.Context, actor Principal, studentID uint, scope Scope) (*RankResult, error) {
	const op = "rank"
	db := s.db.WithContext(ctx)

	student, err := findStudent(db, op, studentID, false)
	if err != nil {
		return nil, err
	}
	if err := authorize(op, actor, ActionViewRanking, StudentTarget(student)); err != nil {
		return nil, err
	}
	if scope.TutorID != 0 && (student.TutorID == nil || *student.TutorID != scope.TutorID) {
		return nil, notFound(op, "student in scope")
	}

	var ahead, total int64
	if err := scope.apply(db.Model(&models.User{})).Where("points > ?", student.Points).Count(&ahead).Error; err != nil {
		return nil, storeErr(err, "count students ahead")
	}
	if err := scope.apply(db.Model(&models.User{})).Count(&total).Error; err != nil {
		return nil, storeErr(err, "count students")
	}

	return &RankResult{
		StudentID:     student.ID,
		Points:        student.Points,
		Rank:          ahead + 1,
		TotalStudents: total,
		TutorID:       scope.TutorID,
	}, nil
}

// LeaderboardEntry is one row of TopN.
type LeaderboardEntry struct {
	Rank      int64  `json:"rank"`
	StudentID uint   `json:"student_id"`
	Username  string `json:"username"`
	Points    int64  `json:"points"`
	TutorID   *uint  `json:"tutor_id,omitempty"`
}

// TopN lists the n highest balances in scope, ordered by points descending then ID ascending.
// n above the configured maximum is clamped.
func (s *RankingService) TopN(ctx context.Context, actor Principal, n int, scope Scope) ([]LeaderboardEntry, error) {
	const op = "leaderboard"

	if err := authorize(op, actor, ActionViewRanking, Target{}); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, invalid(op, "n must be at least 1")
	}
	if n > s.maxN {
		n = s.maxN
	}

	// the generation is read before the store so a later mutation always supersedes this entry
	gen, cacheable := s.cache.Generation(ctx, leaderboardGenerationKey)
	key := leaderboardKey(gen, scope, n)
	var cached []LeaderboardEntry
	if cacheable && s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	var students []models.User
	if err := scope.apply(s.db.WithContext(ctx).Model(&models.User{})).
		Order("points DESC").Order("id ASC").
		Limit(n).
		Find(&students).Error; err != nil {
		return nil, storeErr(err, "list leaderboard")
	}

	s.log.Debug("leaderboard computed", zap.Int("n", n), zap.Uint("tutor_id", scope.TutorID), zap.Int("rows", len(students)))

	out := make([]LeaderboardEntry, 0, len(students))
	for i, u := range students {
		rank := int64(i + 1)
		if i > 0 && u.Points == students[i-1].Points {
			rank = out[i-1].Rank
		}
		out = append(out, LeaderboardEntry{
			Rank:      rank,
			StudentID: u.ID,
			Username:  u.Username,
			Points:    u.Points,
			TutorID:   u.TutorID,
		})
	}

	if cacheable {
		s.cache.SetJSON(ctx, key, out)
	}
	return out, nil
}
