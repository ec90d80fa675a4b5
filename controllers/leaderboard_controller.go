package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/meritboard/middleware"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

const defaultLeaderboardSize = 10

// LeaderboardController exposes ranking queries.
type LeaderboardController struct {
	ranking *services.RankingService
}

// NewLeaderboardController creates a LeaderboardController.
func NewLeaderboardController(ranking *services.RankingService) *LeaderboardController {
	return &LeaderboardController{ranking: ranking}
}

// Top returns the n best students, optionally within one tutor's group.
func (l *LeaderboardController) Top(ctx *gin.Context) {
	n := defaultLeaderboardSize
	if v := strings.TrimSpace(ctx.Query("n")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40004, "invalid n")
			return
		}
		n = parsed
	}
	tutorID, ok := queryID(ctx, "tutor_id")
	if !ok {
		return
	}

	entries, err := l.ranking.TopN(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), n, services.Scope{TutorID: tutorID})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": entries, "n": len(entries), "tutor_id": tutorID})
}

// Rank returns one student's position.
func (l *LeaderboardController) Rank(ctx *gin.Context) {
	studentID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	tutorID, ok := queryID(ctx, "tutor_id")
	if !ok {
		return
	}
	res, err := l.ranking.Rank(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), studentID, services.Scope{TutorID: tutorID})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}
