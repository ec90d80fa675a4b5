package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/config"
	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func (c apiClient) do(method, path, token string, body interface{}, headers ...string) (int, envelope) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (c apiClient) login(username string) string {
	c.t.Helper()
	code, env := c.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": username, "password": "password123"})
	require.Equal(c.t, http.StatusOK, code, env.Message)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(c.t, json.Unmarshal(env.Data, &out))
	return out.Token
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

type world struct {
	api                 apiClient
	admin, tutor, other models.User
	student, classmate  models.User

	adminTok, tutorTok, otherTok string
	studentTok, classmateTok     string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	config.Set(config.AppConfig{JWTSecret: "router-test", GinMode: "test", RateLimitPerMinute: 100000})
	utils.SetRedis(nil)

	db, err := gorm.Open(sqlite.Open("file::memory:"), config.GormConfig("silent"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, config.Migrate(db, models.All()...))

	hash, err := utils.HashPassword("password123")
	require.NoError(t, err)
	mk := func(name string, role models.Role, tutor *uint) models.User {
		u := models.User{Username: name, PasswordHash: hash, Role: role, TutorID: tutor}
		require.NoError(t, db.Create(&u).Error)
		return u
	}

	w := &world{}
	w.admin = mk("admin", models.RoleAdmin, nil)
	w.tutor = mk("tutor", models.RoleTutor, nil)
	w.other = mk("tutor2", models.RoleTutor, nil)
	w.student = mk("alice", models.RoleStudent, &w.tutor.ID)
	w.classmate = mk("bob", models.RoleStudent, &w.tutor.ID)

	eco := services.NewEconomy(db, nil, nil, services.Options{LeaderboardMaxN: 20})
	w.api = apiClient{t: t, router: SetupRouter(db, eco)}
	w.adminTok = w.api.login("admin")
	w.tutorTok = w.api.login("tutor")
	w.otherTok = w.api.login("tutor2")
	w.studentTok = w.api.login("alice")
	w.classmateTok = w.api.login("bob")
	return w
}

func TestRedemptionFlowOverHTTP(t *testing.T) {
	w := newWorld(t)
	api := w.api
	studentPoints := fmt.Sprintf("/api/v1/students/%d/points", w.student.ID)

	code, env := api.do(http.MethodPost, "/api/v1/items", w.adminTok, gin.H{"name": "pencil case", "points_required": 30, "available_quantity": 5})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var item models.CatalogItem
	decode(t, env, &item)

	code, env = api.do(http.MethodPost, studentPoints, w.tutorTok, gin.H{"points": 50, "reason": "participation"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var award services.AwardResult
	decode(t, env, &award)
	assert.Equal(t, int64(50), award.NewBalance)

	code, env = api.do(http.MethodPost, "/api/v1/requests", w.studentTok, gin.H{"item_id": item.ID})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var req models.RedemptionRequest
	decode(t, env, &req)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, int64(30), req.PointsSpent)

	code, _ = api.do(http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/approve", req.ID), w.otherTok, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = api.do(http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/reject", req.ID), w.tutorTok, gin.H{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/approve", req.ID), w.tutorTok, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var approved services.ApproveResult
	decode(t, env, &approved)
	assert.Equal(t, int64(20), approved.NewBalance)
	assert.Equal(t, models.StatusApproved, approved.Request.Status)

	code, env = api.do(http.MethodGet, studentPoints, w.studentTok, nil)
	require.Equal(t, http.StatusOK, code)
	var bal services.Balance
	decode(t, env, &bal)
	assert.Equal(t, int64(20), bal.Points)

	code, env = api.do(http.MethodGet, fmt.Sprintf("/api/v1/items/%d", item.ID), w.studentTok, nil)
	require.Equal(t, http.StatusOK, code)
	decode(t, env, &item)
	assert.Equal(t, int64(4), item.AvailableQuantity)

	code, env = api.do(http.MethodDelete, fmt.Sprintf("/api/v1/requests/%d", req.ID), w.studentTok, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, 40901, env.Code)

	code, env = api.do(http.MethodGet, fmt.Sprintf("/api/v1/students/%d/transactions?kind=purchase", w.student.ID), w.tutorTok, nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Items []models.PointsTransaction `json:"items"`
		Total int64                      `json:"total"`
	}
	decode(t, env, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(-30), page.Items[0].Delta)

	code, env = api.do(http.MethodGet, fmt.Sprintf("/api/v1/students/%d/ledger/audit", w.student.ID), w.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	var audit services.LedgerAudit
	decode(t, env, &audit)
	assert.True(t, audit.Consistent)

	code, env = api.do(http.MethodGet, "/api/v1/stats", w.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	var stats map[string]int64
	decode(t, env, &stats)
	assert.Equal(t, int64(50), stats["points_awarded"])
	assert.Equal(t, int64(30), stats["points_spent"])
	assert.Equal(t, int64(20), stats["points_outstanding"])
	assert.Equal(t, int64(0), stats["pending_requests"])
	assert.Equal(t, int64(4), stats["units_available"])

	code, _ = api.do(http.MethodGet, "/api/v1/stats", w.tutorTok, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAwardErrorsAndIdempotencyOverHTTP(t *testing.T) {
	w := newWorld(t)
	api := w.api
	path := fmt.Sprintf("/api/v1/students/%d/points", w.student.ID)

	code, _ := api.do(http.MethodPost, path, w.tutorTok, gin.H{"points": -3, "reason": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = api.do(http.MethodPost, path, w.tutorTok, gin.H{"points": 3, "reason": "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = api.do(http.MethodPost, path, w.otherTok, gin.H{"points": 3, "reason": "x"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = api.do(http.MethodPost, path, w.studentTok, gin.H{"points": 3, "reason": "x"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = api.do(http.MethodPost, "/api/v1/students/9999/points", w.adminTok, gin.H{"points": 3, "reason": "x"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = api.do(http.MethodPost, "/api/v1/students/abc/points", w.adminTok, gin.H{"points": 3, "reason": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	body := gin.H{"points": 5, "reason": "quiz"}
	code, first := api.do(http.MethodPost, path, w.tutorTok, body, "Idempotency-Key", "quiz-1")
	require.Equal(t, http.StatusCreated, code)
	code, second := api.do(http.MethodPost, path, w.tutorTok, body, "Idempotency-Key", "quiz-1")
	require.Equal(t, http.StatusOK, code)
	var a, b services.AwardResult
	decode(t, first, &a)
	decode(t, second, &b)
	assert.True(t, b.Replayed)
	assert.Equal(t, a.Transaction.ID, b.Transaction.ID)
	assert.Equal(t, int64(5), b.NewBalance)
}

func TestLeaderboardOverHTTP(t *testing.T) {
	w := newWorld(t)
	api := w.api
	for id, pts := range map[uint]int{w.student.ID: 40, w.classmate.ID: 90} {
		code, env := api.do(http.MethodPost, fmt.Sprintf("/api/v1/students/%d/points", id), w.adminTok, gin.H{"points": pts, "reason": "term"})
		require.Equal(t, http.StatusCreated, code, env.Message)
	}

	code, env := api.do(http.MethodGet, "/api/v1/leaderboard?n=5", w.classmateTok, nil)
	require.Equal(t, http.StatusOK, code)
	var board struct {
		Items []services.LeaderboardEntry `json:"items"`
	}
	decode(t, env, &board)
	require.Len(t, board.Items, 2)
	assert.Equal(t, w.classmate.ID, board.Items[0].StudentID)

	code, _ = api.do(http.MethodGet, "/api/v1/leaderboard?n=0", w.studentTok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = api.do(http.MethodGet, "/api/v1/leaderboard?n=abc", w.studentTok, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(http.MethodGet, fmt.Sprintf("/api/v1/students/%d/rank?tutor_id=%d", w.student.ID, w.tutor.ID), w.studentTok, nil)
	require.Equal(t, http.StatusOK, code)
	var rank services.RankResult
	decode(t, env, &rank)
	assert.Equal(t, int64(2), rank.Rank)
	assert.Equal(t, int64(2), rank.TotalStudents)
}

func TestAuthenticationOverHTTP(t *testing.T) {
	w := newWorld(t)
	api := w.api

	code, env := api.do(http.MethodGet, "/api/v1/items", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, 40101, env.Code)

	code, _ = api.do(http.MethodGet, "/api/v1/items", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = api.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = api.do(http.MethodGet, "/api/v1/auth/me", w.studentTok, nil)
	require.Equal(t, http.StatusOK, code)
	var me models.User
	decode(t, env, &me)
	assert.Equal(t, "alice", me.Username)
	assert.NotContains(t, string(env.Data), "password")

	code, _ = api.do(http.MethodPost, "/api/v1/items", w.tutorTok, gin.H{"name": "x", "points_required": 1})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.do(http.MethodPost, "/api/v1/auth/logout", w.studentTok, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = api.do(http.MethodGet, "/api/v1/auth/me", w.studentTok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, 40104, env.Code)

	code, _ = api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}
