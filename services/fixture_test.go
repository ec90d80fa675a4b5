package services

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/config"
	"github.com/cppla/meritboard/models"
)

// newTestDB opens a private in-memory database. One connection keeps every
// transaction serialised, which is what row locks give us on MySQL/Postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), config.GormConfig("silent"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, config.Migrate(db, models.All()...))
	return db
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *gorm.DB
	eco *Economy

	admin      models.User
	tutor      models.User
	otherTutor models.User
	student    models.User
	classmate  models.User
	stranger   models.User // student of otherTutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{t: t, ctx: context.Background(), db: db, eco: NewEconomy(db, nil, nil, Options{LeaderboardMaxN: 50})}

	f.admin = f.user("admin", models.RoleAdmin, nil, 0)
	f.tutor = f.user("tutor", models.RoleTutor, nil, 0)
	f.otherTutor = f.user("tutor2", models.RoleTutor, nil, 0)
	f.student = f.user("alice", models.RoleStudent, &f.tutor.ID, 0)
	f.classmate = f.user("bob", models.RoleStudent, &f.tutor.ID, 0)
	f.stranger = f.user("carol", models.RoleStudent, &f.otherTutor.ID, 0)
	return f
}

// user inserts a user row directly. Balances seeded this way have no ledger behind them;
// use award when reconciliation matters.
func (f *fixture) user(name string, role models.Role, tutorID *uint, points int64) models.User {
	f.t.Helper()
	u := models.User{Username: name, Role: role, TutorID: tutorID, Points: points}
	require.NoError(f.t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) item(name string, price, qty int64) models.CatalogItem {
	f.t.Helper()
	it := models.CatalogItem{Name: name, PointsRequired: price, AvailableQuantity: qty}
	require.NoError(f.t, f.db.Create(&it).Error)
	return it
}

func (f *fixture) award(student models.User, points int64) *AwardResult {
	f.t.Helper()
	res, err := f.eco.Ledger.Award(f.ctx, as(f.admin), AwardInput{StudentID: student.ID, Points: points, Reason: "seed"})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) submit(student models.User, item models.CatalogItem) *models.RedemptionRequest {
	f.t.Helper()
	req, err := f.eco.Redemptions.Submit(f.ctx, as(student), SubmitInput{ItemID: item.ID})
	require.NoError(f.t, err)
	return req
}

func (f *fixture) points(u models.User) int64 {
	f.t.Helper()
	var fresh models.User
	require.NoError(f.t, f.db.First(&fresh, u.ID).Error)
	return fresh.Points
}

func (f *fixture) stock(it models.CatalogItem) int64 {
	f.t.Helper()
	var fresh models.CatalogItem
	require.NoError(f.t, f.db.First(&fresh, it.ID).Error)
	return fresh.AvailableQuantity
}

func (f *fixture) ledger(u models.User) []models.PointsTransaction {
	f.t.Helper()
	var txs []models.PointsTransaction
	require.NoError(f.t, f.db.Where("student_id = ?", u.ID).Order("id").Find(&txs).Error)
	return txs
}

func (f *fixture) request(id uint) models.RedemptionRequest {
	f.t.Helper()
	var req models.RedemptionRequest
	require.NoError(f.t, f.db.First(&req, id).Error)
	return req
}

// reconciled asserts sum(delta) == points for u.
func (f *fixture) reconciled(u models.User) {
	f.t.Helper()
	var sum int64
	for _, tx := range f.ledger(u) {
		sum += tx.Delta
	}
	require.Equal(f.t, f.points(u), sum, "ledger of %s does not reconcile", u.Username)
}

func as(u models.User) Principal {
	return Principal{ID: u.ID, Role: u.Role, TutorID: u.TutorID}
}
