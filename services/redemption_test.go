package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/meritboard/models"
)

func TestSubmitSnapshotsPriceWithoutDebit(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 50)
	item := f.item("pencil case", 30, 5)

	req, err := f.eco.Redemptions.Submit(f.ctx, as(f.student), SubmitInput{ItemID: item.ID, Note: "  blue please  "})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, int64(30), req.PointsSpent)
	assert.Equal(t, f.tutor.ID, req.TutorID)
	assert.Equal(t, "blue please", req.Note)
	assert.Equal(t, int64(50), f.points(f.student))
	assert.Equal(t, int64(5), f.stock(item))
	assert.Len(t, f.ledger(f.student), 1)
}

func TestSubmitPreconditions(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 10)
	cheap := f.item("eraser", 5, 1)
	pricey := f.item("tablet", 500, 1)
	soldOut := f.item("poster", 1, 0)
	orphan := f.user("dave", models.RoleStudent, nil, 100)

	cases := []struct {
		name  string
		actor models.User
		item  uint
		kind  Kind
	}{
		{"tutor cannot submit", f.tutor, cheap.ID, KindUnauthorized},
		{"admin cannot submit", f.admin, cheap.ID, KindUnauthorized},
		{"missing item id", f.student, 0, KindValidation},
		{"unknown item", f.student, 9999, KindNotFound},
		{"no tutor", orphan, cheap.ID, KindValidation},
		{"out of stock", f.student, soldOut.ID, KindConflict},
		{"insufficient points", f.student, pricey.ID, KindConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eco.Redemptions.Submit(f.ctx, as(tc.actor), SubmitInput{ItemID: tc.item})
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err), err.Error())
		})
	}

	var n int64
	require.NoError(t, f.db.Model(&models.RedemptionRequest{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestApproveCommitsAllEffects(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 50)
	item := f.item("pencil case", 30, 5)
	req := f.submit(f.student, item)

	res, err := f.eco.Redemptions.Approve(f.ctx, as(f.tutor), req.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, res.Request.Status)
	require.NotNil(t, res.Request.ProcessedBy)
	assert.Equal(t, f.tutor.ID, *res.Request.ProcessedBy)
	assert.Equal(t, int64(20), res.NewBalance)
	assert.Equal(t, int64(-30), res.Transaction.Delta)
	assert.Equal(t, models.KindPurchase, res.Transaction.Kind)
	assert.Equal(t, "purchase of pencil case", res.Transaction.Reason)

	assert.Equal(t, int64(4), f.stock(item))
	assert.Equal(t, int64(20), f.points(f.student))
	assert.Equal(t, models.StatusApproved, f.request(req.ID).Status)
	f.reconciled(f.student)
}

func TestApproveConflictsLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 50)
	item := f.item("pencil case", 30, 1)
	first := f.submit(f.student, item)
	second := f.submit(f.student, item)

	_, err := f.eco.Redemptions.Approve(f.ctx, as(f.tutor), first.ID)
	require.NoError(t, err)

	// stock is gone and so are the points
	_, err = f.eco.Redemptions.Approve(f.ctx, as(f.tutor), second.ID)
	require.True(t, IsKind(err, KindConflict), "%v", err)
	assert.Equal(t, models.StatusPending, f.request(second.ID).Status)
	assert.Equal(t, int64(0), f.stock(item))
	assert.Equal(t, int64(20), f.points(f.student))
	assert.Len(t, f.ledger(f.student), 2)

	// restocked, still short on points
	_, err = f.eco.Catalog.Restock(f.ctx, as(f.admin), item.ID, 3)
	require.NoError(t, err)
	_, err = f.eco.Redemptions.Approve(f.ctx, as(f.tutor), second.ID)
	require.True(t, IsKind(err, KindConflict), "%v", err)
	assert.Equal(t, models.StatusPending, f.request(second.ID).Status)
	assert.Equal(t, int64(3), f.stock(item))
	assert.Equal(t, int64(20), f.points(f.student))
	f.reconciled(f.student)
}

func TestApproveAuthorizationAndState(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 50)
	item := f.item("pencil case", 10, 5)
	req := f.submit(f.student, item)

	for _, who := range []models.User{f.otherTutor, f.admin, f.student} {
		_, err := f.eco.Redemptions.Approve(f.ctx, as(who), req.ID)
		assert.True(t, IsKind(err, KindUnauthorized), who.Username)
	}
	_, err := f.eco.Redemptions.Approve(f.ctx, as(f.tutor), 9999)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, int64(5), f.stock(item))

	_, err = f.eco.Redemptions.Approve(f.ctx, as(f.tutor), req.ID)
	require.NoError(t, err)

	_, err = f.eco.Redemptions.Approve(f.ctx, as(f.tutor), req.ID)
	assert.True(t, IsKind(err, KindInvalidState))
	_, err = f.eco.Redemptions.Reject(f.ctx, as(f.tutor), req.ID, "changed my mind")
	assert.True(t, IsKind(err, KindInvalidState))

	assert.Equal(t, int64(40), f.points(f.student))
	assert.Equal(t, int64(4), f.stock(item))
}

func TestApproveKeepsSubmittedPrice(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 100)
	item := f.item("book", 30, 2)
	req := f.submit(f.student, item)

	price := int64(80)
	_, err := f.eco.Catalog.Update(f.ctx, as(f.admin), item.ID, ItemPatch{PointsRequired: &price})
	require.NoError(t, err)

	res, err := f.eco.Redemptions.Approve(f.ctx, as(f.tutor), req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-30), res.Transaction.Delta)
	assert.Equal(t, int64(70), f.points(f.student))
}

func TestConcurrentApprovalsCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 100)
	a := f.item("headphones", 60, 5)
	b := f.item("speaker", 60, 5)
	reqA := f.submit(f.student, a)
	reqB := f.submit(f.student, b)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range []uint{reqA.ID, reqB.ID} {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := f.eco.Redemptions.Approve(f.ctx, as(f.tutor), id)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case IsKind(err, KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, int64(40), f.points(f.student))
	assert.Equal(t, int64(9), f.stock(a)+f.stock(b))
	f.reconciled(f.student)
}

func TestConcurrentApprovalOfSameRequest(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 100)
	item := f.item("mug", 10, 10)
	req := f.submit(f.student, item)

	const callers = 5
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eco.Redemptions.Approve(f.ctx, as(f.tutor), req.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, IsKind(err, KindInvalidState), "%v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(90), f.points(f.student))
	assert.Equal(t, int64(9), f.stock(item))
}

func TestConcurrentApprovalsForLastUnit(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 100)
	f.award(f.classmate, 100)
	item := f.item("signed poster", 30, 1)
	reqA := f.submit(f.student, item)
	reqB := f.submit(f.classmate, item)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []uint{reqA.ID, reqB.ID} {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := f.eco.Redemptions.Approve(f.ctx, as(f.tutor), id)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, IsKind(err, KindConflict), "%v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(0), f.stock(item))
	assert.Equal(t, int64(170), f.points(f.student)+f.points(f.classmate))

	statuses := []models.RequestStatus{f.request(reqA.ID).Status, f.request(reqB.ID).Status}
	assert.ElementsMatch(t, []models.RequestStatus{models.StatusApproved, models.StatusPending}, statuses)
	f.reconciled(f.student)
	f.reconciled(f.classmate)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 50)
	item := f.item("pencil case", 30, 5)
	req := f.submit(f.student, item)

	_, err := f.eco.Redemptions.Reject(f.ctx, as(f.tutor), req.ID, "   ")
	require.True(t, IsKind(err, KindValidation))
	assert.Equal(t, models.StatusPending, f.request(req.ID).Status)

	_, err = f.eco.Redemptions.Reject(f.ctx, as(f.otherTutor), req.ID, "no")
	require.True(t, IsKind(err, KindUnauthorized))

	out, err := f.eco.Redemptions.Reject(f.ctx, as(f.tutor), req.ID, "not this term")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, out.Status)
	assert.Equal(t, "not this term", out.RejectionReason)

	stored := f.request(req.ID)
	assert.Equal(t, models.StatusRejected, stored.Status)
	assert.Equal(t, "not this term", stored.RejectionReason)
	assert.Equal(t, int64(50), f.points(f.student))
	assert.Equal(t, int64(5), f.stock(item))

	_, err = f.eco.Redemptions.Approve(f.ctx, as(f.tutor), req.ID)
	assert.True(t, IsKind(err, KindInvalidState))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 50)
	item := f.item("pencil case", 30, 5)
	pending := f.submit(f.student, item)

	err := f.eco.Redemptions.Cancel(f.ctx, as(f.classmate), pending.ID)
	assert.True(t, IsKind(err, KindUnauthorized))
	err = f.eco.Redemptions.Cancel(f.ctx, as(f.tutor), pending.ID)
	assert.True(t, IsKind(err, KindUnauthorized))

	require.NoError(t, f.eco.Redemptions.Cancel(f.ctx, as(f.student), pending.ID))
	var n int64
	require.NoError(t, f.db.Model(&models.RedemptionRequest{}).Where("id = ?", pending.ID).Count(&n).Error)
	assert.Zero(t, n)
	assert.Equal(t, int64(50), f.points(f.student))
	assert.Equal(t, int64(5), f.stock(item))

	err = f.eco.Redemptions.Cancel(f.ctx, as(f.student), pending.ID)
	assert.True(t, IsKind(err, KindNotFound))

	approved := f.submit(f.student, item)
	_, err = f.eco.Redemptions.Approve(f.ctx, as(f.tutor), approved.ID)
	require.NoError(t, err)
	err = f.eco.Redemptions.Cancel(f.ctx, as(f.student), approved.ID)
	assert.True(t, IsKind(err, KindInvalidState))
	assert.Equal(t, models.StatusApproved, f.request(approved.ID).Status)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	f.award(f.student, 50)
	f.award(f.classmate, 50)
	f.award(f.stranger, 50)
	item := f.item("pencil", 10, 10)

	mine := f.submit(f.student, item)
	f.submit(f.classmate, item)
	theirs := f.submit(f.stranger, item)
	_, err := f.eco.Redemptions.Reject(f.ctx, as(f.tutor), mine.ID, "duplicate")
	require.NoError(t, err)

	got, err := f.eco.Redemptions.Get(f.ctx, as(f.student), mine.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Item)
	assert.Equal(t, "pencil", got.Item.Name)

	_, err = f.eco.Redemptions.Get(f.ctx, as(f.classmate), mine.ID)
	assert.True(t, IsKind(err, KindUnauthorized))
	_, err = f.eco.Redemptions.Get(f.ctx, as(f.tutor), theirs.ID)
	assert.True(t, IsKind(err, KindUnauthorized))
	_, err = f.eco.Redemptions.Get(f.ctx, as(f.admin), theirs.ID)
	assert.NoError(t, err)

	list := func(actor models.User, filter RequestFilter) []models.RedemptionRequest {
		t.Helper()
		items, total, err := f.eco.Redemptions.List(f.ctx, as(actor), filter)
		require.NoError(t, err)
		assert.Equal(t, int64(len(items)), total)
		return items
	}

	assert.Len(t, list(f.student, RequestFilter{}), 1)
	assert.Len(t, list(f.tutor, RequestFilter{}), 2)
	assert.Len(t, list(f.tutor, RequestFilter{Status: models.StatusPending}), 1)
	assert.Len(t, list(f.tutor, RequestFilter{StudentID: f.classmate.ID}), 1)
	assert.Len(t, list(f.otherTutor, RequestFilter{}), 1)
	assert.Len(t, list(f.admin, RequestFilter{}), 3)

	_, _, err = f.eco.Redemptions.List(f.ctx, as(f.student), RequestFilter{StudentID: f.classmate.ID})
	assert.True(t, IsKind(err, KindUnauthorized))
	_, _, err = f.eco.Redemptions.List(f.ctx, as(f.admin), RequestFilter{Status: "LOST"})
	assert.True(t, IsKind(err, KindValidation))
}
