package receipt

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clothstock/internal/document"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

type memoryRepo struct {
	receipts map[int64]Receipt
	sold     map[shared.Pair]decimal.Decimal
	nextID   int64
	seq      int64
	locked   []shared.Pair
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{receipts: map[int64]Receipt{}, sold: map[shared.Pair]decimal.Decimal{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Receipt, len(m.receipts))
	for k, v := range m.receipts {
		snapshot[k] = v
	}
	nextID, seq := m.nextID, m.seq
	if err := fn(ctx, &memoryTx{m}); err != nil {
		m.receipts, m.nextID, m.seq = snapshot, nextID, seq
		return err
	}
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Receipt, error) {
	r, ok := m.receipts[id]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return r, nil
}

func (m *memoryRepo) List(ctx context.Context, filter document.ListFilter) ([]document.Summary, int, error) {
	items := []document.Summary{}
	for _, r := range m.receipts {
		items = append(items, document.Summary{ID: r.ID, Number: r.ReceiptNo})
	}
	return items, len(items), nil
}

type memoryTx struct{ repo *memoryRepo }

func (t *memoryTx) LoadReferences(ctx context.Context, refs document.RefQuery) (document.RefSnapshot, error) {
	snap := document.RefSnapshot{
		PartyFound: refs.PartyID == 1, PartyActive: true, CreatorFound: refs.CreatorID == 7,
		Materials: map[int64]bool{}, Variants: map[int64]bool{},
	}
	for _, id := range refs.MaterialIDs {
		snap.Materials[id] = true
	}
	for _, id := range refs.VariantIDs {
		snap.Variants[id] = true
	}
	return snap, nil
}

func (t *memoryTx) LockPairs(ctx context.Context, pairs []shared.Pair) error {
	t.repo.locked = append(t.repo.locked, pairs...)
	return nil
}

func (t *memoryTx) Available(ctx context.Context, pair shared.Pair) (decimal.Decimal, error) {
	avail := decimal.Zero
	for _, r := range t.repo.receipts {
		for _, l := range r.Lines {
			if l.Pair() == pair {
				avail = avail.Add(l.Weight)
			}
		}
	}
	return avail.Sub(t.repo.sold[pair]), nil
}

func (t *memoryTx) NextNumber(ctx context.Context) (int64, error) {
	t.repo.seq++
	return t.repo.seq, nil
}

func (t *memoryTx) LockReceipt(ctx context.Context, id int64) ([]Line, error) {
	r, ok := t.repo.receipts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Lines, nil
}

func (t *memoryTx) InsertReceipt(ctx context.Context, number int64, h document.Header) (document.Created, error) {
	t.repo.nextID++
	now := time.Now()
	t.repo.receipts[t.repo.nextID] = Receipt{ID: t.repo.nextID, ReceiptNo: number, Header: h, CreatedAt: now}
	return document.Created{ID: t.repo.nextID, Number: number, CreatedAt: now}, nil
}

func (t *memoryTx) UpdateHeader(ctx context.Context, id int64, h document.Header) error {
	r := t.repo.receipts[id]
	r.Header = h
	t.repo.receipts[id] = r
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, id int64, lines []Line) error {
	r := t.repo.receipts[id]
	r.Lines = append([]Line(nil), lines...)
	t.repo.receipts[id] = r
	return nil
}

func (t *memoryTx) DeleteReceipt(ctx context.Context, id int64) error {
	if _, ok := t.repo.receipts[id]; !ok {
		return ErrNotFound
	}
	delete(t.repo.receipts, id)
	return nil
}

type countingStock struct{ bumps int }

func (c *countingStock) Invalidate(ctx context.Context) { c.bumps++ }

func receiptInput(lines ...LineInput) Input {
	return Input{
		Header: document.Header{
			RefNo:     "GRN-1",
			RefDate:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			PartyID:   1,
			CreatorID: 7,
		},
		Lines: lines,
	}
}

func line(materialID, variantID int64, weight string) LineInput {
	return LineInput{MaterialID: materialID, VariantID: variantID, Weight: decimal.RequireFromString(weight)}
}

func newTestService(repo *memoryRepo) (*Service, *countingStock) {
	st := &countingStock{}
	return NewService(repo, nil, st, nil, nil, nil, Config{}, nil), st
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, st := newTestService(repo)

	a, err := svc.Create(ctx, receiptInput(line(1, 10, "100")))
	require.NoError(t, err)
	b, err := svc.Create(ctx, receiptInput(line(1, 11, "2.5"), line(2, 10, "0")))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Number)
	assert.Equal(t, int64(2), b.Number)
	assert.Equal(t, 2, st.bumps)

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, 1, got.Lines[0].LineNo)
	assert.Equal(t, 2, got.Lines[1].LineNo)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())

	_, err := svc.Create(context.Background(), receiptInput(line(1, 10, "-1")))
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), receiptInput(line(1, 10, "1.0005")))
	re, ok := shared.AsRuleError(err)
	require.True(t, ok)
	assert.Equal(t, "Weight", re.Field)
	assert.Equal(t, 0, re.Line)

	_, err = svc.Create(context.Background(), receiptInput(line(1, 10, "5"), line(1, 10, "1000000000000")))
	re, ok = shared.AsRuleError(err)
	require.True(t, ok)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, "Weight", re.Field)
	assert.Equal(t, 1, re.Line)

	in := receiptInput(line(1, 0, "1"))
	in.Lines[0].VariantName = "Rust"
	_, err = svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrNotFound, "inline names need a resolver")

	in = receiptInput(line(1, 10, "1"))
	in.Header.CreatorID = 8
	_, err = svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateAcceptsZeroWeight(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	created, err := svc.Create(ctx, receiptInput(line(1, 10, "0")))
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].Weight.IsZero())
}

func TestUpdateCannotDropBelowSold(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	created, err := svc.Create(ctx, receiptInput(line(1, 10, "100")))
	require.NoError(t, err)
	repo.sold[shared.Pair{MaterialID: 1, VariantID: 10}] = decimal.RequireFromString("70")

	require.NoError(t, svc.Update(ctx, created.ID, receiptInput(line(1, 10, "70"))))

	err = svc.Update(ctx, created.ID, receiptInput(line(1, 10, "69.999")))
	re, ok := shared.AsRuleError(err)
	require.True(t, ok)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.Equal(t, 0, re.Line)
	assert.Equal(t, "stock (line 1) [material 1/variant 10]: would leave -0.001 in stock", re.Error())

	// Moving the weight to another pair drops the original pair to zero received.
	err = svc.Update(ctx, created.ID, receiptInput(line(1, 11, "70")))
	re, ok = shared.AsRuleError(err)
	require.True(t, ok)
	assert.Equal(t, -1, re.Line)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Lines[0].Weight.Equal(decimal.RequireFromString("70")))
}

func TestUpdateGrowingSkipsLocks(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	created, err := svc.Create(ctx, receiptInput(line(1, 10, "10")))
	require.NoError(t, err)
	require.NoError(t, svc.Update(ctx, created.ID, receiptInput(line(1, 10, "12"), line(2, 10, "1"))))
	assert.Empty(t, repo.locked)
}

func TestDeleteRespectsSales(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	a, err := svc.Create(ctx, receiptInput(line(1, 10, "40")))
	require.NoError(t, err)
	b, err := svc.Create(ctx, receiptInput(line(1, 10, "60")))
	require.NoError(t, err)
	repo.sold[shared.Pair{MaterialID: 1, VariantID: 10}] = decimal.RequireFromString("50")

	require.NoError(t, svc.Delete(ctx, a.ID, 7))
	err = svc.Delete(ctx, b.ID, 7)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.Contains(t, repo.locked, shared.Pair{MaterialID: 1, VariantID: 10})

	err = svc.Delete(ctx, a.ID, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUsesDefaultPageSize(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	page, err := svc.List(context.Background(), document.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Pagination.PerPage)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Empty(t, page.Items)
}
