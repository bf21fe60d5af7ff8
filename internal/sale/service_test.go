package sale

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clothstock/internal/document"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// ============================================================================
// MEMORY REPOSITORY
// ============================================================================

type memoryRepo struct {
	mu sync.Mutex

	parties   map[int64]bool
	users     map[int64]bool
	materials map[int64]bool
	variants  map[int64]bool
	received  map[shared.Pair]decimal.Decimal

	sales  map[int64]Sale
	nextID int64
	seq    int64
	locked []shared.Pair

	// Error injection
	failBreakup error
	lastFilter  document.ListFilter
	lastExclude int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		parties:   map[int64]bool{1: true, 2: false},
		users:     map[int64]bool{7: true},
		materials: map[int64]bool{1: true, 2: true, 3: false},
		variants:  map[int64]bool{10: true, 11: true, 99: true},
		received:  map[shared.Pair]decimal.Decimal{},
		sales:     map[int64]Sale{},
	}
}

func (m *memoryRepo) receive(materialID, variantID int64, weight string) {
	p := shared.Pair{MaterialID: materialID, VariantID: variantID}
	m.received[p] = m.received[p].Add(decimal.RequireFromString(weight))
}

func (m *memoryRepo) available(materialID, variantID int64) decimal.Decimal {
	tx := &memoryTx{repo: m}
	d, _ := tx.AvailableFor(context.Background(), shared.Pair{MaterialID: materialID, VariantID: variantID}, 0)
	return d
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[int64]Sale, len(m.sales))
	for k, v := range m.sales {
		snapshot[k] = v
	}
	nextID, seq := m.nextID, m.seq
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.sales, m.nextID, m.seq = snapshot, nextID, seq
		return err
	}
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryRepo) List(ctx context.Context, filter document.ListFilter, excludeVariantID int64) ([]document.Summary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter, m.lastExclude = filter, excludeVariantID
	items := []document.Summary{}
	for _, s := range m.sales {
		total := decimal.Zero
		for _, l := range s.Lines {
			if l.VariantID != excludeVariantID {
				total = total.Add(l.ActualWeight)
			}
		}
		items = append(items, document.Summary{ID: s.ID, Number: s.SaleNo, RefNo: s.Header.RefNo, TotalWeight: total})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Number > items[j].Number })
	return items, len(items), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) LoadReferences(ctx context.Context, refs document.RefQuery) (document.RefSnapshot, error) {
	snap := document.RefSnapshot{Materials: map[int64]bool{}, Variants: map[int64]bool{}}
	snap.PartyActive, snap.PartyFound = t.repo.parties[refs.PartyID]
	snap.CreatorFound = t.repo.users[refs.CreatorID]
	for _, id := range refs.MaterialIDs {
		if active, ok := t.repo.materials[id]; ok {
			snap.Materials[id] = active
		}
	}
	for _, id := range refs.VariantIDs {
		if t.repo.variants[id] {
			snap.Variants[id] = true
		}
	}
	return snap, nil
}

func (t *memoryTx) LockPairs(ctx context.Context, pairs []shared.Pair) error {
	t.repo.locked = append(t.repo.locked, pairs...)
	return nil
}

func (t *memoryTx) AvailableFor(ctx context.Context, pair shared.Pair, excludingSaleID int64) (decimal.Decimal, error) {
	avail := t.repo.received[pair]
	for id, s := range t.repo.sales {
		if id == excludingSaleID {
			continue
		}
		for _, l := range s.Lines {
			if l.Pair() == pair {
				avail = avail.Sub(l.ActualWeight)
			}
		}
	}
	return avail, nil
}

func (t *memoryTx) NextNumber(ctx context.Context) (int64, error) {
	t.repo.seq++
	return t.repo.seq, nil
}

func (t *memoryTx) LockSale(ctx context.Context, id int64) error {
	if _, ok := t.repo.sales[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (t *memoryTx) InsertSale(ctx context.Context, number int64, h document.Header) (document.Created, error) {
	t.repo.nextID++
	now := time.Now()
	t.repo.sales[t.repo.nextID] = Sale{ID: t.repo.nextID, SaleNo: number, Header: h, CreatedAt: now, UpdatedAt: now}
	return document.Created{ID: t.repo.nextID, Number: number, CreatedAt: now}, nil
}

func (t *memoryTx) UpdateHeader(ctx context.Context, id int64, h document.Header) error {
	s, ok := t.repo.sales[id]
	if !ok {
		return ErrNotFound
	}
	s.Header = h
	t.repo.sales[id] = s
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, id int64, lines []Line) error {
	s := t.repo.sales[id]
	s.Lines = append([]Line(nil), lines...)
	t.repo.sales[id] = s
	return nil
}

func (t *memoryTx) ReplaceBreakup(ctx context.Context, id int64, breakup []Breakup) error {
	if t.repo.failBreakup != nil {
		return t.repo.failBreakup
	}
	s := t.repo.sales[id]
	s.Breakup = append([]Breakup(nil), breakup...)
	t.repo.sales[id] = s
	return nil
}

func (t *memoryTx) DeleteSale(ctx context.Context, id int64) error {
	if _, ok := t.repo.sales[id]; !ok {
		return ErrNotFound
	}
	delete(t.repo.sales, id)
	return nil
}

// ============================================================================
// COLLABORATOR FAKES
// ============================================================================

type fakeVariants struct {
	repo  *memoryRepo
	names map[string]int64
}

func (f *fakeVariants) EnsureVariant(ctx context.Context, name string, ownerID int64) (int64, error) {
	if id, ok := f.names[name]; ok {
		return id, nil
	}
	id := int64(100 + len(f.names))
	f.names[name] = id
	f.repo.variants[id] = true
	return id, nil
}

type countingStock struct{ bumps int }

func (c *countingStock) Invalidate(ctx context.Context) { c.bumps++ }

type memoryAudit struct{ logs []shared.AuditLog }

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct{ keys map[string]bool }

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type fixture struct {
	repo  *memoryRepo
	stock *countingStock
	audit *memoryAudit
	idem  *memoryIdempotency
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:  newMemoryRepo(),
		stock: &countingStock{},
		audit: &memoryAudit{},
		idem:  &memoryIdempotency{keys: map[string]bool{}},
	}
	variants := &fakeVariants{repo: f.repo, names: map[string]int64{}}
	f.svc = NewService(f.repo, variants, f.stock, f.audit, f.idem, nil, Config{NonCountableVariantID: 99}, nil)
	return f
}

func header() document.Header {
	return document.Header{
		RefNo:     "INV-1",
		RefDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PartyID:   1,
		CreatorID: 7,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// input builds a single-line sale of weight kg at rate with a matching cash breakup.
func input(materialID, variantID int64, weight, rate string) Input {
	amount := dec(rate).Mul(dec(weight))
	return Input{
		Header: header(),
		Lines: []LineInput{{
			MaterialID: materialID, VariantID: variantID,
			Weight: dec(weight), ActualWeight: dec(weight), Rate: dec(rate),
		}},
		Breakup: []BreakupInput{{Ledger: "cash", Value: amount}},
	}
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateUpdateDeleteTracksAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.receive(1, 10, "100")

	first, err := f.svc.Create(ctx, input(1, 10, "40", "5"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Number)
	assert.True(t, f.repo.available(1, 10).Equal(dec("60")))

	_, err = f.svc.Create(ctx, input(1, 10, "61", "5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = f.svc.Create(ctx, input(1, 10, "60", "5"))
	require.NoError(t, err)
	assert.True(t, f.repo.available(1, 10).IsZero())

	require.NoError(t, f.svc.Delete(ctx, 2, 7))
	assert.True(t, f.repo.available(1, 10).Equal(dec("60")))

	// The sale being edited gets its own 40 back, so 70 of 100 fits.
	require.NoError(t, f.svc.Update(ctx, first.ID, input(1, 10, "70", "5")))
	assert.True(t, f.repo.available(1, 10).Equal(dec("30")))

	err = f.svc.Update(ctx, first.ID, input(1, 10, "100.001", "5"))
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.True(t, f.repo.available(1, 10).Equal(dec("30")), "rejected update must not change stock")
}

func TestCreateSumsRequestedWeightPerPair(t *testing.T) {
	f := newFixture()
	f.repo.receive(1, 10, "50")
	f.repo.receive(2, 10, "5")

	in := Input{
		Header: header(),
		Lines: []LineInput{
			{MaterialID: 2, VariantID: 10, Weight: dec("1"), ActualWeight: dec("1")},
			{MaterialID: 1, VariantID: 10, Weight: dec("30"), ActualWeight: dec("30")},
			{MaterialID: 1, VariantID: 10, Weight: dec("30"), ActualWeight: dec("30")},
		},
	}
	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)

	re, ok := shared.AsRuleError(err)
	require.True(t, ok)
	assert.Equal(t, shared.RuleStock, re.Rule)
	assert.Equal(t, 1, re.Line)
	require.NotNil(t, re.Pair)
	assert.Equal(t, shared.Pair{MaterialID: 1, VariantID: 10}, *re.Pair)
	assert.Contains(t, re.Detail, "requested 60")
	assert.Empty(t, f.repo.sales)
	assert.Zero(t, f.stock.bumps)
}

func TestCreateWithoutReceiptsReportsZeroAvailable(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), input(1, 11, "1", "1"))
	re, ok := shared.AsRuleError(err)
	require.True(t, ok)
	assert.Contains(t, re.Detail, "available 0")
}

func TestCreateRejectsUnbalancedBreakup(t *testing.T) {
	f := newFixture()
	f.repo.receive(1, 10, "10")
	in := input(1, 10, "2", "12.50")
	in.Breakup = []BreakupInput{{Ledger: "cash", Value: dec("20")}, {Ledger: "bank", Value: dec("4.99")}}
	in.IdempotencyKey = "req-1"

	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUnbalancedBreakup)
	assert.Empty(t, f.repo.sales)
	assert.False(t, f.idem.keys["req-1"])
	assert.Zero(t, f.repo.seq, "no number is consumed by a rejected sale")
}

func TestCreateZeroAmountWithoutBreakup(t *testing.T) {
	f := newFixture()
	f.repo.receive(1, 10, "10")
	in := input(1, 10, "2", "0")
	in.Breakup = nil

	_, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)

	in = input(1, 10, "2", "1")
	in.Breakup = nil
	_, err = f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrUnbalancedBreakup)
}

func TestCreateComputesExactAmounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.receive(1, 10, "10")
	in := input(1, 10, "1.235", "12.34")
	in.Breakup = []BreakupInput{{Ledger: "cash", Value: dec("15.2399")}}

	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "15.2399", got.Lines[0].Amount.String())
	assert.Equal(t, 1, got.Lines[0].LineNo)
	assert.Equal(t, 1, got.Breakup[0].LineNo)

	res, err := f.svc.Reconcile(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, res.Balanced())
}

func TestCreateRejectsBadReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		want   error
		field  string
		line   int
	}{
		{"inactive party", func(in *Input) { in.Header.PartyID = 2 }, shared.ErrInactive, "PartyID", -1},
		{"unknown party", func(in *Input) { in.Header.PartyID = 5 }, shared.ErrNotFound, "PartyID", -1},
		{"unknown creator", func(in *Input) { in.Header.CreatorID = 8 }, shared.ErrNotFound, "CreatorID", -1},
		{"inactive material", func(in *Input) { in.Lines[0].MaterialID = 3 }, shared.ErrInactive, "MaterialID", 0},
		{"unknown variant", func(in *Input) { in.Lines[0].VariantID = 55 }, shared.ErrNotFound, "VariantID", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.repo.receive(1, 10, "10")
			in := input(1, 10, "1", "1")
			tc.mutate(&in)

			_, err := f.svc.Create(context.Background(), in)
			re, ok := shared.AsRuleError(err)
			require.True(t, ok, "got %v", err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, shared.RuleReference, re.Rule)
			assert.Equal(t, tc.field, re.Field)
			assert.Equal(t, tc.line, re.Line)
		})
	}
}

func TestCreateValidatesLines(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		field  string
		line   int
	}{
		{"no lines", func(in *Input) { in.Lines = nil }, "Lines", -1},
		{"negative weight", func(in *Input) { in.Lines[0].ActualWeight = dec("-1") }, "ActualWeight", 0},
		{"rate precision", func(in *Input) { in.Lines[0].Rate = dec("1.001") }, "Rate", 0},
		{"weight precision", func(in *Input) { in.Lines[0].Weight = dec("1.0001") }, "Weight", 0},
		{"weight too large", func(in *Input) { in.Lines[0].Weight = dec("100000000000") }, "Weight", 0},
		{"actual weight too large", func(in *Input) { in.Lines[0].ActualWeight = dec("1000000000000") }, "ActualWeight", 0},
		{"rate too large", func(in *Input) { in.Lines[0].Rate = dec("1000000000000") }, "Rate", 0},
		{"missing ref no", func(in *Input) { in.Header.RefNo = "" }, "RefNo", -1},
		{"missing ledger", func(in *Input) {
			in.Breakup = append(in.Breakup, BreakupInput{Value: decimal.Zero})
		}, "Breakup.Ledger", 1},
		{"breakup value too large", func(in *Input) {
			in.Breakup = append(in.Breakup, BreakupInput{Ledger: "adjust", Value: dec("1e23")})
		}, "Breakup.Value", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.repo.receive(1, 10, "10")
			in := input(1, 10, "1", "1")
			tc.mutate(&in)

			_, err := f.svc.Create(context.Background(), in)
			re, ok := shared.AsRuleError(err)
			require.True(t, ok, "got %v", err)
			assert.ErrorIs(t, err, shared.ErrValidation)
			assert.Equal(t, tc.field, re.Field)
			assert.Equal(t, tc.line, re.Line)
			assert.Empty(t, f.repo.sales, "nothing is written")
		})
	}
}

func TestCreateResolvesInlineVariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.receive(1, 100, "5")
	in := input(1, 0, "2", "3")
	in.Lines[0].VariantName = "Teal"

	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Lines[0].VariantID)
}

func TestCreateRollsBackOnWriteFailure(t *testing.T) {
	f := newFixture()
	f.repo.receive(1, 10, "10")
	f.repo.failBreakup = errors.New("disk full")
	in := input(1, 10, "1", "1")
	in.IdempotencyKey = "req-9"

	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)
	assert.Empty(t, f.repo.sales)
	assert.Zero(t, f.repo.seq)
	assert.False(t, f.idem.keys["req-9"], "key released after rollback")
	assert.Empty(t, f.audit.logs)
}

func TestCreateIsIdempotent(t *testing.T) {
	f := newFixture()
	f.repo.receive(1, 10, "10")
	in := input(1, 10, "1", "1")
	in.IdempotencyKey = "req-2"

	_, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Len(t, f.repo.sales, 1)
}

func TestNumbersAreNotReused(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.receive(1, 10, "10")

	a, err := f.svc.Create(ctx, input(1, 10, "1", "1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, a.ID, 7))
	b, err := f.svc.Create(ctx, input(1, 10, "1", "1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Number)
}

func TestDeleteTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.receive(1, 10, "10")
	created, err := f.svc.Create(ctx, input(1, 10, "1", "1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, created.ID, 7))
	err = f.svc.Delete(ctx, created.ID, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateMissingSale(t *testing.T) {
	f := newFixture()
	f.repo.receive(1, 10, "10")
	err := f.svc.Update(context.Background(), 42, input(1, 10, "1", "1"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWritesInvalidateAndAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.receive(1, 10, "10")

	created, err := f.svc.Create(ctx, input(1, 10, "1", "1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Update(ctx, created.ID, input(1, 10, "2", "1")))
	require.NoError(t, f.svc.Delete(ctx, created.ID, 7))

	assert.Equal(t, 3, f.stock.bumps)
	require.Len(t, f.audit.logs, 3)
	assert.Equal(t, shared.ActionCreated, f.audit.logs[0].Action)
	assert.Equal(t, shared.ActionUpdated, f.audit.logs[1].Action)
	assert.Equal(t, shared.ActionDeleted, f.audit.logs[2].Action)
	assert.NotEmpty(t, f.audit.logs[0].Meta["op_id"])
	assert.Contains(t, f.repo.locked, shared.Pair{MaterialID: 1, VariantID: 10})
}

func TestListExcludesNonCountableVariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.receive(1, 10, "10")
	f.repo.receive(1, 99, "10")

	in := input(1, 10, "4", "1")
	in.Lines = append(in.Lines, LineInput{MaterialID: 1, VariantID: 99, Weight: dec("3"), ActualWeight: dec("3")})
	_, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	page, err := f.svc.List(ctx, document.ListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].TotalWeight.Equal(dec("4")))
	assert.Equal(t, int64(99), f.repo.lastExclude)
	assert.Equal(t, shared.DefaultPerPage, page.Pagination.PerPage)
	assert.Equal(t, 1, page.Pagination.TotalPages)
}
