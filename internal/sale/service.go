package sale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/document"
	"github.com/odyssey-erp/clothstock/internal/observability"
	"github.com/odyssey-erp/clothstock/internal/reconcile"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

const (
	docName = "sale"
	entity  = "sale"
)

// StockInvalidator drops cached stock listings after a committed write.
type StockInvalidator interface {
	Invalidate(ctx context.Context)
}

// Config groups service settings.
type Config struct {
	// NonCountableVariantID is left out of listing weight totals. Zero disables the exclusion.
	NonCountableVariantID int64
	PerPage               int
}

// Service coordinates sale documents.
type Service struct {
	repo        RepositoryPort
	variants    document.VariantResolver
	stock       StockInvalidator
	audit       shared.AuditPort
	idempotency shared.IdempotencyPort
	metrics     *observability.DocumentMetrics
	validate    *validator.Validate
	cfg         Config
	logger      *slog.Logger
}

// NewService builds Service. variants, stock, audit, idempotency and metrics may be nil.
func NewService(repo RepositoryPort, variants document.VariantResolver, stock StockInvalidator, audit shared.AuditPort,
	idem shared.IdempotencyPort, metrics *observability.DocumentMetrics, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		variants:    variants,
		stock:       stock,
		audit:       audit,
		idempotency: idem,
		metrics:     metrics,
		validate:    document.NewValidator(),
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "sale")),
	}
}

// Create validates and stores a new sale, assigning the next sale number.
func (s *Service) Create(ctx context.Context, in Input) (created document.Created, err error) {
	tracker := s.metrics.Track(docName, "create")
	defer func() { err = tracker.End(err) }()

	lines, breakup, err := s.prepare(ctx, in)
	if err != nil {
		return document.Created{}, err
	}

	claimed, err := s.claim(ctx, in.IdempotencyKey, "sale.create")
	if err != nil {
		return document.Created{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkWrite(ctx, tx, in.Header, lines, 0); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx)
		if err != nil {
			return err
		}
		created, err = tx.InsertSale(ctx, number, in.Header)
		if err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, created.ID, lines); err != nil {
			return err
		}
		return tx.ReplaceBreakup(ctx, created.ID, breakup)
	})
	if err != nil {
		s.release(ctx, claimed, in.IdempotencyKey)
		return document.Created{}, err
	}

	s.afterCommit(ctx, shared.ActionCreated, created.ID, in.Header.CreatorID, map[string]any{
		"sale_no": created.Number,
		"lines":   len(lines),
		"amount":  Settlement(lines).String(),
	})
	return created, nil
}

// Update replaces the header, lines and breakup of an existing sale. The sale's own prior
// consumption counts as available.
func (s *Service) Update(ctx context.Context, id int64, in Input) (err error) {
	tracker := s.metrics.Track(docName, "update")
	defer func() { err = tracker.End(err) }()

	lines, breakup, err := s.prepare(ctx, in)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockSale(ctx, id); err != nil {
			return err
		}
		if err := s.checkWrite(ctx, tx, in.Header, lines, id); err != nil {
			return err
		}
		if err := tx.UpdateHeader(ctx, id, in.Header); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, id, lines); err != nil {
			return err
		}
		return tx.ReplaceBreakup(ctx, id, breakup)
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, shared.ActionUpdated, id, in.Header.CreatorID, map[string]any{
		"lines":  len(lines),
		"amount": Settlement(lines).String(),
	})
	return nil
}

// Delete removes a sale, returning its weight to stock. The sale number is not reused.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) (err error) {
	tracker := s.metrics.Track(docName, "delete")
	defer func() { err = tracker.End(err) }()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockSale(ctx, id); err != nil {
			return err
		}
		return tx.DeleteSale(ctx, id)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, shared.ActionDeleted, id, actorID, nil)
	return nil
}

// Get loads a sale with lines in stored order.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of sales, newest first.
func (s *Service) List(ctx context.Context, filter document.ListFilter) (document.Page, error) {
	filter.Page = filter.Page.WithDefault(s.cfg.PerPage)
	items, total, err := s.repo.List(ctx, filter, s.cfg.NonCountableVariantID)
	if err != nil {
		return document.Page{}, err
	}
	return document.Page{
		Items:      items,
		Pagination: shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	}, nil
}

// Reconcile compares a stored sale's breakup with its line amounts.
func (s *Service) Reconcile(ctx context.Context, id int64) (reconcile.Result, error) {
	sale, err := s.repo.Get(ctx, id)
	if err != nil {
		return reconcile.Result{}, err
	}
	return reconcile.Compare(Entries(sale.Breakup), Settlement(sale.Lines)), nil
}

// prepare validates the payload and builds the rows to store. Inline variant names are
// resolved last so a malformed payload creates nothing.
func (s *Service) prepare(ctx context.Context, in Input) ([]Line, []Breakup, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, nil, shared.FromValidator(err)
	}
	for i, l := range in.Lines {
		if err := document.CheckNumeric(l.Weight, document.WeightColumn, "Weight", i); err != nil {
			return nil, nil, err
		}
		if err := document.CheckNumeric(l.ActualWeight, document.WeightColumn, "ActualWeight", i); err != nil {
			return nil, nil, err
		}
		if err := document.CheckNumeric(l.Rate, document.RateColumn, "Rate", i); err != nil {
			return nil, nil, err
		}
	}
	for i, b := range in.Breakup {
		if err := document.CheckNumeric(b.Value, document.ValueColumn, "Breakup.Value", i); err != nil {
			return nil, nil, err
		}
	}

	breakup := make([]Breakup, len(in.Breakup))
	for i, b := range in.Breakup {
		breakup[i] = Breakup{LineNo: i + 1, Ledger: b.Ledger, Value: b.Value}
	}
	lines := make([]Line, len(in.Lines))
	for i, l := range in.Lines {
		lines[i] = Line{
			LineNo:       i + 1,
			MaterialID:   l.MaterialID,
			VariantID:    l.VariantID,
			Weight:       l.Weight,
			ActualWeight: l.ActualWeight,
			Rate:         l.Rate,
			Amount:       Amount(l.Rate, l.ActualWeight),
		}
	}
	if err := reconcile.Validate(Entries(breakup), Settlement(lines)); err != nil {
		return nil, nil, err
	}

	for i, l := range in.Lines {
		id, err := document.ResolveVariant(ctx, s.variants, l.VariantID, l.VariantName, in.Header.CreatorID, i)
		if err != nil {
			return nil, nil, err
		}
		lines[i].VariantID = id
	}
	return lines, breakup, nil
}

// checkWrite verifies references and stock inside the transaction. Pair locks are held until
// commit so concurrent sales of the same pair run one after another.
func (s *Service) checkWrite(ctx context.Context, tx TxRepository, header document.Header, lines []Line, excludingSaleID int64) error {
	pairs := make([]shared.Pair, len(lines))
	for i, l := range lines {
		pairs[i] = l.Pair()
	}
	snap, err := tx.LoadReferences(ctx, document.NewRefQuery(header, pairs))
	if err != nil {
		return err
	}
	if err := document.CheckReferences(snap, pairs); err != nil {
		return err
	}

	if err := tx.LockPairs(ctx, pairs); err != nil {
		return err
	}
	requested, first := Requested(lines)
	for _, pair := range uniquePairs(pairs) {
		available, err := tx.AvailableFor(ctx, pair, excludingSaleID)
		if err != nil {
			return err
		}
		want := requested[pair]
		if want.GreaterThan(available) {
			return shared.NewRuleError(shared.RuleStock, shared.ErrInsufficientStock,
				fmt.Sprintf("requested %s, available %s", want.String(), clampZero(available).String())).
				AtLine(first[pair]).ForPair(pair)
		}
	}
	return nil
}

func (s *Service) claim(ctx context.Context, key, module string) (bool, error) {
	if s.idempotency == nil || key == "" {
		return false, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return false, shared.NewRuleError(shared.RuleUnique, shared.ErrConflict, "request already processed")
		}
		return false, err
	}
	return true, nil
}

func (s *Service) release(ctx context.Context, claimed bool, key string) {
	if !claimed {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) afterCommit(ctx context.Context, action string, id, actorID int64, meta map[string]any) {
	if s.stock != nil {
		s.stock.Invalidate(ctx)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["op_id"] = uuid.NewString()
	s.logger.Info("sale "+action, slog.Int64("id", id), slog.Int64("actor_id", actorID))
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record audit", slog.Int64("id", id), slog.Any("error", err))
	}
}

func uniquePairs(pairs []shared.Pair) []shared.Pair {
	seen := make(map[shared.Pair]bool, len(pairs))
	out := make([]shared.Pair, 0, len(pairs))
	for _, p := range pairs {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
