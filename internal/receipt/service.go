package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/clothstock/internal/document"
	"github.com/odyssey-erp/clothstock/internal/observability"
	"github.com/odyssey-erp/clothstock/internal/shared"
	"github.com/odyssey-erp/clothstock/internal/stock"
)

const (
	docName = "receipt"
	entity  = "receipt"
)

// StockInvalidator drops cached stock listings after a committed write.
type StockInvalidator interface {
	Invalidate(ctx context.Context)
}

// Config groups service settings.
type Config struct {
	PerPage int
}

// Service coordinates receipt documents.
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

// NewService builds Service. Every collaborator except repo may be nil.
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
		logger:      logger.With(slog.String("component", "receipt")),
	}
}

// Create stores a new receipt and assigns the next receipt number.
func (s *Service) Create(ctx context.Context, in Input) (created document.Created, err error) {
	tracker := s.metrics.Track(docName, "create")
	defer func() { err = tracker.End(err) }()

	lines, err := s.prepare(ctx, in)
	if err != nil {
		return document.Created{}, err
	}

	claimed := false
	if s.idempotency != nil && in.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, "receipt.create"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return document.Created{}, shared.NewRuleError(shared.RuleUnique, shared.ErrConflict, "request already processed")
			}
			return document.Created{}, err
		}
		claimed = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkReferences(ctx, tx, in.Header, lines); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx)
		if err != nil {
			return err
		}
		created, err = tx.InsertReceipt(ctx, number, in.Header)
		if err != nil {
			return err
		}
		return tx.ReplaceLines(ctx, created.ID, lines)
	})
	if err != nil {
		if claimed {
			if delErr := s.idempotency.Delete(ctx, in.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return document.Created{}, err
	}

	s.afterCommit(ctx, shared.ActionCreated, created.ID, in.Header.CreatorID, map[string]any{
		"receipt_no": created.Number,
		"lines":      len(lines),
	})
	return created, nil
}

// Update replaces the header and lines of a receipt. A pair whose received weight shrinks must
// still cover what has been sold from it.
func (s *Service) Update(ctx context.Context, id int64, in Input) (err error) {
	tracker := s.metrics.Track(docName, "update")
	defer func() { err = tracker.End(err) }()

	lines, err := s.prepare(ctx, in)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.LockReceipt(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkReferences(ctx, tx, in.Header, lines); err != nil {
			return err
		}
		if err := checkShrink(ctx, tx, old, lines); err != nil {
			return err
		}
		if err := tx.UpdateHeader(ctx, id, in.Header); err != nil {
			return err
		}
		return tx.ReplaceLines(ctx, id, lines)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, shared.ActionUpdated, id, in.Header.CreatorID, map[string]any{"lines": len(lines)})
	return nil
}

// Delete removes a receipt. It is refused when sales already consume the weight it brought in.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) (err error) {
	tracker := s.metrics.Track(docName, "delete")
	defer func() { err = tracker.End(err) }()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.LockReceipt(ctx, id)
		if err != nil {
			return err
		}
		if err := checkShrink(ctx, tx, old, nil); err != nil {
			return err
		}
		return tx.DeleteReceipt(ctx, id)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, shared.ActionDeleted, id, actorID, nil)
	return nil
}

// Get loads a receipt with lines in stored order.
func (s *Service) Get(ctx context.Context, id int64) (Receipt, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of receipts, newest first.
func (s *Service) List(ctx context.Context, filter document.ListFilter) (document.Page, error) {
	filter.Page = filter.Page.WithDefault(s.cfg.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return document.Page{}, err
	}
	return document.Page{
		Items:      items,
		Pagination: shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	}, nil
}

func (s *Service) prepare(ctx context.Context, in Input) ([]Line, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, shared.FromValidator(err)
	}
	for i, l := range in.Lines {
		if err := document.CheckNumeric(l.Weight, document.WeightColumn, "Weight", i); err != nil {
			return nil, err
		}
	}
	lines := make([]Line, len(in.Lines))
	for i, l := range in.Lines {
		variantID, err := document.ResolveVariant(ctx, s.variants, l.VariantID, l.VariantName, in.Header.CreatorID, i)
		if err != nil {
			return nil, err
		}
		lines[i] = Line{LineNo: i + 1, MaterialID: l.MaterialID, VariantID: variantID, Weight: l.Weight}
	}
	return lines, nil
}

func (s *Service) checkReferences(ctx context.Context, tx TxRepository, header document.Header, lines []Line) error {
	pairs := make([]shared.Pair, len(lines))
	for i, l := range lines {
		pairs[i] = l.Pair()
	}
	snap, err := tx.LoadReferences(ctx, document.NewRefQuery(header, pairs))
	if err != nil {
		return err
	}
	return document.CheckReferences(snap, pairs)
}

// checkShrink locks every pair whose received weight drops from old to next and rejects the
// change if the pair would go negative.
func checkShrink(ctx context.Context, tx TxRepository, old, next []Line) error {
	before, after := Totals(old), Totals(next)
	var shrinking []shared.Pair
	for pair, w := range before {
		if after[pair].LessThan(w) {
			shrinking = append(shrinking, pair)
		}
	}
	if len(shrinking) == 0 {
		return nil
	}
	shrinking = stock.SortedPairs(shrinking)
	if err := tx.LockPairs(ctx, shrinking); err != nil {
		return err
	}
	for _, pair := range shrinking {
		available, err := tx.Available(ctx, pair)
		if err != nil {
			return err
		}
		left := available.Sub(before[pair]).Add(after[pair])
		if left.IsNegative() {
			return shared.NewRuleError(shared.RuleStock, shared.ErrInsufficientStock,
				fmt.Sprintf("would leave %s in stock", left.String())).
				AtLine(firstLine(next, pair)).ForPair(pair)
		}
	}
	return nil
}

func firstLine(lines []Line, pair shared.Pair) int {
	for i, l := range lines {
		if l.Pair() == pair {
			return i
		}
	}
	return -1
}

func (s *Service) afterCommit(ctx context.Context, action string, id, actorID int64, meta map[string]any) {
	if s.stock != nil {
		s.stock.Invalidate(ctx)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["op_id"] = uuid.NewString()
	s.logger.Info("receipt "+action, slog.Int64("id", id), slog.Int64("actor_id", actorID))
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
