package masterdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Service manages materials, variants and parties.
type Service struct {
	repo     Repository
	audit    shared.AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService creates a new master data service. audit may be nil.
func NewService(repo Repository, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validate: validator.New()}
}

// ListMaterials returns one page of materials.
func (s *Service) ListMaterials(ctx context.Context, filters ListFilters) ([]Material, shared.Pagination, error) {
	return s.listRecords(ctx, Materials, filters)
}

// ListVariants returns one page of variants.
func (s *Service) ListVariants(ctx context.Context, filters ListFilters) ([]Variant, shared.Pagination, error) {
	return s.listRecords(ctx, Variants, filters)
}

func (s *Service) listRecords(ctx context.Context, cat Catalog, filters ListFilters) ([]Record, shared.Pagination, error) {
	filters.Page = filters.Page.Normalize()
	records, total, err := s.repo.ListRecords(ctx, cat, filters)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("masterdata: list %s: %w", cat, err)
	}
	return records, shared.NewPagination(filters.Page.Page, filters.Page.PerPage, total), nil
}

// GetMaterial loads a material.
func (s *Service) GetMaterial(ctx context.Context, id int64) (Material, error) {
	return s.getRecord(ctx, Materials, id)
}

// GetVariant loads a variant.
func (s *Service) GetVariant(ctx context.Context, id int64) (Variant, error) {
	return s.getRecord(ctx, Variants, id)
}

func (s *Service) getRecord(ctx context.Context, cat Catalog, id int64) (Record, error) {
	if id <= 0 {
		return Record{}, shared.NewRuleError(shared.RuleValidation, shared.ErrValidation, "invalid "+cat.entity()+" id")
	}
	return s.repo.GetRecord(ctx, cat, id)
}

// CreateMaterial adds a material. Names are unique regardless of case.
func (s *Service) CreateMaterial(ctx context.Context, input RecordInput) (Material, error) {
	return s.createRecord(ctx, Materials, input)
}

// CreateVariant adds a variant.
func (s *Service) CreateVariant(ctx context.Context, input RecordInput) (Variant, error) {
	return s.createRecord(ctx, Variants, input)
}

func (s *Service) createRecord(ctx context.Context, cat Catalog, input RecordInput) (Record, error) {
	input.Name = CleanName(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return Record{}, shared.FromValidator(err)
	}
	rec := Record{Name: input.Name, OwnerID: ownerRef(input.OwnerID)}
	created, err := s.repo.CreateRecord(ctx, cat, rec, NameKey(input.Name))
	if err != nil {
		return Record{}, s.writeError(cat.entity(), err)
	}
	s.record(ctx, input.OwnerID, shared.ActionCreated, cat.entity(), created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// RenameMaterial changes a material name.
func (s *Service) RenameMaterial(ctx context.Context, id int64, input RecordInput) error {
	return s.renameRecord(ctx, Materials, id, input)
}

// RenameVariant changes a variant name.
func (s *Service) RenameVariant(ctx context.Context, id int64, input RecordInput) error {
	return s.renameRecord(ctx, Variants, id, input)
}

func (s *Service) renameRecord(ctx context.Context, cat Catalog, id int64, input RecordInput) error {
	if id <= 0 {
		return shared.NewRuleError(shared.RuleValidation, shared.ErrValidation, "invalid "+cat.entity()+" id")
	}
	input.Name = CleanName(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return shared.FromValidator(err)
	}
	if err := s.repo.RenameRecord(ctx, cat, id, input.Name, NameKey(input.Name)); err != nil {
		return s.writeError(cat.entity(), err)
	}
	s.record(ctx, input.OwnerID, shared.ActionUpdated, cat.entity(), id, map[string]any{"name": input.Name})
	return nil
}

// SetMaterialActive enables or disables a material. Disabled materials cannot be used on new
// document lines.
func (s *Service) SetMaterialActive(ctx context.Context, id int64, active bool, actorID int64) error {
	return s.setRecordActive(ctx, Materials, id, active, actorID)
}

// SetVariantActive enables or disables a variant.
func (s *Service) SetVariantActive(ctx context.Context, id int64, active bool, actorID int64) error {
	return s.setRecordActive(ctx, Variants, id, active, actorID)
}

func (s *Service) setRecordActive(ctx context.Context, cat Catalog, id int64, active bool, actorID int64) error {
	if err := s.repo.SetRecordActive(ctx, cat, id, active); err != nil {
		return fmt.Errorf("masterdata: toggle %s: %w", cat.entity(), err)
	}
	s.record(ctx, actorID, toggleAction(active), cat.entity(), id, nil)
	return nil
}

// EnsureVariant returns the id of the variant matching name, creating it when missing. A
// concurrent creation of the same name resolves to the row that won.
func (s *Service) EnsureVariant(ctx context.Context, name string, ownerID int64) (int64, error) {
	input := RecordInput{Name: CleanName(name), OwnerID: ownerID}
	if err := s.validate.Struct(input); err != nil {
		return 0, shared.FromValidator(err)
	}
	key := NameKey(input.Name)
	existing, err := s.repo.FindRecordByKey(ctx, Variants, key)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return 0, fmt.Errorf("masterdata: find variant: %w", err)
	}
	created, err := s.repo.CreateRecord(ctx, Variants, Record{Name: input.Name, OwnerID: ownerRef(ownerID)}, key)
	if errors.Is(err, ErrDuplicate) {
		existing, err = s.repo.FindRecordByKey(ctx, Variants, key)
		if err != nil {
			return 0, fmt.Errorf("masterdata: find variant: %w", err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("masterdata: create variant: %w", err)
	}
	s.logger.Info("variant created on the fly", slog.Int64("variant_id", created.ID), slog.String("name", created.Name))
	s.record(ctx, ownerID, shared.ActionCreated, Variants.entity(), created.ID, map[string]any{"name": created.Name, "inline": true})
	return created.ID, nil
}

// ListParties returns one page of parties.
func (s *Service) ListParties(ctx context.Context, filters ListFilters) ([]Party, shared.Pagination, error) {
	filters.Page = filters.Page.Normalize()
	parties, total, err := s.repo.ListParties(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("masterdata: list parties: %w", err)
	}
	return parties, shared.NewPagination(filters.Page.Page, filters.Page.PerPage, total), nil
}

// GetParty loads a party.
func (s *Service) GetParty(ctx context.Context, id int64) (Party, error) {
	if id <= 0 {
		return Party{}, shared.NewRuleError(shared.RuleValidation, shared.ErrValidation, "invalid party id")
	}
	return s.repo.GetParty(ctx, id)
}

// CreateParty adds a party.
func (s *Service) CreateParty(ctx context.Context, input PartyInput) (Party, error) {
	input = cleanParty(input)
	if err := s.validate.Struct(input); err != nil {
		return Party{}, shared.FromValidator(err)
	}
	party, err := s.repo.CreateParty(ctx, partyFromInput(input))
	if err != nil {
		return Party{}, s.writeError("party", err)
	}
	s.record(ctx, input.OwnerID, shared.ActionCreated, "party", party.ID, map[string]any{"name": party.Name})
	return party, nil
}

// UpdateParty replaces a party's details.
func (s *Service) UpdateParty(ctx context.Context, id int64, input PartyInput) error {
	if id <= 0 {
		return shared.NewRuleError(shared.RuleValidation, shared.ErrValidation, "invalid party id")
	}
	input = cleanParty(input)
	if err := s.validate.Struct(input); err != nil {
		return shared.FromValidator(err)
	}
	if err := s.repo.UpdateParty(ctx, id, partyFromInput(input)); err != nil {
		return s.writeError("party", err)
	}
	s.record(ctx, input.OwnerID, shared.ActionUpdated, "party", id, map[string]any{"name": input.Name})
	return nil
}

// SetPartyActive enables or disables a party.
func (s *Service) SetPartyActive(ctx context.Context, id int64, active bool, actorID int64) error {
	if err := s.repo.SetPartyActive(ctx, id, active); err != nil {
		return fmt.Errorf("masterdata: toggle party: %w", err)
	}
	s.record(ctx, actorID, toggleAction(active), "party", id, nil)
	return nil
}

func (s *Service) writeError(entity string, err error) error {
	if errors.Is(err, ErrDuplicate) {
		re := shared.NewRuleError(shared.RuleUnique, shared.ErrConflict, entity+" already exists")
		re.Field = "name"
		if strings.Contains(err.Error(), "tax_id") {
			re.Field = "tax_id"
		}
		return re
	}
	if errors.Is(err, shared.ErrNotFound) {
		return err
	}
	return fmt.Errorf("masterdata: write %s: %w", entity, err)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit masterdata", slog.String("entity", entity), slog.Int64("id", id), slog.Any("error", err))
	}
}

func toggleAction(active bool) string {
	if active {
		return shared.ActionActivated
	}
	return shared.ActionDeactivated
}

func ownerRef(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func cleanParty(input PartyInput) PartyInput {
	input.Name = CleanName(input.Name)
	input.AddressLine1 = strings.TrimSpace(input.AddressLine1)
	input.AddressLine2 = strings.TrimSpace(input.AddressLine2)
	input.City = strings.TrimSpace(input.City)
	input.Pincode = strings.TrimSpace(input.Pincode)
	input.Phone = strings.TrimSpace(input.Phone)
	input.TaxID = strings.ToUpper(strings.TrimSpace(input.TaxID))
	return input
}

func partyFromInput(input PartyInput) Party {
	return Party{
		Name:         input.Name,
		AddressLine1: input.AddressLine1,
		AddressLine2: input.AddressLine2,
		City:         input.City,
		Pincode:      input.Pincode,
		Phone:        input.Phone,
		TaxID:        input.TaxID,
		OwnerID:      ownerRef(input.OwnerID),
	}
}
