package http

import (
	"net/http"
	"time"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/ledger"
)

const dateLayout = "2006-01-02"

type entryDTO struct {
	ID         string `json:"id"`
	Tenant     string `json:"tenant"`
	OccurredAt string `json:"occurred_at"`
	Sequence   int64  `json:"sequence"`
	CategoryID string `json:"category_id"`
	Debit      string `json:"debit"`
	Credit     string `json:"credit"`
	Balance    string `json:"balance"`
	Status     string `json:"status"`
	Note       string `json:"note,omitempty"`
}

func toEntryDTO(e core.LedgerEntry) entryDTO {
	return entryDTO{
		ID:         e.ID,
		Tenant:     e.Tenant,
		OccurredAt: e.OccurredAt.Format(dateLayout),
		Sequence:   e.Sequence,
		CategoryID: e.CategoryID,
		Debit:      core.FormatAmount(e.Debit),
		Credit:     core.FormatAmount(e.Credit),
		Balance:    core.FormatAmount(e.Balance),
		Status:     string(e.Status),
		Note:       e.Note,
	}
}

type categoryDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
}

func toCategoryDTO(c core.CategoryTag) categoryDTO {
	return categoryDTO{ID: c.ID, Name: c.Name, Direction: string(c.Direction)}
}

type createEntryRequest struct {
	CategoryID string `json:"category_id"`
	OccurredAt string `json:"occurred_at"`
	Amount     string `json:"amount"`
	Note       string `json:"note"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req createEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	occurredAt, err := time.Parse(dateLayout, req.OccurredAt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "occurred_at must be YYYY-MM-DD")
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	entry, err := s.ledger.CreateEntry(r.Context(), ledger.CreateParams{
		Tenant:     tenant,
		Actor:      actorFrom(r),
		CategoryID: req.CategoryID,
		OccurredAt: occurredAt,
		Amount:     amount,
		Note:       req.Note,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toEntryDTO(entry))
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	entry, err := s.ledger.Entry(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toEntryDTO(entry))
}

func (s *Server) handleCancelEntry(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	result, err := s.ledger.CancelEntry(r.Context(), tenant, actorFrom(r), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]entryDTO{
		"cancelled": toEntryDTO(result.Cancelled),
		"reversal":  toEntryDTO(result.Reversal),
	})
}

type recategorizeRequest struct {
	CategoryID string `json:"category_id"`
}

func (s *Server) handleRecategorizeEntry(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req recategorizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.ledger.RecategorizeEntry(r.Context(), tenant, actorFrom(r), r.PathValue("id"), req.CategoryID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toEntryDTO(entry))
}

type balanceDTO struct {
	Tenant string `json:"tenant"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Amount string `json:"amount"`
	Source string `json:"source"`
	AsOf   string `json:"as_of,omitempty"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	year, month, ok := yearMonthFrom(w, r)
	if !ok {
		return
	}
	b, err := s.ledger.BalanceAsOf(r.Context(), tenant, year, month)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	dto := balanceDTO{
		Tenant: b.Tenant,
		Year:   b.Year,
		Month:  b.Month,
		Amount: core.FormatAmount(b.Amount),
		Source: string(b.Source),
	}
	if !b.AsOf.IsZero() {
		dto.AsOf = b.AsOf.Format(dateLayout)
	}
	respondJSON(w, http.StatusOK, dto)
}

type categoryTotalDTO struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Direction  string `json:"direction"`
	Total      string `json:"total"`
}

type statementDTO struct {
	Tenant        string             `json:"tenant"`
	Year          int                `json:"year"`
	Month         int                `json:"month"`
	Opening       string             `json:"opening"`
	OpeningSource string             `json:"opening_source"`
	Entries       []entryDTO         `json:"entries"`
	TotalDebit    string             `json:"total_debit"`
	TotalCredit   string             `json:"total_credit"`
	Closing       string             `json:"closing"`
	ByCategory    []categoryTotalDTO `json:"by_category"`
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	year, month, ok := yearMonthFrom(w, r)
	if !ok {
		return
	}
	stmt, err := s.ledger.MonthStatement(r.Context(), tenant, year, month)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	dto := statementDTO{
		Tenant:        stmt.Tenant,
		Year:          stmt.Year,
		Month:         stmt.Month,
		Opening:       core.FormatAmount(stmt.Opening.Amount),
		OpeningSource: string(stmt.Opening.Source),
		Entries:       make([]entryDTO, 0, len(stmt.Entries)),
		TotalDebit:    core.FormatAmount(stmt.TotalDebit),
		TotalCredit:   core.FormatAmount(stmt.TotalCredit),
		Closing:       core.FormatAmount(stmt.Closing),
		ByCategory:    make([]categoryTotalDTO, 0, len(stmt.ByCategory)),
	}
	for _, e := range stmt.Entries {
		dto.Entries = append(dto.Entries, toEntryDTO(e))
	}
	for _, ct := range stmt.ByCategory {
		dto.ByCategory = append(dto.ByCategory, categoryTotalDTO{
			CategoryID: ct.CategoryID,
			Name:       ct.Name,
			Direction:  string(ct.Direction),
			Total:      core.FormatAmount(ct.Total),
		})
	}
	respondJSON(w, http.StatusOK, dto)
}

type setAnchorRequest struct {
	Year           int    `json:"year"`
	EffectiveMonth int    `json:"effective_month"`
	Amount         string `json:"amount"`
}

type anchorDTO struct {
	Tenant         string `json:"tenant"`
	Year           int    `json:"year"`
	EffectiveMonth int    `json:"effective_month"`
	Amount         string `json:"amount"`
}

func (s *Server) handleSetAnchor(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req setAnchorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Year < 1 {
		respondError(w, http.StatusBadRequest, "year is required")
		return
	}
	if req.EffectiveMonth < 1 || req.EffectiveMonth > 12 {
		respondError(w, http.StatusBadRequest, "effective_month must be between 1 and 12")
		return
	}
	// Anchors may be zero or negative (an overdrawn opening is legal), so the
	// positive-amount parser does not apply here.
	amount, err := core.ParseSignedAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	anchor, err := s.ledger.SetAnchor(r.Context(), core.PeriodAnchor{
		Tenant:         tenant,
		Year:           req.Year,
		EffectiveMonth: req.EffectiveMonth,
		Amount:         amount,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, anchorDTO{
		Tenant:         anchor.Tenant,
		Year:           anchor.Year,
		EffectiveMonth: anchor.EffectiveMonth,
		Amount:         core.FormatAmount(anchor.Amount),
	})
}

type resolvedAnchorDTO struct {
	Tenant string `json:"tenant"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Amount string `json:"amount"`
	Source string `json:"source"`
	Date   string `json:"date,omitempty"`
}

func (s *Server) handleResolveAnchor(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	year, month, ok := yearMonthFrom(w, r)
	if !ok {
		return
	}
	anchor, err := s.ledger.ResolveAnchor(r.Context(), tenant, year, month)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	dto := resolvedAnchorDTO{
		Tenant: tenant,
		Year:   year,
		Month:  month,
		Amount: core.FormatAmount(anchor.Amount),
		Source: string(anchor.Source),
	}
	if !anchor.Date.IsZero() {
		dto.Date = anchor.Date.Format(dateLayout)
	}
	respondJSON(w, http.StatusOK, dto)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	if err := s.ledger.Recalculate(r.Context(), tenant); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "recalculated"})
}

type createCategoryRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req createCategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !core.FlowDirection(req.Direction).Valid() {
		respondError(w, http.StatusUnprocessableEntity, "direction must be DEBIT or CREDIT")
		return
	}
	cat, err := s.ledger.CreateCategory(r.Context(), core.CategoryTag{
		ID:        req.ID,
		Tenant:    tenant,
		Name:      req.Name,
		Direction: core.FlowDirection(req.Direction),
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCategoryDTO(cat))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	cats, err := s.ledger.ListCategories(r.Context(), tenant)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	dtos := make([]categoryDTO, 0, len(cats))
	for _, c := range cats {
		dtos = append(dtos, toCategoryDTO(c))
	}
	respondJSON(w, http.StatusOK, dtos)
}
