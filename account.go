package accounting

// Chart of accounts: a tree of Account nodes scoped to a Company, with
// cycle-free parentage and a bounded depth so rollup reporting never
// recurses unbounded.

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Income    AccountType = "INCOME"
	Expense   AccountType = "EXPENSE"
)

// maxAccountDepth bounds the parent chain so hierarchy validation and
// rollup reporting both run in bounded time.
const maxAccountDepth = 6

// AccountTemplate names a starter chart of accounts a new Company can be
// seeded from.
type AccountTemplate string

const (
	TemplateGeneralBusiness AccountTemplate = "GENERAL_BUSINESS"
	TemplateManufacturing   AccountTemplate = "MANUFACTURING"
	TemplateServiceBusiness AccountTemplate = "SERVICE_BUSINESS"
	TemplateHoldingCompany  AccountTemplate = "HOLDING_COMPANY"
)

// CashFlowCategory classifies an account for cash flow statement
// construction: which section of the statement its balance changes belong
// in, and whether it is the cash/cash-equivalent balance itself.
type CashFlowCategory string

const (
	CashFlowOperating CashFlowCategory = "OPERATING"
	CashFlowInvesting CashFlowCategory = "INVESTING"
	CashFlowFinancing CashFlowCategory = "FINANCING"
	CashFlowCash      CashFlowCategory = "CASH"
)

// Account is a node in a company's chart of accounts.
type Account struct {
	ID        string      `json:"id"`
	CompanyID string      `json:"company_id" validate:"required"`
	ParentID  string      `json:"parent_id,omitempty"`
	Number    string      `json:"number" validate:"required"`
	Name      string      `json:"name" validate:"required"`
	Type      AccountType `json:"type" validate:"required"`
	Currency  CurrencyCode `json:"currency"`

	Postable       bool `json:"postable"`
	RetainedEarnings bool `json:"retained_earnings"`
	Intercompany   bool `json:"intercompany"`

	// IsCashFlowRelevant tags an account for inclusion in cash flow
	// statement construction; CashFlowCategory says which section its
	// balance changes land in, with CashFlowCash marking the cash/cash
	// equivalent balance the statement reconciles to.
	IsCashFlowRelevant bool             `json:"is_cash_flow_relevant"`
	CashFlowCategory   CashFlowCategory `json:"cash_flow_category,omitempty"`

	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// AccountRepository manages the chart of accounts for every company.
type AccountRepository struct {
	storage   *Storage
	validator *Validator
}

// NewAccountRepository wires an account repository against storage.
func NewAccountRepository(storage *Storage, validator *Validator) *AccountRepository {
	return &AccountRepository{storage: storage, validator: validator}
}

// CreateAccountInput is the set of fields a caller supplies; derived fields
// (ID, Active, CreatedAt) are filled in by CreateAccount.
type CreateAccountInput struct {
	CompanyID        string
	ParentID         string
	Number           string
	Name             string
	Type             AccountType
	Currency         CurrencyCode
	Postable         bool
	RetainedEarnings bool
	Intercompany     bool
	IsCashFlowRelevant bool
	CashFlowCategory   CashFlowCategory
}

// CreateAccount validates and persists a new account node.
func (r *AccountRepository) CreateAccount(input CreateAccountInput) (*Account, error) {
	acct := &Account{
		ID:               uuid.New().String(),
		CompanyID:        input.CompanyID,
		ParentID:         input.ParentID,
		Number:           input.Number,
		Name:             input.Name,
		Type:             input.Type,
		Currency:         input.Currency,
		Postable:         input.Postable,
		RetainedEarnings: input.RetainedEarnings,
		Intercompany:     input.Intercompany,
		IsCashFlowRelevant: input.IsCashFlowRelevant,
		CashFlowCategory:   input.CashFlowCategory,
		Active:           true,
		CreatedAt:        time.Now(),
	}

	if err := r.validator.Validate(acct); err != nil {
		return nil, err
	}

	existing, err := r.storage.GetAccountsByCompany(acct.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing accounts: %w", err)
	}
	for _, other := range existing {
		if other.Number == acct.Number {
			return nil, newDomainErr(ErrDuplicateAccountNumber, fmt.Sprintf("account number %s already in use", acct.Number))
		}
		if acct.RetainedEarnings && acct.Type == Equity && other.RetainedEarnings && other.Type == Equity {
			return nil, newDomainErr(ErrValidation, fmt.Sprintf("company already has a retained earnings account: %s", other.Number))
		}
	}

	if acct.ParentID != "" {
		if err := r.validateParentage(acct, existing); err != nil {
			return nil, err
		}
	}

	if err := r.storage.SaveAccount(acct); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}
	return acct, nil
}

// validateParentage walks the ancestor chain, rejecting cycles and chains
// deeper than maxAccountDepth.
func (r *AccountRepository) validateParentage(acct *Account, siblings []*Account) error {
	byID := make(map[string]*Account, len(siblings))
	for _, a := range siblings {
		byID[a.ID] = a
	}

	seen := map[string]bool{acct.ID: true}
	depth := 1
	currentParentID := acct.ParentID
	for currentParentID != "" {
		if seen[currentParentID] {
			return newDomainErr(ErrAccountCycle, fmt.Sprintf("account %s would create a cycle through %s", acct.Number, currentParentID))
		}
		parent, ok := byID[currentParentID]
		if !ok {
			return newDomainErr(ErrNotFound, fmt.Sprintf("parent account %s not found", currentParentID))
		}
		seen[currentParentID] = true
		depth++
		if depth > maxAccountDepth {
			return newDomainErr(ErrAccountDepthExceeded, fmt.Sprintf("account hierarchy exceeds %d levels", maxAccountDepth))
		}
		currentParentID = parent.ParentID
	}
	return nil
}

// Deactivate marks an account inactive. An account with active children
// cannot be deactivated, since that would orphan postable descendants.
func (r *AccountRepository) Deactivate(accountID string) error {
	acct, err := r.storage.GetAccount(accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if !acct.Active {
		return nil
	}

	siblings, err := r.storage.GetAccountsByCompany(acct.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, other := range siblings {
		if other.ParentID == acct.ID && other.Active {
			return newDomainErr(ErrHasActiveChildAccounts, fmt.Sprintf("account %s has active child %s", acct.Number, other.Number))
		}
	}

	now := time.Now()
	acct.Active = false
	acct.DeactivatedAt = &now
	return r.storage.SaveAccount(acct)
}

// NormalBalanceMultiplier returns +1 when a debit/credit of entrySide
// increases the account's balance, -1 when it decreases it, following
// standard GAAP normal-balance-side rules.
func NormalBalanceMultiplier(accountType AccountType, entrySide EntrySide) int {
	switch accountType {
	case Asset, Expense:
		if entrySide == Debit {
			return 1
		}
		return -1
	case Liability, Equity, Income:
		if entrySide == Credit {
			return 1
		}
		return -1
	default:
		return 0
	}
}

// SeedTemplate returns the starter accounts for a named template. Callers
// pass the result to CreateAccount one at a time so numbering collisions
// and hierarchy rules are enforced identically to manually created charts.
func SeedTemplate(template AccountTemplate, companyID string, currency CurrencyCode) []CreateAccountInput {
	base := []CreateAccountInput{
		{CompanyID: companyID, Number: "1000", Name: "Assets", Type: Asset, Currency: currency},
		{CompanyID: companyID, Number: "2000", Name: "Liabilities", Type: Liability, Currency: currency},
		{CompanyID: companyID, Number: "3000", Name: "Equity", Type: Equity, Currency: currency},
		{CompanyID: companyID, Number: "3900", Name: "Retained Earnings", Type: Equity, Currency: currency, Postable: true, RetainedEarnings: true},
		{CompanyID: companyID, Number: "4000", Name: "Revenue", Type: Income, Currency: currency},
		{CompanyID: companyID, Number: "5000", Name: "Expenses", Type: Expense, Currency: currency},
	}
	switch template {
	case TemplateManufacturing:
		base = append(base,
			CreateAccountInput{CompanyID: companyID, Number: "1300", Name: "Raw Materials Inventory", Type: Asset, Currency: currency, Postable: true},
			CreateAccountInput{CompanyID: companyID, Number: "1310", Name: "Work In Process", Type: Asset, Currency: currency, Postable: true},
			CreateAccountInput{CompanyID: companyID, Number: "5100", Name: "Cost of Goods Sold", Type: Expense, Currency: currency, Postable: true},
		)
	case TemplateServiceBusiness:
		base = append(base,
			CreateAccountInput{CompanyID: companyID, Number: "4100", Name: "Service Revenue", Type: Income, Currency: currency, Postable: true},
			CreateAccountInput{CompanyID: companyID, Number: "5200", Name: "Contractor Expense", Type: Expense, Currency: currency, Postable: true},
		)
	case TemplateHoldingCompany:
		base = append(base,
			CreateAccountInput{CompanyID: companyID, Number: "1500", Name: "Investment In Subsidiaries", Type: Asset, Currency: currency, Postable: true, Intercompany: true},
			CreateAccountInput{CompanyID: companyID, Number: "4900", Name: "Equity In Earnings Of Subsidiaries", Type: Income, Currency: currency, Postable: true, Intercompany: true},
		)
	}
	return base
}
