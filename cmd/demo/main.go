package main

import (
	"fmt"
	"log"
	"os"
	"time"

	accounting "ledgerconsolidation"

	"github.com/shopspring/decimal"
)

func main() {
	fmt.Println("General Ledger & Consolidation Demo")
	fmt.Println("====================================")

	if os.Getenv("LEDGER_DB_PATH") == "" {
		os.Setenv("LEDGER_DB_PATH", "demo_ledger.db")
	}
	cfg, err := accounting.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	dbFile := cfg.DatabasePath
	os.Remove(dbFile)

	engine, err := accounting.NewEngine(dbFile, decimal.NewFromFloat(1.00))
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()
	defer os.Remove(dbFile)

	userID := "demo_user"
	controllerID := "demo_controller"

	fmt.Println("\nStep 1: Organization, companies, and chart of accounts")
	org, err := engine.Fiscal.CreateOrganization("Acme Holdings")
	if err != nil {
		log.Fatalf("failed to create organization: %v", err)
	}

	parent, err := engine.Fiscal.CreateCompany(org.ID, "Acme US", "USD")
	if err != nil {
		log.Fatalf("failed to create parent company: %v", err)
	}
	sub, err := engine.Fiscal.CreateCompany(org.ID, "Acme EU", "EUR")
	if err != nil {
		log.Fatalf("failed to create subsidiary: %v", err)
	}

	parentAccounts, err := seedCompanyAccounts(engine, parent.ID, "USD")
	if err != nil {
		log.Fatalf("failed to seed parent accounts: %v", err)
	}
	subAccounts, err := seedCompanyAccounts(engine, sub.ID, "EUR")
	if err != nil {
		log.Fatalf("failed to seed subsidiary accounts: %v", err)
	}
	fmt.Printf("  created %d accounts for %s, %d accounts for %s\n", len(parentAccounts), parent.Name, len(subAccounts), sub.Name)

	// A USD-denominated intercompany payable on the subsidiary's books,
	// independent of its EUR functional currency, and a matching USD
	// cash account to receive the advance.
	subICPayable, err := engine.Accounts.CreateAccount(accounting.CreateAccountInput{
		CompanyID: sub.ID, Number: "2900", Name: "Intercompany Payable", Type: accounting.Liability,
		Currency: "USD", Postable: true, Intercompany: true,
	})
	if err != nil {
		log.Fatalf("failed to create intercompany payable: %v", err)
	}
	subCashUSD, err := engine.Accounts.CreateAccount(accounting.CreateAccountInput{
		CompanyID: sub.ID, Number: "1020", Name: "Cash - USD", Type: accounting.Asset,
		Currency: "USD", Postable: true,
	})
	if err != nil {
		log.Fatalf("failed to create subsidiary USD cash account: %v", err)
	}
	parentICReceivable, err := engine.Accounts.CreateAccount(accounting.CreateAccountInput{
		CompanyID: parent.ID, Number: "1900", Name: "Intercompany Receivable", Type: accounting.Asset,
		Currency: "USD", Postable: true, Intercompany: true,
	})
	if err != nil {
		log.Fatalf("failed to create intercompany receivable: %v", err)
	}

	fmt.Println("\nStep 2: Fiscal calendars")
	// One wide fiscal year covers every date this demo posts to. The
	// reversal below keeps the original entry's own date, since that
	// entry's period is still open when it is reversed.
	yearStart := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	yearEnd := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)

	parentFY, parentPeriods, err := engine.Fiscal.CreateFiscalYear(parent.ID, "FY2020-2030", yearStart, yearEnd, 12)
	if err != nil {
		log.Fatalf("failed to create parent fiscal year: %v", err)
	}
	subFY, subPeriods, err := engine.Fiscal.CreateFiscalYear(sub.ID, "FY2020-2030", yearStart, yearEnd, 12)
	if err != nil {
		log.Fatalf("failed to create subsidiary fiscal year: %v", err)
	}
	fmt.Printf("  %s: %d periods, %s: %d periods\n", parentFY.Label, len(parentPeriods), subFY.Label, len(subPeriods))

	txnDate := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	fmt.Println("\nStep 3: Posting journal entries")
	parentCash := mustFind(parentAccounts, "1010")
	parentRevenue := mustFind(parentAccounts, "4100")
	subCash := mustFind(subAccounts, "1010")
	subExpense := mustFind(subAccounts, "5200")

	saleAmount, _ := accounting.NewMoney("50000.00", "USD")
	saleEntry, err := postEntry(engine, parent.ID, txnDate, "Consulting revenue - January", []accounting.JournalEntryLine{
		{AccountID: parentCash.ID, Side: accounting.Debit, Amount: saleAmount},
		{AccountID: parentRevenue.ID, Side: accounting.Credit, Amount: saleAmount},
	}, userID, controllerID)
	if err != nil {
		log.Fatalf("failed to post sale entry: %v", err)
	}
	fmt.Printf("  posted entry #%d for %s: %s\n", saleEntry.EntryNumber, parent.Name, saleAmount)

	expenseAmount, _ := accounting.NewMoney("5000.00", "EUR")
	expenseEntry, err := postEntry(engine, sub.ID, txnDate, "Contractor payment", []accounting.JournalEntryLine{
		{AccountID: subExpense.ID, Side: accounting.Debit, Amount: expenseAmount},
		{AccountID: subCash.ID, Side: accounting.Credit, Amount: expenseAmount},
	}, userID, controllerID)
	if err != nil {
		log.Fatalf("failed to post expense entry: %v", err)
	}
	fmt.Printf("  posted entry #%d for %s: %s\n", expenseEntry.EntryNumber, sub.Name, expenseAmount)

	advanceAmount, _ := accounting.NewMoney("8000.00", "USD")
	parentAdvance, err := postEntry(engine, parent.ID, txnDate, "Funding advance to EU subsidiary", []accounting.JournalEntryLine{
		{AccountID: parentICReceivable.ID, Side: accounting.Debit, Amount: advanceAmount},
		{AccountID: parentCash.ID, Side: accounting.Credit, Amount: advanceAmount},
	}, userID, controllerID)
	if err != nil {
		log.Fatalf("failed to post parent intercompany advance: %v", err)
	}
	subAdvance, err := postEntry(engine, sub.ID, txnDate, "Funding advance from US parent", []accounting.JournalEntryLine{
		{AccountID: subCashUSD.ID, Side: accounting.Debit, Amount: advanceAmount},
		{AccountID: subICPayable.ID, Side: accounting.Credit, Amount: advanceAmount},
	}, userID, controllerID)
	if err != nil {
		log.Fatalf("failed to post subsidiary intercompany advance: %v", err)
	}
	fmt.Println("  posted matching intercompany advance entries")

	fmt.Println("\nStep 4: Reversing a mis-posted entry")
	badAmount, _ := accounting.NewMoney("250.00", "USD")
	badEntry, err := postEntry(engine, parent.ID, txnDate, "Office supplies (posted in error)", []accounting.JournalEntryLine{
		{AccountID: mustFind(parentAccounts, "5200").ID, Side: accounting.Debit, Amount: badAmount},
		{AccountID: parentCash.ID, Side: accounting.Credit, Amount: badAmount},
	}, userID, controllerID)
	if err != nil {
		log.Fatalf("failed to post entry to reverse: %v", err)
	}
	reversal, err := engine.Journal.Reverse(badEntry.ID, controllerID, "posted to the wrong company")
	if err != nil {
		log.Fatalf("failed to reverse entry: %v", err)
	}
	fmt.Printf("  entry #%d reversed by entry #%d\n", badEntry.EntryNumber, reversal.EntryNumber)

	fmt.Println("\nStep 5: Consolidation group and intercompany matching")
	group, err := engine.Consolidation.CreateGroup(&accounting.ConsolidationGroup{
		OrganizationID: org.ID, Name: "Acme Consolidated Group", ParentCompanyID: parent.ID, ReportingCurrency: "USD",
		Members: []accounting.GroupMember{{CompanyID: sub.ID, OwnershipPercent: decimal.NewFromFloat(0.80)}},
	})
	if err != nil {
		log.Fatalf("failed to create consolidation group: %v", err)
	}
	if _, err := engine.Consolidation.CreateEliminationRule(&accounting.EliminationRule{
		GroupID: group.ID, Name: "Intercompany advance", SourceAccountID: parentICReceivable.ID, TargetAccountID: subICPayable.ID,
	}); err != nil {
		log.Fatalf("failed to create elimination rule: %v", err)
	}

	if _, err := engine.Intercompany.RecordTransaction(&accounting.IntercompanyTransaction{
		GroupID: group.ID, CompanyID: parent.ID, CounterpartyCompanyID: sub.ID,
		JournalEntryLineID: parentAdvance.Lines[0].ID, Amount: advanceAmount,
	}); err != nil {
		log.Fatalf("failed to record parent intercompany leg: %v", err)
	}
	subLeg := advanceAmount.Neg()
	if _, err := engine.Intercompany.RecordTransaction(&accounting.IntercompanyTransaction{
		GroupID: group.ID, CompanyID: sub.ID, CounterpartyCompanyID: parent.ID,
		JournalEntryLineID: subAdvance.Lines[1].ID, Amount: subLeg,
	}); err != nil {
		log.Fatalf("failed to record subsidiary intercompany leg: %v", err)
	}

	fmt.Println("\nStep 6: Exchange rates for translation")
	rates := []*accounting.ExchangeRate{
		{FromCurrency: "EUR", ToCurrency: "USD", Rate: decimal.NewFromFloat(1.08), RateType: accounting.RatePeriodAverage, EffectiveAt: txnDate},
		{FromCurrency: "EUR", ToCurrency: "USD", Rate: decimal.NewFromFloat(1.09), RateType: accounting.RatePeriodClosing, EffectiveAt: txnDate},
		{FromCurrency: "EUR", ToCurrency: "USD", Rate: decimal.NewFromFloat(1.10), RateType: accounting.RateHistorical, EffectiveAt: txnDate},
	}
	if err := engine.FxRates.BulkCreateRates(rates); err != nil {
		log.Fatalf("failed to load exchange rates: %v", err)
	}

	fmt.Println("\nStep 7: Closing the transaction-date period for both companies")
	parentPeriod, err := engine.Fiscal.ResolvePeriodForDate(parentFY.ID, txnDate)
	if err != nil {
		log.Fatalf("failed to resolve parent period: %v", err)
	}
	subPeriod, err := engine.Fiscal.ResolvePeriodForDate(subFY.ID, txnDate)
	if err != nil {
		log.Fatalf("failed to resolve subsidiary period: %v", err)
	}
	if err := engine.Fiscal.ClosePeriod(parentPeriod.ID); err != nil {
		log.Fatalf("failed to close parent period: %v", err)
	}
	if err := engine.Fiscal.ClosePeriod(subPeriod.ID); err != nil {
		log.Fatalf("failed to close subsidiary period: %v", err)
	}
	fmt.Printf("  closed period %d for %s and %s\n", parentPeriod.Number, parent.Name, sub.Name)

	fmt.Println("\nStep 8: Consolidation")
	run, err := engine.Consolidation.StartRun(group.ID, txnDate)
	if err != nil {
		log.Fatalf("failed to start consolidation run: %v", err)
	}
	run, err = engine.Consolidation.Resume(run.ID)
	if err != nil {
		log.Fatalf("consolidation run failed: %v", err)
	}
	fmt.Printf("  run %s completed with status %s, %d lines in the consolidated trial balance\n", run.ID, run.Status, len(run.TrialBalance.Lines))

	fmt.Println("\nStep 9: Financial statements")
	parentTB, err := engine.Reporting.TrialBalance(parent.ID, txnDate)
	if err != nil {
		log.Fatalf("failed to build parent trial balance: %v", err)
	}
	parentBS, err := engine.Reporting.BalanceSheetFromTB(parentTB)
	if err != nil {
		log.Fatalf("failed to build parent balance sheet: %v", err)
	}
	fmt.Printf("  %s total assets: %s\n", parent.Name, parentBS.TotalAssets)

	consolidatedTB, err := engine.Reporting.ConsolidatedTrialBalanceReport(run.ID)
	if err != nil {
		log.Fatalf("failed to build consolidated trial balance report: %v", err)
	}
	consolidatedBS, err := engine.Reporting.BalanceSheetFromTB(consolidatedTB)
	if err != nil {
		log.Fatalf("failed to build consolidated balance sheet: %v", err)
	}
	fmt.Printf("  consolidated total assets: %s\n", consolidatedBS.TotalAssets)

	fmt.Println("\nStep 10: Access control")
	if _, err := engine.Authorization.CreatePolicy(&accounting.Policy{
		OrganizationID: org.ID, Name: "Controllers may approve entries", ResourceType: "journal_entry",
		Action: "approve", Effect: accounting.Permit, Priority: 10,
		Attributes: map[string]string{"role": "controller"},
	}); err != nil {
		log.Fatalf("failed to create policy: %v", err)
	}
	err = engine.Authorization.Authorize(accounting.AccessRequest{
		OrganizationID: org.ID, ResourceType: "journal_entry", Action: "approve",
		SubjectAttrs: map[string]string{"role": "controller", "user_id": controllerID},
	})
	fmt.Printf("  controller approve request: %v\n", errOrOK(err))
	err = engine.Authorization.Authorize(accounting.AccessRequest{
		OrganizationID: org.ID, ResourceType: "journal_entry", Action: "approve",
		SubjectAttrs: map[string]string{"role": "clerk", "user_id": userID},
	})
	fmt.Printf("  clerk approve request: %v\n", errOrOK(err))

	fmt.Println("\nStep 11: Year-end close preview")
	preview, err := engine.YearEnd.PreviewClose(parentFY.ID)
	if err != nil {
		log.Fatalf("failed to preview close: %v", err)
	}
	if len(preview.Blockers) > 0 {
		fmt.Printf("  close blocked: %v\n", preview.Blockers)
	} else {
		fmt.Printf("  previewed net income for %s: %s\n", parentFY.Label, preview.NetIncome)
	}

	fmt.Println("\nStep 12: Replaying the event log against the stored snapshot")
	replayed := 0
	err = engine.EventStore.ReplayEvents(txnDate.AddDate(0, 0, -1), time.Now().AddDate(0, 0, 1), func(event *accounting.JournalEvent) error {
		replayed++
		return engine.Processor.ProcessEvent(event)
	})
	if err != nil {
		log.Fatalf("event replay disagreed with stored state: %v", err)
	}
	fmt.Printf("  replayed %d events, all consistent with the stored snapshot\n", replayed)

	fmt.Println("\nDemo complete.")
}

// seedCompanyAccounts persists the service-business starter chart for a
// company and returns the created accounts.
func seedCompanyAccounts(engine *accounting.Engine, companyID string, currency accounting.CurrencyCode) ([]*accounting.Account, error) {
	inputs := accounting.SeedTemplate(accounting.TemplateServiceBusiness, companyID, currency)
	inputs = append(inputs, accounting.CreateAccountInput{
		CompanyID: companyID, Number: "1010", Name: "Cash", Type: accounting.Asset, Currency: currency, Postable: true,
	})
	created := make([]*accounting.Account, 0, len(inputs))
	for _, in := range inputs {
		acct, err := engine.Accounts.CreateAccount(in)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", in.Number, err)
		}
		created = append(created, acct)
	}
	return created, nil
}

func mustFind(accounts []*accounting.Account, number string) *accounting.Account {
	for _, a := range accounts {
		if a.Number == number {
			return a
		}
	}
	panic("account " + number + " not found in seeded chart")
}

// postEntry drafts, submits, approves, and posts a balanced two-sided
// entry. It returns the entry as CreateDraft built it: its ID, EntryNumber
// and line IDs are final, but its Status field still reads Draft, since
// the later transitions are applied to the stored copy.
func postEntry(engine *accounting.Engine, companyID string, date time.Time, description string, lines []accounting.JournalEntryLine, preparedBy, approvedBy string) (*accounting.JournalEntry, error) {
	entry, err := engine.Journal.CreateDraft(accounting.CreateDraftInput{
		CompanyID: companyID, TransactionDate: date, Description: description, Lines: lines, PreparedBy: preparedBy,
	})
	if err != nil {
		return nil, err
	}
	if err := engine.Journal.SubmitForApproval(entry.ID); err != nil {
		return nil, err
	}
	if err := engine.Journal.Approve(entry.ID, approvedBy); err != nil {
		return nil, err
	}
	if err := engine.Journal.Post(entry.ID); err != nil {
		return nil, err
	}
	return entry, nil
}

func errOrOK(err error) string {
	if err == nil {
		return "permitted"
	}
	return err.Error()
}
