// Package expense wires the calculator engine, the scan reconciliation
// pipeline and the ledger together behind one service, and exposes them
// over HTTP.
package expense

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/pocket-ledger/internal/calculator"
	"github.com/zombor/pocket-ledger/internal/ledger"
	"github.com/zombor/pocket-ledger/internal/reconcile"
	"github.com/zombor/pocket-ledger/internal/scanning"
)

// ErrScanInFlight is returned when a scan is requested while another
// scan is outstanding or awaiting review.
var ErrScanInFlight = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned by staging operations when no scan is
// awaiting review.
var ErrNoActiveScan = errors.New("no scan is awaiting review")

// Settings slot names.
const (
	SettingTheme      = "theme"
	SettingActiveView = "active_view"
)

// IDGenerator generates unique IDs for ledger entries and stored images
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// scanSession is the staging state between a successful scan and its
// confirm or discard.
type scanSession struct {
	draft     *reconcile.Draft
	imageFile string
	imageType string
}

// ScanDraft is a snapshot of the staging state handed to callers, with
// the total re-derived from the current amount texts.
type ScanDraft struct {
	Category string                `json:"category"`
	Items    []reconcile.DraftItem `json:"items"`
	Total    float64               `json:"total"`
}

// Service owns all application state: the calculator engine, the
// current scan session and the persisted ledger. All mutation is
// serialized through one mutex; the only long-running operation, the
// vision-service call, runs outside the lock guarded by an in-flight
// flag so a second scan is rejected rather than queued.
type Service struct {
	db      ledger.DB
	scanner scanning.Scanner
	storage Storage
	idGen   IDGenerator
	timeSrc TimeSource

	mu       sync.Mutex
	engine   *calculator.Engine
	session  *scanSession
	inFlight bool
}

// NewService creates a new Service with default ID generator and time source
func NewService(db ledger.DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db ledger.DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	s := &Service{
		db:      db,
		scanner: scanner,
		storage: storage,
		idGen:   idGen,
		timeSrc: timeSrc,
	}
	s.engine = calculator.NewEngine(s)
	return s
}

// RecordResult implements calculator.Recorder: every completed equals
// becomes a manual ledger entry.
func (s *Service) RecordResult(total float64, calculation string) {
	entry := &ledger.Entry{
		ID:          s.idGen.Generate(),
		Date:        s.timeSrc.Now(),
		Total:       ledger.Round2(total),
		Type:        ledger.TypeManual,
		Calculation: calculation,
	}
	if err := s.db.AppendEntry(entry); err != nil {
		slog.Error("Failed to record calculation", "error", err)
	}
}

// Calculator returns the current engine state.
func (s *Service) Calculator() calculator.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.State()
}

// PressKey applies one keypad token to the engine and returns the new
// state. Unknown tokens are an error.
func (s *Service) PressKey(key string) (calculator.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		s.engine.InputDigit(key[0])
	case ".":
		s.engine.InputDecimal()
	case "+":
		s.engine.ApplyOperator(calculator.OpAdd)
	case "-":
		s.engine.ApplyOperator(calculator.OpSubtract)
	case "×", "*":
		s.engine.ApplyOperator(calculator.OpMultiply)
	case "÷", "/":
		s.engine.ApplyOperator(calculator.OpDivide)
	case "^":
		s.engine.ApplyOperator(calculator.OpPower)
	case "=":
		s.engine.Equals()
	case "square":
		s.engine.ApplyUnary(calculator.UnarySquare)
	case "sqrt":
		s.engine.ApplyUnary(calculator.UnarySqrt)
	case "sin":
		s.engine.ApplyUnary(calculator.UnarySin)
	case "cos":
		s.engine.ApplyUnary(calculator.UnaryCos)
	case "tan":
		s.engine.ApplyUnary(calculator.UnaryTan)
	case "log":
		s.engine.ApplyUnary(calculator.UnaryLog10)
	case "ln":
		s.engine.ApplyUnary(calculator.UnaryLn)
	case "pi", "e":
		s.engine.LoadConstant(key)
	case "sign":
		s.engine.ToggleSign()
	case "percent", "%":
		s.engine.Percent()
	case "backspace":
		s.engine.Backspace()
	case "ce":
		s.engine.ClearEntry()
	case "c":
		s.engine.ClearAll()
	default:
		return calculator.State{}, fmt.Errorf("unknown key: %q", key)
	}

	return s.engine.State(), nil
}

// sanitizeFilename cleans up a filename by removing special characters
// and truncating, so phone-generated names stay manageable on disk.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`).ReplaceAllString(base, "")
	base = regexp.MustCompile(`\s+`).ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// StartScan stores the captured image, sends it to the vision service
// and stages the sanitized result for review. Only one scan may be
// outstanding or staged at a time. On any failure the stored image is
// removed and no state changes survive.
func (s *Service) StartScan(filename string, data []byte, contentType string) (*ScanDraft, error) {
	s.mu.Lock()
	if s.inFlight || s.session != nil {
		s.mu.Unlock()
		return nil, ErrScanInFlight
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	id := s.idGen.Generate()
	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	raw, err := s.scanner.ScanReceipt(data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	result, err := reconcile.Sanitize(raw)
	if err != nil {
		s.storage.Delete(savedPath)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &scanSession{
		draft:     reconcile.NewDraft(result),
		imageFile: savedPath,
		imageType: contentType,
	}
	return s.draftSnapshot(), nil
}

// draftSnapshot renders the staged draft for callers. Caller holds mu.
func (s *Service) draftSnapshot() *ScanDraft {
	items := make([]reconcile.DraftItem, len(s.session.draft.Items))
	copy(items, s.session.draft.Items)
	return &ScanDraft{
		Category: s.session.draft.Category,
		Items:    items,
		Total:    s.session.draft.Total(),
	}
}

// ScanDraft returns the staged draft, or ErrNoActiveScan.
func (s *Service) ScanDraft() (*ScanDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoActiveScan
	}
	return s.draftSnapshot(), nil
}

// editDraft runs an edit against the staged draft and returns the
// recomputed snapshot.
func (s *Service) editDraft(edit func(*reconcile.Draft) error) (*ScanDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoActiveScan
	}
	if err := edit(s.session.draft); err != nil {
		return nil, err
	}
	return s.draftSnapshot(), nil
}

// SetScanItemDescription edits an item description in place.
func (s *Service) SetScanItemDescription(index int, description string) (*ScanDraft, error) {
	return s.editDraft(func(d *reconcile.Draft) error {
		if index < 0 || index >= len(d.Items) {
			return fmt.Errorf("item index out of range: %d", index)
		}
		d.SetDescription(index, description)
		return nil
	})
}

// SetScanItemAmount edits an item amount text in place.
func (s *Service) SetScanItemAmount(index int, amount string) (*ScanDraft, error) {
	return s.editDraft(func(d *reconcile.Draft) error {
		if index < 0 || index >= len(d.Items) {
			return fmt.Errorf("item index out of range: %d", index)
		}
		d.SetAmountText(index, amount)
		return nil
	})
}

// AddScanItem appends a blank item to the staged draft.
func (s *Service) AddScanItem() (*ScanDraft, error) {
	return s.editDraft(func(d *reconcile.Draft) error {
		d.AddItem()
		return nil
	})
}

// RemoveScanItem removes an item from the staged draft.
func (s *Service) RemoveScanItem(index int) (*ScanDraft, error) {
	return s.editDraft(func(d *reconcile.Draft) error {
		if !d.RemoveItem(index) {
			return fmt.Errorf("item index out of range: %d", index)
		}
		return nil
	})
}

// SetScanCategory edits the staged category.
func (s *Service) SetScanCategory(category string) (*ScanDraft, error) {
	return s.editDraft(func(d *reconcile.Draft) error {
		d.SetCategory(category)
		return nil
	})
}

// ConfirmScan commits the staged draft: the total is folded into the
// calculator display, the category is added to the set if new, and a
// scan entry is appended to the ledger.
func (s *Service) ConfirmScan() (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoActiveScan
	}
	draft := s.session.draft
	if len(draft.Items) == 0 {
		return nil, fmt.Errorf("at least one item is required")
	}

	total := draft.Total()
	trace := draft.SumTrace()
	category := strings.TrimSpace(draft.Category)

	if category != "" {
		if _, err := s.db.AddCategory(category); err != nil {
			return nil, fmt.Errorf("adding category: %w", err)
		}
	}

	entry := &ledger.Entry{
		ID:          s.idGen.Generate(),
		Date:        s.timeSrc.Now(),
		Total:       ledger.Round2(total),
		Type:        ledger.TypeScan,
		Calculation: trace,
		Category:    category,
		ImageFile:   s.session.imageFile,
		ImageType:   s.session.imageType,
	}
	if err := s.db.AppendEntry(entry); err != nil {
		return nil, fmt.Errorf("saving scan to ledger: %w", err)
	}

	s.engine.LoadTotal(total, trace)
	s.session = nil
	return entry, nil
}

// DiscardScan drops the staged draft, deletes the captured image and
// resets the calculator. No ledger entry is written.
func (s *Service) DiscardScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoActiveScan
	}
	if err := s.storage.Delete(s.session.imageFile); err != nil {
		slog.Warn("Failed to delete scan image", "filename", s.session.imageFile, "error", err)
	}
	s.session = nil
	s.engine.Reset()
	return nil
}

// AddExpense appends a manual expense entry. The amount is parsed under
// the same permissive rule as scan amounts and must resolve positive.
func (s *Service) AddExpense(description, amountText, category string) (*ledger.Entry, error) {
	amount, ok := reconcile.ParseAmount(amountText)
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("a positive amount is required")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("a description is required")
	}

	category = strings.TrimSpace(category)
	if category != "" {
		if _, err := s.db.AddCategory(category); err != nil {
			return nil, fmt.Errorf("adding category: %w", err)
		}
	}

	entry := &ledger.Entry{
		ID:          s.idGen.Generate(),
		Date:        s.timeSrc.Now(),
		Total:       ledger.Round2(amount),
		Type:        ledger.TypeExpense,
		Description: description,
		Category:    category,
	}
	if err := s.db.AppendEntry(entry); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return entry, nil
}

// History returns all ledger entries, newest first.
func (s *Service) History() ([]*ledger.Entry, error) {
	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// ExportHistoryCSV writes the history as CSV, oldest first.
func (s *Service) ExportHistoryCSV(w io.Writer) error {
	entries, err := s.db.ListEntries()
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	return ledger.ExportCSV(w, entries)
}

// EntryImage returns the stored receipt image for a history entry.
func (s *Service) EntryImage(id string) ([]byte, string, error) {
	entry, err := s.db.GetEntry(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting entry: %w", err)
	}
	if entry.ImageFile == "" {
		return nil, "", fmt.Errorf("entry has no image: %s", id)
	}
	data, err := s.storage.Get(entry.ImageFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting entry image: %w", err)
	}
	return data, entry.ImageType, nil
}

// Categories returns the category set, sorted ascending.
func (s *Service) Categories() ([]string, error) {
	return s.db.Categories()
}

// AddCategory adds a category to the set.
func (s *Service) AddCategory(name string) (bool, error) {
	return s.db.AddCategory(name)
}

// DeleteCategory removes a category from the set.
func (s *Service) DeleteCategory(name string) error {
	return s.db.DeleteCategory(name)
}

// RenameCategory renames a category, cascading into history entries.
func (s *Service) RenameCategory(oldName, newName string) error {
	return s.db.RenameCategory(oldName, newName)
}

// Theme returns the persisted theme, defaulting to dark.
func (s *Service) Theme() (string, error) {
	theme, err := s.db.Setting(SettingTheme)
	if err != nil {
		return "", err
	}
	if theme == "" {
		theme = "dark"
	}
	return theme, nil
}

// SetTheme persists the theme.
func (s *Service) SetTheme(theme string) error {
	if theme != "dark" && theme != "light" {
		return fmt.Errorf("invalid theme: %q", theme)
	}
	return s.db.PutSetting(SettingTheme, theme)
}

// ActiveView returns the persisted view selector.
func (s *Service) ActiveView() (string, error) {
	return s.db.Setting(SettingActiveView)
}

// SetActiveView persists the view selector.
func (s *Service) SetActiveView(view string) error {
	return s.db.PutSetting(SettingActiveView, view)
}
