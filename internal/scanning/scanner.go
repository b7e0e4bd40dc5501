// Package scanning holds the vision-service clients that turn a receipt
// photo into a raw, untrusted payload for reconciliation.
package scanning

import "github.com/zombor/pocket-ledger/internal/reconcile"

// Scanner defines the interface for receipt scanning operations. The
// returned payload is untrusted; callers must pass it through
// reconcile.Sanitize before using it.
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts line items.
	ScanReceipt(imageData []byte, contentType string) (reconcile.RawPayload, error)
	// Close closes the scanner and releases resources.
	Close() error
}

// receiptScanPrompt is the shared prompt used by all vision providers.
const receiptScanPrompt = `You are analyzing a photo of a shopping receipt. Carefully read all text in the image and extract every purchased line item.

1. **Line Items**: For each item on the receipt, extract its printed description and its price. Use the final price per line (after any line-level discount). Extract only the numeric value (e.g. 2.50 for $2.50). Do not invent items that are not on the receipt. Exclude subtotal, tax, tip and total lines.

2. **Category**: Choose one short spending category for the whole receipt based on the store and items, e.g. "Groceries", "Dining", "Transport", "Pharmacy".

Return ONLY valid JSON in this exact format:
{
  "items": [
    {"description": "Item name", "amount": 0.00}
  ],
  "category": "Category"
}

Important:
- Every amount must be a number (not a string), representing dollars and cents
- Keep item descriptions as printed on the receipt
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
