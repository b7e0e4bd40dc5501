package reconcile

import (
	"strconv"
	"strings"
)

// DraftItem is a line item under edit. Amount stays free text so partial
// or momentarily invalid input survives between edits.
type DraftItem struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// Draft is the editable staging form of a sanitized Result. Unlike
// Sanitize, the draft is forgiving: amount text that does not parse
// counts as zero instead of being rejected.
type Draft struct {
	Category string      `json:"category"`
	Items    []DraftItem `json:"items"`
}

// NewDraft builds a draft mirror of a sanitized result.
func NewDraft(result *Result) *Draft {
	items := make([]DraftItem, len(result.Items))
	for i, item := range result.Items {
		items[i] = DraftItem{
			Description: item.Description,
			Amount:      strconv.FormatFloat(item.Amount, 'f', 2, 64),
		}
	}
	return &Draft{
		Category: result.Category,
		Items:    items,
	}
}

// SetDescription replaces the description of the item at index i.
// Out-of-range indexes are ignored.
func (d *Draft) SetDescription(i int, description string) {
	if i < 0 || i >= len(d.Items) {
		return
	}
	d.Items[i].Description = description
}

// SetAmountText replaces the amount text of the item at index i.
// Out-of-range indexes are ignored.
func (d *Draft) SetAmountText(i int, amount string) {
	if i < 0 || i >= len(d.Items) {
		return
	}
	d.Items[i].Amount = amount
}

// AddItem appends a blank item.
func (d *Draft) AddItem() {
	d.Items = append(d.Items, DraftItem{Description: "", Amount: "0.00"})
}

// RemoveItem removes the item at index i. Reports whether an item was
// removed.
func (d *Draft) RemoveItem(i int) bool {
	if i < 0 || i >= len(d.Items) {
		return false
	}
	d.Items = append(d.Items[:i], d.Items[i+1:]...)
	return true
}

// SetCategory replaces the free-text category.
func (d *Draft) SetCategory(category string) {
	d.Category = category
}

// Total re-derives the total from the current amount texts, rounded to
// 2 decimals. Unparsable text counts as zero.
func (d *Draft) Total() float64 {
	var total float64
	for _, item := range d.Items {
		total += round2(d.itemAmount(item))
	}
	return round2(total)
}

// SumTrace renders the item amounts as a completed addition trace, the
// form the calculator shows after a scan commit.
func (d *Draft) SumTrace() string {
	parts := make([]string, len(d.Items))
	for i, item := range d.Items {
		parts[i] = strconv.FormatFloat(round2(d.itemAmount(item)), 'f', 2, 64)
	}
	return strings.Join(parts, " + ") + " ="
}

// Result converts the draft back into a committed Result, re-parsing
// every amount text under the draft's forgiving rule.
func (d *Draft) Result() *Result {
	items := make([]Item, len(d.Items))
	for i, item := range d.Items {
		items[i] = Item{
			Description: item.Description,
			Amount:      round2(d.itemAmount(item)),
		}
	}
	return &Result{
		Total:    d.Total(),
		Category: d.Category,
		Items:    items,
	}
}

func (d *Draft) itemAmount(item DraftItem) float64 {
	v, ok := parseAmountText(item.Amount)
	if !ok {
		return 0
	}
	return v
}
