package order

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// MenuItem is one orderable entry of a tenant's configured menu.
type MenuItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Keywords []string        `json:"keywords,omitempty"`
}

// Menu is the parsed tenant menu blob. A missing or malformed blob parses to
// an empty menu that allows off-menu items, so extraction degrades gracefully
// instead of crashing the pipeline.
type Menu struct {
	Currency     string     `json:"currency"`
	AllowOffMenu bool       `json:"allow_off_menu"`
	Items        []MenuItem `json:"items"`
}

// ParseMenu decodes a tenant menu blob with defaults for absent fields.
func ParseMenu(blob string) Menu {
	m := Menu{Currency: "EUR", AllowOffMenu: true}
	if blob == "" {
		return m
	}
	var parsed Menu
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		return m
	}
	if parsed.Currency == "" {
		parsed.Currency = "EUR"
	}
	return parsed
}

// PaymentSettings is the parsed tenant payment blob.
type PaymentSettings struct {
	// RequiredDefault gates orders behind payment unless overridden.
	RequiredDefault bool `json:"required_default"`
	// AllowOverride permits a per-order override of RequiredDefault.
	AllowOverride bool `json:"allow_override"`
	Currency      string `json:"currency"`
}

// ParsePaymentSettings decodes a tenant payment blob with defaults.
func ParsePaymentSettings(blob string) PaymentSettings {
	p := PaymentSettings{Currency: "EUR"}
	if blob == "" {
		return p
	}
	var parsed PaymentSettings
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		return p
	}
	if parsed.Currency == "" {
		parsed.Currency = "EUR"
	}
	return parsed
}

// PaymentRequired resolves the effective payment requirement: the tenant
// default XOR a per-order override, the override honored only when the
// tenant allows it.
func (p PaymentSettings) PaymentRequired(override *bool) bool {
	if override != nil && p.AllowOverride {
		return *override
	}
	return p.RequiredDefault
}

// numeralWords maps quantity words scanned immediately before an item
// mention.
var numeralWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// offMenuFillers are words that follow an explicit quantity without naming
// anything orderable.
var offMenuFillers = map[string]bool{
	"of": true, "the": true, "more": true, "please": true, "and": true,
	"for": true, "to": true, "with": true, "minutes": true, "minute": true,
	"seconds": true, "second": true, "hours": true, "hour": true,
}

// ExtractItems scans text for menu item mentions (exact name or keyword
// match, case-insensitive) and infers quantities from the words immediately
// preceding each mention. Words carrying an explicit quantity that match no
// menu entry are treated per the menu's off-menu policy: accepted as
// unpriced line items when AllowOffMenu is set, otherwise returned as
// rejected names so the caller can tell the customer what is unavailable.
func ExtractItems(text string, menu Menu) (items []domain.OrderItem, rejected []string) {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	covered := make([]bool, len(words))
	for _, mi := range menu.Items {
		terms := append([]string{strings.ToLower(mi.Name)}, lowerAll(mi.Keywords)...)
		pos, span := -1, 0
		for _, term := range terms {
			if p := mentionIndex(words, term); p >= 0 {
				pos, span = p, len(strings.Fields(term))
				break
			}
		}
		if pos < 0 {
			continue
		}
		for k := pos; k < pos+span; k++ {
			covered[k] = true
		}
		// The quantity words feeding this mention are spoken for too.
		for i := pos - 1; i >= 0 && i >= pos-2; i-- {
			if _, ok := anyQuantity(words[i]); ok {
				covered[i] = true
			}
		}
		items = append(items, domain.OrderItem{
			Name:      mi.Name,
			Quantity:  quantityBefore(words, pos),
			UnitPrice: mi.Price,
		})
	}

	for i := 0; i+1 < len(words); i++ {
		if covered[i] {
			continue
		}
		qty, ok := offMenuQuantity(words[i])
		if !ok {
			continue
		}
		next := words[i+1]
		if covered[i+1] || offMenuFillers[next] {
			continue
		}
		if _, isQty := anyQuantity(next); isQty {
			continue
		}
		name := strings.TrimSuffix(next, "s")
		if name == "" {
			continue
		}
		covered[i+1] = true
		if menu.AllowOffMenu {
			items = append(items, domain.OrderItem{Name: name, Quantity: qty})
		} else {
			rejected = append(rejected, name)
		}
	}
	return items, rejected
}

// anyQuantity reads w as a quantity token, articles included.
func anyQuantity(w string) (int, bool) {
	if n, err := strconv.Atoi(w); err == nil && n > 0 && n < 100 {
		return n, true
	}
	if n, ok := numeralWords[w]; ok {
		return n, true
	}
	return 0, false
}

// offMenuQuantity is anyQuantity minus the articles: "a sec" or "an hour"
// must not read as an off-menu order.
func offMenuQuantity(w string) (int, bool) {
	if w == "a" || w == "an" {
		return 0, false
	}
	return anyQuantity(w)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// mentionIndex finds the word index where term (possibly multi-word) starts,
// tolerating a plural "s" on the final word. Returns -1 when absent.
func mentionIndex(words []string, term string) int {
	parts := strings.Fields(term)
	if len(parts) == 0 {
		return -1
	}
	for i := 0; i+len(parts) <= len(words); i++ {
		match := true
		for j, p := range parts {
			w := words[i+j]
			if w != p && w != p+"s" {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// quantityBefore reads the quantity from the words immediately preceding the
// mention: a digit token or a numeral word. Defaults to 1.
func quantityBefore(words []string, pos int) int {
	for i := pos - 1; i >= 0 && i >= pos-2; i-- {
		w := words[i]
		if n, err := strconv.Atoi(w); err == nil && n > 0 && n < 100 {
			return n
		}
		if n, ok := numeralWords[w]; ok {
			return n
		}
	}
	return 1
}

// Total sums quantity * unit price over the line items.
func Total(items []domain.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}
