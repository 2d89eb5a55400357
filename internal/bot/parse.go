package bot

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// Explicit token prefixes carried by interactive button payloads. They always
// override free-text matching.
const (
	prefixCategory = "cat_"
	prefixItem     = "item_"
	prefixBranch   = "branch_"
	prefixQty      = "qty_"
	prefixPay      = "pay_"
	prefixRemove   = "remove_item_"
)

// ButtonViewOrder is the quick-reply id on notify templates; the click
// retrieves the parked payload instead of entering the state machine.
const ButtonViewOrder = "view_order"

type inputKind int

const (
	inputText inputKind = iota
	inputCategory
	inputItem
	inputBranch
	inputQty
	inputPay
	inputRemove
)

type input struct {
	kind inputKind
	id   string
	qty  int
	pay  model.PaymentMethod
	text string // normalized free text, set for inputText
}

// arabicDigits folds Arabic-Indic numerals so "٣" parses like "3".
var arabicDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(arabicDigits.Replace(s)))
}

// parseInput classifies one inbound body or button payload. Prefixed tokens
// win; everything else is free text.
func parseInput(body string) input {
	raw := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(raw, prefixCategory):
		return input{kind: inputCategory, id: strings.TrimPrefix(raw, prefixCategory)}
	case strings.HasPrefix(raw, prefixItem):
		return input{kind: inputItem, id: strings.TrimPrefix(raw, prefixItem)}
	case strings.HasPrefix(raw, prefixBranch):
		return input{kind: inputBranch, id: strings.TrimPrefix(raw, prefixBranch)}
	case strings.HasPrefix(raw, prefixRemove):
		return input{kind: inputRemove, id: strings.TrimPrefix(raw, prefixRemove)}
	case strings.HasPrefix(raw, prefixQty):
		n, err := strconv.Atoi(normalize(strings.TrimPrefix(raw, prefixQty)))
		if err != nil {
			return input{kind: inputText, text: normalize(raw)}
		}
		return input{kind: inputQty, qty: n}
	case strings.HasPrefix(raw, prefixPay):
		switch strings.TrimPrefix(raw, prefixPay) {
		case "online":
			return input{kind: inputPay, pay: model.PayOnline}
		case "cash":
			return input{kind: inputPay, pay: model.PayCash}
		}
	}
	return input{kind: inputText, text: normalize(raw)}
}

// Free-text intent tables. Matching is on the normalized form.

func isDeliveryIntent(text string) bool {
	return text == "1" || containsAny(text, "توصيل", "delivery")
}

func isPickupIntent(text string) bool {
	return text == "2" || containsAny(text, "استلام", "فرع", "pickup", "takeaway")
}

func isAddIntent(text string) bool {
	return containsAny(text, "اضافة", "إضافة", "اضف", "add", "menu", "قائمة")
}

func isViewIntent(text string) bool {
	return containsAny(text, "عرض", "سلة", "view", "cart")
}

func isRemoveIntent(text string) bool {
	return containsAny(text, "حذف", "ازالة", "إزالة", "remove")
}

func isCheckoutIntent(text string) bool {
	return containsAny(text, "الدفع", "دفع", "اتمام", "إتمام", "checkout", "confirm")
}

func isNewOrderIntent(text string) bool {
	return text == "new_order" || containsAny(text, "طلب جديد", "new order")
}

func isTrackIntent(text string) bool {
	return containsAny(text, "وين طلبي", "اين طلبي", "أين طلبي", "حالة الطلب", "track")
}

func parsePayment(text string) (model.PaymentMethod, bool) {
	switch {
	case text == "1" || containsAny(text, "الكتروني", "إلكتروني", "اونلاين", "أونلاين", "online"):
		return model.PayOnline, true
	case text == "2" || containsAny(text, "كاش", "نقد", "cash"):
		return model.PayCash, true
	}
	return "", false
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// coordsRe matches "lat, lng" pairs in free text, the fallback when the
// client does not send a native location message.
var coordsRe = regexp.MustCompile(`(-?\d{1,3}(?:\.\d+)?)\s*[, ]\s*(-?\d{1,3}(?:\.\d+)?)`)

func parseCoords(text string) (lat, lng float64, ok bool) {
	m := coordsRe.FindStringSubmatch(arabicDigits.Replace(text))
	if m == nil {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

// parseIndex reads a 1-based list selection from free text.
func parseIndex(text string, max int) (int, bool) {
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n, true
}
