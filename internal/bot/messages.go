package bot

import (
	"fmt"
	"strings"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// User-facing message catalog. Everything the customer sees comes from here;
// raw provider or persistence errors never leak through.

const (
	msgWelcome = "أهلاً بك %s في %s! 🌟\nكيف تحب استلام طلبك؟\n\n1️⃣ توصيل 🛵\n2️⃣ استلام من الفرع 🏪"

	msgAskLocation = "من فضلك شارك موقعك الحالي 📍 لنحدد عنوان التوصيل، أو اكتب الإحداثيات (مثال: 24.7136, 46.6753)"

	msgAskBranch = "اختر الفرع الأقرب إليك بالرد برقم الفرع:\n\n%s"

	msgCategories = "تفضل قائمتنا 📋 اختر القسم بالرد برقمه أو اسمه:\n\n%s"

	msgItems = "أصناف %s 🍽️ اختر الصنف بالرد برقمه أو اسمه:\n\n%s"

	msgAskQuantity = "كم الكمية المطلوبة من %s؟ (من 1 إلى %d)"

	msgItemAdded = "تمت إضافة %d × %s إلى سلتك ✅\n\nماذا تريد الآن؟\n• \"اضافة\" لإضافة صنف آخر\n• \"عرض\" لعرض السلة\n• \"حذف\" لحذف صنف\n• \"الدفع\" لإتمام الطلب"

	msgCartSummary = "سلتك الحالية 🛒:\n\n%s\nالإجمالي: %s"

	msgCartEmpty = "سلتك فارغة حالياً. اكتب \"اضافة\" لاختيار أصناف من القائمة."

	msgAskRemoval = "أي صنف تريد حذفه؟ رد برقم الصنف أو اسمه:\n\n%s"

	msgItemRemoved = "تم حذف %s من سلتك ✅"

	msgCheckoutSummary = "ملخص طلبك 📝:\n\n%s\nالإجمالي: %s\n%s\n\nكيف تحب الدفع؟\n1️⃣ دفع إلكتروني 💳\n2️⃣ كاش عند الاستلام 💵"

	msgOrderConfirmed = "تم استلام طلبك بنجاح 🎉\nرقم الطلب: %s\nسنوافيك بتحديثات حالة الطلب أولاً بأول."

	msgTracking = "حالة طلبك رقم %s: %s"

	msgNoOrders = "لا يوجد لديك طلبات حالية. اكتب \"طلب جديد\" لبدء طلب."

	msgInvalidQuantity = "الكمية غير صحيحة 😅 من فضلك أدخل رقماً من 1 إلى %d."

	msgInvalidChoice = "لم أفهم اختيارك 🙏 من فضلك اختر من الخيارات المعروضة."

	msgCachedGone = "تفاصيل الطلب لم تعد متاحة. تواصل مع خدمة العملاء للمساعدة 🙏"

	msgThanks = "شكراً لك! 🌹 اكتب \"طلب جديد\" إذا رغبت بطلب آخر، أو \"وين طلبي\" لمتابعة طلبك."
)

// submitErrorMessages maps structured submission failures to the catalog.
var submitErrorMessages = map[model.ErrorCode]string{
	model.CodeNoBranchSelected:      "من فضلك اختر الفرع أولاً قبل إتمام الطلب 🏪",
	model.CodeMissingPaymentMethod:  "من فضلك اختر طريقة الدفع لإتمام الطلب 💳",
	model.CodeInvalidItems:          "سلتك فارغة أو تحتوي أصنافاً غير متاحة. راجع سلتك ثم أعد المحاولة 🛒",
	model.CodeAPIError:              "تعذر إرسال طلبك حالياً، حاول مرة أخرى بعد قليل 🙏",
	model.CodeConfigMissing:         "هناك مشكلة مؤقتة في الخدمة، حاول مرة أخرى لاحقاً 🙏",
	model.CodeMerchantNotConfigured: "هناك مشكلة مؤقتة في الخدمة، حاول مرة أخرى لاحقاً 🙏",
	model.CodeCustomerInfoMissing:   "نحتاج عنوان التوصيل لإتمام الطلب، شارك موقعك من فضلك 📍",
}

// orderStatusNames translates lifecycle statuses for tracking replies.
var orderStatusNames = map[model.OrderStatus]string{
	model.OrderDraft:          "قيد التجهيز في السلة",
	model.OrderConfirmed:      "تم تأكيد الطلب ✅",
	model.OrderPreparing:      "جاري تحضير طلبك 👨‍🍳",
	model.OrderOutForDelivery: "طلبك في الطريق إليك 🛵",
	model.OrderDelivered:      "تم توصيل الطلب ✅",
	model.OrderRated:          "تم تقييم الطلب 🌟",
	model.OrderCancelled:      "تم إلغاء الطلب ❌",
}

func submitErrorMessage(code model.ErrorCode) string {
	if msg, ok := submitErrorMessages[code]; ok {
		return msg
	}
	return submitErrorMessages[model.CodeAPIError]
}

func formatMoney(minor int64, currency string) string {
	if currency == "" {
		currency = "SAR"
	}
	return fmt.Sprintf("%.2f %s", float64(minor)/100, currency)
}

func formatCart(o *model.Order) string {
	var b strings.Builder
	n := 0
	for _, it := range o.Items {
		if it.Quantity == 0 {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s × %d — %s\n", n, it.Name, it.Quantity,
			formatMoney(it.UnitPrice*int64(it.Quantity), o.Currency))
	}
	return b.String()
}

func formatBranches(branches []model.Branch) string {
	var b strings.Builder
	for i, br := range branches {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, br.Name, br.Address)
	}
	return b.String()
}

func formatCategories(cats []Category) string {
	var b strings.Builder
	for i, c := range cats {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
	}
	return b.String()
}

func formatItems(items []Item, currency string) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, it.Name, formatMoney(it.Price, currency))
	}
	return b.String()
}

func formatDestination(o *model.Order) string {
	if o.Type == model.OrderDelivery && o.Address != nil {
		return "التوصيل إلى: " + o.Address.Address
	}
	if o.Branch != nil {
		return "الاستلام من فرع: " + o.Branch.Name
	}
	return ""
}
