package analysis

import "regexp"

// Keyword lexicons for the lexical sentiment pass. Arabic entries cover the
// Gulf dialect spellings customers actually type, not formal MSA.
var positiveKeywords = []string{
	"thank", "thanks", "great", "perfect", "awesome", "love", "excellent",
	"amazing", "good", "nice", "helpful", "appreciate", "wonderful",
	"شكرا", "ممتاز", "رائع", "جميل", "حلو", "تمام", "يعطيك العافية",
}

var negativeKeywords = []string{
	"bad", "terrible", "awful", "horrible", "worst", "disappointed",
	"disappointing", "useless", "slow", "broken", "wrong", "refund",
	"cancel", "complaint", "annoyed", "frustrated", "angry", "unacceptable",
	"سيء", "زفت", "خايس", "مشكلة", "متأخر", "غلط", "زعلان", "مو راضي",
}

// Hostile keywords force a hostile classification and immediate escalation
// regardless of anything else in the message.
var hostileKeywords = []string{
	"scam", "scammer", "scammers", "fraud", "thief", "thieves", "steal",
	"stole", "liar", "liars", "lawsuit", "sue you", "report you", "police",
	"نصب", "نصابين", "حرامي", "حرامية", "احتيال", "سرقة", "كذابين",
}

// Phrases that mean the customer explicitly wants a person.
var humanRequestKeywords = []string{
	"human", "agent", "real person", "speak to someone", "talk to someone",
	"representative", "manager", "supervisor", "customer service",
	"موظف", "مدير", "شخص حقيقي", "خدمة العملاء", "ابغى اكلم",
}

type intentRule struct {
	intent  string
	pattern *regexp.Regexp
}

// Ordered: first match wins. More specific intents come before broad ones.
var intentRules = []intentRule{
	{"human_request", regexp.MustCompile(`(?i)\b(human|agent|real person|representative|manager|supervisor)\b|موظف|مدير|خدمة العملاء`)},
	{"complaint", regexp.MustCompile(`(?i)\b(complain|complaint|disappointed|unacceptable|terrible|worst)\b|شكوى|زعلان`)},
	{"return_refund", regexp.MustCompile(`(?i)\b(refund|return|exchange|money back)\b|استرجاع|استبدال|فلوسي`)},
	{"order_status", regexp.MustCompile(`(?i)\b(order|tracking|track|shipped|delivery status|where is my)\b|طلبي|وين وصل`)},
	{"shipping_inquiry", regexp.MustCompile(`(?i)\b(shipping|deliver|delivery|ship to|how long)\b|توصيل|شحن`)},
	{"checkout", regexp.MustCompile(`(?i)\b(checkout|pay|payment|place (the )?order)\b|ادفع|اشتري الحين`)},
	{"cart_action", regexp.MustCompile(`(?i)\b(cart|basket|add to|remove from)\b|سلة|اضف`)},
	{"ready_to_buy", regexp.MustCompile(`(?i)\b(buy|purchase|take it|i want it|i'll take)\b|ابغى اشتري|اباه`)},
	{"price_inquiry", regexp.MustCompile(`(?i)\b(price|cost|how much|discount|offer|deal)\b|سعر|كم|بكم|خصم|عرض`)},
	{"availability", regexp.MustCompile(`(?i)\b(available|in stock|stock|do you have|size|color)\b|متوفر|موجود|مقاس|لون`)},
	{"greeting", regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening)|salam|مرحبا|السلام عليكم|هلا|اهلين)\b`)},
	{"farewell", regexp.MustCompile(`(?i)\b(bye|goodbye|see you|that's all|thanks,? bye)\b|مع السلامة|باي`)},
}

var productInquiryHint = regexp.MustCompile(`\?|؟`)
