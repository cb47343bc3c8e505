package exchange

var reasonLabels = map[string]string{
	"defective":       "Product is defective",
	"damaged":         "Damaged in delivery",
	"wrong-item":      "Wrong item delivered",
	"wrong-option":    "Wrong size or color delivered",
	"missing-part":    "Parts or accessories missing",
	"not-as-pictured": "Different from description",
	"change-of-mind":  "Changed my mind",
	"other":           "Other",
}

// ReasonLabel возвращает текст причины по коду.
func ReasonLabel(code string) (string, bool) {
	label, ok := reasonLabels[code]
	return label, ok
}
