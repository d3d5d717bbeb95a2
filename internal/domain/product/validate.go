package product

import (
	"strings"

	"github.com/ogen-go/ogen/validate"
	"github.com/shopspring/decimal"

	"github.com/xenking/dscommerce/internal/domain/apperr"
)

// Field names reported in violations.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldPrice       = "price"
	FieldCategories  = "categories"
)

// Violation messages.
const (
	MsgNameRequired        = "name is required"
	MsgNameLength          = "name length must be between 3 and 80 characters"
	MsgDescriptionRequired = "description is required"
	MsgDescriptionLength   = "description must be at least 10 characters"
	MsgPriceRequired       = "price is required"
	MsgPricePositive       = "price must be positive"
	MsgCategoriesRequired  = "must have at least one category"
	MsgCategoryUnknown     = "category does not exist"
)

var (
	nameRule        = validate.String{MinLength: 3, MinLengthSet: true, MaxLength: 80, MaxLengthSet: true}
	descriptionRule = validate.String{MinLength: 10, MinLengthSet: true}
	categoriesRule  = validate.Array{MinLength: 1, MinLengthSet: true}
)

// Payload is the client-supplied content of a product write.
// A null Price means the field was absent.
type Payload struct {
	Name        string
	Description string
	ImgURL      string
	Price       decimal.NullDecimal
	CategoryIDs []int64
}

// Validate checks p against the catalog field rules and returns every
// violation found, at most one per field, ordered name, description, price,
// categories. An empty result means p is valid.
func Validate(p Payload) []apperr.Violation {
	var out []apperr.Violation

	switch {
	case strings.TrimSpace(p.Name) == "":
		out = append(out, apperr.Violation{Field: FieldName, Message: MsgNameRequired})
	case nameRule.Validate(p.Name) != nil:
		out = append(out, apperr.Violation{Field: FieldName, Message: MsgNameLength})
	}

	switch {
	case strings.TrimSpace(p.Description) == "":
		out = append(out, apperr.Violation{Field: FieldDescription, Message: MsgDescriptionRequired})
	case descriptionRule.Validate(p.Description) != nil:
		out = append(out, apperr.Violation{Field: FieldDescription, Message: MsgDescriptionLength})
	}

	switch {
	case !p.Price.Valid:
		out = append(out, apperr.Violation{Field: FieldPrice, Message: MsgPriceRequired})
	case !p.Price.Decimal.IsPositive():
		out = append(out, apperr.Violation{Field: FieldPrice, Message: MsgPricePositive})
	}

	if categoriesRule.ValidateLength(len(p.CategoryIDs)) != nil {
		out = append(out, apperr.Violation{Field: FieldCategories, Message: MsgCategoriesRequired})
	}

	return out
}
