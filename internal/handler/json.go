package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/dscommerce/internal/domain/order"
	"github.com/xenking/dscommerce/internal/domain/product"
)

// imageURL prefixes relative image paths with the configured base URL.
func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + path
}

// encodeDecimal writes d as a JSON number without losing precision.
func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.RawStr(d.String())
}

func encodeCategory(e *jx.Encoder, c product.Category) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
	})
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
		e.Field("imgUrl", func(e *jx.Encoder) { e.Str(h.imageURL(p.ImgURL)) })
		e.Field("categories", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, c := range p.Categories {
					encodeCategory(e, c)
				}
			})
		})
	})
}

// encodeProductSummary writes the listing view of a product.
func (h *Handler) encodeProductSummary(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
		e.Field("imgUrl", func(e *jx.Encoder) { e.Str(h.imageURL(p.ImgURL)) })
	})
}

func (h *Handler) encodePage(e *jx.Encoder, page product.Page) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("content", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range page.Content {
					h.encodeProductSummary(e, &page.Content[i])
				}
			})
		})
		e.Field("totalElements", func(e *jx.Encoder) { e.Int64(page.TotalElements) })
		e.Field("totalPages", func(e *jx.Encoder) { e.Int(page.TotalPages()) })
		e.Field("number", func(e *jx.Encoder) { e.Int(page.Number) })
		e.Field("size", func(e *jx.Encoder) { e.Int(page.Size) })
		e.Field("numberOfElements", func(e *jx.Encoder) { e.Int(len(page.Content)) })
		e.Field("first", func(e *jx.Encoder) { e.Bool(page.Number == 0) })
		e.Field("last", func(e *jx.Encoder) { e.Bool(page.Number >= page.TotalPages()-1) })
		e.Field("empty", func(e *jx.Encoder) { e.Bool(len(page.Content) == 0) })
	})
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("moment", func(e *jx.Encoder) { encodeTime(e, o.Moment) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("client", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Int64(o.Client.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Client.Name) })
			})
		})
		e.Field("payment", func(e *jx.Encoder) {
			if o.Payment == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Int64(o.Payment.ID) })
				e.Field("moment", func(e *jx.Encoder) { encodeTime(e, o.Payment.Moment) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Int64(item.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
						e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, item.Price) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
						e.Field("imgUrl", func(e *jx.Encoder) { e.Str(h.imageURL(item.ImgURL)) })
						e.Field("subTotal", func(e *jx.Encoder) { encodeDecimal(e, item.Subtotal()) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { encodeDecimal(e, o.Total()) })
	})
}

// decodePayload reads a product write body. Absent and null fields are left
// empty so that validation reports them; values of the wrong JSON type make
// the whole body malformed.
func decodePayload(r *http.Request) (product.Payload, error) {
	var p product.Payload

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return p, errors.Wrap(errBadRequest, err.Error())
	}

	d := jx.DecodeBytes(body)
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		var err error
		switch string(key) {
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "imgUrl":
			p.ImgURL, err = d.Str()
		case "price":
			p.Price, err = decodePrice(d)
		case "categories":
			p.CategoryIDs, err = decodeCategoryRefs(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return product.Payload{}, errors.Wrap(errBadRequest, err.Error())
	}
	return p, nil
}

func decodePrice(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() != jx.Number {
		return decimal.NullDecimal{}, errors.New("price must be a number")
	}
	num, err := d.Num()
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	v, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// decodeCategoryRefs reads [{"id": 2}, {"id": 3}].
func decodeCategoryRefs(d *jx.Decoder) ([]int64, error) {
	ids := []int64{}
	err := d.Arr(func(d *jx.Decoder) error {
		var (
			id    int64
			hasID bool
		)
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "id" {
				return d.Skip()
			}
			v, err := d.Int64()
			if err != nil {
				return err
			}
			id, hasID = v, true
			return nil
		})
		if err != nil {
			return err
		}
		if !hasID {
			return errors.New("category reference without id")
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}
