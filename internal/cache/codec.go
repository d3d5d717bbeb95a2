package cache

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/dscommerce/internal/domain/product"
)

// encodeProduct writes p as a compact JSON object. Price is kept as a string
// so no precision is lost.
func encodeProduct(p *product.Product) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("imgUrl", func(e *jx.Encoder) { e.Str(p.ImgURL) })
		e.Field("price", func(e *jx.Encoder) { e.Str(p.Price.String()) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(p.Active) })
		e.Field("categories", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, c := range p.Categories {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
					})
				}
			})
		})
	})
	return e.Bytes()
}

func decodeProduct(data []byte) (*product.Product, error) {
	var p product.Product
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Int64()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "imgUrl":
			p.ImgURL, err = d.Str()
		case "price":
			var s string
			if s, err = d.Str(); err == nil {
				p.Price, err = decimal.NewFromString(s)
			}
		case "active":
			p.Active, err = d.Bool()
		case "categories":
			err = d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCategory(d)
				if err != nil {
					return err
				}
				p.Categories = append(p.Categories, c)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode product")
	}
	return &p, nil
}

func decodeCategory(d *jx.Decoder) (product.Category, error) {
	var c product.Category
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			c.ID, err = d.Int64()
		case "name":
			c.Name, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}
