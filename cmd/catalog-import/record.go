package main

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/dscommerce/internal/domain/product"
)

// parseRecord decodes one NDJSON line of a catalog dump:
//
//	{"name":"...","description":"...","imgUrl":"...","price":12.5,"categories":[1,3]}
//
// Prices may be numbers or numeric strings. Unknown keys are ignored.
func parseRecord(line []byte) (product.Payload, error) {
	var p product.Payload
	d := jx.DecodeBytes(line)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
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
			p.Price, err = parsePrice(d)
		case "categories":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Int64()
				if err != nil {
					return err
				}
				p.CategoryIDs = append(p.CategoryIDs, id)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return product.Payload{}, err
	}
	return p, nil
}

func parsePrice(d *jx.Decoder) (decimal.NullDecimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = n.String()
	default:
		return decimal.NullDecimal{}, errors.New("price must be a number")
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrap(err, "parse price")
	}
	return decimal.NewNullDecimal(v), nil
}

// nameKey is the identity used to detect duplicate products.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
