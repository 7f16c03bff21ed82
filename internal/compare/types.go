package compare

import (
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// MaxEntries caps the compare list.
	MaxEntries = 3
	// MinToCompare is how many entries the comparison view needs.
	MinToCompare = 2
)

// Entry is the product snapshot kept in the compare list; enough to render a
// summary chip and the comparison table header.
type Entry struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Images    []string         `json:"images,omitempty"`
	BrandName string           `json:"brand_name,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Currency  enums.Currency   `json:"currency,omitempty"`
}

// Thumbnail returns the first image or "".
func (e Entry) Thumbnail() string {
	if len(e.Images) == 0 {
		return ""
	}
	return e.Images[0]
}

func (e Entry) clone() Entry {
	cp := e
	if e.Images != nil {
		cp.Images = append([]string(nil), e.Images...)
	}
	if e.Price != nil {
		p := *e.Price
		cp.Price = &p
	}
	return cp
}

// AddOutcome reports what Add did.
type AddOutcome string

const (
	Added          AddOutcome = "added"
	AlreadyPresent AddOutcome = "already_present"
	AtCapacity     AddOutcome = "at_capacity"
	Invalid        AddOutcome = "invalid"
)
