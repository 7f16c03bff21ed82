package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/zeroproof-client/api/responses"
	"github.com/angelmondragon/zeroproof-client/api/validators"
	"github.com/angelmondragon/zeroproof-client/internal/compare"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
)

const maxNameLen = 200

// CompareList is the compare container as seen by the HTTP layer.
type CompareList interface {
	Add(ctx context.Context, e compare.Entry) compare.AddOutcome
	Remove(ctx context.Context, id uuid.UUID) bool
	Clear(ctx context.Context)
	IsCompared(id uuid.UUID) bool
	Entries() []compare.Entry
	Comparable() bool
}

type compareEntryRequest struct {
	ID        string           `json:"id" validate:"required,uuid"`
	Name      string           `json:"name" validate:"max=512"`
	Images    []string         `json:"images,omitempty" validate:"omitempty,max=10,dive,url"`
	BrandName string           `json:"brand_name,omitempty" validate:"max=512"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Currency  string           `json:"currency,omitempty" validate:"omitempty,len=3"`
}

func (req compareEntryRequest) entry() (compare.Entry, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return compare.Entry{}, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"id": "must be a valid uuid"})
	}
	if req.Price != nil && req.Price.IsNegative() {
		return compare.Entry{}, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"price": "must not be negative"})
	}
	var currency enums.Currency
	if req.Currency != "" {
		currency, err = enums.ParseCurrency(req.Currency)
		if err != nil {
			return compare.Entry{}, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"currency": "is not supported"})
		}
	}
	images := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		images = nil
	}
	return compare.Entry{
		ID:        id,
		Name:      validators.SanitizeString(req.Name, maxNameLen),
		Images:    images,
		BrandName: validators.SanitizeString(req.BrandName, maxNameLen),
		Price:     req.Price,
		Currency:  currency,
	}, nil
}

type compareListView struct {
	Items      []compare.Entry `json:"items"`
	Count      int             `json:"count"`
	Max        int             `json:"max"`
	Comparable bool            `json:"comparable"`
}

type compareMutationView struct {
	compareListView
	Result         string `json:"result"`
	OpenComparison bool   `json:"open_comparison"`
}

func listView(list CompareList) compareListView {
	items := list.Entries()
	return compareListView{
		Items:      items,
		Count:      len(items),
		Max:        compare.MaxEntries,
		Comparable: list.Comparable(),
	}
}

func CompareGet(list CompareList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, listView(list))
	}
}

// CompareAdd appends a product. A successful add that leaves enough entries
// to compare asks the client to open the comparison view.
func CompareAdd(list CompareList, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := decodeEntry(w, r, logg)
		if !ok {
			return
		}
		writeAddOutcome(w, r, logg, list, list.Add(r.Context(), entry))
	}
}

// CompareToggle removes the product when it is compared and adds it otherwise.
func CompareToggle(list CompareList, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := decodeEntry(w, r, logg)
		if !ok {
			return
		}
		if list.IsCompared(entry.ID) {
			list.Remove(r.Context(), entry.ID)
			responses.WriteSuccess(w, compareMutationView{compareListView: listView(list), Result: "removed"})
			return
		}
		writeAddOutcome(w, r, logg, list, list.Add(r.Context(), entry))
	}
}

func CompareRemove(list CompareList, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "productId")
		id, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "invalid product id").
					WithDetails(map[string]string{"productId": raw}))
			return
		}
		result := "not_present"
		if list.Remove(r.Context(), id) {
			result = "removed"
		}
		responses.WriteSuccess(w, compareMutationView{compareListView: listView(list), Result: result})
	}
}

func CompareClear(list CompareList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list.Clear(r.Context())
		responses.WriteSuccess(w, compareMutationView{compareListView: listView(list), Result: "cleared"})
	}
}

func decodeEntry(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (compare.Entry, bool) {
	var body compareEntryRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return compare.Entry{}, false
	}
	entry, err := body.entry()
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return compare.Entry{}, false
	}
	return entry, true
}

func writeAddOutcome(w http.ResponseWriter, r *http.Request, logg *logger.Logger, list CompareList, outcome compare.AddOutcome) {
	switch outcome {
	case compare.Added:
		view := listView(list)
		responses.WriteSuccessStatus(w, http.StatusCreated, compareMutationView{
			compareListView: view,
			Result:          string(outcome),
			OpenComparison:  view.Count >= compare.MinToCompare,
		})
	case compare.AlreadyPresent:
		responses.WriteSuccess(w, compareMutationView{compareListView: listView(list), Result: string(outcome)})
	case compare.AtCapacity:
		responses.WriteError(r.Context(), logg, w,
			pkgerrors.New(pkgerrors.CodeStateConflict, "compare list is full").
				WithDetails(map[string]any{"max": compare.MaxEntries}))
	default:
		responses.WriteError(r.Context(), logg, w,
			pkgerrors.New(pkgerrors.CodeValidation, "product cannot be compared"))
	}
}
