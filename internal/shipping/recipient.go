package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	profilemodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/profile"
	"github.com/frahmantamala/shop-orders/internal/profile"
)

// ProfileStore is the customer profile lookup. A missing profile is profile.ErrNotFound.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*profilemodel.Profile, error)
}

// OrderRef is what the resolver needs to know about an order.
type OrderRef struct {
	UserID         *string
	BillingAddress json.RawMessage
	FallbackEmail  string
}

// Billing snapshots arrive with historical key names; the first non-empty alias wins.
var (
	fullNameKeys  = []string{"full_name", "fullName", "name"}
	firstNameKeys = []string{"first_name", "firstName", "prenom"}
	lastNameKeys  = []string{"last_name", "lastName", "nom"}
	emailKeys     = []string{"email", "mail"}
	phoneKeys     = []string{"phone", "telephone", "tel", "phone_number", "phoneNumber"}
	address1Keys  = []string{"address1", "address", "adresse", "line1", "street"}
	address2Keys  = []string{"address2", "adresse2", "line2", "complement"}
	zipKeys       = []string{"zip", "codePostal", "code_postal", "postal_code", "postalCode"}
	cityKeys      = []string{"city", "ville"}
	stateKeys     = []string{"state", "region"}
	countryKeys   = []string{"country_code", "countryCode", "country", "pays"}
)

type RecipientResolver struct {
	store  ProfileStore
	logger *slog.Logger
}

// NewRecipientResolver builds a resolver. A nil store resolves from billing snapshots only.
func NewRecipientResolver(store ProfileStore, logger *slog.Logger) *RecipientResolver {
	return &RecipientResolver{
		store:  store,
		logger: logger,
	}
}

// Resolve produces the shipping recipient for an order. Profile values take precedence and the
// billing snapshot fills gaps. Lookup failures never reach the caller.
func (r *RecipientResolver) Resolve(ctx context.Context, ref OrderRef) Recipient {
	billing := recipientFromBilling(ref.BillingAddress)

	if r.store == nil || ref.UserID == nil || strings.TrimSpace(*ref.UserID) == "" {
		return withFallbackEmail(billing, ref.FallbackEmail)
	}

	p, err := r.store.GetProfile(ctx, *ref.UserID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			r.logger.Warn("profile lookup failed, using billing address", "error", err, "user_id", *ref.UserID)
		}
		return withFallbackEmail(billing, ref.FallbackEmail)
	}

	rec := recipientFromProfile(p)

	if rec.Address1 == "" && rec.Zip == "" && rec.City == "" {
		rec.Address1 = billing.Address1
		rec.Address2 = billing.Address2
		rec.Zip = billing.Zip
		rec.City = billing.City
		rec.State = billing.State
	}

	rec.FullName = firstNonEmpty(rec.FullName, billing.FullName)
	rec.Email = firstNonEmpty(rec.Email, billing.Email)
	rec.Phone = firstNonEmpty(rec.Phone, billing.Phone)
	rec.CountryCode = firstNonEmpty(rec.CountryCode, billing.CountryCode)

	return withFallbackEmail(rec, ref.FallbackEmail)
}

func recipientFromProfile(p *profilemodel.Profile) Recipient {
	return Recipient{
		FullName:    clean(clean(p.Prenom) + " " + clean(p.Nom)),
		Email:       clean(p.Email),
		Phone:       clean(p.Telephone),
		CountryCode: strings.ToUpper(clean(p.Pays)),
		Address1:    clean(p.Adresse),
		Address2:    clean(p.Adresse2),
		Zip:         clean(p.CodePostal),
		City:        clean(p.Ville),
	}
}

func recipientFromBilling(raw json.RawMessage) Recipient {
	fields := decodeBilling(raw)
	if len(fields) == 0 {
		return Recipient{}
	}

	fullName := pick(fields, fullNameKeys)
	if fullName == "" {
		fullName = clean(pick(fields, firstNameKeys) + " " + pick(fields, lastNameKeys))
	}

	return Recipient{
		FullName:    fullName,
		Email:       pick(fields, emailKeys),
		Phone:       pick(fields, phoneKeys),
		CountryCode: strings.ToUpper(pick(fields, countryKeys)),
		Address1:    pick(fields, address1Keys),
		Address2:    pick(fields, address2Keys),
		Zip:         pick(fields, zipKeys),
		City:        pick(fields, cityKeys),
		State:       pick(fields, stateKeys),
	}
}

// decodeBilling accepts an object, or an object encoded once more as a JSON string.
func decodeBilling(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil
	}

	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		return decodeBilling(json.RawMessage(t))
	}
	return nil
}

func pick(fields map[string]any, keys []string) string {
	for _, k := range keys {
		if s := clean(scalarString(fields[k])); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func withFallbackEmail(rec Recipient, fallback string) Recipient {
	if rec.Email == "" {
		rec.Email = clean(fallback)
	}
	return rec
}
