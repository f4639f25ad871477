package x402

import (
	"fmt"
	"math/big"

	"github.com/xeipuuv/gojsonschema"
)

// Operation describes one priced operation exposed by a resource server.
type Operation struct {
	// Name identifies the operation (e.g. "get_ohlcv").
	Name string

	// Price is the charge in the asset's smallest unit, base-10 string.
	// "0" or "" marks the operation free.
	Price string

	// Description explains what the caller is paying for.
	Description string

	// OutputSchema optionally describes the result as a JSON schema.
	OutputSchema map[string]interface{}
}

// Free reports whether the operation carries no charge: an empty price or
// any price string that parses to zero. Malformed prices are not free;
// they surface as ErrInvalidAmount when the challenge is built.
func (op Operation) Free() bool {
	if op.Price == "" {
		return true
	}
	price, err := op.ParsePrice()
	return err == nil && price.Sign() == 0
}

// ParsePrice returns the operation price as an integer in smallest units.
// Returns ErrInvalidAmount for malformed or negative price strings.
func (op Operation) ParsePrice() (*big.Int, error) {
	price := op.Price
	if price == "" {
		price = "0"
	}
	amount, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, op.Price)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative price %q", ErrInvalidAmount, op.Price)
	}
	return amount, nil
}

// BuildRequirements derives the PaymentRequirements for one invocation of
// a priced operation. Requirements are request-scoped: built, sent in a
// challenge, and discarded. The only failure modes are a malformed price
// string and an unloadable output schema.
func BuildRequirements(op Operation, network NetworkConfig, payTo, resource string) (*PaymentRequirements, error) {
	price, err := op.ParsePrice()
	if err != nil {
		return nil, err
	}

	if op.OutputSchema != nil {
		loader := gojsonschema.NewGoLoader(op.OutputSchema)
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			return nil, fmt.Errorf("%w: output schema for %s: %v", ErrInvalidRequirements, op.Name, err)
		}
	}

	return &PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           network.Network,
		MaxAmountRequired: price.String(),
		Resource:          resource,
		Description:       op.Description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
		Asset:             network.USDCAddress,
		OutputSchema:      op.OutputSchema,
	}, nil
}
