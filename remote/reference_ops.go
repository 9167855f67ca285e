package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jrsteele09/go-compta-client/factures"
)

// PcmAccounts lists the chart of accounts. The reference data is public but the
// agent credential is sent when present.
func (c *Client) PcmAccounts(ctx context.Context, filter factures.AccountFilter) ([]factures.PcmAccount, error) {
	query := url.Values{}
	if filter.PcmClass != 0 {
		query.Set("pcm_class", strconv.Itoa(filter.PcmClass))
	}
	if filter.AccountType != "" {
		query.Set("account_type", string(filter.AccountType))
	}
	r := c.agent(&request{op: "pcm-accounts", method: http.MethodGet, path: "/pcm/accounts", query: query})
	var out []factures.PcmAccount
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TVARates(ctx context.Context) ([]factures.TVARate, error) {
	r := c.agent(&request{op: "tva-rates", method: http.MethodGet, path: "/pcm/tva-rates"})
	var out []factures.TVARate
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Mappings lists the supplier mappings learnt by the current cabinet.
func (c *Client) Mappings(ctx context.Context) ([]factures.SupplierMapping, error) {
	r := c.agent(&request{op: "list-mappings", method: http.MethodGet, path: "/mappings/"})
	var out []factures.SupplierMapping
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMapping makes the backend forget a learnt mapping.
func (c *Client) DeleteMapping(ctx context.Context, id int64) (*Ack, error) {
	r := c.agent(&request{op: "delete-mapping", method: http.MethodDelete, path: fmt.Sprintf("/mappings/%d", id)})
	var out Ack
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
