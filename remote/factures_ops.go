package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/pkg/errors"
)

// Ack is the acknowledgement returned by mutations that carry no entity.
type Ack struct {
	Message string `json:"message"`
}

func facturePath(id int64, suffix string) string {
	return fmt.Sprintf("/factures/%d%s", id, suffix)
}

// Upload sends a document as multipart form field "file". The société is the
// one carried by the tenant context token.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (*factures.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, errors.Wrap(err, "[remote.Upload] create form file")
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, errors.Wrap(err, "[remote.Upload] read document")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "[remote.Upload] close form")
	}

	r := c.agent(&request{
		op:          "upload",
		method:      http.MethodPost,
		path:        "/factures/upload",
		body:        &buf,
		contentType: mw.FormDataContentType(),
		timeout:     c.timeouts.Upload,
	})
	var out factures.UploadResult
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, badResponse("upload", http.StatusOK, errors.New("no facture id in upload response"))
	}
	return &out, nil
}

func (c *Client) analysis(ctx context.Context, op string, id int64) (*factures.StageResult, error) {
	r, err := c.jsonRequest(op, http.MethodPost, facturePath(id, "/"+op), struct{}{})
	if err != nil {
		return nil, err
	}
	r.timeout = c.timeouts.Analysis
	var out factures.StageResult
	if err := c.do(ctx, c.agent(r), &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		out.ID = id
	}
	return &out, nil
}

func (c *Client) Extract(ctx context.Context, id int64) (*factures.StageResult, error) {
	return c.analysis(ctx, "extract", id)
}

func (c *Client) Classify(ctx context.Context, id int64) (*factures.StageResult, error) {
	return c.analysis(ctx, "classify", id)
}

func (c *Client) GenerateEntries(ctx context.Context, id int64) (*factures.StageResult, error) {
	return c.analysis(ctx, "generate-entries", id)
}

// Validate makes the draft entries definitive.
func (c *Client) Validate(ctx context.Context, id int64) (*factures.StageResult, error) {
	r := c.agent(&request{op: "validate", method: http.MethodPost, path: facturePath(id, "/validate")})
	var out factures.StageResult
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reject(ctx context.Context, id int64, reason string) (*factures.StageResult, error) {
	r := c.agent(&request{
		op:     "reject",
		method: http.MethodPost,
		path:   facturePath(id, "/reject"),
		query:  url.Values{"reason": {reason}},
	})
	var out factures.StageResult
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id int64) (*Ack, error) {
	r := c.agent(&request{op: "delete", method: http.MethodDelete, path: facturePath(id, "")})
	var out Ack
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update sends a partial header correction.
func (c *Client) Update(ctx context.Context, id int64, patch map[string]any) (*factures.Facture, error) {
	r, err := c.jsonRequest("update", http.MethodPut, facturePath(id, ""), patch)
	if err != nil {
		return nil, err
	}
	var out factures.Facture
	if err := c.do(ctx, c.agent(r), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*factures.Facture, error) {
	r := c.agent(&request{op: "get", method: http.MethodGet, path: facturePath(id, "")})
	var out factures.Facture
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the factures of the current société, optionally filtered by status.
func (c *Client) List(ctx context.Context, status factures.Status) ([]factures.Facture, error) {
	r := c.agent(&request{op: "list", method: http.MethodGet, path: "/factures/"})
	if status != "" {
		r.query = url.Values{"status": {string(status)}}
	}
	var out []factures.Facture
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Lines(ctx context.Context, id int64) ([]factures.InvoiceLine, error) {
	r := c.agent(&request{op: "lines", method: http.MethodGet, path: facturePath(id, "/lines")})
	var out []factures.InvoiceLine
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Entries returns the draft journal entries of a facture.
func (c *Client) Entries(ctx context.Context, id int64) ([]factures.JournalEntry, error) {
	r := c.agent(&request{op: "entries", method: http.MethodGet, path: facturePath(id, "/entries")})
	var out struct {
		JournalEntries []factures.JournalEntry `json:"journal_entries"`
	}
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out.JournalEntries, nil
}

func (c *Client) UpdateInvoiceLine(ctx context.Context, lineID int64, correction factures.InvoiceLineCorrection) (*Ack, error) {
	if err := correction.Validate(); err != nil {
		return nil, err
	}
	r, err := c.jsonRequest("update-invoice-line", http.MethodPut, fmt.Sprintf("/factures/invoice-lines/%d", lineID), correction)
	if err != nil {
		return nil, err
	}
	var out Ack
	if err := c.do(ctx, c.agent(r), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateEntryLine(ctx context.Context, lineID int64, correction factures.EntryLineCorrection) (*Ack, error) {
	r, err := c.jsonRequest("update-entry-line", http.MethodPut, fmt.Sprintf("/factures/entry-lines/%d", lineID), correction)
	if err != nil {
		return nil, err
	}
	var out Ack
	if err := c.do(ctx, c.agent(r), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
