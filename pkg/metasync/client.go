// Package metasync is the client for the MetaSync warehouse API, the
// external supplier feed the import pipeline pulls vehicles and parts from.
package metasync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/httpclient"
)

const (
	endpointVehicles = "RecuperarCambiosVehiculosCanal"
	endpointParts    = "RecuperarCambiosCanal"

	// fechaLayout is the date format the supplier expects in the fecha header.
	fechaLayout = "02/01/2006 15:04:05"
)

// FullImportSince is the change date sent for full imports: early enough to
// cover the entire inventory.
var FullImportSince = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Credentials identifies the yard against the supplier. Rows configured in
// api_config override the environment defaults.
type Credentials struct {
	APIKey    string
	CompanyID int
	Channel   string
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	PageSize int
	Timeout  time.Duration
}

// Client fetches paged change feeds from the supplier.
type Client struct {
	http   *httpclient.Client
	logger ectologger.Logger
	cfg    Config
}

// NewClient creates a new supplier client.
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}

	return &Client{
		http:   httpclient.NewClient(httpCfg, logger),
		logger: logger,
		cfg:    cfg,
	}
}

// FetchVehiclePage retrieves one page of vehicle changes since the given
// date, starting after lastID.
func (c *Client) FetchVehiclePage(ctx context.Context, creds Credentials, since time.Time, lastID int) (*VehiclePage, error) {
	body, err := c.fetch(ctx, endpointVehicles, creds, since, lastID)
	if err != nil {
		return nil, err
	}

	var page VehiclePage
	if err := json.Unmarshal(body, &page); err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to decode vehicle page")
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "invalid vehicle page from supplier: %v", err)
	}
	return &page, nil
}

// FetchPartPage retrieves one page of part changes since the given date,
// starting after lastID.
func (c *Client) FetchPartPage(ctx context.Context, creds Credentials, since time.Time, lastID int) (*PartPage, error) {
	body, err := c.fetch(ctx, endpointParts, creds, since, lastID)
	if err != nil {
		return nil, err
	}

	var page PartPage
	if err := json.Unmarshal(body, &page); err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to decode part page")
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "invalid part page from supplier: %v", err)
	}
	return &page, nil
}

// PageSize returns the configured page size, which callers use to detect a
// short (final) page.
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

func (c *Client) fetch(ctx context.Context, endpoint string, creds Credentials, since time.Time, lastID int) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", c.cfg.BaseURL, endpoint)
	headers := map[string]string{
		"apikey":    creds.APIKey,
		"fecha":     since.Format(fechaLayout),
		"lastid":    strconv.Itoa(lastID),
		"offset":    strconv.Itoa(c.cfg.PageSize),
		"canal":     creds.Channel,
		"idempresa": strconv.Itoa(creds.CompanyID),
	}

	resp, err := c.http.Get(ctx, url, headers)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "supplier request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"last_id":  lastID,
		}).Error("Supplier returned non-200")
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "supplier returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}
