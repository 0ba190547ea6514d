package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	inHttp "github.com/cardhaus/cartsync/internal/http"
	"github.com/cardhaus/cartsync/internal/log"
	"github.com/cardhaus/cartsync/internal/otel"
)

// Client consumes the storefront's read-only price and stock endpoints used
// by cart revalidation.
type Client struct {
	baseUrl string
	client  *http.Client
}

func NewClient(baseUrl string, timeout time.Duration) *Client {
	return &Client{
		baseUrl: baseUrl,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

func (cl *Client) CurrentPrice(c context.Context, cardID string) (decimal.Decimal, error) {
	c, span := otel.Tracer.Start(c, "CatalogClient CurrentPrice")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "CatalogClient CurrentPrice").
		Str(log.KEY_CARD_ID, cardID).
		Logger()

	body := struct {
		Price decimal.Decimal `json:"price"`
	}{}
	url := fmt.Sprintf("%s/cards/%s/current-price", cl.baseUrl, cardID)
	if err := cl.get(c, url, &body); err != nil {
		err = fmt.Errorf("failed fetching current price for cardId=%s with error=%w", cardID, err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return decimal.Zero, err
	}
	return body.Price, nil
}

func (cl *Client) Stock(c context.Context, cardID string) (int, error) {
	c, span := otel.Tracer.Start(c, "CatalogClient Stock")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "CatalogClient Stock").
		Str(log.KEY_CARD_ID, cardID).
		Logger()

	body := struct {
		Stock int `json:"stock"`
	}{}
	url := fmt.Sprintf("%s/cards/%s/stock", cl.baseUrl, cardID)
	if err := cl.get(c, url, &body); err != nil {
		err = fmt.Errorf("failed fetching stock for cardId=%s with error=%w", cardID, err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return 0, err
	}
	return body.Stock, nil
}

func (cl *Client) get(c context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(c, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed creating request with error=%w", err)
	}
	if requestId := log.RequestIDFromContext(c); requestId != "" {
		req.Header.Add(inHttp.KEY_HEADER_REQUEST_ID, requestId)
	}

	resp, err := cl.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed sending request with error=%w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog returned status code=%d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed decoding response body with error=%w", err)
	}
	return nil
}
