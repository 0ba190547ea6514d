package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"github.com/cardhaus/cartsync/internal/constants"
	inErrors "github.com/cardhaus/cartsync/internal/errors"
	inHttp "github.com/cardhaus/cartsync/internal/http"
	"github.com/cardhaus/cartsync/internal/log"
	"github.com/cardhaus/cartsync/internal/middleware"
	"github.com/cardhaus/cartsync/internal/otel"
)

type CatalogController struct {
	store *CardStore
}

func AttachCatalogController(router *mux.Router, store *CardStore) {
	controller := CatalogController{store: store}

	sub := router.PathPrefix("/cards").Subrouter()
	sub.Use(
		otelmux.Middleware(constants.APP_CATALOG_SERVICE),
		middleware.Logging,
		middleware.RecoverPanic,
	)
	sub.HandleFunc("/{cardId}/current-price", controller.CurrentPrice).Methods(http.MethodGet)
	sub.HandleFunc("/{cardId}/stock", controller.Stock).Methods(http.MethodGet)
	sub.HandleFunc("/{cardId}", controller.UpsertCard).Methods(http.MethodPut)
}

func (ct CatalogController) CurrentPrice(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CatalogController CurrentPrice")
	defer span.End()

	cardID := mux.Vars(r)["cardId"]
	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "CatalogController CurrentPrice").
		Str(log.KEY_CARD_ID, cardID).
		Logger()

	entry, ok := ct.store.Find(cardID)
	if !ok {
		err := fmt.Errorf("cardId=%s with error=%w", cardID, inErrors.ErrCardNotFound)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
			"status":     "failed",
			"statusCode": http.StatusNotFound,
			"message":    err.Error(),
		})
		return
	}

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"statusCode": http.StatusOK,
		"price":      entry.Price,
	})
}

func (ct CatalogController) Stock(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CatalogController Stock")
	defer span.End()

	cardID := mux.Vars(r)["cardId"]
	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "CatalogController Stock").
		Str(log.KEY_CARD_ID, cardID).
		Logger()

	entry, ok := ct.store.Find(cardID)
	if !ok {
		err := fmt.Errorf("cardId=%s with error=%w", cardID, inErrors.ErrCardNotFound)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
			"status":     "failed",
			"statusCode": http.StatusNotFound,
			"message":    err.Error(),
		})
		return
	}

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"statusCode": http.StatusOK,
		"stock":      entry.Stock,
	})
}

func (ct CatalogController) UpsertCard(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CatalogController UpsertCard")
	defer span.End()

	cardID := mux.Vars(r)["cardId"]
	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "CatalogController UpsertCard").
		Str(log.KEY_CARD_ID, cardID).
		Logger()

	logger = logger.With().Str(log.KEY_PROCESS, "decoding request body").Logger()
	entry := CardEntry{}
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		err = fmt.Errorf("failed decoding request body with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
			"status":     "failed",
			"statusCode": http.StatusBadRequest,
			"message":    err.Error(),
		})
		return
	}
	entry.CardID = cardID

	ct.store.Upsert(entry)
	logger.Info().Msg("upserted card")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"statusCode": http.StatusOK,
		"status":     "success",
		"data":       entry,
	})
}
