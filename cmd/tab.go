package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cardhaus/cartsync/cart"
	"github.com/cardhaus/cartsync/cart/broadcast"
	"github.com/cardhaus/cartsync/cart/storage"
	"github.com/cardhaus/cartsync/catalog"
	"github.com/cardhaus/cartsync/internal/config"
	"github.com/cardhaus/cartsync/internal/constants"
	inHttp "github.com/cardhaus/cartsync/internal/http"
	"github.com/cardhaus/cartsync/internal/infra"
	"github.com/cardhaus/cartsync/internal/log"
	inOtel "github.com/cardhaus/cartsync/internal/otel"
	"github.com/cardhaus/cartsync/notification"
)

// runTabHost runs one "tab": a cart manager backed by the redis profile
// store and the redis broadcast channel, so additional tab processes sync
// against it exactly like sibling browser tabs.
func runTabHost(c context.Context) {
	cfg := config.Get(c, constants.APP_TAB_HOST)

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_APP_NAME, constants.APP_TAB_HOST).
		Str(log.KEY_TAG, "main runTabHost").
		Logger()
	c = logger.WithContext(c)

	logger = logger.With().Str(log.KEY_PROCESS, "initializing otel sdk").Logger()
	logger.Info().Msg("initializing otel sdk")
	shutdownFuncs, err := inOtel.InitOtelSdk(c, constants.APP_TAB_HOST, cfg.Otel)
	if err != nil {
		err = fmt.Errorf("failed initializing otel sdk with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	defer func() {
		logger.Info().Msg("shutting down otel")
		if err := inOtel.ShutdownOtel(c, shutdownFuncs); err != nil {
			err = fmt.Errorf("failed shutting down otel with error=%w", err)
			logger.Error().Err(err).Msg(err.Error())
		}
		logger.Info().Msg("shutdown otel")
	}()
	logger.Info().Msg("initialized otel sdk")

	logger = logger.With().Str(log.KEY_PROCESS, "initializing cache").Logger()
	logger.Info().Msg("initializing cache")
	cache := infra.NewCacheClient(c, cfg.Cache)
	defer func() {
		logger.Info().Msg("closing cache")
		if err := cache.Close(); err != nil {
			err = fmt.Errorf("failed closing cache with error=%w", err)
			logger.Error().Err(err).Msg(err.Error())
		}
		logger.Info().Msg("closed cache")
	}()
	logger.Info().Msg("initialized cache")

	logger = logger.With().Str(log.KEY_PROCESS, "initializing cart manager").Logger()
	logger.Info().Msg("initializing cart manager")
	notifications := notification.NewCenter(cfg.Cart.NotificationTTL)
	defer notifications.Close()
	unsubscribe := notifications.Subscribe(func(n notification.Notification) {
		logger.Info().
			Str(log.KEY_NOTIFICATION, string(n.Severity)).
			Msg(n.Message)
	})
	defer unsubscribe()

	manager := cart.New(cart.Config{
		StorageKey:     cfg.Cart.StorageKey,
		Backend:        storage.NewRedisBackend(cache),
		Channel:        broadcast.NewRedisChannel(cache, cfg.Cart.ChannelName),
		Catalog:        catalog.NewClient(cfg.Catalog.BaseUrl, cfg.Catalog.Timeout),
		Notifications:  notifications,
		SweepInterval:  cfg.Cart.SweepInterval,
		ExpiryWindow:   cfg.Cart.ExpiryWindow,
		DriftThreshold: cfg.Cart.DriftThreshold,
	})
	manager.Start(c)
	defer manager.Stop()
	logger.Info().Msg("initialized cart manager")

	logger = logger.With().Str(log.KEY_PROCESS, "initializing server").Logger()
	logger.Info().Msg("initializing server")
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	cartState := func(w http.ResponseWriter, r *http.Request) {
		inHttp.WriteJsonResponse(r.Context(), w, map[string]string{}, map[string]interface{}{
			"statusCode": http.StatusOK,
			"version":    manager.Version(),
			"lines":      manager.Lines(),
		})
	}
	router.HandleFunc("/cart", cartState).Methods(http.MethodGet)
	router.HandleFunc("/cart", func(w http.ResponseWriter, r *http.Request) {
		manager.ClearCart(r.Context())
		cartState(w, r)
	}).Methods(http.MethodDelete)
	router.HandleFunc("/cart/items", func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			Card     cart.Card `json:"card"`
			Quantity int       `json:"quantity"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			err = fmt.Errorf("failed decoding request body with error=%w", err)
			inHttp.WriteJsonResponse(r.Context(), w, map[string]string{}, map[string]interface{}{
				"statusCode": http.StatusBadRequest,
				"status":     "failed",
				"message":    err.Error(),
			})
			return
		}
		manager.AddToCart(r.Context(), body.Card, body.Quantity)
		cartState(w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/cart/items/{cardId}/{condition}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		body := struct {
			Quantity int `json:"quantity"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			err = fmt.Errorf("failed decoding request body with error=%w", err)
			inHttp.WriteJsonResponse(r.Context(), w, map[string]string{}, map[string]interface{}{
				"statusCode": http.StatusBadRequest,
				"status":     "failed",
				"message":    err.Error(),
			})
			return
		}
		manager.UpdateQuantity(r.Context(), vars["cardId"], vars["condition"], body.Quantity)
		cartState(w, r)
	}).Methods(http.MethodPut)
	router.HandleFunc("/cart/items/{cardId}/{condition}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		manager.RemoveItem(r.Context(), vars["cardId"], vars["condition"])
		cartState(w, r)
	}).Methods(http.MethodDelete)
	router.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		inHttp.WriteJsonResponse(r.Context(), w, map[string]string{}, map[string]interface{}{
			"statusCode":    http.StatusOK,
			"notifications": notifications.Active(),
		})
	}).Methods(http.MethodGet)
	server := http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Application.Host, cfg.Application.Port),
		BaseContext:  func(net.Listener) context.Context { return c },
		Handler:      router,
		ReadTimeout:  45 * time.Second,
		WriteTimeout: 45 * time.Second,
	}
	logger.Info().Msg("initialized server")

	go func() {
		logger := logger.With().Str(log.KEY_PROCESS, "start server").Logger()
		logger.Info().Msgf("start listening request at %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			err = fmt.Errorf("error=%w occured while server is running", err)
			logger.Error().Err(err).Msg(err.Error())
		}
	}()

	<-c.Done()
	logger = logger.With().Str(log.KEY_PROCESS, "shutdown server").Logger()
	logger.Info().Msg("received interuption signal shutting down")
	if err := server.Shutdown(context.WithoutCancel(c)); err != nil {
		err = fmt.Errorf("failed shutting down server with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	logger.Info().Msg("shutdown server")
}
