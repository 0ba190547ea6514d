package otel

import (
	"go.opentelemetry.io/otel"

	"github.com/cardhaus/cartsync/internal/constants"
)

var Tracer = otel.Tracer(constants.APP_CART_SYNC)
