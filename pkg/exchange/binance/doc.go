// Package binance implements the Binance USDⓈ-M perpetual futures REST API.
//
// The package is layered so each piece can be used on its own:
//   - Signer: URL, body and header construction with HMAC-SHA256 signing
//   - OrderRequestBuilder: create-order parameters with per-type required fields
//   - Normalizer: conversion of wire payloads into core types
//   - ErrorClassifier: mapping of error responses onto the core error taxonomy
//   - Exchange: the client that runs every call through rate limiting, the
//     circuit breaker, signing, transport and classification
//   - UserStream: listen key lifecycle and order updates over websocket
//
// Example usage:
//
//	ex, err := binance.New(core.DefaultConfig("binance").WithCredentials(creds))
//	order, err := ex.CreateOrder(ctx, &core.CreateOrderRequest{
//		Symbol: "BTC/USDT", Type: core.TypeLimit, Side: core.SideBuy,
//		Amount: core.MustDecimal("0.01"), Price: core.MustDecimal("30000"),
//	})
package binance
