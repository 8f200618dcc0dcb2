// Package api provides access to the MEXC spot REST API: signed
// account endpoints (myTrades, account) and public market data
// (klines).
package api
