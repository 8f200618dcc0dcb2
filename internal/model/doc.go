// Package model defines the canonical, dialect-independent event types
// that flow through the ingestion pipeline: executed trades, candlestick
// bars, and wallet balance snapshots.
package model
