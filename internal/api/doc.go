// Package api hosts the read-only HTTP server for operators. Routes:
//   - GET /healthz and /readyz for health checks; readyz pings the database.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/regions and /v1/regions/{external_id} for the region catalog.
//   - GET /v1/providers?region=&limit=&offset= and
//     /v1/providers/{external_id} for stored provider records.
package api
