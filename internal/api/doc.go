// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for liveness and store readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/scrape to start a session, GET /api/scrape/status/{id} to poll it.
//   - GET /api/statistics, /api/reviews, /api/download/reviews, /api/wordcloud
//     and /api/rating-chart for the per-session views.
package api
