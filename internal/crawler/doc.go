// Package crawler implements the multi-site crawl pipeline: validated site
// specs, the retrying page fetcher, per-site tasks, the bounded scheduler, and
// the report aggregation over the collected outcomes.
package crawler
