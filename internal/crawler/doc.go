// Package crawler implements the RUM crawl pipeline: site normalization, the
// resolution gate, and the runner that feeds the visit scheduler and records
// one outcome per site.
package crawler
