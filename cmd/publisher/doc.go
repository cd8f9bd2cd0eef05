// Command publisher (cmd/publisher) stores resources in content-addressable
// stores and publishes them to S3 buckets, optionally served through a
// CloudFront distribution.
//
// Stores, targets and collections are declared in a YAML file (see package
// config). Every command wires the same object graph from it:
//
//	publisher --config publisher.yaml serve --listen-addr 0.0.0.0:8080
//	publisher import --collection docs report.pdf
//	publisher publish --collection docs 2aae6c35c94fcfb415dbe95f408b9ce91ee846ed
//	publisher publish --all
//	publisher publish-dir --collection site --dir ./Public --prefix Acme.Site
//	publisher uri --collection docs 2aae6c35c94fcfb415dbe95f408b9ce91ee846ed
//
// The serve command exposes the HTTP API of package httpserver, Prometheus
// metrics on --metrics-addr and shuts down gracefully on SIGINT or SIGTERM.
package main
