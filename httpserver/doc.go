/*
Package httpserver exposes the resource manager over HTTP.

# Endpoints

  - GET /api/collections - List registered collections
  - POST /api/collections/{collection}/resources - Import the request body
  - GET /api/collections/{collection}/resources - List resources
  - GET /api/collections/{collection}/resources/{digest} - Download a resource
  - DELETE /api/collections/{collection}/resources/{digest} - Delete a resource
  - POST /api/collections/{collection}/resources/{digest}/publish - Publish a resource
  - POST /api/collections/{collection}/resources/{digest}/unpublish - Revoke a publication
  - GET /api/collections/{collection}/resources/{digest}/uri - Public URI of a resource
  - POST /api/collections/{collection}/publish - Publish a whole collection
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

Errors are returned as {"error": "..."} with a status derived from the
error class: 404 for unknown collections and resources, 409 for
configuration errors, 422 when source data is missing and 502 when S3 or
CloudFront cannot be reached.
*/
package httpserver
